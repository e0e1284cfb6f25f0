/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kernel is the thin adaptor around the kernel's bpf(2)/link
// syscalls. It is the only package in this repo that
// imports github.com/cilium/ebpf directly; everything else speaks in its
// vocabulary (LoadedObject, AttachParams, KernelFacts) so it can be faked
// in tests of the Program Manager and Dispatcher Engine.
package kernel

import (
	"context"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// LoadedObject is the result of loading an ELF blob: the collection of
// programs/maps it materialised, keyed by their in-object names.
type LoadedObject struct {
	// Handle is opaque outside this package; callers pass it back into
	// AttachParams/Pin/Close calls.
	Handle interface{}

	ProgramNames []string
	Maps         []model.Map
	Facts        map[string]model.KernelFacts // keyed by program name
}

// LoadOptions parametrises a single kernel load.
type LoadOptions struct {
	Bytecode []byte

	// GlobalData: in Impl, each key replaces the whole value of the
	// single-entry map of that name (such as ".rodata") with the given
	// bytes. Keys naming no map in the object are ignored, and individual
	// variables within a map are not addressed.
	GlobalData map[string][]byte

	// MapPinDir is where the loader pins/reuses maps: a fresh directory
	// named after the allocated k_id, or the map-owner's directory when
	// inheriting.
	MapPinDir string

	// AllowUnsupportedMaps is accepted from callers, but Impl does not
	// read it and passes no corresponding option to the loader.
	AllowUnsupportedMaps bool
}

// AttachParams is the tagged union of kind-specific attach parameters.
// Exactly one of the kind-specific blocks is meaningful, selected by Kind.
type AttachParams struct {
	Kind model.ProgramKind

	// XDP / TC / TCx.
	NetnsID   uint64
	IfIndex   int
	IfName    string
	Priority  int32
	Direction model.Direction
	ProceedOn uint32
	Mode      model.XDPMode

	// Tracepoint.
	TracepointName string

	// KProbe / KRetProbe / UProbe / URetProbe.
	FnName       string
	Offset       uint64
	Target       string
	PID          int64
	ContainerPID int64
	RetProbe     bool

	// FEntry / FExit.
	AttachFn string
}

// AttachedLink is the result of a kernel attach: an opaque handle plus the
// mode actually used (relevant only for XDP's DRV->SKB degradation,
// surfaced explicitly here rather than hidden).
type AttachedLink struct {
	Handle     interface{}
	ActualMode model.XDPMode
}

// Binder is the kernel binding layer's public contract. The production
// implementation (Impl, binding_linux.go) wraps github.com/cilium/ebpf;
// tests use a fake satisfying the same interface.
type Binder interface {
	// Load parses bytecode, applies GlobalData, and sets the map-pin
	// directory. In Impl it also creates every program and map of the
	// object in the kernel, so verifier rejections surface here;
	// AllowUnsupportedMaps is not consulted.
	Load(ctx context.Context, opts LoadOptions) (*LoadedObject, error)

	// LoadProgram looks up the named program within an already-loaded
	// LoadedObject and returns its facts. k_id is allocated by the kernel
	// and reported back.
	LoadProgram(ctx context.Context, obj *LoadedObject, fnName string) (kernelID uint32, facts model.KernelFacts, err error)

	// Attach performs the kernel-level attach for point-attach kinds
	// (Tracepoint/KProbe/UProbe/FEntry/FExit) or for an extension program
	// being linked into a dispatcher's prog<i> slot.
	Attach(ctx context.Context, obj *LoadedObject, fnName string, params AttachParams) (*AttachedLink, error)

	// UpdateLink re-points an existing pinned link at a new target
	// program (re-linking an already-attached extension into a fresh
	// dispatcher revision) without detaching it.
	UpdateLink(ctx context.Context, link *AttachedLink, obj *LoadedObject, fnName string) error

	// ProgramFD returns the raw kernel file descriptor backing fnName
	// within obj. TC attachment goes through netlink filters rather than
	// cilium/ebpf/link, so the Dispatcher Engine's TC driver needs the
	// bare fd to build a netlink.BpfFilter referencing it.
	ProgramFD(obj *LoadedObject, fnName string) (int, error)

	// Pin/Unpin bpffs program and link objects at an exact path.
	Pin(ctx context.Context, obj *LoadedObject, fnName, path string) error
	Unpin(ctx context.Context, path string) error
	PinLink(ctx context.Context, link *AttachedLink, path string) error
	UnpinLink(ctx context.Context, path string) error

	// Close releases in-process handles for obj/link without unpinning
	// (used once a program/link is durably pinned, or during rollback
	// before anything was pinned).
	Close(obj *LoadedObject) error
	CloseLink(link *AttachedLink) error

	// EnumerateKernelPrograms lists every program currently loaded in the
	// kernel, used to classify kernel-resident programs this manager did
	// not create as read-only "unsupported" entries during List.
	EnumerateKernelPrograms(ctx context.Context) ([]uint32, error)

	// LoadFromPin reconstructs a LoadedObject/AttachedLink handle from an
	// existing bpffs pin, used during restart recovery so that no
	// re-load syscalls are issued for already-loaded programs.
	LoadFromPin(ctx context.Context, path string) (*LoadedObject, error)
	LoadLinkFromPin(ctx context.Context, path string) (*AttachedLink, error)
}
