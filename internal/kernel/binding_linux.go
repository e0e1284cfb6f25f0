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

//go:build linux

package kernel

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/go-logr/logr"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// Impl is the production Binder backed by github.com/cilium/ebpf, the
// library every userspace counterpart in this domain (go-xdp-counter,
// go-tc-counter, ...) uses to talk to the kernel.
type Impl struct {
	log logr.Logger
}

func NewImpl(log logr.Logger) *Impl {
	return &Impl{log: log}
}

type objectHandle struct {
	spec  *ebpf.CollectionSpec
	coll  *ebpf.Collection
}

type linkHandle struct {
	l link.Link
}

func (i *Impl) Load(ctx context.Context, opts LoadOptions) (*LoadedObject, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(opts.Bytecode))
	if err != nil {
		return nil, fmt.Errorf("parse object file: %w", err)
	}

	for name, blob := range opts.GlobalData {
		m, ok := spec.Maps[name]
		if !ok {
			continue
		}
		if len(m.Contents) == 1 {
			m.Contents[0].Value = blob
		}
	}

	collOpts := ebpf.CollectionOptions{
		Maps: ebpf.MapOptions{
			PinPath: opts.MapPinDir,
		},
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, collOpts)
	if err != nil {
		var ve *ebpf.VerifierError
		if errorsAs(err, &ve) {
			return nil, fmt.Errorf("verifier rejected object: %s: %w", ve.Error(), err)
		}
		return nil, fmt.Errorf("load collection: %w", err)
	}

	obj := &LoadedObject{
		Handle: &objectHandle{spec: spec, coll: coll},
		Facts:  map[string]model.KernelFacts{},
	}

	for name := range spec.Programs {
		obj.ProgramNames = append(obj.ProgramNames, name)
	}

	for name, m := range coll.Maps {
		if model.CompilerInternalSections[name] {
			continue
		}
		info, infoErr := m.Info()
		mm := model.Map{Name: name}
		if infoErr == nil {
			mm.MapType = info.Type.String()
			mm.KeySize = info.KeySize
			mm.ValSize = info.ValueSize
			mm.MaxEntries = info.MaxEntries
			mm.Flags = info.Flags
			if id, ok := info.ID(); ok {
				mm.KernelID = uint32(id)
			}
		}
		obj.Maps = append(obj.Maps, mm)
	}

	return obj, nil
}

func (i *Impl) LoadProgram(ctx context.Context, obj *LoadedObject, fnName string) (uint32, model.KernelFacts, error) {
	h := obj.Handle.(*objectHandle)
	prog, ok := h.coll.Programs[fnName]
	if !ok {
		return 0, model.KernelFacts{}, fmt.Errorf("function %q not found among %v", fnName, obj.ProgramNames)
	}

	info, err := prog.Info()
	if err != nil {
		return 0, model.KernelFacts{}, fmt.Errorf("program info: %w", err)
	}

	id, _ := info.ID()
	facts := model.KernelFacts{
		LoadedAtUnix: time.Now().Unix(),
		Tag:          info.Tag,
		BTFID:        0,
	}
	if xi, ok := info.XlatedProgSize(); ok {
		facts.TranslatedSize = int(xi)
	}
	if ji, ok := info.JitedSize(); ok {
		facts.JitedSize = int(ji)
	}
	// VerifiedInsns is left at 0 when the kernel doesn't surface it:
	// ProgramInfo carries run-time stats (Runtime/RunCount), not the
	// verifier's instruction count.

	obj.Facts[fnName] = facts
	return uint32(id), facts, nil
}

func (i *Impl) Attach(ctx context.Context, obj *LoadedObject, fnName string, params AttachParams) (*AttachedLink, error) {
	h := obj.Handle.(*objectHandle)
	prog, ok := h.coll.Programs[fnName]
	if !ok {
		return nil, fmt.Errorf("function %q not found", fnName)
	}

	switch params.Kind {
	case model.KindXDP:
		opts := link.XDPOptions{Program: prog, Interface: params.IfIndex, Flags: xdpAttachFlags(params.Mode)}
		l, err := link.AttachXDP(opts)
		if err != nil && params.Mode != model.XDPModeSKB {
			i.log.Info("XDP attach rejected, retrying as SKB", "ifindex", params.IfIndex, "mode", params.Mode, "err", err)
			opts.Flags = link.XDPGenericMode
			l, err = link.AttachXDP(opts)
			if err == nil {
				return &AttachedLink{Handle: &linkHandle{l: l}, ActualMode: model.XDPModeSKB}, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("attach xdp: %w", err)
		}
		return &AttachedLink{Handle: &linkHandle{l: l}, ActualMode: params.Mode}, nil

	case model.KindTracepoint:
		l, err := link.Tracepoint("", params.TracepointName, prog, nil)
		if err != nil {
			return nil, fmt.Errorf("attach tracepoint %s: %w", params.TracepointName, err)
		}
		return &AttachedLink{Handle: &linkHandle{l: l}}, nil

	case model.KindKProbe, model.KindKRetProbe:
		var l link.Link
		var err error
		if params.RetProbe {
			l, err = link.Kretprobe(params.FnName, prog, nil)
		} else {
			l, err = link.Kprobe(params.FnName, prog, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("attach kprobe %s: %w", params.FnName, err)
		}
		return &AttachedLink{Handle: &linkHandle{l: l}}, nil

	case model.KindUProbe, model.KindURetProbe:
		ex, err := link.OpenExecutable(params.Target)
		if err != nil {
			return nil, fmt.Errorf("open uprobe target %s: %w", params.Target, err)
		}
		var l link.Link
		if params.RetProbe {
			l, err = ex.Uretprobe(params.FnName, prog, nil)
		} else {
			l, err = ex.Uprobe(params.FnName, prog, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("attach uprobe %s: %w", params.Target, err)
		}
		return &AttachedLink{Handle: &linkHandle{l: l}}, nil

	case model.KindFEntry, model.KindFExit:
		l, err := link.AttachTracing(link.TracingOptions{Program: prog})
		if err != nil {
			return nil, fmt.Errorf("attach %s %s: %w", params.Kind, params.AttachFn, err)
		}
		return &AttachedLink{Handle: &linkHandle{l: l}}, nil

	default:
		return nil, fmt.Errorf("attach not implemented for dispatcher-managed kind %s here; see dispatcher package", params.Kind)
	}
}

// xdpAttachFlags maps the configured mode to the kernel attach flag that
// actually requests it; link.AttachXDP defaults to generic mode when no
// flag is set, which would silently ignore a DRV/HW request.
func xdpAttachFlags(mode model.XDPMode) link.XDPAttachFlags {
	switch mode {
	case model.XDPModeDRV:
		return link.XDPDriverMode
	case model.XDPModeHW:
		return link.XDPOffloadMode
	default:
		return link.XDPGenericMode
	}
}

func (i *Impl) ProgramFD(obj *LoadedObject, fnName string) (int, error) {
	h := obj.Handle.(*objectHandle)
	prog, ok := h.coll.Programs[fnName]
	if !ok {
		return -1, fmt.Errorf("function %q not found", fnName)
	}
	return prog.FD(), nil
}

func (i *Impl) UpdateLink(ctx context.Context, al *AttachedLink, obj *LoadedObject, fnName string) error {
	h := obj.Handle.(*objectHandle)
	prog, ok := h.coll.Programs[fnName]
	if !ok {
		return fmt.Errorf("function %q not found", fnName)
	}
	lh := al.Handle.(*linkHandle)
	if err := lh.l.Update(prog); err != nil {
		return fmt.Errorf("update link to %s: %w", fnName, err)
	}
	return nil
}

func (i *Impl) Pin(ctx context.Context, obj *LoadedObject, fnName, path string) error {
	h := obj.Handle.(*objectHandle)
	prog, ok := h.coll.Programs[fnName]
	if !ok {
		return fmt.Errorf("function %q not found", fnName)
	}
	if err := prog.Pin(path); err != nil {
		return fmt.Errorf("pin program at %s: %w", path, err)
	}
	return nil
}

func (i *Impl) Unpin(ctx context.Context, path string) error {
	prog, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		return fmt.Errorf("load pinned program %s: %w", path, err)
	}
	defer prog.Close()
	if err := prog.Unpin(); err != nil {
		return fmt.Errorf("unpin %s: %w", path, err)
	}
	return nil
}

func (i *Impl) PinLink(ctx context.Context, al *AttachedLink, path string) error {
	lh := al.Handle.(*linkHandle)
	if err := lh.l.Pin(path); err != nil {
		return fmt.Errorf("pin link at %s: %w", path, err)
	}
	return nil
}

func (i *Impl) UnpinLink(ctx context.Context, path string) error {
	l, err := link.LoadPinnedLink(path, nil)
	if err != nil {
		return fmt.Errorf("load pinned link %s: %w", path, err)
	}
	defer l.Close()
	if err := l.Unpin(); err != nil {
		return fmt.Errorf("unpin link %s: %w", path, err)
	}
	return nil
}

func (i *Impl) Close(obj *LoadedObject) error {
	h := obj.Handle.(*objectHandle)
	h.coll.Close()
	return nil
}

func (i *Impl) CloseLink(al *AttachedLink) error {
	lh := al.Handle.(*linkHandle)
	return lh.l.Close()
}

func (i *Impl) EnumerateKernelPrograms(ctx context.Context) ([]uint32, error) {
	var ids []uint32
	id := ebpf.ProgramID(0)
	for {
		next, err := ebpf.ProgramGetNextID(id)
		if err != nil {
			break
		}
		ids = append(ids, uint32(next))
		id = next
	}
	return ids, nil
}

func (i *Impl) LoadFromPin(ctx context.Context, path string) (*LoadedObject, error) {
	prog, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		return nil, fmt.Errorf("load pinned program %s: %w", path, err)
	}
	info, err := prog.Info()
	if err != nil {
		return nil, fmt.Errorf("pinned program info %s: %w", path, err)
	}
	name := info.Name
	return &LoadedObject{
		Handle:       &objectHandle{coll: &ebpf.Collection{Programs: map[string]*ebpf.Program{name: prog}}},
		ProgramNames: []string{name},
		Facts:        map[string]model.KernelFacts{},
	}, nil
}

func (i *Impl) LoadLinkFromPin(ctx context.Context, path string) (*AttachedLink, error) {
	l, err := link.LoadPinnedLink(path, nil)
	if err != nil {
		return nil, fmt.Errorf("load pinned link %s: %w", path, err)
	}
	return &AttachedLink{Handle: &linkHandle{l: l}}, nil
}

// errorsAs is a tiny indirection so the VerifierError type-switch above
// reads like the rest of this file's error handling; kept local since it
// is only ever called with *ebpf.VerifierError.
func errorsAs(err error, target **ebpf.VerifierError) bool {
	type verifierErrorer interface {
		Unwrap() error
	}
	for err != nil {
		if ve, ok := err.(*ebpf.VerifierError); ok {
			*target = ve
			return true
		}
		u, ok := err.(verifierErrorer)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
