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

// Package program is the Program Manager: Load/Attach/Detach/Unload/List/
// Get over every kernel program this host manages. Point-attach kinds
// (tracepoint/kprobe/uprobe/fentry/fexit) are attached directly here;
// shared-hook kinds (XDP/TC/TCx) delegate their attach bookkeeping to the
// Dispatcher Engine, since they multiplex through one shared hook rather
// than owning it outright.
package program

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ebpfmand/ebpfmand/internal/dispatcher"
	"github.com/ebpfmand/ebpfmand/internal/fs"
	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/oci"
	"github.com/ebpfmand/ebpfmand/internal/state"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// ImagePuller is the subset of the Image Store's contract Load needs:
// resolve an image reference to a local cache directory plus the BPF
// function name its labels advertise, then read its bytecode.
type ImagePuller interface {
	Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (localDir, fnName string, err error)
	GetBytecode(localDir string) ([]byte, error)
}

var _ ImagePuller = (*oci.CoalescingStore)(nil)

// Manager owns every Program and Link record. It is only ever driven
// from the command loop's single goroutine.
type Manager struct {
	kernel   kernel.Binder
	images   ImagePuller
	layout   *fs.Layout
	repo     *state.Repository
	dispatch *dispatcher.Engine
	log      logr.Logger

	programs     map[uint32]*model.Program
	linksByID    map[string]*model.Link
	linksByOwner map[uint32]map[string]bool
}

func NewManager(k kernel.Binder, images ImagePuller, layout *fs.Layout, repo *state.Repository, dispatch *dispatcher.Engine, log logr.Logger) *Manager {
	return &Manager{
		kernel:       k,
		images:       images,
		layout:       layout,
		repo:         repo,
		dispatch:     dispatch,
		log:          log,
		programs:     map[uint32]*model.Program{},
		linksByID:    map[string]*model.Link{},
		linksByOwner: map[uint32]map[string]bool{},
	}
}

// LoadSnapshot seeds the in-memory program/link indices from the state
// store at startup, without issuing any kernel syscalls.
func (m *Manager) LoadSnapshot(snap *state.Snapshot) {
	for id, p := range snap.Programs {
		pp := p
		m.programs[id] = &pp
	}
	for id, l := range snap.Links {
		ll := l
		m.linksByID[id] = &ll
		m.indexOwner(ll.KernelID, ll.LinkID)
	}
}

func (m *Manager) indexOwner(kernelID uint32, linkID string) {
	set, ok := m.linksByOwner[kernelID]
	if !ok {
		set = map[string]bool{}
		m.linksByOwner[kernelID] = set
	}
	set[linkID] = true
}

func (m *Manager) unindexOwner(kernelID uint32, linkID string) {
	if set, ok := m.linksByOwner[kernelID]; ok {
		delete(set, linkID)
		if len(set) == 0 {
			delete(m.linksByOwner, kernelID)
		}
	}
}

// LoadRequest is the input to Load.
type LoadRequest struct {
	Kind   model.ProgramKind
	Source model.Source

	// FnName is required when Source is a local file; for an image
	// source it overrides the name advertised by the image's labels
	// only if non-empty.
	FnName string

	GlobalData map[string][]byte
	Metadata   map[string]string

	// MapOwnerID, if non-zero, names an already-loaded Program whose
	// map-pin directory this Program's maps are loaded into instead of
	// allocating a fresh one.
	MapOwnerID uint32
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// Load resolves bytecode, issues the kernel load, pins the program and
// its maps, and persists the Program/Map records in one transaction. Any
// failure after the kernel load unwinds everything done so far in
// reverse order; unwind failures ride alongside the original error as an
// aggregate rather than replacing it.
func (m *Manager) Load(ctx context.Context, req LoadRequest) (model.Program, error) {
	prog := model.Program{
		Kind:       req.Kind,
		State:      model.StatePreLoad,
		Source:     req.Source,
		GlobalData: req.GlobalData,
		Metadata:   req.Metadata,
		MapOwnerID: req.MapOwnerID,
	}
	if prog.GlobalData == nil {
		prog.GlobalData = map[string][]byte{}
	}
	if prog.Metadata == nil {
		prog.Metadata = map[string]string{}
	}

	var bytecode []byte
	fnName := req.FnName

	switch req.Source.Location {
	case model.LocationImage:
		if req.Source.ImageURL == "" {
			return model.Program{}, ebpferrors.New(ebpferrors.KindInvalidArgument, "image_url required when location_type=image")
		}
		dir, pulledFn, err := m.images.Pull(ctx, req.Source.ImageURL, req.Source.PullPolicy, req.Source.Credentials)
		if err != nil {
			return model.Program{}, ebpferrors.Wrap(ebpferrors.KindImageUnavailable, "pull program image", err)
		}
		if fnName == "" {
			fnName = pulledFn
		}
		bytecode, err = m.images.GetBytecode(dir)
		if err != nil {
			return model.Program{}, ebpferrors.Wrap(ebpferrors.KindImageIntegrity, "read program bytecode", err)
		}
	case model.LocationFile:
		if req.Source.FilePath == "" {
			return model.Program{}, ebpferrors.New(ebpferrors.KindInvalidArgument, "file_path required when location_type=file")
		}
		if fnName == "" {
			return model.Program{}, ebpferrors.New(ebpferrors.KindInvalidArgument, "fn_name required for a file-sourced program")
		}
		data, err := os.ReadFile(req.Source.FilePath)
		if err != nil {
			return model.Program{}, ebpferrors.Wrap(ebpferrors.KindInvalidArgument, "read program file", err)
		}
		bytecode = data
	default:
		return model.Program{}, ebpferrors.New(ebpferrors.KindInvalidArgument, "invalid location_type")
	}

	prog.FnName = fnName
	if err := prog.Validate(); err != nil {
		return model.Program{}, ebpferrors.Wrap(ebpferrors.KindInvalidArgument, "validate program record", err)
	}

	var owner *model.Program
	mapPinDir := filepath.Join(m.layout.MapsRoot(), "pending-"+uuid.NewString())
	if req.MapOwnerID != 0 {
		o, ok := m.programs[req.MapOwnerID]
		if !ok || o.State != model.StateLoaded || o.MapPinDir == "" {
			return model.Program{}, ebpferrors.New(ebpferrors.KindMapOwnerNotFound, fmt.Sprintf("map owner %d is not a loaded program with an established map-pin directory", req.MapOwnerID))
		}
		owner = o
		mapPinDir = o.MapPinDir
	}

	if owner == nil {
		if err := os.MkdirAll(mapPinDir, 0o750); err != nil {
			return model.Program{}, ebpferrors.Wrap(ebpferrors.KindInternal, "create map-pin staging directory", err)
		}
	}

	obj, err := m.kernel.Load(ctx, kernel.LoadOptions{
		Bytecode:             bytecode,
		GlobalData:           req.GlobalData,
		MapPinDir:            mapPinDir,
		AllowUnsupportedMaps: true,
	})
	if err != nil {
		if owner == nil {
			_ = os.RemoveAll(mapPinDir)
		}
		return model.Program{}, ebpferrors.Wrap(ebpferrors.KindVerifierRejected, "open program object", err)
	}

	if !containsName(obj.ProgramNames, fnName) {
		_ = m.kernel.Close(obj)
		if owner == nil {
			_ = os.RemoveAll(mapPinDir)
		}
		return model.Program{}, ebpferrors.New(ebpferrors.KindFunctionNotFound, fmt.Sprintf("function %q not found among %v", fnName, obj.ProgramNames))
	}

	kernelID, facts, err := m.kernel.LoadProgram(ctx, obj, fnName)
	if err != nil {
		_ = m.kernel.Close(obj)
		if owner == nil {
			_ = os.RemoveAll(mapPinDir)
		}
		return model.Program{}, ebpferrors.Wrap(ebpferrors.KindVerifierRejected, "kernel load", err)
	}

	var undo []func() error
	compensate := func(cause *ebpferrors.Error) error {
		var aggregate []error
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				aggregate = append(aggregate, err)
			}
		}
		return cause.WithAggregate(aggregate)
	}
	undo = append(undo, func() error { return m.kernel.Close(obj) })

	if owner == nil {
		finalDir := m.layout.MapOwnerDir(kernelID)
		if err := os.Rename(mapPinDir, finalDir); err != nil {
			return model.Program{}, compensate(ebpferrors.Wrap(ebpferrors.KindInternal, "finalize map-pin directory", err))
		}
		mapPinDir = finalDir
		undo = append(undo, func() error { return os.RemoveAll(finalDir) })
		prog.IsMapOwner = true
	}
	prog.MapPinDir = mapPinDir

	pinPath := m.layout.ProgramPinPath(kernelID)
	if err := m.kernel.Pin(ctx, obj, fnName, pinPath); err != nil {
		return model.Program{}, compensate(ebpferrors.Wrap(ebpferrors.KindInternal, "pin program", err))
	}
	undo = append(undo, func() error { return m.kernel.Unpin(ctx, pinPath) })

	prog.KernelID = kernelID
	prog.State = model.StateLoaded
	prog.PinPath = pinPath
	prog.Bytecode = bytecode
	prog.Facts = facts

	mapOwnerKernelID := kernelID
	if owner != nil {
		mapOwnerKernelID = owner.KernelID
	}

	err = m.repo.Store.Transaction(func(tx *state.Tx) error {
		if err := tx.Put(state.BucketPrograms, state.ProgramKey(kernelID), &prog); err != nil {
			return err
		}
		for _, mm := range obj.Maps {
			rec := mm
			if err := tx.Put(state.BucketMaps, state.MapKey(mapOwnerKernelID, rec.Name), &rec); err != nil {
				return err
			}
		}
		if owner != nil {
			if err := tx.Put(state.BucketProgramMaps, state.ProgramMapsKey(owner.KernelID, kernelID), struct{}{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Program{}, compensate(ebpferrors.Wrap(ebpferrors.KindInternal, "persist program record", err))
	}

	// Durably pinned and persisted: the in-process handle can now be
	// released without touching the kernel-resident program.
	_ = m.kernel.Close(obj)

	m.programs[kernelID] = &prog
	return prog, nil
}

// AttachRequest is the input to Attach: the kind-specific attach
// parameters for the target Program, mirroring kernel.AttachParams plus
// the shared-hook fields the Dispatcher Engine needs.
type AttachRequest struct {
	KernelID uint32
	Kind     model.ProgramKind

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

	Metadata map[string]string
}

// Attach validates the target Program and dispatches to either a direct
// kernel attach (point-attach kinds) or the Dispatcher Engine
// (shared-hook kinds).
func (m *Manager) Attach(ctx context.Context, req AttachRequest) (model.Link, error) {
	prog, ok := m.programs[req.KernelID]
	if !ok {
		return model.Link{}, ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("program %d not found", req.KernelID))
	}
	if prog.State != model.StateLoaded {
		return model.Link{}, ebpferrors.New(ebpferrors.KindFailedPrecondition, fmt.Sprintf("program %d is not loaded", req.KernelID))
	}
	if prog.Kind != req.Kind {
		return model.Link{}, ebpferrors.New(ebpferrors.KindProgramTypeMismatch, fmt.Sprintf("program %d is kind %s, attach requested kind %s", req.KernelID, prog.Kind, req.Kind))
	}

	var (
		link model.Link
		err  error
	)
	if prog.Kind.IsSharedHook() {
		link, err = m.attachShared(ctx, prog, req)
	} else {
		link, err = m.attachDirect(ctx, prog, req)
	}
	if err != nil {
		return model.Link{}, err
	}

	m.linksByID[link.LinkID] = &link
	m.indexOwner(link.KernelID, link.LinkID)
	return link, nil
}

func (m *Manager) attachDirect(ctx context.Context, prog *model.Program, req AttachRequest) (model.Link, error) {
	obj, err := m.kernel.LoadFromPin(ctx, prog.PinPath)
	if err != nil {
		return model.Link{}, ebpferrors.Wrap(ebpferrors.KindInternal, "reload pinned program", err)
	}
	defer m.kernel.Close(obj)

	params := kernel.AttachParams{
		Kind:           prog.Kind,
		TracepointName: req.TracepointName,
		FnName:         req.FnName,
		Offset:         req.Offset,
		Target:         req.Target,
		PID:            req.PID,
		ContainerPID:   req.ContainerPID,
		RetProbe:       req.RetProbe,
		AttachFn:       req.AttachFn,
	}
	attached, err := m.kernel.Attach(ctx, obj, prog.FnName, params)
	if err != nil {
		return model.Link{}, ebpferrors.Wrap(ebpferrors.KindAttachPointBusy, fmt.Sprintf("attach program %d", prog.KernelID), err)
	}

	link := model.Link{
		LinkID:         uuid.NewString(),
		KernelID:       prog.KernelID,
		Kind:           prog.Kind,
		Metadata:       req.Metadata,
		TracepointName: req.TracepointName,
		FnName:         req.FnName,
		Offset:         req.Offset,
		ContainerPID:   req.ContainerPID,
		Target:         req.Target,
		PID:            req.PID,
		RetProbe:       req.RetProbe,
		Attached:       true,
	}
	link.PinPath = m.layout.LinkPinPath(link.LinkID)

	if err := m.kernel.PinLink(ctx, attached, link.PinPath); err != nil {
		_ = m.kernel.CloseLink(attached)
		return model.Link{}, ebpferrors.Wrap(ebpferrors.KindInternal, "pin link", err)
	}
	_ = m.kernel.CloseLink(attached)

	if err := m.repo.Store.Put(state.BucketLinks, state.LinkKey(link.LinkID), &link); err != nil {
		_ = m.kernel.UnpinLink(ctx, link.PinPath)
		return model.Link{}, ebpferrors.Wrap(ebpferrors.KindInternal, "persist link", err)
	}

	return link, nil
}

func (m *Manager) attachShared(ctx context.Context, prog *model.Program, req AttachRequest) (model.Link, error) {
	dKind, err := dispatcherKindFor(prog.Kind, req.Direction)
	if err != nil {
		return model.Link{}, err
	}

	link, err := m.dispatch.Add(ctx, dispatcher.AddRequest{
		Key:               model.DispatcherSlotKey{NetnsID: req.NetnsID, IfIndex: req.IfIndex, Kind: dKind},
		IfName:            req.IfName,
		Priority:          req.Priority,
		ProceedOn:         req.ProceedOn,
		Mode:              req.Mode,
		ExtensionKernelID: prog.KernelID,
		ExtensionFnName:   prog.FnName,
		ExtensionBytecode: prog.Bytecode,
		ExtensionMapPin:   prog.MapPinDir,
		ExtensionGlobals:  prog.GlobalData,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return model.Link{}, err
	}
	return link, nil
}

func dispatcherKindFor(k model.ProgramKind, dir model.Direction) (model.DispatcherKind, error) {
	switch k {
	case model.KindXDP:
		return model.DispatcherXDP, nil
	case model.KindTC, model.KindTCX:
		if dir == model.DirectionEgress {
			return model.DispatcherTCEgress, nil
		}
		return model.DispatcherTCIngress, nil
	default:
		return 0, ebpferrors.New(ebpferrors.KindInvalidArgument, fmt.Sprintf("kind %s is not a shared hook", k))
	}
}

// Detach mirrors Attach: shared-hook kinds trigger a dispatcher rebuild
// without the extension, point-attach kinds are unpinned and closed
// directly. The owning Program remains loaded either way.
func (m *Manager) Detach(ctx context.Context, linkID string) error {
	link, ok := m.linksByID[linkID]
	if !ok {
		return ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("link %s not found", linkID))
	}

	if link.Kind.IsSharedHook() {
		dKind, err := dispatcherKindFor(link.Kind, link.Direction)
		if err != nil {
			return err
		}
		key := model.DispatcherSlotKey{NetnsID: link.NetnsID, IfIndex: link.IfIndex, Kind: dKind}
		if err := m.dispatch.Remove(ctx, key, linkID); err != nil {
			return err
		}
	} else {
		attached, err := m.kernel.LoadLinkFromPin(ctx, link.PinPath)
		if err != nil {
			return ebpferrors.Wrap(ebpferrors.KindInternal, "reload pinned link", err)
		}
		if err := m.kernel.UnpinLink(ctx, link.PinPath); err != nil {
			_ = m.kernel.CloseLink(attached)
			return ebpferrors.Wrap(ebpferrors.KindInternal, "unpin link", err)
		}
		_ = m.kernel.CloseLink(attached)
		if err := m.repo.Store.Delete(state.BucketLinks, state.LinkKey(linkID)); err != nil {
			return ebpferrors.Wrap(ebpferrors.KindInternal, "delete link record", err)
		}
	}

	m.unindexOwner(link.KernelID, linkID)
	delete(m.linksByID, linkID)
	return nil
}

// Unload refuses if the Program is a map-owner with live inheritors,
// detaches every Link it owns, unpins the program, and removes its maps
// and map-pin directory if it owned one, all before deleting the state
// records.
func (m *Manager) Unload(ctx context.Context, kernelID uint32) error {
	prog, ok := m.programs[kernelID]
	if !ok {
		return ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("program %d not found", kernelID))
	}

	if prog.IsMapOwner {
		has, err := m.repo.HasInheritors(kernelID)
		if err != nil {
			return ebpferrors.Wrap(ebpferrors.KindInternal, "check map inheritors", err)
		}
		if has {
			return ebpferrors.New(ebpferrors.KindMapOwnerInUse, fmt.Sprintf("program %d still has map inheritors", kernelID))
		}
	}

	for linkID := range m.linksByOwner[kernelID] {
		if err := m.Detach(ctx, linkID); err != nil {
			return err
		}
	}

	if err := m.kernel.Unpin(ctx, prog.PinPath); err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, "unpin program", err)
	}

	var cleanupErrs []error
	if prog.IsMapOwner && prog.MapPinDir != "" {
		if err := os.RemoveAll(prog.MapPinDir); err != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("remove map-pin directory %s: %w", prog.MapPinDir, err))
		}
	}

	err := m.repo.Store.Transaction(func(tx *state.Tx) error {
		if err := tx.Delete(state.BucketPrograms, state.ProgramKey(kernelID)); err != nil {
			return err
		}
		var mapKeys []string
		if err := tx.Scan(state.BucketMaps, state.MapPrefixForOwner(kernelID), func(k string, _ []byte) error {
			mapKeys = append(mapKeys, k)
			return nil
		}); err != nil {
			return err
		}
		for _, k := range mapKeys {
			if err := tx.Delete(state.BucketMaps, k); err != nil {
				return err
			}
		}
		if prog.MapOwnerID != 0 {
			return tx.Delete(state.BucketProgramMaps, state.ProgramMapsKey(prog.MapOwnerID, kernelID))
		}
		return nil
	})
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, "delete program records", err).WithAggregate(cleanupErrs)
	}

	delete(m.programs, kernelID)
	delete(m.linksByOwner, kernelID)
	if len(cleanupErrs) > 0 {
		m.log.Error(cleanupErrs[0], "best-effort cleanup failed during unload", "program", kernelID)
	}
	return nil
}

// ListFilter narrows List's result set; the zero value matches every
// manager-owned Program.
type ListFilter struct {
	Kind             model.ProgramKind
	MetadataKey      string
	MetadataValue    string
	ManagerOwnedOnly bool
}

// List returns every manager-owned Program matching filter, optionally
// augmented with kernel-resident programs this manager did not create,
// surfaced read-only with no Source/Facts populated.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]model.Program, error) {
	var out []model.Program
	for _, p := range m.programs {
		if filter.Kind != model.KindUnspecified && p.Kind != filter.Kind {
			continue
		}
		if filter.MetadataKey != "" {
			v, ok := p.Metadata[filter.MetadataKey]
			if !ok || (filter.MetadataValue != "" && v != filter.MetadataValue) {
				continue
			}
		}
		out = append(out, *p)
	}

	if filter.ManagerOwnedOnly {
		return out, nil
	}

	ids, err := m.kernel.EnumerateKernelPrograms(ctx)
	if err != nil {
		return out, ebpferrors.Wrap(ebpferrors.KindInternal, "enumerate kernel programs", err)
	}
	for _, id := range ids {
		if _, owned := m.programs[id]; owned {
			continue
		}
		out = append(out, model.Program{
			KernelID: id,
			State:    model.StateLoaded,
			Metadata: map[string]string{"unsupported": "true"},
		})
	}
	return out, nil
}

// Get is an exact manager-owned lookup.
func (m *Manager) Get(kernelID uint32) (model.Program, error) {
	p, ok := m.programs[kernelID]
	if !ok {
		return model.Program{}, ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("program %d not found", kernelID))
	}
	return *p, nil
}
