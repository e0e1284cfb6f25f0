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

// Package dispatcher owns every shared attach point: for each hook it
// tracks the dispatcher program and the ordered list of extension
// programs, computes revisions, and performs the atomic swap between
// them. The XDP and TC variants share the sort/config/orchestration logic
// here; their kernel-hook-specific attach/retire steps live in xdp.go and
// tc.go behind the small hookDriver interface, kept as parallel but
// independent implementations rather than forced into one trait.
package dispatcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ebpfmand/ebpfmand/internal/fs"
	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/netlinkutil"
	"github.com/ebpfmand/ebpfmand/internal/oci"
	"github.com/ebpfmand/ebpfmand/internal/state"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// ImagePuller is the subset of the Image Store's contract the Dispatcher
// Engine needs: pull the dispatcher image and read its bytecode.
type ImagePuller interface {
	Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (localDir, fnName string, err error)
	GetBytecode(localDir string) ([]byte, error)
	Labels(localDir string) (map[string]string, error)
}

var _ ImagePuller = (*oci.CoalescingStore)(nil)

const defaultPriority = 50

// Engine owns every DispatcherSlot on this host. It is only ever driven
// from the command loop's single goroutine, so the slot map needs no
// internal locking.
type Engine struct {
	kernel  kernel.Binder
	images  ImagePuller
	layout  *fs.Layout
	netlink *netlinkutil.Helper
	repo    *state.Repository
	log     logr.Logger

	slots map[model.DispatcherSlotKey]*model.DispatcherSlot
}

func NewEngine(k kernel.Binder, images ImagePuller, layout *fs.Layout, nl *netlinkutil.Helper, repo *state.Repository, log logr.Logger) *Engine {
	return &Engine{
		kernel:  k,
		images:  images,
		layout:  layout,
		netlink: nl,
		repo:    repo,
		log:     log,
		slots:   map[model.DispatcherSlotKey]*model.DispatcherSlot{},
	}
}

// LoadSnapshot seeds the in-memory slot map at startup from the state
// store, without issuing any kernel syscalls.
func (e *Engine) LoadSnapshot(snap *state.Snapshot) {
	for k, v := range snap.Dispatchers {
		slot := v
		e.slots[k] = &slot
	}
}

// hookDriver is the kernel-hook-specific half of a dispatcher rebuild:
// pulling/loading the right dispatcher image, attaching it to the real
// hook with continuity, and retiring the old revision.
type hookDriver interface {
	// dispatcherImageURL returns the well-known OCI reference for this
	// hook kind's dispatcher bytecode.
	dispatcherImageURL() string
	// dispatcherFnName is the top-level function the image must declare.
	dispatcherFnName() string

	// attachNew loads the new dispatcher's bytecode with the given config
	// global and attaches it to the real hook with traffic continuity,
	// returning the new slot's kernel/handle bookkeeping.
	attachNew(ctx context.Context, e *Engine, slot *model.DispatcherSlot, bytecode []byte, cfg model.DispatcherConfig) (*kernel.LoadedObject, string, error)

	// retireOld detaches/unpins the previous revision's dispatcher from
	// the real hook after the new one is confirmed live.
	retireOld(ctx context.Context, e *Engine, old *model.DispatcherSlot) error

	// pinDir returns the revision-keyed pin directory for this hook kind.
	pinDir(e *Engine, key model.DispatcherSlotKey, revision uint32) string
}

func (e *Engine) driverFor(key model.DispatcherSlotKey) hookDriver {
	switch key.Kind {
	case model.DispatcherXDP:
		return &xdpDriver{}
	default:
		return &tcDriver{}
	}
}

// AddRequest is the input to Add: the new extension's attach parameters
// plus its owning Program's extension bytecode and map-pin path.
type AddRequest struct {
	Key       model.DispatcherSlotKey
	IfName    string
	Priority  int32
	ProceedOn uint32
	Mode      model.XDPMode // XDP only

	ExtensionKernelID uint32
	ExtensionFnName   string
	ExtensionBytecode []byte
	ExtensionMapPin   string
	ExtensionGlobals  map[string][]byte
	Metadata          map[string]string
}

// Add recomputes the slot with the new extension included, rebuilds and
// atomically swaps the dispatcher, and persists everything in one
// transaction.
func (e *Engine) Add(ctx context.Context, req AddRequest) (model.Link, error) {
	slot, existed := e.slots[req.Key]
	if !existed {
		slot = &model.DispatcherSlot{Key: req.Key, IfName: req.IfName, Mode: req.Mode}
	}

	if len(slot.Extensions) >= model.MaxDispatcherExtensions {
		return model.Link{}, ebpferrors.New(ebpferrors.KindTooManyPrograms, fmt.Sprintf("hook %+v already has %d extensions", req.Key, model.MaxDispatcherExtensions))
	}

	newLink := model.Link{
		LinkID:    uuid.NewString(),
		KernelID:  req.ExtensionKernelID,
		Kind:      programKindOf(req.Key.Kind),
		NetnsID:   req.Key.NetnsID,
		IfIndex:   req.Key.IfIndex,
		IfName:    req.IfName,
		Priority:  req.Priority,
		Direction: directionOf(req.Key.Kind),
		ProceedOn: req.ProceedOn,
		Metadata:  req.Metadata,
		FnName:    req.ExtensionFnName,
	}

	newExtensions := append(append([]model.Link{}, slot.Extensions...), newLink)
	sortExtensions(newExtensions)
	assignPositions(newExtensions)

	bytecodeByLinkID := map[string][]byte{newLink.LinkID: req.ExtensionBytecode}
	mapPinByLinkID := map[string]string{newLink.LinkID: req.ExtensionMapPin}
	globalsByLinkID := map[string]map[string][]byte{newLink.LinkID: req.ExtensionGlobals}

	newSlot, updatedLinks, rollback, err := e.rebuild(ctx, req.Key, slot, newExtensions, bytecodeByLinkID, mapPinByLinkID, globalsByLinkID)
	if err != nil {
		return model.Link{}, err
	}

	if err := e.persist(newSlot, updatedLinks); err != nil {
		rollback()
		return model.Link{}, ebpferrors.Wrap(ebpferrors.KindInternal, "persist dispatcher revision", err)
	}

	e.slots[req.Key] = newSlot
	for _, l := range updatedLinks {
		if l.LinkID == newLink.LinkID {
			return l, nil
		}
	}
	return newLink, nil
}

// Remove is the same mechanics with the link elided; if the list becomes
// empty, the dispatcher is detached and its slot record destroyed.
func (e *Engine) Remove(ctx context.Context, key model.DispatcherSlotKey, linkID string) error {
	slot, ok := e.slots[key]
	if !ok {
		return ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("no dispatcher slot for %+v", key))
	}

	var removed *model.Link
	newExtensions := make([]model.Link, 0, len(slot.Extensions))
	for _, l := range slot.Extensions {
		if l.LinkID == linkID {
			ll := l
			removed = &ll
			continue
		}
		newExtensions = append(newExtensions, l)
	}
	if removed == nil {
		return ebpferrors.New(ebpferrors.KindNotFound, fmt.Sprintf("link %s not present on hook %+v", linkID, key))
	}

	sortExtensions(newExtensions)
	assignPositions(newExtensions)

	if len(newExtensions) == 0 {
		if err := e.teardown(ctx, key, slot); err != nil {
			return err
		}
		delete(e.slots, key)
		return e.retireExtension(ctx, removed)
	}

	newSlot, updatedLinks, rollback, err := e.rebuild(ctx, key, slot, newExtensions, nil, nil, nil)
	if err != nil {
		return err
	}

	if err := e.persist(newSlot, updatedLinks); err != nil {
		rollback()
		return ebpferrors.Wrap(ebpferrors.KindInternal, "persist dispatcher revision", err)
	}

	e.slots[key] = newSlot
	return e.retireExtension(ctx, removed)
}

// retireExtension unpins the removed extension's link and deletes its state
// record once it is no longer part of any dispatcher revision. Unpin
// failures are logged rather than returned: the dispatcher-side removal has
// already committed by this point, so a best-effort cleanup that fails
// should not be reported as the whole Remove call having failed.
func (e *Engine) retireExtension(ctx context.Context, removed *model.Link) error {
	if removed.PinPath != "" {
		if err := e.kernel.UnpinLink(ctx, removed.PinPath); err != nil {
			e.log.Error(err, "failed unpinning removed extension link", "link", removed.LinkID)
		}
	}
	if err := e.repo.Store.Delete(state.BucketLinks, state.LinkKey(removed.LinkID)); err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, "delete removed extension link record", err)
	}
	return nil
}

func sortExtensions(links []model.Link) {
	sort.Slice(links, func(i, j int) bool {
		return links[i].SortKey().Less(links[j].SortKey())
	})
}

func assignPositions(links []model.Link) {
	for i := range links {
		links[i].Position = i
	}
}

func programKindOf(k model.DispatcherKind) model.ProgramKind {
	if k == model.DispatcherXDP {
		return model.KindXDP
	}
	return model.KindTC
}

func directionOf(k model.DispatcherKind) model.Direction {
	switch k {
	case model.DispatcherTCIngress:
		return model.DirectionIngress
	case model.DispatcherTCEgress:
		return model.DirectionEgress
	default:
		return model.DirectionUnspecified
	}
}

func (e *Engine) persist(slot *model.DispatcherSlot, links []model.Link) error {
	return e.repo.Store.Transaction(func(tx *state.Tx) error {
		if err := tx.Put(state.BucketDispatchers, state.DispatcherKey(slot.Key), slot); err != nil {
			return err
		}
		for _, l := range links {
			if err := tx.Put(state.BucketLinks, state.LinkKey(l.LinkID), l); err != nil {
				return err
			}
		}
		return nil
	})
}
