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

package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/blang/semver/v4"

	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/state"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// supportedDispatcherABI is the range of dispatcher config ABI versions
// this engine's encodeDispatcherConfig layout is compatible with. A
// dispatcher image declaring a version outside this range would be
// fed a config struct it does not understand.
const supportedDispatcherABI = ">=1.0.0 <2.0.0"

const labelDispatcherABI = "io.ebpf.dispatcher_abi"

// checkDispatcherABI reads the pulled dispatcher image's declared ABI
// label and rejects it before use if it falls outside the range this
// engine's wire format supports. Images that omit the label entirely
// predate the labeling convention and are accepted as-is.
func checkDispatcherABI(images ImagePuller, dir string) error {
	labels, err := images.Labels(dir)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindImageIntegrity, "read dispatcher image labels", err)
	}
	raw, ok := labels[labelDispatcherABI]
	if !ok || raw == "" {
		return nil
	}
	v, err := semver.Parse(raw)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindDispatcherImageMissingProgram, fmt.Sprintf("dispatcher image declares malformed ABI version %q", raw), err)
	}
	rng, err := semver.ParseRange(supportedDispatcherABI)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, "parse supported dispatcher ABI range", err)
	}
	if !rng(v) {
		return ebpferrors.New(ebpferrors.KindDispatcherImageMissingProgram, fmt.Sprintf("dispatcher image ABI %s is outside the supported range %s", raw, supportedDispatcherABI))
	}
	return nil
}

// rebuild performs one dispatcher revision end to end: load the new
// dispatcher image with a config matching newExtensions, attach or
// re-point every extension into its prog<i> slot, swap the new dispatcher
// onto the real hook with traffic continuity, then retire the previous
// revision. Extensions already attached in a prior revision are
// re-pointed in place rather than re-attached from scratch; only brand
// new extensions go through a fresh load+attach+pin.
//
// On any failure after kernel state has changed, the returned rollback
// closure undoes exactly what was done so far; callers must invoke it
// whenever they do not go on to persist the new slot.
func (e *Engine) rebuild(
	ctx context.Context,
	key model.DispatcherSlotKey,
	old *model.DispatcherSlot,
	newExtensions []model.Link,
	bytecodeByLinkID map[string][]byte,
	mapPinByLinkID map[string]string,
	globalsByLinkID map[string]map[string][]byte,
) (*model.DispatcherSlot, []model.Link, func(), error) {
	driver := e.driverFor(key)

	dir, fnName, err := e.images.Pull(ctx, driver.dispatcherImageURL(), model.PullIfNotPresent, nil)
	if err != nil {
		return nil, nil, noop, ebpferrors.Wrap(ebpferrors.KindImageUnavailable, "pull dispatcher image", err)
	}
	if fnName == "" {
		fnName = driver.dispatcherFnName()
	}
	if fnName != driver.dispatcherFnName() {
		return nil, nil, noop, ebpferrors.New(ebpferrors.KindDispatcherImageMissingProgram, fmt.Sprintf("dispatcher image declares function %q, not %q", fnName, driver.dispatcherFnName()))
	}
	if err := checkDispatcherABI(e.images, dir); err != nil {
		return nil, nil, noop, err
	}
	bytecode, err := e.images.GetBytecode(dir)
	if err != nil {
		return nil, nil, noop, ebpferrors.Wrap(ebpferrors.KindImageIntegrity, "read dispatcher bytecode", err)
	}

	nextRevision := old.Revision + 1
	priority := fixedPriorityFor(key.Kind, nextRevision)
	cfg := model.BuildDispatcherConfig(newExtensions, priority)

	dispatcherMapDir := filepath.Join(e.layout.MapsRoot(), "dispatcher", fmt.Sprintf("%d_%d_%s", key.NetnsID, key.IfIndex, key.Kind))
	newObj, newKernelID, err := loadDispatcher(ctx, e.kernel, bytecode, fnName, cfg, dispatcherMapDir)
	if err != nil {
		return nil, nil, noop, err
	}

	var cleanups []func()
	rollback := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	cleanups = append(cleanups, func() { _ = e.kernel.Close(newObj) })

	for i := range newExtensions {
		ext := &newExtensions[i]
		if bc, ok := bytecodeByLinkID[ext.LinkID]; ok {
			if err := e.attachExtensionFresh(ctx, ext, bc, mapPinByLinkID[ext.LinkID], globalsByLinkID[ext.LinkID], i); err != nil {
				rollback()
				return nil, nil, noop, err
			}
			linkID, pinPath := ext.LinkID, ext.PinPath
			cleanups = append(cleanups, func() {
				if err := e.kernel.UnpinLink(ctx, pinPath); err != nil {
					e.log.Error(err, "failed unpinning freshly attached extension during rollback", "link", linkID)
				}
			})
		} else if prior := findExtension(old.Extensions, ext.LinkID); prior != nil {
			ext.PinPath = prior.PinPath
			ext.Attached = true
			if err := e.repointExtension(ctx, ext, newObj, i); err != nil {
				rollback()
				return nil, nil, noop, err
			}
		}
	}

	if _, _, err := driver.attachNew(ctx, e, old, bytecode, cfg); err != nil {
		rollback()
		return nil, nil, noop, err
	}

	if old.DispatcherKernelID != 0 {
		if err := driver.retireOld(ctx, e, old); err != nil {
			e.log.Error(err, "failed retiring previous dispatcher revision; leaking until next restart", "key", key)
		}
	}

	newSlot := &model.DispatcherSlot{
		Key:                key,
		Revision:           nextRevision,
		IfName:             old.IfName,
		NumEnabled:         len(newExtensions),
		Mode:               old.Mode,
		NetlinkHandle:      old.NetlinkHandle,
		NetlinkPriority:    uint16(priority),
		DispatcherKernelID: newKernelID,
		PinDir:             driver.pinDir(e, key, nextRevision),
		Extensions:         newExtensions,
	}

	return newSlot, newExtensions, rollback, nil
}

// teardown detaches the dispatcher entirely once its last extension is
// removed, retiring the kernel state; the caller deletes the slot record
// once this returns successfully.
func (e *Engine) teardown(ctx context.Context, key model.DispatcherSlotKey, slot *model.DispatcherSlot) error {
	if key.Kind == model.DispatcherXDP {
		// xdp retireOld never touches the root link, so the hook is
		// detached here by unpinning it.
		if err := e.kernel.UnpinLink(ctx, e.layout.XDPRootLinkPath(key.NetnsID, key.IfIndex)); err != nil {
			return ebpferrors.Wrap(ebpferrors.KindInternal, "unpin xdp dispatcher root link on teardown", err)
		}
	} else {
		driver := e.driverFor(key)
		if err := driver.retireOld(ctx, e, slot); err != nil {
			return ebpferrors.Wrap(ebpferrors.KindInternal, "retire dispatcher on teardown", err)
		}
	}
	return e.repo.Store.Delete(state.BucketDispatchers, state.DispatcherKey(key))
}

func noop() {}

func findExtension(exts []model.Link, linkID string) *model.Link {
	for i := range exts {
		if exts[i].LinkID == linkID {
			return &exts[i]
		}
	}
	return nil
}

func fixedPriorityFor(kind model.DispatcherKind, revision uint32) uint32 {
	if kind != model.DispatcherXDP {
		return uint32(model.TCReservedPriorities[revision%2])
	}
	return 0
}

// loadDispatcher loads the dispatcher ELF with cfg baked in as its config
// global, and returns the materialised object plus its allocated kernel
// id for the chosen entry function.
func loadDispatcher(ctx context.Context, k kernel.Binder, bytecode []byte, fnName string, cfg model.DispatcherConfig, mapPinDir string) (*kernel.LoadedObject, uint32, error) {
	globals := map[string][]byte{"conf": encodeDispatcherConfig(cfg)}
	obj, err := k.Load(ctx, kernel.LoadOptions{Bytecode: bytecode, GlobalData: globals, MapPinDir: mapPinDir})
	if err != nil {
		return nil, 0, ebpferrors.Wrap(ebpferrors.KindInternal, "load dispatcher bytecode", err)
	}
	kid, _, err := k.LoadProgram(ctx, obj, fnName)
	if err != nil {
		_ = k.Close(obj)
		return nil, 0, ebpferrors.Wrap(ebpferrors.KindInternal, "load dispatcher program", err)
	}
	return obj, kid, nil
}

// encodeDispatcherConfig lays DispatcherConfig out the way the dispatcher
// bytecode's config global expects it: a uint8 count followed by two
// parallel little-endian uint32 arrays.
func encodeDispatcherConfig(cfg model.DispatcherConfig) []byte {
	buf := make([]byte, 1+4*model.MaxDispatcherExtensions*2)
	buf[0] = cfg.NumProgsEnabled
	off := 1
	for _, v := range cfg.ChainCallActions {
		putUint32LE(buf[off:], v)
		off += 4
	}
	for _, v := range cfg.RunPrios {
		putUint32LE(buf[off:], v)
		off += 4
	}
	return buf
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (e *Engine) attachExtensionFresh(ctx context.Context, ext *model.Link, bytecode []byte, mapPinDir string, globals map[string][]byte, slotIndex int) error {
	obj, err := e.kernel.Load(ctx, kernel.LoadOptions{Bytecode: bytecode, GlobalData: globals, MapPinDir: mapPinDir})
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("load extension %s", ext.FnName), err)
	}
	defer e.kernel.Close(obj)

	kid, _, err := e.kernel.LoadProgram(ctx, obj, ext.FnName)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("load extension program %s", ext.FnName), err)
	}
	ext.KernelID = kid

	attached, err := e.kernel.Attach(ctx, obj, ext.FnName, kernel.AttachParams{
		Kind:      ext.Kind,
		NetnsID:   ext.NetnsID,
		IfIndex:   ext.IfIndex,
		IfName:    ext.IfName,
		Priority:  ext.Priority,
		Direction: ext.Direction,
		ProceedOn: ext.ProceedOn,
	})
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("attach extension %s into slot %d", ext.FnName, slotIndex), err)
	}

	// Pin the link, not the program: repointExtension later reloads this
	// exact path via LoadLinkFromPin to re-point it at the next revision's
	// dispatcher with UpdateLink.
	ext.PinPath = e.layout.LinkPinPath(ext.LinkID)
	if err := e.kernel.PinLink(ctx, attached, ext.PinPath); err != nil {
		_ = e.kernel.CloseLink(attached)
		return ebpferrors.Wrap(ebpferrors.KindInternal, "pin extension link", err)
	}
	_ = e.kernel.CloseLink(attached)
	ext.Attached = true
	return nil
}

func (e *Engine) repointExtension(ctx context.Context, ext *model.Link, dispatcherObj *kernel.LoadedObject, slotIndex int) error {
	link, err := e.kernel.LoadLinkFromPin(ctx, ext.PinPath)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("reload pinned link for %s", ext.FnName), err)
	}
	defer e.kernel.CloseLink(link)
	if err := e.kernel.UpdateLink(ctx, link, dispatcherObj, ext.FnName); err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("repoint link for %s into slot %d", ext.FnName, slotIndex), err)
	}
	return nil
}
