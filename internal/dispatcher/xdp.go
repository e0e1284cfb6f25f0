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

	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// xdpWellKnownImage is the OCI reference of the published XDP dispatcher
// image every host pulls the same bytecode from.
const xdpWellKnownImage = "quay.io/ebpfmand/xdp-dispatcher:latest"

type xdpDriver struct{}

func (xdpDriver) dispatcherImageURL() string { return xdpWellKnownImage }
func (xdpDriver) dispatcherFnName() string   { return "xdp_dispatcher" }

func (xdpDriver) pinDir(e *Engine, key model.DispatcherSlotKey, revision uint32) string {
	return e.layout.XDPDispatcherDir(key.NetnsID, key.IfIndex, revision)
}

// attachNew swaps in the new dispatcher program at the XDP hook. A single
// root link is pinned on first attach; every later revision re-points that
// same link at the freshly loaded program via an atomic kernel update, so
// the interface is never briefly without an XDP program.
func (xdpDriver) attachNew(ctx context.Context, e *Engine, old *model.DispatcherSlot, bytecode []byte, cfg model.DispatcherConfig) (*kernel.LoadedObject, string, error) {
	obj, kid, err := loadDispatcher(ctx, e.kernel, bytecode, "xdp_dispatcher", cfg, e.layout.MapOwnerDir(0))
	if err != nil {
		return nil, "", err
	}
	_ = kid

	rootPath := e.layout.XDPRootLinkPath(old.Key.NetnsID, old.Key.IfIndex)

	if old.DispatcherKernelID == 0 {
		attached, err := e.kernel.Attach(ctx, obj, "xdp_dispatcher", kernel.AttachParams{
			Kind:    model.KindXDP,
			IfIndex: old.Key.IfIndex,
			Mode:    old.Mode,
		})
		if err != nil {
			_ = e.kernel.Close(obj)
			return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("attach xdp dispatcher on ifindex %d", old.Key.IfIndex), err)
		}
		if err := e.kernel.PinLink(ctx, attached, rootPath); err != nil {
			_ = e.kernel.CloseLink(attached)
			_ = e.kernel.Close(obj)
			return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, "pin xdp dispatcher root link", err)
		}
		return obj, "xdp_dispatcher", nil
	}

	rootLink, err := e.kernel.LoadLinkFromPin(ctx, rootPath)
	if err != nil {
		_ = e.kernel.Close(obj)
		return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, "reload xdp dispatcher root link", err)
	}
	if err := e.kernel.UpdateLink(ctx, rootLink, obj, "xdp_dispatcher"); err != nil {
		_ = e.kernel.Close(obj)
		return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("swap xdp dispatcher revision on ifindex %d", old.Key.IfIndex), err)
	}
	return obj, "xdp_dispatcher", nil
}

// retireOld closes the previous revision's in-process object handle. The
// root link itself is never retired: it is re-pointed in place by
// attachNew, which is what gives the swap its traffic continuity.
func (xdpDriver) retireOld(ctx context.Context, e *Engine, old *model.DispatcherSlot) error {
	if old.PinDir == "" {
		return nil
	}
	return e.kernel.Unpin(ctx, e.layout.ProgramPinPath(old.DispatcherKernelID))
}
