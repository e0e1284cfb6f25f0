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

	"github.com/vishvananda/netlink"

	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

const tcDispatcherImage = "quay.io/ebpfmand/tc-dispatcher:latest"

type tcDriver struct{}

func (tcDriver) dispatcherImageURL() string { return tcDispatcherImage }
func (tcDriver) dispatcherFnName() string   { return "tc_dispatcher" }

func (tcDriver) pinDir(e *Engine, key model.DispatcherSlotKey, revision uint32) string {
	return e.layout.TCDispatcherDir(tcDirectionName(key.Kind), key.IfIndex, revision)
}

func tcDirectionName(kind model.DispatcherKind) string {
	if kind == model.DispatcherTCEgress {
		return "egress"
	}
	return "ingress"
}

func tcParent(kind model.DispatcherKind) uint32 {
	if kind == model.DispatcherTCEgress {
		return netlink.HANDLE_MIN_EGRESS
	}
	return netlink.HANDLE_MIN_INGRESS
}

// attachNew loads the new TC dispatcher and replaces the bpf filter at the
// hook's currently-unused reserved priority, leaving the old revision's
// filter at the other reserved priority live until retireOld runs. Because
// both filters briefly coexist at adjacent priorities, traffic is matched
// by one or the other on every packet with no gap (the continuity
// guarantee the reserved-priority alternation exists for).
func (tcDriver) attachNew(ctx context.Context, e *Engine, old *model.DispatcherSlot, bytecode []byte, cfg model.DispatcherConfig) (*kernel.LoadedObject, string, error) {
	if err := e.netlink.EnsureClsact(old.Key.IfIndex); err != nil {
		return nil, "", err
	}

	obj, kid, err := loadDispatcher(ctx, e.kernel, bytecode, "tc_dispatcher", cfg, e.layout.MapOwnerDir(0))
	if err != nil {
		return nil, "", err
	}
	_ = kid

	fd, err := e.kernel.ProgramFD(obj, "tc_dispatcher")
	if err != nil {
		_ = e.kernel.Close(obj)
		return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, "get tc dispatcher program fd", err)
	}

	nextRevision := old.Revision + 1
	priority := model.TCReservedPriorities[nextRevision%2]

	link, err := netlink.LinkByIndex(old.Key.IfIndex)
	if err != nil {
		_ = e.kernel.Close(obj)
		return nil, "", ebpferrors.Wrap(ebpferrors.KindInterfaceNotFound, fmt.Sprintf("ifindex %d", old.Key.IfIndex), err)
	}

	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    tcParent(old.Key.Kind),
			Handle:    netlink.MakeHandle(0, 1),
			Protocol:  3, // ETH_P_ALL, network byte order handled by the netlink layer
			Priority:  uint16(priority),
		},
		Fd:           fd,
		Name:         "tc_dispatcher",
		DirectAction: true,
	}

	if err := netlink.FilterReplace(filter); err != nil {
		_ = e.kernel.Close(obj)
		return nil, "", ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("replace tc filter at priority %d", priority), err)
	}

	return obj, "tc_dispatcher", nil
}

// retireOld deletes the previous revision's filter at its reserved
// priority, freeing that priority slot for the next revision after this
// one. No in-process handle is closed here.
func (tcDriver) retireOld(ctx context.Context, e *Engine, old *model.DispatcherSlot) error {
	if old.DispatcherKernelID == 0 {
		return nil
	}
	link, err := netlink.LinkByIndex(old.Key.IfIndex)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInterfaceNotFound, fmt.Sprintf("ifindex %d", old.Key.IfIndex), err)
	}
	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    tcParent(old.Key.Kind),
			Priority:  old.NetlinkPriority,
			Protocol:  3,
		},
	}
	if err := netlink.FilterDel(filter); err != nil {
		return fmt.Errorf("delete previous tc filter at priority %d: %w", old.NetlinkPriority, err)
	}
	return nil
}
