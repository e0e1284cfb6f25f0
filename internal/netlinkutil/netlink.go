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

// Package netlinkutil is a small netlink helper: it queries the qdisc
// tree to decide whether a clsact qdisc is needed for TC, and attaches
// one if absent.
package netlinkutil

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// Helper holds no state: each method issues its own request through the
// vishvananda/netlink package-level API, in the calling thread's current
// network namespace. WithNamespace is the way to run calls in another one.
type Helper struct{}

func New() *Helper { return &Helper{} }

// QdiscKind classifies what, if anything, is attached at the root of an
// interface's qdisc tree.
type QdiscKind int

const (
	QdiscNone QdiscKind = iota
	QdiscClsact
	QdiscIngress
	QdiscOther
)

// classify inspects an interface's qdisc list and reports the root kind.
func classify(qdiscs []netlink.Qdisc) QdiscKind {
	if len(qdiscs) == 0 {
		return QdiscNone
	}
	for _, q := range qdiscs {
		switch q.Type() {
		case "clsact":
			return QdiscClsact
		case "ingress":
			return QdiscIngress
		}
	}
	return QdiscOther
}

// EnsureClsact accepts iff clsact is already present or no qdisc is
// present (in which case one is added); it refuses an existing ingress
// qdisc, and any other unrecognised qdisc, with
// ebpferrors.KindIncompatibleQdisc.
func (h *Helper) EnsureClsact(ifIndex int) error {
	link, err := netlink.LinkByIndex(ifIndex)
	if err != nil {
		return ebpferrors.Wrap(ebpferrors.KindInterfaceNotFound, fmt.Sprintf("ifindex %d", ifIndex), err)
	}

	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return fmt.Errorf("list qdiscs for ifindex %d: %w", ifIndex, err)
	}

	switch classify(qdiscs) {
	case QdiscClsact:
		return nil
	case QdiscNone:
		attrs := netlink.QdiscAttrs{LinkIndex: ifIndex, Handle: netlink.MakeHandle(0xffff, 0), Parent: netlink.HANDLE_CLSACT}
		q := &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: "clsact"}
		if err := netlink.QdiscAdd(q); err != nil {
			return fmt.Errorf("add clsact qdisc on ifindex %d: %w", ifIndex, err)
		}
		return nil
	case QdiscIngress:
		return ebpferrors.New(ebpferrors.KindIncompatibleQdisc, fmt.Sprintf("ifindex %d already has an ingress qdisc, not clsact", ifIndex))
	default:
		return ebpferrors.New(ebpferrors.KindIncompatibleQdisc, fmt.Sprintf("ifindex %d has an unrecognised non-clsact qdisc", ifIndex))
	}
}

// HasQdisc reports whether a qdisc of the given kind name exists on
// ifIndex.
func (h *Helper) HasQdisc(ifIndex int, name string) (bool, error) {
	link, err := netlink.LinkByIndex(ifIndex)
	if err != nil {
		return false, fmt.Errorf("link by index %d: %w", ifIndex, err)
	}
	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return false, fmt.Errorf("list qdiscs for ifindex %d: %w", ifIndex, err)
	}
	for _, q := range qdiscs {
		if q.Type() == name {
			return true, nil
		}
	}
	return false, nil
}

// InterfaceByName resolves an interface name to its ifindex, surfacing
// ebpferrors.KindInterfaceNotFound on failure.
func (h *Helper) InterfaceByName(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, ebpferrors.Wrap(ebpferrors.KindInterfaceNotFound, name, err)
	}
	return link.Attrs().Index, nil
}

// WithNamespace runs fn with the calling goroutine's network namespace
// switched to nsPath for its duration, restoring the original namespace on
// all exit paths. It locks the calling goroutine to its OS thread for the
// duration, since namespace membership is a per-thread kernel property.
func WithNamespace(nsPath string, fn func() error) error {
	if nsPath == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer orig.Close()

	target, err := netns.GetFromPath(nsPath)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", nsPath, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("enter netns %s: %w", nsPath, err)
	}
	defer func() {
		_ = netns.Set(orig)
	}()

	return fn()
}
