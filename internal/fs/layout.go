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

// Package fs centralises the deterministic bpffs/state-dir/image-store
// paths, so no two components ever compute a pin path independently and
// race on the filename.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout is the process-wide, read-mostly handle over the runtime's
// filesystem roots: initialised once at startup and passed explicitly,
// never a hidden singleton.
type Layout struct {
	RuntimeRoot  string // <rt>
	StateRoot    string // embedded DB directory
	ImageRoot    string // /var/lib/<svc>/io.<svc>.image.content
	CSISockPath  string
}

func New(runtimeRoot, stateRoot, imageRoot, csiSockPath string) *Layout {
	return &Layout{
		RuntimeRoot: runtimeRoot,
		StateRoot:   stateRoot,
		ImageRoot:   imageRoot,
		CSISockPath: csiSockPath,
	}
}

// BpfFSRoot is fs/ under the runtime root, the bpffs mount point.
func (l *Layout) BpfFSRoot() string { return filepath.Join(l.RuntimeRoot, "fs") }

// MapsRoot is fs/maps/.
func (l *Layout) MapsRoot() string { return filepath.Join(l.BpfFSRoot(), "maps") }

// ProgramPinPath is fs/prog_<k_id>.
func (l *Layout) ProgramPinPath(kernelID uint32) string {
	return filepath.Join(l.BpfFSRoot(), fmt.Sprintf("prog_%d", kernelID))
}

// MapOwnerDir is fs/maps/<k_id>/, the fresh map-pin directory allocated
// when a Program is not inheriting from a map-owner.
func (l *Layout) MapOwnerDir(kernelID uint32) string {
	return filepath.Join(l.MapsRoot(), fmt.Sprintf("%d", kernelID))
}

// LinkPinPath is fs/link_<link_id>, the pin path for a point-attach
// Link's kernel link object.
func (l *Layout) LinkPinPath(linkID string) string {
	return filepath.Join(l.BpfFSRoot(), fmt.Sprintf("link_%s", linkID))
}

// XDPDispatcherDir is fs/xdp/dispatcher_<nsid>_<ifindex>_<revision>/.
func (l *Layout) XDPDispatcherDir(nsid uint64, ifIndex int, revision uint32) string {
	return filepath.Join(l.BpfFSRoot(), "xdp", fmt.Sprintf("dispatcher_%d_%d_%d", nsid, ifIndex, revision))
}

// XDPRootLinkPath is fs/xdp/dispatcher_<nsid>_<ifindex>_link, the pinned
// root XDP link that survives across revisions so the kernel "update"
// operation can be used for traffic-continuous swap.
func (l *Layout) XDPRootLinkPath(nsid uint64, ifIndex int) string {
	return filepath.Join(l.BpfFSRoot(), "xdp", fmt.Sprintf("dispatcher_%d_%d_link", nsid, ifIndex))
}

// TCDispatcherDir is fs/tc/{ingress,egress}/dispatcher_<ifindex>_<revision>/.
func (l *Layout) TCDispatcherDir(direction string, ifIndex int, revision uint32) string {
	return filepath.Join(l.BpfFSRoot(), "tc", direction, fmt.Sprintf("dispatcher_%d_%d", ifIndex, revision))
}

// ImageDir is /var/lib/<svc>/io.<svc>.image.content/<registry>/<repo>/<tag_or_digest>/.
func (l *Layout) ImageDir(registry, repo, tagOrDigest string) string {
	return filepath.Join(l.ImageRoot, registry, repo, tagOrDigest)
}

// EnsureBpfFSMounted creates the bpffs mount point directory if absent.
// Mounting bpffs itself (a privileged syscall) is the Kernel Binding
// Layer's concern; this only guarantees the directory exists so the mount
// call has somewhere to target.
func (l *Layout) EnsureBpfFSMounted() error {
	if err := os.MkdirAll(l.BpfFSRoot(), 0750); err != nil {
		return fmt.Errorf("create bpffs root %s: %w", l.BpfFSRoot(), err)
	}
	if err := os.MkdirAll(l.MapsRoot(), 0750); err != nil {
		return fmt.Errorf("create maps root %s: %w", l.MapsRoot(), err)
	}
	return nil
}
