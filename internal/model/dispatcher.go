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

package model

// MaxDispatcherExtensions is the dispatcher bytecode's hard slot count:
// prog0..prog9.
const MaxDispatcherExtensions = 10

// TCReservedPriorities are the two adjacent netlink priorities the TC
// dispatcher alternates between across revisions, so the outgoing and
// incoming filter can coexist briefly during a swap.
var TCReservedPriorities = [2]uint16{49, 50}

// DispatcherSlotKey identifies a shared attach point.
type DispatcherSlotKey struct {
	NetnsID uint64
	IfIndex int
	Kind    DispatcherKind
}

// DispatcherSlot is the manager's record of a shared attach point, binding
// one dispatcher program to up to MaxDispatcherExtensions extensions.
type DispatcherSlot struct {
	Key DispatcherSlotKey

	Revision     uint32
	IfName       string
	NumEnabled   int

	// XDP.
	Mode XDPMode

	// TC.
	NetlinkHandle   uint32
	NetlinkPriority uint16

	// KernelID of the dispatcher program itself, and its pin path, so a
	// rebuild can unload/unpin the previous revision.
	DispatcherKernelID uint32
	PinDir             string

	// Extensions, already sorted by SortKey, position == index.
	Extensions []Link
}

// DispatcherConfig is the on-wire C-ABI structure passed as a global
// into the dispatcher eBPF program.
type DispatcherConfig struct {
	NumProgsEnabled  uint8
	ChainCallActions [MaxDispatcherExtensions]uint32
	RunPrios         [MaxDispatcherExtensions]uint32
}

// BuildDispatcherConfig computes the config for a freshly-sorted extension
// list: an array of proceed-on masks (0 if unused), a fixed priority per
// slot, and the enabled count. Extensions beyond MaxDispatcherExtensions
// are ignored and not counted.
func BuildDispatcherConfig(extensions []Link, fixedPriority uint32) DispatcherConfig {
	var cfg DispatcherConfig
	n := len(extensions)
	if n > MaxDispatcherExtensions {
		n = MaxDispatcherExtensions
	}
	cfg.NumProgsEnabled = uint8(n)
	for i, ext := range extensions {
		if i >= MaxDispatcherExtensions {
			break
		}
		cfg.ChainCallActions[i] = ext.ProceedOn
		cfg.RunPrios[i] = fixedPriority
	}
	return cfg
}
