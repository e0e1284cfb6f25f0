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

// Package model holds the entities of the eBPF lifecycle manager's data
// model: Program, Link, DispatcherSlot, Map and Image records, and the
// tagged ProgramKind variant that drives per-kind attach behaviour. Every
// cross-reference between entities is id-valued (arena-plus-identifier),
// never a pointer, so the State Store trees mirror the in-memory graph
// exactly.
package model

import "fmt"

// ProgramKind is the closed set of kernel program kinds this manager
// understands.
type ProgramKind int

const (
	KindUnspecified ProgramKind = iota
	KindXDP
	KindTC
	KindTCX
	KindTracepoint
	KindKProbe
	KindKRetProbe
	KindUProbe
	KindURetProbe
	KindFEntry
	KindFExit
)

func (k ProgramKind) String() string {
	switch k {
	case KindXDP:
		return "xdp"
	case KindTC:
		return "tc"
	case KindTCX:
		return "tcx"
	case KindTracepoint:
		return "tracepoint"
	case KindKProbe:
		return "kprobe"
	case KindKRetProbe:
		return "kretprobe"
	case KindUProbe:
		return "uprobe"
	case KindURetProbe:
		return "uretprobe"
	case KindFEntry:
		return "fentry"
	case KindFExit:
		return "fexit"
	default:
		return "unspecified"
	}
}

// ProgramKindFromString parses the CLI/RPC wire spelling of a kind.
func ProgramKindFromString(s string) (ProgramKind, error) {
	switch s {
	case "xdp":
		return KindXDP, nil
	case "tc":
		return KindTC, nil
	case "tcx":
		return KindTCX, nil
	case "tracepoint":
		return KindTracepoint, nil
	case "kprobe":
		return KindKProbe, nil
	case "kretprobe":
		return KindKRetProbe, nil
	case "uprobe":
		return KindUProbe, nil
	case "uretprobe":
		return KindURetProbe, nil
	case "fentry":
		return KindFEntry, nil
	case "fexit":
		return KindFExit, nil
	default:
		return KindUnspecified, fmt.Errorf("unknown program kind: %s", s)
	}
}

// IsSharedHook reports whether this kind multiplexes through a
// DispatcherSlot rather than attaching directly.
func (k ProgramKind) IsSharedHook() bool {
	return k == KindXDP || k == KindTC || k == KindTCX
}

// Direction is the TC hook direction.
type Direction int

const (
	DirectionUnspecified Direction = iota
	DirectionIngress
	DirectionEgress
)

func (d Direction) String() string {
	switch d {
	case DirectionIngress:
		return "ingress"
	case DirectionEgress:
		return "egress"
	default:
		return "unspecified"
	}
}

// DispatcherKind is the key space for DispatcherSlot: XDP has no
// direction, TC has ingress/egress as distinct slots on the same ifindex.
type DispatcherKind int

const (
	DispatcherXDP DispatcherKind = iota
	DispatcherTCIngress
	DispatcherTCEgress
)

func (d DispatcherKind) String() string {
	switch d {
	case DispatcherXDP:
		return "xdp"
	case DispatcherTCIngress:
		return "tc-ingress"
	case DispatcherTCEgress:
		return "tc-egress"
	default:
		return "unknown"
	}
}

// XDPMode is the attach mode requested/reported for XDP programs.
type XDPMode int

const (
	XDPModeSKB XDPMode = iota
	XDPModeDRV
	XDPModeHW
)

func (m XDPMode) String() string {
	switch m {
	case XDPModeDRV:
		return "drv"
	case XDPModeHW:
		return "hw"
	default:
		return "skb"
	}
}
