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

// Link is a binding of a Program to an attach point. Kind-specific fields
// are simply left at their zero value when unused; a tagged-variant type
// would buy nothing here since every Link already carries its owning
// Program's Kind.
type Link struct {
	LinkID   string
	KernelID uint32 // owning Program's k_id
	Kind     ProgramKind
	Metadata map[string]string

	// XDP / TC / TCx.
	NetnsID      uint64
	IfIndex      int
	IfName       string
	Priority     int32
	Direction    Direction
	ProceedOn    uint32
	Position     int
	Attached     bool
	PinPath      string

	// Tracepoint.
	TracepointName string

	// KProbe / KRetProbe.
	FnName        string
	Offset        uint64
	ContainerPID  int64

	// UProbe / URetProbe.
	Target string
	PID    int64

	// Common to KProbe/UProbe retprobe variants.
	RetProbe bool
}

// SortKey is the tuple dispatcher chains sort by: (priority asc,
// function-name asc, link_id asc). It is total and deterministic.
type SortKey struct {
	Priority int32
	FnName   string
	LinkID   string
}

func (l *Link) SortKey() SortKey {
	return SortKey{Priority: l.Priority, FnName: l.FnName, LinkID: l.LinkID}
}

// Less implements the dispatcher chain ordering.
func (k SortKey) Less(other SortKey) bool {
	if k.Priority != other.Priority {
		return k.Priority < other.Priority
	}
	if k.FnName != other.FnName {
		return k.FnName < other.FnName
	}
	return k.LinkID < other.LinkID
}
