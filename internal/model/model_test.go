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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgramKindFromStringRoundTripsEveryKnownKind(t *testing.T) {
	kinds := []ProgramKind{
		KindXDP, KindTC, KindTCX, KindTracepoint, KindKProbe,
		KindKRetProbe, KindUProbe, KindURetProbe, KindFEntry, KindFExit,
	}
	for _, k := range kinds {
		parsed, err := ProgramKindFromString(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
}

func TestProgramKindFromStringRejectsUnknown(t *testing.T) {
	_, err := ProgramKindFromString("not-a-kind")
	require.Error(t, err)
}

func TestIsSharedHook(t *testing.T) {
	require.True(t, KindXDP.IsSharedHook())
	require.True(t, KindTC.IsSharedHook())
	require.True(t, KindTCX.IsSharedHook())
	require.False(t, KindKProbe.IsSharedHook())
	require.False(t, KindUnspecified.IsSharedHook())
}

func TestDirectionString(t *testing.T) {
	require.Equal(t, "ingress", DirectionIngress.String())
	require.Equal(t, "egress", DirectionEgress.String())
	require.Equal(t, "unspecified", DirectionUnspecified.String())
}

func TestXDPModeString(t *testing.T) {
	require.Equal(t, "skb", XDPModeSKB.String())
	require.Equal(t, "drv", XDPModeDRV.String())
	require.Equal(t, "hw", XDPModeHW.String())
}

func TestSortKeyLessOrdersByPriorityThenFnNameThenLinkID(t *testing.T) {
	lower := SortKey{Priority: 1, FnName: "z", LinkID: "z"}
	higher := SortKey{Priority: 2, FnName: "a", LinkID: "a"}
	require.True(t, lower.Less(higher))
	require.False(t, higher.Less(lower))

	samePrioEarlierName := SortKey{Priority: 1, FnName: "a", LinkID: "z"}
	require.True(t, samePrioEarlierName.Less(lower))
	require.False(t, lower.Less(samePrioEarlierName))

	samePrioSameNameEarlierLinkID := SortKey{Priority: 1, FnName: "z", LinkID: "a"}
	require.True(t, samePrioSameNameEarlierLinkID.Less(lower))
	require.False(t, lower.Less(samePrioSameNameEarlierLinkID))
}

func TestLinkSortKeyProjectsFields(t *testing.T) {
	l := Link{LinkID: "abc", Priority: 7, FnName: "handle"}
	require.Equal(t, SortKey{Priority: 7, FnName: "handle", LinkID: "abc"}, l.SortKey())
}

func TestBuildDispatcherConfigFillsEnabledSlots(t *testing.T) {
	exts := []Link{
		{ProceedOn: 0x1}, {ProceedOn: 0x2},
	}
	cfg := BuildDispatcherConfig(exts, 99)
	require.Equal(t, uint8(2), cfg.NumProgsEnabled)
	require.Equal(t, uint32(0x1), cfg.ChainCallActions[0])
	require.Equal(t, uint32(0x2), cfg.ChainCallActions[1])
	require.Equal(t, uint32(99), cfg.RunPrios[0])
	require.Equal(t, uint32(99), cfg.RunPrios[1])
	require.Equal(t, uint32(0), cfg.ChainCallActions[2])
}

func TestBuildDispatcherConfigIgnoresBeyondMaxExtensions(t *testing.T) {
	exts := make([]Link, MaxDispatcherExtensions+3)
	cfg := BuildDispatcherConfig(exts, 1)
	require.Equal(t, uint8(MaxDispatcherExtensions), cfg.NumProgsEnabled)
}

func TestProgramValidateRequiresFilePathForFileSource(t *testing.T) {
	p := Program{Source: Source{Location: LocationFile}}
	require.Error(t, p.Validate())
}

func TestProgramValidateRequiresImageURLForImageSource(t *testing.T) {
	p := Program{Source: Source{Location: LocationImage}}
	require.Error(t, p.Validate())
}

func TestProgramValidateRejectsUnknownLocation(t *testing.T) {
	p := Program{}
	require.Error(t, p.Validate())
}

func TestProgramValidateRequiresFnNameForFEntryFExit(t *testing.T) {
	p := Program{Kind: KindFEntry, Source: Source{Location: LocationFile, FilePath: "/x.o"}}
	require.Error(t, p.Validate())

	p.FnName = "do_entry"
	require.NoError(t, p.Validate())
}

func TestProgramBuilderBuildValidatesAndReturnsProgram(t *testing.T) {
	p, err := NewProgramBuilder(KindXDP).
		WithFileSource("/opt/prog.o", "xdp_prog").
		WithMetadata("k", "v").
		WithGlobalData("cfg", []byte{1, 2}).
		Build()
	require.NoError(t, err)
	require.Equal(t, "xdp_prog", p.FnName)
	require.Equal(t, "v", p.Metadata["k"])
	require.Equal(t, []byte{1, 2}, p.GlobalData["cfg"])
}

func TestProgramBuilderBuildPropagatesValidationError(t *testing.T) {
	_, err := NewProgramBuilder(KindFEntry).WithFileSource("/opt/prog.o", "").Build()
	require.Error(t, err)
}
