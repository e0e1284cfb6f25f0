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

package table

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

func TestRenderProgramsSortsByKernelIDAndFillsDefaults(t *testing.T) {
	progs := []model.Program{
		{KernelID: 5, Kind: model.KindXDP, State: model.StateLoaded, FnName: "xdp_pass"},
		{KernelID: 1, Kind: model.KindTC, State: model.StatePreLoad, MapOwnerID: 5},
	}

	var buf bytes.Buffer
	RenderPrograms(&buf, progs)
	out := buf.String()

	idxFirst := indexOf(t, out, "1")
	idxSecond := indexOf(t, out, "5")
	require.Less(t, idxFirst, idxSecond)
	require.Contains(t, out, "none")
}

func TestRenderProgramsHandlesEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NotPanics(t, func() { RenderPrograms(&buf, nil) })
}

func TestRenderProgramShowsImageSourceFields(t *testing.T) {
	p := model.Program{
		KernelID: 7,
		Kind:     model.KindKProbe,
		State:    model.StateLoaded,
		Source:   model.Source{Location: model.LocationImage, ImageURL: "quay.io/ebpf/prog:latest", PullPolicy: model.PullAlways},
		FnName:   "do_probe",
		Metadata: map[string]string{"owner": "ci"},
	}
	var buf bytes.Buffer
	RenderProgram(&buf, p)
	out := buf.String()
	require.Contains(t, out, "quay.io/ebpf/prog:latest")
	require.Contains(t, out, "Always")
	require.Contains(t, out, "do_probe")
	require.Contains(t, out, "owner=ci")
}

func TestRenderProgramShowsFilePathForFileSource(t *testing.T) {
	p := model.Program{
		KernelID: 3,
		Kind:     model.KindTC,
		State:    model.StatePreLoad,
		Source:   model.Source{Location: model.LocationFile, FilePath: "/opt/prog.o"},
	}
	var buf bytes.Buffer
	RenderProgram(&buf, p)
	require.Contains(t, buf.String(), "/opt/prog.o")
}

func TestSortedMapOrdersKeysDeterministically(t *testing.T) {
	m := map[string]string{"zebra": "1", "apple": "2"}
	require.Equal(t, []string{"apple=2", "zebra=1"}, sortedMap(m))
}

func TestAppendKVRowsNoneWhenEmpty(t *testing.T) {
	p := model.Program{KernelID: 1, Kind: model.KindXDP, State: model.StateLoaded}
	var buf bytes.Buffer
	RenderProgram(&buf, p)
	require.Contains(t, buf.String(), "None")
}

func indexOf(t *testing.T, s, substr string) int {
	t.Helper()
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	t.Fatalf("substring %q not found in %q", substr, s)
	return -1
}
