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

// Package table renders Program and Link records for the CLI using
// github.com/olekukonko/tablewriter. List prints one row per program
// with its kind-independent columns; Get prints one program's full detail
// as a two-column key/value table, the same shape/value split the
// upstream CLI's own program-detail view uses.
package table

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// RenderPrograms writes one row per program: kernel id, kind, state,
// function name and map-owner id, sorted by kernel id for a stable
// listing across repeated calls.
func RenderPrograms(w io.Writer, progs []model.Program) {
	sorted := make([]model.Program, len(progs))
	copy(sorted, progs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].KernelID < sorted[j].KernelID })

	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"ID", "TYPE", "STATE", "NAME", "MAP OWNER"})
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, p := range sorted {
		owner := "none"
		if p.MapOwnerID != 0 {
			owner = fmt.Sprintf("%d", p.MapOwnerID)
		}
		name := p.FnName
		if name == "" {
			name = "none"
		}
		t.Append([]string{
			fmt.Sprintf("%d", p.KernelID),
			p.Kind.String(),
			p.State.String(),
			name,
			owner,
		})
	}
	t.Render()
}

// RenderProgram writes a single program's detail as a key/value table:
// location, function name, global data overrides, metadata and the
// map-pin directory each get their own row, matching the upstream CLI's "Bpfman
// State" detail view field-for-field.
func RenderProgram(w io.Writer, p model.Program) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Program State", ""})
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)

	t.Append([]string{"ID:", fmt.Sprintf("%d", p.KernelID)})
	t.Append([]string{"Type:", p.Kind.String()})
	t.Append([]string{"State:", p.State.String()})

	if p.Source.Location == model.LocationImage {
		t.Append([]string{"Image URL:", p.Source.ImageURL})
		t.Append([]string{"Pull Policy:", p.Source.PullPolicy.String()})
	} else {
		t.Append([]string{"Path:", p.Source.FilePath})
	}

	if p.FnName != "" {
		t.Append([]string{"Function:", p.FnName})
	}

	appendKVRows(t, "Global:", sortedMap(toStringMap(p.GlobalData)))
	appendKVRows(t, "Metadata:", sortedMap(p.Metadata))

	if p.MapPinDir != "" {
		t.Append([]string{"Map Pin Dir:", p.MapPinDir})
	}
	if p.MapOwnerID != 0 {
		t.Append([]string{"Map Owner ID:", fmt.Sprintf("%d", p.MapOwnerID)})
	}

	t.Render()
}

// appendKVRows lays out a label followed by one row per "k=v" entry, the
// first row carrying the label and every following row leaving it blank
// the way the upstream table groups repeated-key sections.
func appendKVRows(t *tablewriter.Table, label string, entries []string) {
	if len(entries) == 0 {
		t.Append([]string{label, "None"})
		return
	}
	for i, e := range entries {
		if i == 0 {
			t.Append([]string{label, e})
		} else {
			t.Append([]string{"", e})
		}
	}
}

func toStringMap(m map[string][]byte) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%x", v)
	}
	return out
}

func sortedMap(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.Join([]string{k, m[k]}, "="))
	}
	return out
}
