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
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ebpfmand/ebpfmand/internal/fs"
	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/netlinkutil"
	"github.com/ebpfmand/ebpfmand/internal/state"
)

// fakeDispatcherImages serves xdp_dispatcher bytecode for every pull and
// reports whatever labels it was built with; newTestEngine gives it none,
// the same as a pre-labeling-convention image.
type fakeDispatcherImages struct {
	labels map[string]string
}

func (f *fakeDispatcherImages) Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (string, string, error) {
	return "/fake/" + url, "", nil
}
func (f *fakeDispatcherImages) GetBytecode(dir string) ([]byte, error) {
	return []byte("xdp_dispatcher"), nil
}
func (f *fakeDispatcherImages) Labels(dir string) (map[string]string, error) {
	return f.labels, nil
}

func newTestEngine(t *testing.T) (*Engine, *kernel.Fake) {
	t.Helper()
	dir := t.TempDir()
	layout := fs.New(dir, filepath.Join(dir, "state.db"), filepath.Join(dir, "images"), filepath.Join(dir, "csi.sock"))
	require.NoError(t, layout.EnsureBpfFSMounted())

	store, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	repo := state.NewRepository(store)

	fk := kernel.NewFake()
	images := &fakeDispatcherImages{labels: map[string]string{}}
	e := NewEngine(fk, images, layout, netlinkutil.New(), repo, logr.Discard())
	return e, fk
}

func TestEngineAddXDPFirstExtensionAttachesDispatcher(t *testing.T) {
	e, _ := newTestEngine(t)

	link, err := e.Add(context.Background(), AddRequest{
		Key:               model.DispatcherSlotKey{IfIndex: 2, Kind: model.DispatcherXDP},
		IfName:            "eth0",
		ExtensionKernelID: 10,
		ExtensionFnName:   "xdp_prog",
		ExtensionBytecode: []byte("xdp_prog"),
	})
	require.NoError(t, err)
	require.True(t, link.Attached)
	require.Equal(t, 0, link.Position)

	slot := e.slots[model.DispatcherSlotKey{IfIndex: 2, Kind: model.DispatcherXDP}]
	require.NotNil(t, slot)
	require.Equal(t, uint32(1), slot.Revision)
	require.Len(t, slot.Extensions, 1)
}

func TestEngineAddSecondExtensionRepointsFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	key := model.DispatcherSlotKey{IfIndex: 3, Kind: model.DispatcherXDP}

	first, err := e.Add(ctx, AddRequest{
		Key: key, IfName: "eth0", Priority: 10,
		ExtensionKernelID: 1, ExtensionFnName: "a", ExtensionBytecode: []byte("a"),
	})
	require.NoError(t, err)
	require.True(t, first.Attached)

	second, err := e.Add(ctx, AddRequest{
		Key: key, IfName: "eth0", Priority: 5,
		ExtensionKernelID: 2, ExtensionFnName: "b", ExtensionBytecode: []byte("b"),
	})
	require.NoError(t, err)
	require.True(t, second.Attached)

	slot := e.slots[key]
	require.Equal(t, uint32(2), slot.Revision)
	require.Len(t, slot.Extensions, 2)
	// lower priority sorts first
	require.Equal(t, "b", slot.Extensions[0].FnName)
	require.Equal(t, "a", slot.Extensions[1].FnName)
}

func TestEngineAddRefusesBeyondMaxExtensions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	key := model.DispatcherSlotKey{IfIndex: 4, Kind: model.DispatcherXDP}

	for i := 0; i < model.MaxDispatcherExtensions; i++ {
		_, err := e.Add(ctx, AddRequest{
			Key: key, IfName: "eth0",
			ExtensionKernelID: uint32(i + 1), ExtensionFnName: "fn", ExtensionBytecode: []byte("fn"),
		})
		require.NoError(t, err)
	}

	_, err := e.Add(ctx, AddRequest{
		Key: key, IfName: "eth0",
		ExtensionKernelID: 99, ExtensionFnName: "overflow", ExtensionBytecode: []byte("overflow"),
	})
	require.Error(t, err)
}

func TestEngineRemoveLastExtensionTearsDownSlot(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	key := model.DispatcherSlotKey{IfIndex: 5, Kind: model.DispatcherXDP}

	link, err := e.Add(ctx, AddRequest{
		Key: key, IfName: "eth0",
		ExtensionKernelID: 1, ExtensionFnName: "solo", ExtensionBytecode: []byte("solo"),
	})
	require.NoError(t, err)

	require.NoError(t, e.Remove(ctx, key, link.LinkID))
	_, stillThere := e.slots[key]
	require.False(t, stillThere)
}

func TestEngineRemoveUnknownLinkFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	key := model.DispatcherSlotKey{IfIndex: 6, Kind: model.DispatcherXDP}

	_, err := e.Add(ctx, AddRequest{
		Key: key, IfName: "eth0",
		ExtensionKernelID: 1, ExtensionFnName: "solo", ExtensionBytecode: []byte("solo"),
	})
	require.NoError(t, err)

	err = e.Remove(ctx, key, "not-a-real-link-id")
	require.Error(t, err)
}

func TestSortExtensionsOrdersByPriorityThenFnNameThenLinkID(t *testing.T) {
	links := []model.Link{
		{LinkID: "z", Priority: 10, FnName: "b"},
		{LinkID: "a", Priority: 10, FnName: "a"},
		{LinkID: "b", Priority: 5, FnName: "z"},
	}
	sortExtensions(links)
	require.Equal(t, []string{"b", "a", "z"}, []string{links[0].LinkID, links[1].LinkID, links[2].LinkID})
}

func TestAssignPositionsMatchesIndex(t *testing.T) {
	links := []model.Link{{LinkID: "x"}, {LinkID: "y"}, {LinkID: "z"}}
	assignPositions(links)
	for i, l := range links {
		require.Equal(t, i, l.Position)
	}
}

func TestDirectionOfAndProgramKindOf(t *testing.T) {
	require.Equal(t, model.KindXDP, programKindOf(model.DispatcherXDP))
	require.Equal(t, model.KindTC, programKindOf(model.DispatcherTCIngress))
	require.Equal(t, model.DirectionIngress, directionOf(model.DispatcherTCIngress))
	require.Equal(t, model.DirectionEgress, directionOf(model.DispatcherTCEgress))
	require.Equal(t, model.DirectionUnspecified, directionOf(model.DispatcherXDP))
}

func TestCheckDispatcherABIAcceptsMissingLabel(t *testing.T) {
	images := &fakeDispatcherImages{labels: map[string]string{}}
	require.NoError(t, checkDispatcherABI(images, "/fake"))
}

func TestCheckDispatcherABIAcceptsInRangeVersion(t *testing.T) {
	images := &fakeDispatcherImages{labels: map[string]string{labelDispatcherABI: "1.2.0"}}
	require.NoError(t, checkDispatcherABI(images, "/fake"))
}

func TestCheckDispatcherABIRejectsOutOfRangeVersion(t *testing.T) {
	images := &fakeDispatcherImages{labels: map[string]string{labelDispatcherABI: "2.0.0"}}
	require.Error(t, checkDispatcherABI(images, "/fake"))
}

func TestCheckDispatcherABIRejectsMalformedVersion(t *testing.T) {
	images := &fakeDispatcherImages{labels: map[string]string{labelDispatcherABI: "not-a-version"}}
	require.Error(t, checkDispatcherABI(images, "/fake"))
}

func TestFixedPriorityForXDPIsAlwaysZero(t *testing.T) {
	require.Equal(t, uint32(0), fixedPriorityFor(model.DispatcherXDP, 1))
	require.Equal(t, uint32(0), fixedPriorityFor(model.DispatcherXDP, 2))
}

func TestFixedPriorityForTCAlternatesReservedPriorities(t *testing.T) {
	require.Equal(t, uint32(model.TCReservedPriorities[1]), fixedPriorityFor(model.DispatcherTCIngress, 1))
	require.Equal(t, uint32(model.TCReservedPriorities[0]), fixedPriorityFor(model.DispatcherTCIngress, 2))
}
