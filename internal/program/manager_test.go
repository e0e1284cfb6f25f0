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

package program

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ebpfmand/ebpfmand/internal/dispatcher"
	"github.com/ebpfmand/ebpfmand/internal/fs"
	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/netlinkutil"
	"github.com/ebpfmand/ebpfmand/internal/state"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// fakeImages is a no-op program.ImagePuller; every test in this file
// loads from a local file, so Load/Get never call into it, but the
// Manager constructor still requires a non-nil value.
type fakeImages struct{}

func (fakeImages) Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (string, string, error) {
	return "", "", nil
}
func (fakeImages) GetBytecode(localDir string) ([]byte, error) { return nil, nil }
func (fakeImages) Labels(localDir string) (map[string]string, error) {
	return map[string]string{}, nil
}

func newTestManager(t *testing.T) (*Manager, *kernel.Fake, *fs.Layout) {
	t.Helper()

	dir := t.TempDir()
	layout := fs.New(dir, filepath.Join(dir, "state.db"), filepath.Join(dir, "images"), filepath.Join(dir, "csi.sock"))
	require.NoError(t, layout.EnsureBpfFSMounted())

	store, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	repo := state.NewRepository(store)

	fk := kernel.NewFake()
	nl := netlinkutil.New()
	dispatch := dispatcher.NewEngine(fk, fakeImages{}, layout, nl, repo, logr.Discard())

	mgr := NewManager(fk, fakeImages{}, layout, repo, dispatch, logr.Discard())
	return mgr, fk, layout
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestManagerLoadAndGet(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "prog.o", "handle_ingress,other")

	prog, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindTracepoint,
		Source: model.Source{Location: model.LocationFile, FilePath: path},
		FnName: "handle_ingress",
	})
	require.NoError(t, err)
	require.NotZero(t, prog.KernelID)
	require.Equal(t, model.StateLoaded, prog.State)
	require.True(t, prog.IsMapOwner)
	require.NotEmpty(t, prog.MapPinDir)

	got, err := mgr.Get(prog.KernelID)
	require.NoError(t, err)
	require.Equal(t, prog.KernelID, got.KernelID)
}

func TestManagerLoadFunctionNotFound(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "prog.o", "handle_ingress,other")

	_, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindTracepoint,
		Source: model.Source{Location: model.LocationFile, FilePath: path},
		FnName: "does_not_exist",
	})
	require.Error(t, err)
	require.Equal(t, ebpferrors.KindFunctionNotFound, ebpferrors.KindOf(err))
}

func TestManagerAttachDetachDirect(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "prog.o", "handle_ingress")
	prog, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindKProbe,
		Source: model.Source{Location: model.LocationFile, FilePath: path},
		FnName: "handle_ingress",
	})
	require.NoError(t, err)

	link, err := mgr.Attach(ctx, AttachRequest{
		KernelID: prog.KernelID,
		Kind:     model.KindKProbe,
		FnName:   "handle_ingress",
		Target:   "do_sys_open",
	})
	require.NoError(t, err)
	require.True(t, link.Attached)
	require.NotEmpty(t, link.LinkID)

	require.NoError(t, mgr.Detach(ctx, link.LinkID))
	err = mgr.Detach(ctx, link.LinkID)
	require.Error(t, err)
	require.Equal(t, ebpferrors.KindNotFound, ebpferrors.KindOf(err))
}

func TestManagerUnloadRefusesLiveMapOwner(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	ownerPath := writeFile(t, t.TempDir(), "owner.o", "owner_fn")
	owner, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindKProbe,
		Source: model.Source{Location: model.LocationFile, FilePath: ownerPath},
		FnName: "owner_fn",
	})
	require.NoError(t, err)

	inheritorPath := writeFile(t, t.TempDir(), "inheritor.o", "inheritor_fn")
	_, err = mgr.Load(ctx, LoadRequest{
		Kind:       model.KindKProbe,
		Source:     model.Source{Location: model.LocationFile, FilePath: inheritorPath},
		FnName:     "inheritor_fn",
		MapOwnerID: owner.KernelID,
	})
	require.NoError(t, err)

	err = mgr.Unload(ctx, owner.KernelID)
	require.Error(t, err)
	require.Equal(t, ebpferrors.KindMapOwnerInUse, ebpferrors.KindOf(err))
}

func TestManagerUnloadSucceedsAfterInheritorsGone(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	ownerPath := writeFile(t, t.TempDir(), "owner.o", "owner_fn")
	owner, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindKProbe,
		Source: model.Source{Location: model.LocationFile, FilePath: ownerPath},
		FnName: "owner_fn",
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Unload(ctx, owner.KernelID))
	_, err = mgr.Get(owner.KernelID)
	require.Error(t, err)
}

func TestManagerListIncludesUnsupported(t *testing.T) {
	mgr, fk, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "prog.o", "handle_fn")
	_, err := mgr.Load(ctx, LoadRequest{
		Kind:   model.KindKProbe,
		Source: model.Source{Location: model.LocationFile, FilePath: path},
		FnName: "handle_fn",
	})
	require.NoError(t, err)

	fk.ExtraKernelIDs = []uint32{999}

	progs, err := mgr.List(ctx, ListFilter{})
	require.NoError(t, err)

	var sawUnsupported bool
	for _, p := range progs {
		if p.Metadata["unsupported"] == "true" {
			sawUnsupported = true
		}
	}
	require.True(t, sawUnsupported)
}
