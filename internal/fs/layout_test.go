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

package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutPathHelpers(t *testing.T) {
	l := New("/run/ebpfmand", "/var/lib/ebpfmand/state.db", "/var/lib/ebpfmand/images", "/run/ebpfmand/csi.sock")

	require.Equal(t, "/run/ebpfmand/fs", l.BpfFSRoot())
	require.Equal(t, "/run/ebpfmand/fs/maps", l.MapsRoot())
	require.Equal(t, "/run/ebpfmand/fs/prog_7", l.ProgramPinPath(7))
	require.Equal(t, "/run/ebpfmand/fs/maps/7", l.MapOwnerDir(7))
	require.Equal(t, "/run/ebpfmand/fs/link_abc", l.LinkPinPath("abc"))
	require.Equal(t, "/run/ebpfmand/fs/xdp/dispatcher_1_2_3", l.XDPDispatcherDir(1, 2, 3))
	require.Equal(t, "/run/ebpfmand/fs/xdp/dispatcher_1_2_link", l.XDPRootLinkPath(1, 2))
	require.Equal(t, "/run/ebpfmand/fs/tc/ingress/dispatcher_2_3", l.TCDispatcherDir("ingress", 2, 3))
	require.Equal(t, "/var/lib/ebpfmand/images/reg/repo/tag", l.ImageDir("reg", "repo", "tag"))
}

func TestEnsureBpfFSMountedCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	l := New(filepath.Join(root, "run"), filepath.Join(root, "state.db"), filepath.Join(root, "images"), filepath.Join(root, "csi.sock"))

	require.NoError(t, l.EnsureBpfFSMounted())

	info, err := os.Stat(l.BpfFSRoot())
	require.NoError(t, err)
	require.True(t, info.IsDir())

	info, err = os.Stat(l.MapsRoot())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestEnsureBpfFSMountedIsIdempotent(t *testing.T) {
	root := t.TempDir()
	l := New(filepath.Join(root, "run"), filepath.Join(root, "state.db"), filepath.Join(root, "images"), filepath.Join(root, "csi.sock"))
	require.NoError(t, l.EnsureBpfFSMounted())
	require.NoError(t, l.EnsureBpfFSMounted())
}
