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

package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

func TestRepositoryLoadSnapshotRebuildsEveryTree(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s)

	owner := model.Program{KernelID: 1, Kind: model.KindKProbe, State: model.StateLoaded, IsMapOwner: true}
	require.NoError(t, s.Put(BucketPrograms, ProgramKey(owner.KernelID), &owner))

	link := model.Link{LinkID: "link-a", KernelID: owner.KernelID, Kind: model.KindKProbe, Attached: true}
	require.NoError(t, s.Put(BucketLinks, LinkKey(link.LinkID), &link))

	m := model.Map{KernelID: owner.KernelID, Name: "rx_ring"}
	require.NoError(t, s.Put(BucketMaps, MapKey(owner.KernelID, m.Name), &m))

	require.NoError(t, s.Put(BucketProgramMaps, ProgramMapsKey(owner.KernelID, 2), struct{}{}))

	slot := model.DispatcherSlot{Key: model.DispatcherSlotKey{IfIndex: 3, Kind: model.DispatcherXDP}, Revision: 1}
	require.NoError(t, s.Put(BucketDispatchers, DispatcherKey(slot.Key), &slot))

	snap, err := repo.LoadSnapshot()
	require.NoError(t, err)

	require.Len(t, snap.Programs, 1)
	require.Equal(t, owner.KernelID, snap.Programs[owner.KernelID].KernelID)

	require.Len(t, snap.Links, 1)
	require.True(t, snap.Links["link-a"].Attached)

	require.Len(t, snap.Maps[owner.KernelID], 1)
	require.Equal(t, "rx_ring", snap.Maps[owner.KernelID][0].Name)

	require.Equal(t, []uint32{2}, snap.Inheritors[owner.KernelID])

	require.Len(t, snap.Dispatchers, 1)
	require.Equal(t, uint32(1), snap.Dispatchers[slot.Key].Revision)
}

func TestRepositoryLoadSnapshotRejectsDanglingLink(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s)

	link := model.Link{LinkID: "orphan", KernelID: 99}
	require.NoError(t, s.Put(BucketLinks, LinkKey(link.LinkID), &link))

	_, err := repo.LoadSnapshot()
	require.Error(t, err)
}

func TestRepositoryHasInheritors(t *testing.T) {
	s := openTestStore(t)
	repo := NewRepository(s)

	has, err := repo.HasInheritors(1)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.Put(BucketProgramMaps, ProgramMapsKey(1, 2), struct{}{}))

	has, err = repo.HasInheritors(1)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, s.Delete(BucketProgramMaps, ProgramMapsKey(1, 2)))

	has, err = repo.HasInheritors(1)
	require.NoError(t, err)
	require.False(t, has)
}
