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
	"encoding/json"
	"fmt"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// Repository is the model-typed façade over Store, enforcing
// application-layer foreign-key-like checks: every Link references an
// existing Program, and every program_maps user references an existing
// owner.
type Repository struct {
	Store *Store
}

func NewRepository(s *Store) *Repository {
	return &Repository{Store: s}
}

// Snapshot is the full in-memory reconstruction the program manager
// builds at startup by scanning every tree and rebuilding the in-memory
// dispatcher-extension lists.
type Snapshot struct {
	Programs    map[uint32]model.Program
	Links       map[string]model.Link
	Dispatchers map[model.DispatcherSlotKey]model.DispatcherSlot
	Maps        map[uint32][]model.Map
	Inheritors  map[uint32][]uint32 // owner kernel id -> inheritor kernel ids
}

// LoadSnapshot scans every tree once, without issuing any kernel
// syscalls (that is the program manager's job once it has this data).
func (r *Repository) LoadSnapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Programs:    map[uint32]model.Program{},
		Links:       map[string]model.Link{},
		Dispatchers: map[model.DispatcherSlotKey]model.DispatcherSlot{},
		Maps:        map[uint32][]model.Map{},
		Inheritors:  map[uint32][]uint32{},
	}

	if err := r.Store.Scan(BucketPrograms, "", func(_ string, v []byte) error {
		var p model.Program
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		snap.Programs[p.KernelID] = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan programs: %w", err)
	}

	if err := r.Store.Scan(BucketLinks, "", func(_ string, v []byte) error {
		var l model.Link
		if err := json.Unmarshal(v, &l); err != nil {
			return err
		}
		if _, ok := snap.Programs[l.KernelID]; !ok {
			return fmt.Errorf("integrity: link %s references missing program %d", l.LinkID, l.KernelID)
		}
		snap.Links[l.LinkID] = l
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan links: %w", err)
	}

	if err := r.Store.Scan(BucketDispatchers, "", func(_ string, v []byte) error {
		var d model.DispatcherSlot
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		snap.Dispatchers[d.Key] = d
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan dispatchers: %w", err)
	}

	if err := r.Store.Scan(BucketMaps, "", func(_ string, v []byte) error {
		var m model.Map
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		snap.Maps[m.KernelID] = append(snap.Maps[m.KernelID], m)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan maps: %w", err)
	}

	if err := r.Store.Scan(BucketProgramMaps, "", func(k string, _ []byte) error {
		var owner, user uint32
		if _, err := fmt.Sscanf(k, "%d/%d", &owner, &user); err != nil {
			return fmt.Errorf("malformed program_maps key %q: %w", k, err)
		}
		if _, ok := snap.Programs[owner]; !ok {
			return fmt.Errorf("integrity: program_maps owner %d missing", owner)
		}
		snap.Inheritors[owner] = append(snap.Inheritors[owner], user)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan program_maps: %w", err)
	}

	return snap, nil
}

// HasInheritors reports whether kernelID is a map-owner with at least one
// live inheritor, used by Unload's FailedPrecondition check.
func (r *Repository) HasInheritors(kernelID uint32) (bool, error) {
	found := false
	err := r.Store.Scan(BucketProgramMaps, ProgramMapsPrefixForOwner(kernelID), func(string, []byte) error {
		found = true
		return nil
	})
	return found, err
}
