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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var errStoreTestDoomed = errors.New("doomed")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type widget struct {
	Name  string
	Count int
}

func TestStorePutGetDelete(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.Get(BucketPrograms, "missing", &widget{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(BucketPrograms, "1", widget{Name: "a", Count: 3}))

	var got widget
	ok, err = s.Get(BucketPrograms, "1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widget{Name: "a", Count: 3}, got)

	require.NoError(t, s.Delete(BucketPrograms, "1"))
	ok, err = s.Get(BucketPrograms, "1", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreDeleteAbsentKeyIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Delete(BucketLinks, "nonexistent"))
}

func TestStoreScanRespectsPrefix(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(BucketMaps, "1/rx_ring", widget{Name: "rx"}))
	require.NoError(t, s.Put(BucketMaps, "1/tx_ring", widget{Name: "tx"}))
	require.NoError(t, s.Put(BucketMaps, "2/rx_ring", widget{Name: "other-owner"}))

	var names []string
	err := s.Scan(BucketMaps, "1/", func(key string, value []byte) error {
		var w widget
		if err := json.Unmarshal(value, &w); err != nil {
			return err
		}
		names = append(names, w.Name)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"rx", "tx"}, names)
}

func TestStoreTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.Transaction(func(tx *Tx) error {
		require.NoError(t, tx.Put(BucketPrograms, "1", widget{Name: "doomed"}))
		return errStoreTestDoomed
	})
	require.ErrorIs(t, err, errStoreTestDoomed)

	ok, err := s.Get(BucketPrograms, "1", &widget{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreTransactionCommitsTogether(t *testing.T) {
	s := openTestStore(t)

	err := s.Transaction(func(tx *Tx) error {
		if err := tx.Put(BucketPrograms, "1", widget{Name: "a"}); err != nil {
			return err
		}
		return tx.Put(BucketLinks, "link-1", widget{Name: "b"})
	})
	require.NoError(t, err)

	var p, l widget
	ok, err := s.Get(BucketPrograms, "1", &p)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Get(BucketLinks, "link-1", &l)
	require.NoError(t, err)
	require.True(t, ok)
}
