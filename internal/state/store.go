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

// Package state is the embedded, process-private, single-writer
// key/value store. It is backed by go.etcd.io/bbolt, the same
// embedded-KV role moby-moby vendors bbolt for.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names mirror the five key/value trees this store maintains.
// images/ is deliberately absent: it is a filesystem cache root, not a
// k/v tree, and is owned entirely by internal/oci.
var (
	BucketPrograms    = []byte("programs")
	BucketLinks       = []byte("links")
	BucketDispatchers = []byte("dispatchers")
	BucketMaps        = []byte("maps")
	BucketProgramMaps = []byte("program_maps")
)

var allBuckets = [][]byte{BucketPrograms, BucketLinks, BucketDispatchers, BucketMaps, BucketProgramMaps}

// Store is the embedded state database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// every tree's bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialise state store buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is the closure-scoped handle passed to Transaction, exposing the same
// get/put/delete/scan operations as the Store itself but against a single
// atomic, abort-on-error bbolt transaction.
type Tx struct {
	tx *bolt.Tx
}

func (s *Store) bucket(tx *bolt.Tx, bucket []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return b, nil
}

// Get reads a single key's JSON-decoded value into out. Returns
// (false, nil) if the key is absent.
func (s *Store) Get(bucket []byte, key string, out interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, bucket)
		if err != nil {
			return err
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, out)
	})
	return found, err
}

// Put JSON-encodes value and writes it at key, in its own transaction.
func (s *Store) Put(bucket []byte, key string, value interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTx(tx, bucket, key, value)
	})
}

func putTx(tx *bolt.Tx, bucket []byte, key string, value interface{}) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return b.Put([]byte(key), data)
}

// Delete removes key from bucket, in its own transaction. Deleting an
// absent key is not an error (bbolt semantics already this way).
func (s *Store) Delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		return b.Delete([]byte(key))
	})
}

// Scan iterates every key in bucket with the given prefix, calling fn with
// the raw JSON for each. fn should json.Unmarshal into its own type.
func (s *Store) Scan(bucket []byte, prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, bucket)
		if err != nil {
			return err
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Transaction runs fn atomically: every Get/Put/Delete issued through tx
// commits together, or none do, on any returned error.
func (s *Store) Transaction(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

func (t *Tx) Put(bucket []byte, key string, value interface{}) error {
	return putTx(t.tx, bucket, key, value)
}

func (t *Tx) Delete(bucket []byte, key string) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	return b.Delete([]byte(key))
}

func (t *Tx) Get(bucket []byte, key string, out interface{}) (bool, error) {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return false, fmt.Errorf("unknown bucket %q", bucket)
	}
	v := b.Get([]byte(key))
	if v == nil {
		return false, nil
	}
	return true, json.Unmarshal(v, out)
}

// Scan within an in-flight transaction, same semantics as Store.Scan.
func (t *Tx) Scan(bucket []byte, prefix string, fn func(key string, value []byte) error) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	c := b.Cursor()
	p := []byte(prefix)
	for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
		if err := fn(string(k), v); err != nil {
			return err
		}
	}
	return nil
}
