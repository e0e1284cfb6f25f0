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

package oci

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// CoalescingStore wraps Store so that concurrent Pull calls for the same
// URL+policy share one network fetch: Pull(url, Always) stays idempotent
// under concurrent requests. The command loop never issues concurrent
// Pulls itself; concurrent calls arise only when a caller runs Pull off
// the loop goroutine, for example from a task started with command.Pull.
type CoalescingStore struct {
	*Store
	group singleflight.Group
}

func NewCoalescingStore(s *Store) *CoalescingStore {
	return &CoalescingStore{Store: s}
}

type pullResult struct {
	dir    string
	fnName string
}

func (c *CoalescingStore) Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (string, string, error) {
	key := fmt.Sprintf("%s|%d", url, policy)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		dir, fnName, err := c.Store.Pull(ctx, url, policy, creds)
		if err != nil {
			return nil, err
		}
		return pullResult{dir: dir, fnName: fnName}, nil
	})
	if err != nil {
		return "", "", err
	}
	r := v.(pullResult)
	return r.dir, r.fnName, nil
}
