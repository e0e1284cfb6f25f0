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

// Package csi marks the boundary where a CSI driver (NodePublishVolume /
// NodeUnpublishVolume against the bpffs/map-pin directories this daemon
// owns) would live if this daemon ran under Kubernetes. Full CSI and CRD
// reconciliation are out of scope here; this package exists only so the
// daemon has one place to point at when asked where that surface goes,
// rather than leaving it undocumented.
package csi

import "context"

// Unsupported is returned by Stub for every call; it never talks to a
// kubelet, so there is no CSI identity/controller/node service to
// register with grpc here the way internal/rpcapi registers Loader.
type Unsupported struct {
	Reason string
}

func (u *Unsupported) Error() string {
	return "csi: " + u.Reason
}

// Stub is the placeholder a daemon build wires in place of a real CSI
// node server. SocketPath is recorded from config so an operator pointed
// at it can see exactly which configured endpoint is unserved.
type Stub struct {
	SocketPath string
}

func NewStub(socketPath string) *Stub {
	return &Stub{SocketPath: socketPath}
}

// Serve never starts a listener; it exists so callers have a uniform
// shape to invoke (and fail against) instead of branching on whether CSI
// support is compiled in.
func (s *Stub) Serve(ctx context.Context) error {
	return &Unsupported{Reason: "CSI node service is not implemented; configured socket " + s.SocketPath + " is never bound"}
}
