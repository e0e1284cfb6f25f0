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

package rpcapi

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	v1 "github.com/ebpfmand/ebpfmand/api/v1"
	"github.com/ebpfmand/ebpfmand/internal/command"
	"github.com/ebpfmand/ebpfmand/internal/program"

	"github.com/go-logr/logr"
)

// socketMode matches every other bpffs/socket artifact this daemon owns:
// readable/writable by the owning group, nothing for anyone else.
const socketMode = 0o660

// Listen binds a Unix-domain socket at path, removing any stale socket
// left behind by an unclean shutdown first, and returns a *grpc.Server
// with the Loader service already registered against mgr.
func Listen(path string, loop *command.Loop, mgr *program.Manager, log logr.Logger) (*grpc.Server, net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create rpc socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("remove stale rpc socket: %w", err)
	}

	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on rpc socket %s: %w", path, err)
	}
	if err := os.Chmod(path, socketMode); err != nil {
		_ = lis.Close()
		return nil, nil, fmt.Errorf("chmod rpc socket %s: %w", path, err)
	}

	srv := grpc.NewServer()
	v1.RegisterLoaderServer(srv, NewServer(loop, mgr, log))
	return srv, lis, nil
}
