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
	"fmt"

	"github.com/ebpfmand/ebpfmand/internal/config"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// LoadStatic loads every program named in cfg.StaticPrograms, in
// declaration order, through the same Load path an RPC caller uses. A
// failure on one entry aborts the remaining entries rather than loading
// a partial set silently; the daemon that called this decides whether a
// failed static load is fatal to startup.
func (m *Manager) LoadStatic(ctx context.Context, cfg []config.StaticProgram) ([]model.Program, error) {
	loaded := make([]model.Program, 0, len(cfg))
	for _, sp := range cfg {
		kind, err := model.ProgramKindFromString(sp.Kind)
		if err != nil {
			return loaded, ebpferrors.Wrap(ebpferrors.KindInvalidArgument, fmt.Sprintf("static program %q", sp.Name), err)
		}

		req := LoadRequest{
			Kind:     kind,
			FnName:   sp.FnName,
			Metadata: withStaticName(sp.Metadata, sp.Name),
		}
		if sp.FilePath != "" {
			req.Source = model.Source{Location: model.LocationFile, FilePath: sp.FilePath}
		} else {
			req.Source = model.Source{Location: model.LocationImage, ImageURL: sp.Image, PullPolicy: model.PullIfNotPresent}
		}

		prog, err := m.Load(ctx, req)
		if err != nil {
			return loaded, ebpferrors.Wrap(ebpferrors.KindInternal, fmt.Sprintf("load static program %q", sp.Name), err)
		}
		loaded = append(loaded, prog)
	}
	return loaded, nil
}

func withStaticName(meta map[string]string, name string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["static_program_name"] = name
	return out
}
