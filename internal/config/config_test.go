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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
runtime_root = "/custom/run"
log_level = "debug"
require_signed_images = true

[[static_programs]]
name = "drop-icmp"
kind = "xdp"
image = "quay.io/ebpf/drop-icmp:latest"
fn_name = "xdp_drop_icmp"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/custom/run", cfg.RuntimeRoot)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.RequireSignedImages)
	require.Equal(t, Default().StateDir, cfg.StateDir)

	require.Len(t, cfg.StaticPrograms, 1)
	require.Equal(t, "drop-icmp", cfg.StaticPrograms[0].Name)
	require.Equal(t, "xdp_drop_icmp", cfg.StaticPrograms[0].FnName)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not = [valid toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnvOverridesLogLevel(t *testing.T) {
	t.Setenv("EBPFMAND_LOG_LEVEL", "debug")
	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvLeavesLogLevelWhenUnset(t *testing.T) {
	t.Setenv("EBPFMAND_LOG_LEVEL", "")
	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "info", cfg.LogLevel)
}
