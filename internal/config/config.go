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

// Package config loads the daemon's TOML configuration file using
// github.com/pelletier/go-toml.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the process-wide, read-mostly configuration handle built once
// at startup and passed explicitly into every component.
type Config struct {
	RuntimeRoot string `toml:"runtime_root"`
	StateDir    string `toml:"state_dir"`
	ImageRoot   string `toml:"image_store_root"`

	RPCSocketPath string `toml:"rpc_socket_path"`
	CSISocketPath string `toml:"csi_socket_path"`

	LogLevel string `toml:"log_level"`

	RequireSignedImages bool `toml:"require_signed_images"`
	AllowUnsigned        bool `toml:"allow_unsigned"`

	StaticPrograms []StaticProgram `toml:"static_programs"`
}

// StaticProgram is a config-file-declared program to load automatically
// at daemon startup, before the command loop accepts any RPC request.
type StaticProgram struct {
	Name       string            `toml:"name"`
	Kind       string            `toml:"kind"`
	Image      string            `toml:"image"`
	FilePath   string            `toml:"file_path"`
	FnName     string            `toml:"fn_name"`
	Metadata   map[string]string `toml:"metadata"`
}

// Default returns the configuration baseline before any file or env
// override is applied.
func Default() *Config {
	return &Config{
		RuntimeRoot:   "/run/ebpfmand",
		StateDir:      "/var/lib/ebpfmand/state.db",
		ImageRoot:     "/var/lib/ebpfmand/io.ebpfmand.image.content",
		RPCSocketPath: "/run/ebpfmand/ebpfmand.sock",
		CSISocketPath: "/run/ebpfmand/csi/csi.sock",
		LogLevel:      "info",
		AllowUnsigned: true,
	}
}

// Load reads a TOML file at path, applying it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv applies the EBPFMAND_LOG_LEVEL environment override.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("EBPFMAND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
