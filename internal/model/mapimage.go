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

package model

// Map is a kernel map created as a side effect of loading a Program.
type Map struct {
	KernelID uint32
	Name     string
	MapType  string
	KeySize  uint32
	ValSize  uint32
	MaxEntries uint32
	Flags    uint32
}

// CompilerInternalSections names the map sections the loader materialises
// that are never pinned by name under a Program's map-pin directory.
var CompilerInternalSections = map[string]bool{
	".rodata": true,
	".bss":    true,
	".data":   true,
}

// Image is a content-addressed OCI bytecode artifact.
type Image struct {
	Registry string
	Repo     string
	TagOrDigest string

	ManifestDigest string
	ConfigDigest   string
	LayerDigest    string

	ProgramName      string
	BPFFunctionName  string
	ProgramType      string
	Filename         string

	// DispatcherABI is the semver compatibility label carried only by
	// dispatcher images; empty for ordinary tenant bytecode images.
	DispatcherABI string

	LocalDir string
}
