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

import "fmt"

// LocationType distinguishes where a Program's bytecode came from.
type LocationType int

const (
	LocationFile LocationType = iota
	LocationImage
)

// PullPolicy mirrors the OCI pull policy.
type PullPolicy int

const (
	PullAlways PullPolicy = iota
	PullIfNotPresent
	PullNever
)

func (p PullPolicy) String() string {
	switch p {
	case PullAlways:
		return "Always"
	case PullNever:
		return "Never"
	default:
		return "IfNotPresent"
	}
}

// Credentials is optional Basic auth for an image pull.
type Credentials struct {
	Username string
	Password string
}

// Source describes where a Program's bytecode is resolved from.
type Source struct {
	Location LocationType

	// Image source.
	ImageURL    string
	PullPolicy  PullPolicy
	Credentials *Credentials

	// File source.
	FilePath string
}

// ProgramState tracks whether a Program record has completed the kernel
// load step yet: pre_load or loaded.
type ProgramState int

const (
	StatePreLoad ProgramState = iota
	StateLoaded
)

func (s ProgramState) String() string {
	if s == StateLoaded {
		return "loaded"
	}
	return "pre_load"
}

// KernelFacts are kernel-reported facts recorded at load time only.
type KernelFacts struct {
	LoadedAtUnix      int64
	Tag               string
	TranslatedSize    int
	JitedSize         int
	VerifiedInsns     int
	BTFID             int
	MemlockBytes      int
	GPLCompatible     bool
}

// Program is an attached eBPF program managed by this service.
type Program struct {
	KernelID uint32
	Kind     ProgramKind
	State    ProgramState

	Source Source

	// FnName is the BPF function name inside the object file.
	FnName string

	// GlobalData holds exact byte-blob overrides for named .rodata
	// entries, applied at load time.
	GlobalData map[string][]byte

	Metadata map[string]string

	// MapOwnerID, if non-zero, names the Program whose map-pin directory
	// this Program's maps were loaded into.
	MapOwnerID uint32
	IsMapOwner bool

	Bytecode []byte

	PinPath        string
	MapPinDir      string

	Facts KernelFacts
}

// Validate enforces the field constraints: location_type implies the
// matching field is set, and kind-specific required fields are present.
func (p *Program) Validate() error {
	switch p.Source.Location {
	case LocationFile:
		if p.Source.FilePath == "" {
			return fmt.Errorf("file_path required when location_type=file")
		}
	case LocationImage:
		if p.Source.ImageURL == "" {
			return fmt.Errorf("image_url required when location_type=image")
		}
	default:
		return fmt.Errorf("invalid location_type")
	}

	switch p.Kind {
	case KindFEntry, KindFExit:
		if p.FnName == "" {
			return fmt.Errorf("fn_name required for kind %s", p.Kind)
		}
	}

	return nil
}

// ProgramBuilder is the builder-with-Build()-cross-field-validation
// pattern used for this "many optional fields" value object.
type ProgramBuilder struct {
	p Program
}

func NewProgramBuilder(kind ProgramKind) *ProgramBuilder {
	return &ProgramBuilder{p: Program{
		Kind:       kind,
		State:      StatePreLoad,
		GlobalData: map[string][]byte{},
		Metadata:   map[string]string{},
	}}
}

func (b *ProgramBuilder) WithImageSource(url string, policy PullPolicy, creds *Credentials) *ProgramBuilder {
	b.p.Source = Source{Location: LocationImage, ImageURL: url, PullPolicy: policy, Credentials: creds}
	return b
}

func (b *ProgramBuilder) WithFileSource(path, fnName string) *ProgramBuilder {
	b.p.Source = Source{Location: LocationFile, FilePath: path}
	b.p.FnName = fnName
	return b
}

func (b *ProgramBuilder) WithFnName(name string) *ProgramBuilder {
	b.p.FnName = name
	return b
}

func (b *ProgramBuilder) WithGlobalData(name string, value []byte) *ProgramBuilder {
	b.p.GlobalData[name] = value
	return b
}

func (b *ProgramBuilder) WithMetadata(k, v string) *ProgramBuilder {
	b.p.Metadata[k] = v
	return b
}

func (b *ProgramBuilder) WithMapOwner(kernelID uint32) *ProgramBuilder {
	b.p.MapOwnerID = kernelID
	return b
}

func (b *ProgramBuilder) Build() (Program, error) {
	if err := b.p.Validate(); err != nil {
		return Program{}, err
	}
	return b.p, nil
}
