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

package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// Fake is an in-memory Binder used by program manager and dispatcher
// engine tests, so those packages never need real kernel privileges to
// exercise the load/attach/pin/unpin state machine: a hand-written fake
// satisfying the real client interface.
type Fake struct {
	mu sync.Mutex

	nextID   uint32
	Pinned   map[string]bool
	LinksPinned map[string]bool
	Programs map[string][]string // ProgramNamesByBytecodeMarker

	// FailFunctionNames, if set, causes LoadProgram to fail for names in
	// this set (used to simulate FunctionNotFound).
	FailFunctionNames map[string]bool
	// FailVerifier, if set, causes Load to fail (VerifierRejected).
	FailVerifier bool
	// ForceSKB, if true, Attach with Mode=DRV always degrades to SKB.
	ForceSKB bool

	// ExtraKernelIDs is exactly what EnumerateKernelPrograms returns; ids
	// allocated by LoadProgram are not included. Tests use it to simulate
	// programs loaded outside the manager.
	ExtraKernelIDs []uint32
}

func NewFake() *Fake {
	return &Fake{
		nextID:      1,
		Pinned:      map[string]bool{},
		LinksPinned: map[string]bool{},
	}
}

type fakeObject struct {
	names []string
}

type fakeLink struct {
	target string
	closed bool
}

// bytecode convention for the fake: a comma-separated string like "a,b,c"
// listing the function names the fake object "contains"; tests build this
// directly rather than parsing real ELF bytes.
func (f *Fake) Load(ctx context.Context, opts LoadOptions) (*LoadedObject, error) {
	if f.FailVerifier {
		return nil, fmt.Errorf("fake verifier rejection")
	}
	names := strings.Split(string(opts.Bytecode), ",")
	return &LoadedObject{
		Handle:       &fakeObject{names: names},
		ProgramNames: names,
		Facts:        map[string]model.KernelFacts{},
	}, nil
}

func (f *Fake) LoadProgram(ctx context.Context, obj *LoadedObject, fnName string) (uint32, model.KernelFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailFunctionNames[fnName] {
		return 0, model.KernelFacts{}, fmt.Errorf("function %q not found", fnName)
	}
	h := obj.Handle.(*fakeObject)
	found := false
	for _, n := range h.names {
		if n == fnName {
			found = true
			break
		}
	}
	if !found {
		return 0, model.KernelFacts{}, fmt.Errorf("function %q not found among %v", fnName, h.names)
	}

	id := f.nextID
	f.nextID++
	facts := model.KernelFacts{Tag: fmt.Sprintf("tag-%d", id), GPLCompatible: true}
	obj.Facts[fnName] = facts
	return id, facts, nil
}

func (f *Fake) Attach(ctx context.Context, obj *LoadedObject, fnName string, params AttachParams) (*AttachedLink, error) {
	actual := params.Mode
	if params.Kind == model.KindXDP && params.Mode == model.XDPModeDRV && f.ForceSKB {
		actual = model.XDPModeSKB
	}
	return &AttachedLink{Handle: &fakeLink{target: fnName}, ActualMode: actual}, nil
}

func (f *Fake) ProgramFD(obj *LoadedObject, fnName string) (int, error) {
	h := obj.Handle.(*fakeObject)
	for i, n := range h.names {
		if n == fnName {
			return 1000 + i, nil
		}
	}
	return -1, fmt.Errorf("function %q not found", fnName)
}

func (f *Fake) UpdateLink(ctx context.Context, al *AttachedLink, obj *LoadedObject, fnName string) error {
	lh := al.Handle.(*fakeLink)
	lh.target = fnName
	return nil
}

func (f *Fake) Pin(ctx context.Context, obj *LoadedObject, fnName, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pinned[path] = true
	return nil
}

func (f *Fake) Unpin(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Pinned[path] {
		return fmt.Errorf("not pinned: %s", path)
	}
	delete(f.Pinned, path)
	return nil
}

func (f *Fake) PinLink(ctx context.Context, al *AttachedLink, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LinksPinned[path] = true
	return nil
}

func (f *Fake) UnpinLink(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.LinksPinned[path] {
		return fmt.Errorf("link not pinned: %s", path)
	}
	delete(f.LinksPinned, path)
	return nil
}

func (f *Fake) Close(obj *LoadedObject) error { return nil }

func (f *Fake) CloseLink(al *AttachedLink) error {
	al.Handle.(*fakeLink).closed = true
	return nil
}

func (f *Fake) EnumerateKernelPrograms(ctx context.Context) ([]uint32, error) {
	return f.ExtraKernelIDs, nil
}

func (f *Fake) LoadFromPin(ctx context.Context, path string) (*LoadedObject, error) {
	if !f.Pinned[path] {
		return nil, fmt.Errorf("no pin at %s", path)
	}
	return &LoadedObject{Handle: &fakeObject{}, Facts: map[string]model.KernelFacts{}}, nil
}

func (f *Fake) LoadLinkFromPin(ctx context.Context, path string) (*AttachedLink, error) {
	if !f.LinksPinned[path] {
		return nil, fmt.Errorf("no link pin at %s", path)
	}
	return &AttachedLink{Handle: &fakeLink{}}, nil
}

var _ Binder = (*Fake)(nil)
