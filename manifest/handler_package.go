// Copyright © 2018 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manifest

import (
	"context"
	"sync"

	"github.com/strata-backup/strata/internal/runx"

	"github.com/pkg/errors"
)

// packageIndex resolves a filesystem path to the name of the package that
// owns it, built lazily and shared by every PackageHandler instance of a
// given backend. It is guarded the same way the teacher's process-wide hash
// interning table is: readers take an RLock for the common case, and a
// full Lock only guards the one-time build, re-checking under the write
// lock in case another goroutine already built or started building it. A
// path missing from a built index is not owned; the index is not rebuilt.
type packageIndex struct {
	mu       sync.RWMutex
	byPath   map[string]string
	built    bool
	building chan struct{}
}

func newPackageIndex() *packageIndex {
	return &packageIndex{byPath: make(map[string]string)}
}

// lookup returns the package owning path, building the index on first use.
// The waiter semantics mirror the original tool's per-path gevent.Event
// plus get_first(result.wait, indexer.get): a caller that arrives while the
// index is being built waits on the same "building" channel every other
// caller waits on, so nobody observes "not found" before the build that was
// already in flight when they asked has actually finished.
func (idx *packageIndex) lookup(ctx context.Context, build func(context.Context) (map[string]string, error)) (map[string]string, error) {
	idx.mu.RLock()
	if idx.built {
		m := idx.byPath
		idx.mu.RUnlock()
		return m, nil
	}
	building := idx.building
	idx.mu.RUnlock()

	if building != nil {
		select {
		case <-building:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return idx.byPath, nil
	}

	idx.mu.Lock()
	if idx.built {
		m := idx.byPath
		idx.mu.Unlock()
		return m, nil
	}
	if idx.building != nil {
		ch := idx.building
		idx.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		idx.mu.RLock()
		defer idx.mu.RUnlock()
		return idx.byPath, nil
	}
	ch := make(chan struct{})
	idx.building = ch
	idx.mu.Unlock()

	m, err := build(ctx)

	idx.mu.Lock()
	if err == nil {
		idx.byPath = m
		idx.built = true
	}
	idx.building = nil
	idx.mu.Unlock()
	close(ch)

	if err != nil {
		return nil, err
	}
	return m, nil
}

// PackageBackend abstracts the system package manager queried by
// PackageHandler. PacmanBackend is the concrete implementation shipped with
// strata; other backends (dnf, apt) follow the same shape.
type PackageBackend interface {
	// Name identifies the backend for the handler's on-disk Kind, e.g.
	// "package-pacman".
	Name() string
	// ListOwnedFiles returns every path owned by an installed package,
	// mapped to the owning package's name.
	ListOwnedFiles(ctx context.Context) (map[string]string, error)
	// Install reinstalls pkg so its files reappear on disk.
	Install(ctx context.Context, pkg string) error
}

// PacmanBackend queries pacman, the Arch Linux package manager, via
// internal/runx, following the original tool's PacmanHandler.
type PacmanBackend struct{}

func (PacmanBackend) Name() string { return "package-pacman" }

func (PacmanBackend) ListOwnedFiles(ctx context.Context) (map[string]string, error) {
	out, err := runx.Output(ctx, "pacman", "-Ql")
	if err != nil {
		return nil, errors.Wrap(err, "manifest: pacman -Ql")
	}
	m := make(map[string]string)
	for _, line := range splitLines(out) {
		pkg, path, ok := splitPackageLine(line)
		if ok {
			m[path] = pkg
		}
	}
	return m, nil
}

func (PacmanBackend) Install(ctx context.Context, pkg string) error {
	if _, err := runx.Output(ctx, "pacman", "-Sy", "--noconfirm", pkg); err != nil {
		return errors.Wrapf(err, "manifest: pacman -S %s", pkg)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// splitPackageLine splits a single "pacman -Ql" line ("pkgname /path") into
// its package name and path.
func splitPackageLine(line string) (pkg, path string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}

var pacmanIndex = newPackageIndex()

// PackageHandler matches a path owned by an installed system package and
// restores it by reinstalling that package, rather than storing the file's
// content. The default registry puts it first in PriorityMiddle, ahead of
// ignore and the git handlers; the PriorityLast catch-alls are tried only
// after all of them decline.
type PackageHandler struct {
	backend PackageBackend
	index   *packageIndex
	path    string
	pkg     string
}

// NewPackageHandler returns a PackageHandler prototype for backend, sharing
// a process-wide index per backend instance passed in (callers typically
// register exactly one PackageHandler per backend).
func NewPackageHandler(backend PackageBackend) *PackageHandler {
	idx := pacmanIndex
	if _, ok := backend.(PacmanBackend); !ok {
		idx = newPackageIndex()
	}
	return &PackageHandler{backend: backend, index: idx}
}

func (h *PackageHandler) Kind() string { return h.backend.Name() }

func (h *PackageHandler) Match(path string) (bool, error) {
	m, err := h.index.lookup(context.Background(), h.backend.ListOwnedFiles)
	if err != nil {
		return false, errors.Wrap(err, "manifest: build package index")
	}
	_, ok := m[path]
	return ok, nil
}

func (h *PackageHandler) New(path string) (Handler, error) {
	m, err := h.index.lookup(context.Background(), h.backend.ListOwnedFiles)
	if err != nil {
		return nil, err
	}
	pkg, ok := m[path]
	if !ok {
		return nil, errors.Errorf("manifest: %q not owned by any package", path)
	}
	return &PackageHandler{backend: h.backend, index: h.index, path: path, pkg: pkg}, nil
}

func (h *PackageHandler) GetArgs() Args {
	return Args{Positional: []string{h.pkg}}
}

func (h *PackageHandler) FromArgs(path string, args Args) (Handler, error) {
	if len(args.Positional) != 1 {
		return nil, errors.Errorf("manifest: %s expects one positional arg, got %d", h.Kind(), len(args.Positional))
	}
	return &PackageHandler{backend: h.backend, index: h.index, path: path, pkg: args.Positional[0]}, nil
}

func (h *PackageHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	return errors.Wrapf(h.backend.Install(ctx, h.pkg), "manifest: restore %q via package %q", path, h.pkg)
}
