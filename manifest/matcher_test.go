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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultMatchRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&HandledByParentHandler{}, PriorityFirst)
	reg.Register(&IgnoreHandler{}, PriorityMiddle)
	reg.Register(&absorbingHandler{}, PriorityMiddle)
	reg.Register(&SymbolicLinkHandler{}, PriorityLast)
	reg.Register(&BasicDirectoryHandler{}, PriorityLast)
	reg.Register(&BasicFileHandler{}, PriorityLast)
	return reg
}

// absorbingHandler is a test-only handler that matches a directory named
// "repo" and claims RestoresContents, standing in for git-clone without a
// real git repository on disk.
type absorbingHandler struct{ path string }

func (h *absorbingHandler) Kind() string             { return "absorbing" }
func (h *absorbingHandler) RestoresContents() bool   { return true }
func (h *absorbingHandler) Match(path string) (bool, error) {
	return filepath.Base(path) == "repo", nil
}
func (h *absorbingHandler) New(path string) (Handler, error) {
	return &absorbingHandler{path: path}, nil
}
func (h *absorbingHandler) FromArgs(path string, args Args) (Handler, error) {
	return &absorbingHandler{path: path}, nil
}

func TestMatchAssignsBasicHandlers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(root, "f.txt"), filepath.Join(root, "link")))

	m := &Matcher{Registry: defaultMatchRegistry(), Concurrency: 4}
	man, err := m.Match(root, false)
	require.NoError(t, err)

	b, ok := man.Lookup(filepath.Join(root, "f.txt"))
	require.True(t, ok)
	assert.Equal(t, "basic-file", b.Kind)

	b, ok = man.Lookup(filepath.Join(root, "sub"))
	require.True(t, ok)
	assert.Equal(t, "basic-directory", b.Kind)

	b, ok = man.Lookup(filepath.Join(root, "link"))
	require.True(t, ok)
	assert.Equal(t, "symbolic-link", b.Kind)
}

func TestMatchAbsorbsChildrenUnderRestoresContents(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	require.NoError(t, os.Mkdir(repo, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(repo, "nested"), 0755))

	m := &Matcher{Registry: defaultMatchRegistry(), Concurrency: 4}
	man, err := m.Match(root, false)
	require.NoError(t, err)

	b, ok := man.Lookup(repo)
	require.True(t, ok)
	assert.Equal(t, "absorbing", b.Kind)

	b, ok = man.Lookup(filepath.Join(repo, "README"))
	require.True(t, ok)
	assert.Equal(t, "handled-by-parent", b.Kind)

	b, ok = man.Lookup(filepath.Join(repo, "nested"))
	require.True(t, ok)
	assert.Equal(t, "handled-by-parent", b.Kind)
}

func TestMatchKeepsExistingBindingUnlessOverwrite(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0644))

	existing := New(defaultMatchRegistry())
	manual, err := (&SymbolicLinkHandler{}).FromArgs(filepath.Join(root, "f.txt"), Args{Positional: []string{"/elsewhere"}})
	require.NoError(t, err)
	require.NoError(t, existing.AddFile(filepath.Join(root, "f.txt"), HandlerBinding{Kind: "symbolic-link", Handler: manual}, true))

	m := &Matcher{Registry: defaultMatchRegistry(), Concurrency: 4, Existing: existing}
	man, err := m.Match(root, false)
	require.NoError(t, err)
	b, ok := man.Lookup(filepath.Join(root, "f.txt"))
	require.True(t, ok)
	assert.Equal(t, "symbolic-link", b.Kind, "existing binding should be kept when Overwrite is false")

	m2 := &Matcher{Registry: defaultMatchRegistry(), Concurrency: 4, Existing: existing, Overwrite: true}
	man2, err := m2.Match(root, false)
	require.NoError(t, err)
	b2, ok := man2.Lookup(filepath.Join(root, "f.txt"))
	require.True(t, ok)
	assert.Equal(t, "basic-file", b2.Kind, "Overwrite should re-match a previously bound path")
}

// flakyHandler always raises from Match, standing in for a handler whose
// Match call hits an unexpected error; per spec the Matcher must log it
// and fall through to the next handler rather than aborting.
type flakyHandler struct{}

func (h *flakyHandler) Kind() string                   { return "flaky" }
func (h *flakyHandler) Match(path string) (bool, error) { return false, assert.AnError }

func TestMatchFailureFromOneHandlerFallsThroughToNext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0644))

	reg := NewRegistry()
	reg.Register(&flakyHandler{}, PriorityMiddle)
	reg.Register(&BasicFileHandler{}, PriorityLast)
	reg.Register(&BasicDirectoryHandler{}, PriorityLast)

	m := &Matcher{Registry: reg, Concurrency: 4}
	man, err := m.Match(root, false)
	require.NoError(t, err)

	b, ok := man.Lookup(filepath.Join(root, "f.txt"))
	require.True(t, ok)
	assert.Equal(t, "basic-file", b.Kind)
}

func TestMatchConfirmCanStopMatching(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))

	m := &Matcher{
		Registry:    defaultMatchRegistry(),
		Concurrency: 4,
		Confirm: func(path, kind string) error {
			return StopMatching
		},
	}
	_, err := m.Match(root, false)
	assert.ErrorIs(t, err, StopMatching)
}
