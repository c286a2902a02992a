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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a test-only PackageBackend that counts how many times its
// file list is built, letting tests assert the index is built only once.
type fakeBackend struct {
	builds atomic.Int32
	owned  map[string]string
}

func (b *fakeBackend) Name() string { return "package-fake" }

func (b *fakeBackend) ListOwnedFiles(ctx context.Context) (map[string]string, error) {
	b.builds.Add(1)
	return b.owned, nil
}

func (b *fakeBackend) Install(ctx context.Context, pkg string) error { return nil }

func TestPackageHandlerMatchesOwnedPathAndBuildsIndexOnce(t *testing.T) {
	backend := &fakeBackend{owned: map[string]string{"/usr/bin/foo": "foo-pkg"}}
	h := NewPackageHandler(backend)

	ok, err := h.Match("/usr/bin/foo")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Match("/usr/bin/bar")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), backend.builds.Load())
}

func TestPackageHandlerNewCapturesOwningPackage(t *testing.T) {
	backend := &fakeBackend{owned: map[string]string{"/usr/bin/foo": "foo-pkg"}}
	h := NewPackageHandler(backend)

	inst, err := h.New("/usr/bin/foo")
	require.NoError(t, err)
	assert.Equal(t, Args{Positional: []string{"foo-pkg"}}, inst.(*PackageHandler).GetArgs())
}

func TestPackageHandlerArgsRoundTrip(t *testing.T) {
	backend := &fakeBackend{owned: map[string]string{}}
	h := NewPackageHandler(backend)
	inst, err := h.FromArgs("/usr/bin/foo", Args{Positional: []string{"foo-pkg"}})
	require.NoError(t, err)
	assert.Equal(t, "foo-pkg", inst.(*PackageHandler).pkg)
}

func TestPackageHandlerFromArgsRejectsWrongArity(t *testing.T) {
	backend := &fakeBackend{owned: map[string]string{}}
	h := NewPackageHandler(backend)
	_, err := h.FromArgs("/usr/bin/foo", Args{})
	assert.Error(t, err)
}

func TestSplitPackageLine(t *testing.T) {
	pkg, path, ok := splitPackageLine("foo-pkg /usr/bin/foo")
	require.True(t, ok)
	assert.Equal(t, "foo-pkg", pkg)
	assert.Equal(t, "/usr/bin/foo", path)

	_, _, ok = splitPackageLine("no-space-here")
	assert.False(t, ok)
}
