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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreHandlerMatchesExtensionsAndTransientDirs(t *testing.T) {
	h := &IgnoreHandler{}

	ok, err := h.Match("/home/user/script.pyc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Match("/tmp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Match("/home/user/notes.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIgnoreHandlerHonorsExtraPaths(t *testing.T) {
	h := &IgnoreHandler{}
	SetExtraIgnorePaths(nil)
	t.Cleanup(func() { SetExtraIgnorePaths(nil) })

	ok, _ := h.Match("/srv/scratch/data")
	assert.False(t, ok)

	SetExtraIgnorePaths([]string{"/srv/scratch/data"})
	ok, _ = h.Match("/srv/scratch/data")
	assert.True(t, ok)

	// A sibling path sharing the prefix is not ignored: MATCH_IGNORE is an
	// exact-path set, not a pattern.
	ok, _ = h.Match("/srv/scratch/data-other")
	assert.False(t, ok)
}

func TestBasicFileHandlerCapturesAndRestoresContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0640))

	h := &BasicFileHandler{}
	inst, err := h.New(src)
	require.NoError(t, err)

	extra, err := inst.(ExtraDataProvider).GetExtraData(src)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), extra["content"])

	dst := filepath.Join(dir, "restored.txt")
	restoreHandler, err := h.FromArgs(dst, Args{})
	require.NoError(t, err)
	require.NoError(t, restoreHandler.(RestoreHandler).Restore(context.Background(), dst, extra))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestSymbolicLinkHandlerArgsRoundTrip(t *testing.T) {
	h := &SymbolicLinkHandler{}
	inst, err := h.FromArgs("/a/link", Args{Positional: []string{"/a/target"}})
	require.NoError(t, err)
	assert.Equal(t, Args{Positional: []string{"/a/target"}}, inst.(ArgsProvider).GetArgs())
}
