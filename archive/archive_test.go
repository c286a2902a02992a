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

package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-backup/strata/manifest"
)

func testRegistry() *manifest.Registry {
	reg := manifest.NewRegistry()
	reg.Register(&manifest.BasicFileHandler{}, manifest.PriorityLast)
	reg.Register(&manifest.BasicDirectoryHandler{}, manifest.PriorityLast)
	return reg
}

func TestArchiveRoundTripUncompressed(t *testing.T) {
	reg := testRegistry()
	man := manifest.New(reg)
	content := stubFileHandler{data: []byte("hello")}
	require.NoError(t, man.AddFile("/f", manifest.HandlerBinding{Kind: "basic-file", Handler: content}, true))

	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)
	require.NoError(t, w.AddManifest(man))
	require.NoError(t, w.WriteManifestHandlers(man))
	require.NoError(t, w.Close())

	r, err := NewReader(&buf)
	require.NoError(t, err)

	loaded, err := r.Manifest(reg)
	require.NoError(t, err)
	assert.Equal(t, man.Paths(), loaded.Paths())

	extra, err := r.ExtraData("/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), extra["content"])
}

func TestArchiveRoundTripGzip(t *testing.T) {
	reg := testRegistry()
	man := manifest.New(reg)
	content := stubFileHandler{data: []byte("compressed hello")}
	require.NoError(t, man.AddFile("/f", manifest.HandlerBinding{Kind: "basic-file", Handler: content}, true))

	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionGzip)
	require.NoError(t, err)
	require.NoError(t, w.AddManifest(man))
	require.NoError(t, w.WriteManifestHandlers(man))
	require.NoError(t, w.Close())

	assert.True(t, bytes.HasPrefix(buf.Bytes(), gzipMagic))

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	extra, err := r.ExtraData("/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("compressed hello"), extra["content"])
}

func TestArchivePathStripsLeadingSlash(t *testing.T) {
	assert.Equal(t, "data/etc/hosts", archivePath("/etc/hosts"))
	assert.Equal(t, "data/etc/hosts", archivePath("etc/hosts"))
}

func TestReaderRejectsArchiveWithoutManifest(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	_, err = r.Manifest(manifest.NewRegistry())
	require.Error(t, err)
	var corrupt *ArchiveCorruption
	assert.ErrorAs(t, err, &corrupt)
}

func TestReaderRejectsMalformedTarStream(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("this is not a tar stream at all, just garbage bytes shorter than a tar header's 512-byte block, so tar.Reader fails with an unexpected EOF instead of a clean one")))
	require.Error(t, err)
	var corrupt *ArchiveCorruption
	assert.ErrorAs(t, err, &corrupt)
}

// stubFileHandler implements just enough of the Handler surface to exercise
// the archive writer's GetExtraData path without touching the filesystem.
type stubFileHandler struct {
	data []byte
}

func (s stubFileHandler) Kind() string { return "basic-file" }
func (s stubFileHandler) GetExtraData(path string) (manifest.ExtraData, error) {
	return manifest.ExtraData{"content": s.data}, nil
}
