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

// Package archive streams a Manifest plus per-path extra data into a
// single compressed tar file, and reads one back.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strata-backup/strata/manifest"

	"github.com/pkg/errors"
)

// Compression selects the algorithm an Archive is written with. Unlike the
// teacher's swupd archives, which also support xz and zstd via external
// binaries, strata archives are restricted to this closed three-value set.
type Compression string

const (
	CompressionGzip Compression = "gz"
	CompressionBzip2 Compression = "bz2"
	CompressionNone  Compression = "none"
)

const manifestMember = "manifest"
const dataPrefix = "data/"

// ArchiveCorruption is returned when the tar stream itself cannot be
// decoded, or decodes but is missing its required "manifest" member.
// Always fatal: there is no partial-archive recovery at this layer.
type ArchiveCorruption struct {
	Reason string
	Err    error
}

func (e *ArchiveCorruption) Error() string {
	if e.Err != nil {
		return "archive: corrupt: " + e.Reason + ": " + e.Err.Error()
	}
	return "archive: corrupt: " + e.Reason
}

func (e *ArchiveCorruption) Unwrap() error {
	return e.Err
}

var gzipMagic = []byte{0x1F, 0x8B}
var bzip2Magic = []byte{'B', 'Z', 'h'}

// detectCompression inspects the first bytes of r to determine which
// compression (if any) was used, the same magic-byte sniffing the
// teacher's NewCompressedTarReader performs, trimmed to the algorithms
// strata supports.
func detectCompression(r *bufio.Reader) (Compression, error) {
	magic, err := r.Peek(3)
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "archive: peek header")
	}
	switch {
	case len(magic) >= 2 && bytes.Equal(magic[:2], gzipMagic):
		return CompressionGzip, nil
	case len(magic) >= 3 && bytes.Equal(magic, bzip2Magic):
		return CompressionBzip2, nil
	default:
		return CompressionNone, nil
	}
}

// archivePath mirrors the original tool's archive_path: a path's leading
// slash is stripped before it becomes the suffix of a "data/" member name,
// so both absolute and relative manifests produce well-formed tar entries.
func archivePath(path string) string {
	return dataPrefix + strings.TrimPrefix(path, "/")
}

// Writer streams a manifest and its handlers' extra data into a new
// compressed tar file.
type Writer struct {
	tw       *tar.Writer
	closers  []io.Closer
	dirsMade map[string]bool
}

// NewWriter returns a Writer that compresses its tar stream onto w using
// comp. Callers must call Close when done.
func NewWriter(w io.Writer, comp Compression) (*Writer, error) {
	aw := &Writer{dirsMade: map[string]bool{}}
	switch comp {
	case CompressionGzip:
		gz := gzip.NewWriter(w)
		aw.tw = tar.NewWriter(gz)
		aw.closers = append(aw.closers, aw.tw, gz)
	case CompressionBzip2:
		cmd := exec.Command("bzip2", "-c")
		cmd.Stdout = w
		pw, err := cmd.StdinPipe()
		if err != nil {
			return nil, errors.Wrap(err, "archive: bzip2 stdin pipe")
		}
		if err := cmd.Start(); err != nil {
			return nil, errors.Wrap(err, "archive: start bzip2")
		}
		aw.tw = tar.NewWriter(pw)
		aw.closers = append(aw.closers, aw.tw, pw, waitCloser{cmd})
	case CompressionNone, "":
		aw.tw = tar.NewWriter(w)
		aw.closers = append(aw.closers, aw.tw)
	default:
		return nil, errors.Errorf("archive: unsupported compression %q", comp)
	}
	return aw, nil
}

// waitCloser adapts exec.Cmd.Wait to io.Closer, used so closing the
// external bzip2 filter (grounded on the teacher's ExternalWriter) blocks
// until the subprocess has actually finished flushing, not just until its
// stdin pipe is closed.
type waitCloser struct{ cmd *exec.Cmd }

func (w waitCloser) Close() error {
	return errors.Wrap(w.cmd.Wait(), "archive: wait for bzip2")
}

// Close flushes and closes every layer of the Writer's compression stack,
// in the order they need to be closed (innermost first).
func (aw *Writer) Close() error {
	for _, c := range aw.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// mkdirMembers synthesizes tar directory entries for every path component
// of name that hasn't already been written, the way the original tool's
// Archive.mkdir tracked a running self._names set to avoid duplicate
// directory entries.
func (aw *Writer) mkdirMembers(name string) error {
	dir := filepath.Dir(name)
	if dir == "." || dir == "/" || aw.dirsMade[dir] {
		return nil
	}
	if err := aw.mkdirMembers(dir); err != nil {
		return err
	}
	aw.dirsMade[dir] = true
	return aw.tw.WriteHeader(&tar.Header{
		Name:     dir + "/",
		Typeflag: tar.TypeDir,
		Mode:     0755,
	})
}

// AddManifest writes man's on-disk serialization as the archive's
// "manifest" member.
func (aw *Writer) AddManifest(man *manifest.Manifest) error {
	var buf bytes.Buffer
	if err := man.Dump(&buf); err != nil {
		return errors.Wrap(err, "archive: serialize manifest")
	}
	if err := aw.tw.WriteHeader(&tar.Header{
		Name:     manifestMember,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(buf.Len()),
	}); err != nil {
		return errors.Wrap(err, "archive: write manifest header")
	}
	_, err := io.Copy(aw.tw, &buf)
	return errors.Wrap(err, "archive: write manifest body")
}

// AddExtraData writes a single handler-reported blob for path under the
// given key, as a member named "data/<stripped-path>/<key>" per the
// archive's on-disk layout.
func (aw *Writer) AddExtraData(path, key string, data []byte) error {
	if key == "" {
		return errors.Errorf("archive: empty extra-data key for %q", path)
	}
	name := archivePath(path) + "/" + key
	if err := aw.mkdirMembers(name); err != nil {
		return errors.Wrapf(err, "archive: synthesize directories for %q", name)
	}
	if err := aw.tw.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(data)),
	}); err != nil {
		return errors.Wrapf(err, "archive: write header for %q", name)
	}
	_, err := aw.tw.Write(data)
	return errors.Wrapf(err, "archive: write body for %q", name)
}

// WriteManifestHandlers walks every path in man, calling GetExtraData on
// handlers that implement ExtraDataProvider and writing the result.
func (aw *Writer) WriteManifestHandlers(man *manifest.Manifest) error {
	for _, path := range man.Paths() {
		binding, ok := man.Lookup(path)
		if !ok {
			continue
		}
		provider, ok := binding.Handler.(manifest.ExtraDataProvider)
		if !ok {
			continue
		}
		data, err := provider.GetExtraData(path)
		if err != nil {
			return errors.Wrapf(err, "archive: extra data for %q", path)
		}
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := aw.AddExtraData(path, k, data[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reader provides random-ish access to a previously-written Archive: the
// manifest member and every path's extra data, read from the underlying
// tar stream once and cached in memory (archives are expected to be of
// modest size, matching the original tool's assumption that extra data is
// metadata, not bulk content).
type Reader struct {
	manifestBytes []byte
	extra         map[string]map[string][]byte
}

// NewReader reads the entirety of r, auto-detecting its compression, and
// indexes its members for later retrieval.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	comp, err := detectCompression(br)
	if err != nil {
		return nil, err
	}

	var tr *tar.Reader
	switch comp {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.WithStack(&ArchiveCorruption{Reason: "invalid gzip stream", Err: err})
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	case CompressionBzip2:
		tr = tar.NewReader(bzip2.NewReader(br))
	default:
		tr = tar.NewReader(br)
	}

	ar := &Reader{extra: map[string]map[string][]byte{}}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithStack(&ArchiveCorruption{Reason: "malformed tar stream", Err: err})
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "archive: read body of %q", hdr.Name)
		}
		if hdr.Name == manifestMember {
			ar.manifestBytes = body
			continue
		}
		if !strings.HasPrefix(hdr.Name, dataPrefix) {
			continue
		}
		rest := strings.TrimPrefix(hdr.Name, dataPrefix)
		path, key, ok := splitDataMember(rest)
		if !ok {
			continue
		}
		if ar.extra[path] == nil {
			ar.extra[path] = map[string][]byte{}
		}
		ar.extra[path][key] = body
	}
	return ar, nil
}

// splitDataMember splits a "data/" member's remaining path, "<stripped
// path>/<key>", at its final separator into the stripped path (as written
// by archivePath, leading slash already removed) and the extra-data key.
func splitDataMember(rest string) (path, key string, ok bool) {
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// Manifest parses and returns the archive's embedded manifest, resolving
// handler kinds against reg.
func (ar *Reader) Manifest(reg *manifest.Registry) (*manifest.Manifest, error) {
	if ar.manifestBytes == nil {
		return nil, errors.WithStack(&ArchiveCorruption{Reason: "missing \"manifest\" member"})
	}
	return manifest.Load(bytes.NewReader(ar.manifestBytes), reg)
}

// ExtraData implements manifest.ExtraDataSource, returning the blobs
// recorded for path keyed by their handler-defined names. Lookup is by the
// stripped form archivePath stores members under, so it works for both
// absolute and relative manifests.
func (ar *Reader) ExtraData(path string) (manifest.ExtraData, error) {
	m, ok := ar.extra[strings.TrimPrefix(path, "/")]
	if !ok {
		return nil, nil
	}
	return manifest.ExtraData(m), nil
}
