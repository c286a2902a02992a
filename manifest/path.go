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
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// mode records whether a Manifest commits to absolute or relative paths.
// It is set by the first path added and enforced for every path after.
type mode int

const (
	modeUnset mode = iota
	modeAbsolute
	modeRelative
)

// normalizePath cleans p and classifies it as absolute or relative. It never
// returns a path with a trailing slash (other than the root "/") and never a
// path containing "." or ".." elements, mirroring the original tool's use of
// os.path.normpath before a path is ever stored in a binding.
func normalizePath(p string) (string, mode, error) {
	if p == "" {
		return "", modeUnset, errors.New("manifest: empty path")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, modeAbsolute, nil
	}
	if strings.HasPrefix(clean, "..") {
		return "", modeUnset, errors.Errorf("manifest: path %q escapes the tree root", p)
	}
	return clean, modeRelative, nil
}

// commitMode records m as the Manifest's path mode if unset. The first
// path added decides the mode for the whole Manifest; every path after
// that is coerced to match (see coerceToMode), so a Manifest never
// actually mixes absolute and relative keys regardless of what callers
// pass in.
func (man *Manifest) commitMode(m mode) error {
	if man.pathMode == modeUnset {
		man.pathMode = m
	}
	return nil
}

// coerceToMode rewrites p (already Clean-normalized) to match the
// Manifest's committed mode: a relative path is joined under cwd to make
// it absolute, an absolute path has its leading separators stripped to
// make it relative. Mirrors the "mode commitment" testable property: an
// absolute add first forces absolute mode, and a subsequent relative add
// still yields an absolute key (and vice versa).
func (man *Manifest) coerceToMode(p string, m mode) (string, error) {
	if man.pathMode == modeUnset || man.pathMode == m {
		return p, nil
	}
	switch man.pathMode {
	case modeAbsolute:
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", errors.Wrapf(err, "manifest: resolve %q to absolute", p)
		}
		return filepath.Clean(abs), nil
	case modeRelative:
		rel := strings.TrimLeft(p, string(filepath.Separator))
		return filepath.Clean(rel), nil
	}
	return p, nil
}

// parentOf returns the logical parent of p under the manifest's path mode,
// or "" if p has no parent within the tree (the root itself).
func parentOf(p string) string {
	dir := filepath.Dir(p)
	if dir == p {
		return ""
	}
	return dir
}
