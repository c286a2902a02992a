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
	"strings"

	"github.com/strata-backup/strata/internal/stringset"

	"github.com/pkg/errors"
)

// BasicDirectoryHandler matches any directory and restores it by creating
// an empty directory with the captured mode/owner/group. It is the
// PriorityLast catch-all for directories, exactly as the original tool's
// basics module falls back to it once every MIDDLE handler has declined.
type BasicDirectoryHandler struct {
	path string
	info fileInfo
}

func (h *BasicDirectoryHandler) Kind() string { return "basic-directory" }

func (h *BasicDirectoryHandler) Match(path string) (bool, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return false, errors.Wrapf(err, "manifest: stat %q", path)
	}
	return st.IsDir(), nil
}

func (h *BasicDirectoryHandler) New(path string) (Handler, error) {
	info, err := captureFileInfo(path)
	if err != nil {
		return nil, err
	}
	return &BasicDirectoryHandler{path: path, info: info}, nil
}

func (h *BasicDirectoryHandler) GetExtraData(path string) (ExtraData, error) {
	return extraDataForFileInfo(h.info)
}

// FromArgs reconstructs a BasicDirectoryHandler loaded from a manifest
// line. basic-directory carries no positional/keyword args of its own;
// mode/owner/group travel through the archive's extra data instead, so a
// loaded instance restores file info only if an Archive supplies it.
func (h *BasicDirectoryHandler) FromArgs(path string, args Args) (Handler, error) {
	return &BasicDirectoryHandler{path: path}, nil
}

func (h *BasicDirectoryHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrapf(err, "manifest: mkdir %q", path)
	}
	return restoreFileInfo(path, extra)
}

// BasicFileHandler matches any regular file, captures its entire contents
// as the "content" extra-data key, and restores it verbatim with the
// captured mode/owner/group. It is the PriorityLast catch-all for files a
// more specific handler (package, git, youtube) did not claim.
type BasicFileHandler struct {
	path string
	info fileInfo
}

func (h *BasicFileHandler) Kind() string { return "basic-file" }

func (h *BasicFileHandler) Match(path string) (bool, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return false, errors.Wrapf(err, "manifest: stat %q", path)
	}
	return st.Mode().IsRegular(), nil
}

func (h *BasicFileHandler) New(path string) (Handler, error) {
	info, err := captureFileInfo(path)
	if err != nil {
		return nil, err
	}
	return &BasicFileHandler{path: path, info: info}, nil
}

func (h *BasicFileHandler) GetExtraData(path string) (ExtraData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: read %q", path)
	}
	data, err := extraDataForFileInfo(h.info)
	if err != nil {
		return nil, err
	}
	data["content"] = content
	return data, nil
}

// FromArgs reconstructs a BasicFileHandler loaded from a manifest line.
// Like BasicDirectoryHandler, content and file info live in the archive's
// extra data rather than the manifest line itself.
func (h *BasicFileHandler) FromArgs(path string, args Args) (Handler, error) {
	return &BasicFileHandler{path: path}, nil
}

func (h *BasicFileHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	content := extra["content"]
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Wrapf(err, "manifest: write %q", path)
	}
	return restoreFileInfo(path, extra)
}

// SymbolicLinkHandler matches symlinks and restores them by recreating the
// link with the original target, recorded as a positional arg so the link
// target is visible directly in the manifest line without consulting the
// archive's extra data.
type SymbolicLinkHandler struct {
	path   string
	target string
}

func (h *SymbolicLinkHandler) Kind() string { return "symbolic-link" }

func (h *SymbolicLinkHandler) Match(path string) (bool, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return false, errors.Wrapf(err, "manifest: stat %q", path)
	}
	return st.Mode()&os.ModeSymlink != 0, nil
}

func (h *SymbolicLinkHandler) New(path string) (Handler, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: readlink %q", path)
	}
	return &SymbolicLinkHandler{path: path, target: target}, nil
}

func (h *SymbolicLinkHandler) GetArgs() Args {
	return Args{Positional: []string{h.target}}
}

func (h *SymbolicLinkHandler) FromArgs(path string, args Args) (Handler, error) {
	if len(args.Positional) != 1 {
		return nil, errors.Errorf("manifest: symlink handler expects one positional arg, got %d", len(args.Positional))
	}
	return &SymbolicLinkHandler{path: path, target: args.Positional[0]}, nil
}

func (h *SymbolicLinkHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	if err := os.Symlink(h.target, path); err != nil {
		return errors.Wrapf(err, "manifest: symlink %q -> %q", path, h.target)
	}
	return nil
}

// HandledByParentHandler marks a path as restored implicitly by its
// parent's own Restore call (e.g. a file inside a git clone or a package's
// installed tree). It never matches on its own; the Matcher assigns it to
// every descendant of a path whose handler has RestoresContents() true.
type HandledByParentHandler struct {
	path string
}

func (h *HandledByParentHandler) Kind() string { return "handled-by-parent" }

func (h *HandledByParentHandler) New(path string) (Handler, error) {
	return &HandledByParentHandler{path: path}, nil
}

func (h *HandledByParentHandler) FromArgs(path string, args Args) (Handler, error) {
	return &HandledByParentHandler{path: path}, nil
}

// Restore is a no-op: the parent handler already produced this path.
func (h *HandledByParentHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	return nil
}

// IgnoreHandler matches paths the tool should neither back up nor restore:
// caches, VCS metadata, compiled artifacts, and anything listed in the
// MATCH_IGNORE environment variable. RestoresContents is true so an
// ignored directory's children are never independently matched either,
// mirroring the original ignore module.
type IgnoreHandler struct {
	path string
}

func (h *IgnoreHandler) Kind() string { return "ignore" }

func (h *IgnoreHandler) RestoresContents() bool { return true }

// Restore does nothing; an ignored path is simply absent after restore.
func (h *IgnoreHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	return nil
}

var ignoreExtensions = stringset.New(".pyc", ".swp", ".o", ".tmp")

// transientDirs are paths ignored outright because their entire subtree is
// ephemeral kernel/runtime state, never something a backup should try to
// reconstitute.
var transientDirs = stringset.New("/tmp", "/proc", "/sys", "/dev", "/run")

var ignorePathComponents = []string{
	".cache",
	"__pycache__",
	"node_modules",
	".git/objects",
}

// extraIgnorePaths is populated from MATCH_IGNORE at registry setup time.
// Per spec §6, MATCH_IGNORE holds "additional exact paths the ignore
// handler treats as transient" — the same exact-path set membership
// ignore.py's MATCH_PATHS checks (`os.path.abspath(filepath) in
// cls.MATCH_PATHS`), not a pattern language.
var extraIgnorePaths = stringset.New()

// SetExtraIgnorePaths installs additional exact transient paths parsed
// from MATCH_IGNORE. The CLI calls it once per command while building its
// registry, with the paths internal/strataconfig parsed; Match does not
// re-read the environment per path.
func SetExtraIgnorePaths(paths []string) {
	extraIgnorePaths = stringset.New(paths...)
}

func (h *IgnoreHandler) Match(path string) (bool, error) {
	if ignoreExtensions.Contains(filepath.Ext(path)) {
		return true, nil
	}
	if transientDirs.Contains(path) {
		return true, nil
	}
	for _, comp := range ignorePathComponents {
		if strings.Contains(path, string(filepath.Separator)+comp) || strings.HasSuffix(path, comp) {
			return true, nil
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, errors.Wrapf(err, "manifest: resolve %q to absolute", path)
	}
	if extraIgnorePaths.Contains(filepath.Clean(abs)) {
		return true, nil
	}
	return false, nil
}

func (h *IgnoreHandler) New(path string) (Handler, error) {
	return &IgnoreHandler{path: path}, nil
}

func (h *IgnoreHandler) FromArgs(path string, args Args) (Handler, error) {
	return &IgnoreHandler{path: path}, nil
}
