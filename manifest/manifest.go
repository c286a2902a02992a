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
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// HandlerBinding is a single path's entry in a Manifest: the handler kind
// that claimed the path and the bound handler instance itself.
type HandlerBinding struct {
	Kind    string
	Handler Handler
}

// Manifest is the in-memory path -> HandlerBinding map strata operates on,
// plus the registry used to resolve handler kinds by name. Every Manifest
// commits to either absolute or relative paths on its first addition,
// following the on-disk format's single addressing convention.
type Manifest struct {
	Registry *Registry
	pathMode mode
	bindings map[string]HandlerBinding
}

// New returns an empty Manifest bound to reg.
func New(reg *Registry) *Manifest {
	return &Manifest{Registry: reg, bindings: make(map[string]HandlerBinding)}
}

// Paths returns every path in the manifest, bound or unbound, sorted,
// matching the on-disk format's sort order.
func (man *Manifest) Paths() []string {
	paths := make([]string, 0, len(man.bindings))
	for p := range man.bindings {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup returns the binding for path, if any.
func (man *Manifest) Lookup(path string) (HandlerBinding, bool) {
	b, ok := man.bindings[path]
	return b, ok
}

// Len returns the number of paths in the manifest, bound or unbound.
func (man *Manifest) Len() int { return len(man.bindings) }

// Remove deletes path's binding, if any, reporting whether it was present.
func (man *Manifest) Remove(path string) bool {
	if _, ok := man.bindings[path]; !ok {
		return false
	}
	delete(man.bindings, path)
	return true
}

// AddFile binds path directly to a constructed handler instance, per
// add_file. It does not resolve symlinks (AddFileTree does that when asked);
// overwrite controls whether an existing binding for path may be replaced.
func (man *Manifest) AddFile(path string, binding HandlerBinding, overwrite bool) error {
	norm, m, err := normalizePath(path)
	if err != nil {
		return err
	}
	norm, err = man.coerceToMode(norm, m)
	if err != nil {
		return err
	}
	if err := man.commitMode(m); err != nil {
		return err
	}
	if _, exists := man.bindings[norm]; exists && !overwrite {
		return errors.WithStack(&DuplicatePath{Path: norm})
	}
	man.bindings[norm] = binding
	return nil
}

// AddFileTree walks root and binds every descendant path found, using
// handler to construct each binding (typically HandledByParentHandler for a
// subtree a caller is about to absorb under a single parent handler, or a
// caller-supplied constructor for ordinary filesystem walks). followSymlinks
// mirrors the original add_file_tree: when false, a symlink is bound as
// itself and not traversed into; when true, the link's target is also
// walked, and both the link and its target end up bound.
func (man *Manifest) AddFileTree(root string, followSymlinks bool, overwrite bool, construct func(path string) (HandlerBinding, error)) error {
	return man.addFileTree(root, followSymlinks, overwrite, construct, map[string]bool{})
}

func (man *Manifest) addFileTree(root string, followSymlinks, overwrite bool, construct func(path string) (HandlerBinding, error), visited map[string]bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrapf(err, "manifest: resolve %q", root)
	}
	if visited[abs] {
		return nil
	}
	visited[abs] = true

	binding, err := construct(root)
	if err != nil {
		return errors.Wrapf(err, "manifest: construct handler for %q", root)
	}
	if err := man.AddFile(root, binding, overwrite); err != nil {
		return err
	}
	if restoresContents(binding.Handler) {
		return nil
	}

	st, err := os.Lstat(root)
	if err != nil {
		return errors.Wrapf(err, "manifest: stat %q", root)
	}

	if st.Mode()&os.ModeSymlink != 0 {
		if !followSymlinks {
			return nil
		}
		target, err := filepath.EvalSymlinks(root)
		if err != nil {
			return errors.Wrapf(err, "manifest: resolve symlink %q", root)
		}
		return man.addFileTree(target, followSymlinks, overwrite, construct, visited)
	}

	if !st.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrapf(err, "manifest: read dir %q", root)
	}
	for _, e := range entries {
		child := filepath.Join(root, e.Name())
		if err := man.addFileTree(child, followSymlinks, overwrite, construct, visited); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the manifest in the tab-delimited on-disk format: one line
// per path, sorted, each "path\tkind\targs" with the path JSON-encoded
// (giving it a stable, unambiguous quoting for any byte sequence a path
// might contain) and args in the comma-separated positional/keyword form.
func (man *Manifest) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, path := range man.Paths() {
		binding := man.bindings[path]
		encodedPath, err := json.Marshal(path)
		if err != nil {
			return errors.Wrapf(err, "manifest: encode path %q", path)
		}
		var args Args
		if ap, ok := binding.Handler.(ArgsProvider); ok {
			args = ap.GetArgs()
		}
		if _, err := bw.WriteString(string(encodedPath)); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
		if err := bw.WriteByte('\t'); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
		kind := binding.Kind
		if binding.Handler == nil {
			kind = unboundKind
		}
		if _, err := bw.WriteString(kind); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
		if err := bw.WriteByte('\t'); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
		if _, err := bw.WriteString(args.String()); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "manifest: write")
		}
	}
	return bw.Flush()
}

// Load parses the tab-delimited on-disk format produced by Dump, resolving
// each line's handler kind against reg and reconstructing the bound
// instance via ArgsConsumer.FromArgs. Duplicate paths are rejected, the
// same strictness the teacher's header/body manifest scanner applies to
// duplicate entries.
func Load(r io.Reader, reg *Registry) (*Manifest, error) {
	man := New(reg)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		path, kind, argsField, err := splitManifestLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: line %d", lineNo)
		}
		if _, exists := man.bindings[path]; exists {
			return nil, errors.Wrapf(&DuplicatePath{Path: path}, "manifest: line %d", lineNo)
		}
		_, m, err := normalizePath(path)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: line %d", lineNo)
		}
		if err := man.commitMode(m); err != nil {
			return nil, errors.Wrapf(err, "manifest: line %d", lineNo)
		}
		if kind == unboundKind {
			man.bindings[path] = HandlerBinding{Kind: unboundKind}
			continue
		}
		proto, err := reg.Lookup(kind)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: line %d", lineNo)
		}
		consumer, ok := proto.(ArgsConsumer)
		if !ok {
			return nil, errors.Errorf("manifest: line %d: handler %q cannot be loaded from args", lineNo, kind)
		}
		h, err := consumer.FromArgs(path, ParseArgs(argsField))
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: line %d", lineNo)
		}
		man.bindings[path] = HandlerBinding{Kind: kind, Handler: h}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "manifest: scan")
	}
	return man, nil
}

func splitManifestLine(line string) (path, kind, args string, err error) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 2 {
		return "", "", "", errors.Errorf("malformed manifest line %q", line)
	}
	var p string
	if err := json.Unmarshal([]byte(fields[0]), &p); err != nil {
		return "", "", "", errors.Wrapf(err, "decode path in line %q", line)
	}
	if len(fields) == 3 {
		return p, fields[1], fields[2], nil
	}
	return p, fields[1], "", nil
}
