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
	"sort"
	"sync"

	"github.com/strata-backup/strata/internal/slog"

	"github.com/pkg/errors"
)

// DefaultMatchConcurrency is the fallback value of MATCH_CONCURRENCY_MAX
// when the environment variable is unset.
const DefaultMatchConcurrency = 100

// ConfirmFunc is consulted once a handler has tentatively claimed a path,
// letting a caller accept, reject (try the next handler), or abort the
// whole Match call by returning StopMatching.
type ConfirmFunc func(path, kind string) error

// ProgressFunc is called after every path finishes matching, with the
// number done so far and the total path count. The total is the number of
// paths the walk found before matching began and does not change during a
// Match call.
type ProgressFunc func(done, total int)

// Matcher walks a filesystem subtree and assigns each path a handler
// binding in parallel, honoring parent-before-child ordering so a
// restores_contents handler's decision is visible to its descendants
// before they are matched.
type Matcher struct {
	Registry    *Registry
	Concurrency int
	Confirm     ConfirmFunc
	Progress    ProgressFunc

	// Existing, if set, is consulted before a path is matched: a path
	// already bound there is kept as-is unless Overwrite is true, letting
	// a caller re-run Match over a manifest `add` already populated
	// without re-claiming paths a previous match run (or an explicit
	// add_file handler override) already settled.
	Existing  *Manifest
	Overwrite bool
}

// NewMatcher returns a Matcher using reg and the default concurrency cap.
func NewMatcher(reg *Registry) *Matcher {
	return &Matcher{Registry: reg, Concurrency: DefaultMatchConcurrency}
}

type matchResult struct {
	binding HandlerBinding
	err     error
}

// Match walks root (following symlinks into directories only if
// followSymlinks is true) and returns a Manifest with every path bound.
// Paths are matched in parallel, one goroutine per path, gated by a
// semaphore of size m.Concurrency, the same worker-shape the teacher uses
// for its fullfiles worker pool but with one goroutine per unit of work
// instead of a fixed pool, since most of a path's matching goroutine
// lifetime is spent blocked on its parent's ready-flag rather than doing
// CPU work.
func (m *Matcher) Match(root string, followSymlinks bool) (*Manifest, error) {
	paths, parent, err := m.walk(root, followSymlinks)
	if err != nil {
		return nil, err
	}

	concurrency := m.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultMatchConcurrency
	}
	sem := make(chan struct{}, concurrency)

	ready := make(map[string]chan struct{}, len(paths))
	for _, p := range paths {
		ready[p] = make(chan struct{})
	}
	results := make(map[string]*matchResult, len(paths))
	var resultsMu sync.Mutex

	var total = len(paths)
	var done int
	var doneMu sync.Mutex
	reportDone := func() {
		doneMu.Lock()
		done++
		d := done
		doneMu.Unlock()
		if m.Progress != nil {
			m.Progress(d, total)
		}
	}

	var stopped sync.Once
	var stopErr error
	stopCh := make(chan struct{})
	stop := func(err error) {
		stopped.Do(func() {
			stopErr = err
			close(stopCh)
		})
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(ready[p])

			if m.Existing != nil && !m.Overwrite {
				if b, ok := m.Existing.Lookup(p); ok && IsBound(b) {
					resultsMu.Lock()
					results[p] = &matchResult{binding: b}
					resultsMu.Unlock()
					reportDone()
					return
				}
			}

			if pr := parent[p]; pr != "" {
				<-ready[pr]
				resultsMu.Lock()
				pres := results[pr]
				resultsMu.Unlock()
				if pres != nil && pres.err == nil && absorbsDescendants(pres.binding.Handler) {
					resultsMu.Lock()
					results[p] = &matchResult{binding: HandlerBinding{
						Kind:    "handled-by-parent",
						Handler: &HandledByParentHandler{path: p},
					}}
					resultsMu.Unlock()
					reportDone()
					return
				}
			}

			sem <- struct{}{}
			select {
			case <-stopCh:
				// A confirm callback already returned StopMatching: paths
				// that have not started matching are not started.
				<-sem
				reportDone()
				return
			default:
			}
			binding, err := m.matchOne(p)
			<-sem

			resultsMu.Lock()
			results[p] = &matchResult{binding: binding, err: err}
			resultsMu.Unlock()

			if err != nil {
				if err == StopMatching {
					stop(err)
				}
			}
			reportDone()
		}()
	}
	wg.Wait()

	if stopErr != nil {
		return nil, stopErr
	}

	man := New(m.Registry)
	for _, p := range paths {
		r := results[p]
		if r == nil {
			continue
		}
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "manifest: match %q", p)
		}
		if err := man.AddFile(p, r.binding, true); err != nil {
			return nil, err
		}
	}
	return man, nil
}

// matchOne tries every registered handler in priority order, applying the
// confirm callback (if set) to the first that claims path.
func (m *Matcher) matchOne(path string) (HandlerBinding, error) {
	for _, proto := range m.Registry.Ordered() {
		pm, ok := proto.(PathMatcher)
		if !ok {
			continue
		}
		ok2, err := pm.Match(path)
		if err == NoMatch {
			continue
		}
		if err != nil {
			// A handler's Match raising is MatchFailure territory: log it
			// and treat this handler as having declined, rather than
			// aborting the whole Match call over one handler's mistake.
			slog.Error(slog.Match, "%v", &MatchFailure{Path: path, Kind: proto.Kind(), Err: err})
			continue
		}
		if !ok2 {
			continue
		}
		if m.Confirm != nil {
			if err := m.Confirm(path, proto.Kind()); err != nil {
				if err == StopMatching {
					return HandlerBinding{}, StopMatching
				}
				continue
			}
		}
		ni, ok := proto.(NewInstance)
		if !ok {
			return HandlerBinding{Kind: proto.Kind(), Handler: proto}, nil
		}
		inst, err := ni.New(path)
		if err != nil {
			return HandlerBinding{}, errors.Wrapf(err, "handler %q: New", proto.Kind())
		}
		return HandlerBinding{Kind: proto.Kind(), Handler: inst}, nil
	}
	return HandlerBinding{}, errors.Errorf("no handler matched %q", path)
}

// absorbsDescendants reports whether a path bound to h takes its children
// with it: a restores-contents handler does, and so does a handled-by-parent
// binding, so absorption reaches every descendant, not just direct children.
func absorbsDescendants(h Handler) bool {
	if _, ok := h.(*HandledByParentHandler); ok {
		return true
	}
	return restoresContents(h)
}

// walk returns every path under root in parent-before-child order (so
// goroutines can be spawned in one pass while still resolving parent[]
// immediately) along with a path -> parent-path map.
func (m *Matcher) walk(root string, followSymlinks bool) ([]string, map[string]string, error) {
	var paths []string
	parent := make(map[string]string)

	var walk func(path, par string) error
	walk = func(path, par string) error {
		norm := filepath.Clean(path)
		paths = append(paths, norm)
		if par != "" {
			parent[norm] = par
		}
		// Children of a followed symlink are parented to the link itself,
		// the walked entry that has a ready flag, not to its target.
		self := norm

		st, err := os.Lstat(norm)
		if err != nil {
			return errors.Wrapf(err, "manifest: stat %q", norm)
		}
		if st.Mode()&os.ModeSymlink != 0 {
			if !followSymlinks {
				return nil
			}
			target, err := filepath.EvalSymlinks(norm)
			if err != nil {
				return errors.Wrapf(err, "manifest: resolve symlink %q", norm)
			}
			st, err = os.Lstat(target)
			if err != nil {
				return errors.Wrapf(err, "manifest: stat %q", target)
			}
			if !st.IsDir() {
				return nil
			}
			norm = target
		}
		if !st.IsDir() {
			return nil
		}
		entries, err := os.ReadDir(norm)
		if err != nil {
			return errors.Wrapf(err, "manifest: read dir %q", norm)
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		sort.Strings(names)
		for _, name := range names {
			if err := walk(filepath.Join(norm, name), self); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, nil, err
	}
	return paths, parent, nil
}
