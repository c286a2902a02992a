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
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// visitState is the three-state DFS marker used by detectCycle, the same
// NotVisited/Visiting/Visited shape the teacher's bundle-include sorter
// uses to both order and detect cycles in one pass.
type visitState int

const (
	notVisited visitState = iota
	visiting
	visited
)

// nearestBoundAncestor walks up p's parent directories, returning the
// first one present in man. Per spec §4.5: "A dependency not present in
// the manifest is handled as follows: walk up parent directories; if some
// ancestor is in the manifest, wait on that ancestor's ready-flag ...
// otherwise assume the dependency already exists on disk." This applies
// both to a path's own implicit parent-directory dependency and to a
// handler-declared dependency that isn't itself a manifest key (e.g.
// GitCloneHandler's file:// remote, which typically lives inside some
// bound subtree rather than being a manifest key itself).
func nearestBoundAncestor(man *Manifest, p string) (string, bool) {
	for cur := parentOf(p); cur != ""; cur = parentOf(cur) {
		if _, ok := man.Lookup(cur); ok {
			return cur, true
		}
	}
	return "", false
}

// dependsOf returns every path p's restore must wait on: its parent
// directory (or nearest bound ancestor, implicit, unless p is the tree
// root) plus anything the bound handler's Depends reports, each resolved
// the same way if it isn't itself a manifest key.
func dependsOf(man *Manifest, p string) []string {
	var deps []string
	if par, ok := nearestBoundAncestor(man, p); ok {
		deps = append(deps, par)
	}
	if b, ok := man.Lookup(p); ok {
		if dp, ok := b.Handler.(DependsProvider); ok {
			for _, d := range dp.Depends(p) {
				if _, ok := man.Lookup(d); ok {
					deps = append(deps, d)
					continue
				}
				if anc, ok := nearestBoundAncestor(man, d); ok {
					deps = append(deps, anc)
				}
			}
		}
	}
	return deps
}

// detectCycle walks the dependency graph implied by dependsOf for every
// path in man, reporting the first cycle found. Adapted from
// sortBundles's cycle check: a path currently on the DFS stack (visiting)
// that is depended on again closes a cycle, reported as the stack slice
// from that path onward.
func detectCycle(man *Manifest) error {
	state := make(map[string]visitState, man.Len())
	var stack []string

	var visit func(p string) error
	visit = func(p string) error {
		switch state[p] {
		case visited:
			return nil
		case visiting:
			chain := append([]string{}, stack...)
			chain = append(chain, p)
			start := 0
			for i, s := range chain {
				if s == p {
					start = i
					break
				}
			}
			return errors.WithStack(&DependencyCycle{Chain: append([]string{}, chain[start:]...)})
		}
		state[p] = visiting
		stack = append(stack, p)
		for _, dep := range dependsOf(man, p) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[p] = visited
		return nil
	}

	for _, p := range man.Paths() {
		if err := visit(p); err != nil {
			return err
		}
	}
	return nil
}

// RestoreResult reports the outcome of restoring a single manifest.
type RestoreResult struct {
	Failures []*RestoreFailure
}

// Restorer reconstructs every path in a Manifest in parallel,
// dependency-order, reading extra data from an ExtraDataSource (typically
// an Archive reader).
type Restorer struct {
	Concurrency int
}

// NewRestorer returns a Restorer using the default concurrency cap.
func NewRestorer() *Restorer {
	return &Restorer{Concurrency: DefaultMatchConcurrency}
}

// ExtraDataSource supplies the extra data blob an Archive recorded for a
// path at match time.
type ExtraDataSource interface {
	ExtraData(path string) (ExtraData, error)
}

// Restore restores every path in man at its manifest path, in dependency order, one
// goroutine per path synchronized by ready-flag channels exactly as the
// Matcher's goroutines are, gated by the same kind of counting semaphore.
// It first runs detectCycle over the whole manifest so a cycle anywhere
// aborts before any handler runs, rather than deadlocking goroutines
// waiting on each other.
func (r *Restorer) Restore(ctx context.Context, man *Manifest, data ExtraDataSource) (*RestoreResult, error) {
	if err := detectCycle(man); err != nil {
		return nil, err
	}

	paths := man.Paths()
	ready := make(map[string]chan struct{}, len(paths))
	for _, p := range paths {
		ready[p] = make(chan struct{})
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultMatchConcurrency
	}
	sem := make(chan struct{}, concurrency)

	var mu sync.Mutex
	var failures []*RestoreFailure

	var wg sync.WaitGroup
	for _, p := range paths {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(ready[p])

			for _, dep := range dependsOf(man, p) {
				<-ready[dep]
			}

			mu.Lock()
			failed := len(failures) > 0 && dependencyFailed(failures, dependsOf(man, p))
			mu.Unlock()
			if failed {
				return
			}

			binding, _ := man.Lookup(p)
			handler, ok := binding.Handler.(RestoreHandler)
			if !ok {
				return
			}

			var extra ExtraData
			var err error
			if data != nil {
				extra, err = data.ExtraData(p)
				if err != nil {
					mu.Lock()
					failures = append(failures, &RestoreFailure{Path: p, Err: err})
					mu.Unlock()
					return
				}
			}

			sem <- struct{}{}
			err = handler.Restore(ctx, p, extra)
			<-sem

			if err != nil {
				mu.Lock()
				failures = append(failures, &RestoreFailure{Path: p, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return &RestoreResult{Failures: failures}, nil
}

func dependencyFailed(failures []*RestoreFailure, deps []string) bool {
	for _, f := range failures {
		for _, d := range deps {
			if f.Path == d {
				return true
			}
		}
	}
	return false
}
