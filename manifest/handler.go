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

// Package manifest implements the handler framework, the manifest engine,
// and the parallel matcher and restorer built on top of them.
package manifest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Args holds a handler binding's positional and keyword arguments as saved
// in a manifest line. Values are strings; handlers that need a richer type
// parse it themselves from the string form, since the on-disk format has no
// type system of its own.
type Args struct {
	Positional []string
	Keyword    map[string]string
}

// String renders Args in the comma-separated "pos1,pos2,key=val" form used
// by the on-disk manifest format.
func (a Args) String() string {
	if len(a.Positional) == 0 && len(a.Keyword) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.Positional)+len(a.Keyword))
	parts = append(parts, a.Positional...)
	keys := make([]string, 0, len(a.Keyword))
	for k := range a.Keyword {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+a.Keyword[k])
	}
	return strings.Join(parts, ",")
}

// ParseArgs parses the comma-separated form back into Args. An empty string
// yields a zero-value Args.
func ParseArgs(s string) Args {
	var a Args
	if s == "" {
		return a
	}
	for _, part := range strings.Split(s, ",") {
		if i := strings.IndexByte(part, '='); i >= 0 {
			if a.Keyword == nil {
				a.Keyword = make(map[string]string)
			}
			a.Keyword[part[:i]] = part[i+1:]
			continue
		}
		a.Positional = append(a.Positional, part)
	}
	return a
}

// ExtraData is the handler-specific blob stored alongside a path in an
// Archive (the "data/<path>/<key>" members). Keys are handler-defined,
// non-empty names; the archive writer rejects an empty key.
type ExtraData map[string][]byte

// Handler is the capability set a named handler kind implements. Not every
// handler implements every optional capability; the framework type-asserts
// against the narrower interfaces below (ArgsProvider, ExtraDataProvider,
// DependsProvider) before calling them.
type Handler interface {
	// Kind returns the stable, on-disk name for this handler.
	Kind() string
}

// PathMatcher is implemented by handlers that can claim a filesystem path. A
// nil error with ok == false (or the NoMatch sentinel) means "doesn't
// apply, try the next handler in priority order".
type PathMatcher interface {
	Handler
	Match(path string) (bool, error)
}

// NewInstance constructs a new handler value bound to a specific path. The
// framework calls New once Match has confirmed a handler claims a path; the
// returned Handler is what gets stored in the binding.
type NewInstance interface {
	Handler
	New(path string) (Handler, error)
}

// ArgsProvider is implemented by handlers whose bound instance carries
// arguments to be serialized into the manifest line.
type ArgsProvider interface {
	Handler
	GetArgs() Args
}

// ArgsConsumer is implemented by handlers that reconstruct their bound
// state from Args when a manifest is loaded from disk.
type ArgsConsumer interface {
	Handler
	FromArgs(path string, args Args) (Handler, error)
}

// ExtraDataProvider is implemented by handlers that capture additional
// payload at match time, to be stored in the archive and replayed at
// restore time.
type ExtraDataProvider interface {
	Handler
	GetExtraData(path string) (ExtraData, error)
}

// DependsProvider is implemented by handlers whose restore depends on other
// paths being restored first (in addition to the implicit parent-directory
// dependency every path has).
type DependsProvider interface {
	Handler
	Depends(path string) []string
}

// RestoreHandler is implemented by handlers that can reconstitute a path's
// content. The Restorer skips a path whose handler does not implement it;
// HandledByParentHandler and IgnoreHandler implement it as a no-op.
type RestoreHandler interface {
	Handler
	Restore(ctx context.Context, path string, extra ExtraData) error
}

// ContentsRestorer marks a handler kind whose Restore call is responsible
// for an entire subtree rather than a single path (git clone, git bundle,
// ignore). The Matcher binds every descendant of such a path to
// handled-by-parent instead of matching it, and AddFileTree does not
// descend into it.
type ContentsRestorer interface {
	Handler
	RestoresContents() bool
}

// restoresContents reports whether h claims to restore an entire subtree.
func restoresContents(h Handler) bool {
	cr, ok := h.(ContentsRestorer)
	return ok && cr.RestoresContents()
}

// unboundKind is the on-disk handler-name literal for a path that has been
// added to a Manifest but not yet claimed by any handler, per spec's
// "<handler-name> is the kind name or the literal none for an unbound
// entry". A HandlerBinding with a nil Handler is unbound regardless of its
// Kind field; Dump normalizes the written kind to unboundKind either way.
const unboundKind = "none"

// Unbound returns the binding for a path that has been added to a Manifest
// but has no handler assigned yet, the zero state add_file/add_file_tree
// leave an entry in absent an explicit handler, ready for the Matcher to
// claim later.
func Unbound() HandlerBinding {
	return HandlerBinding{Kind: unboundKind}
}

// IsBound reports whether a binding has a handler assigned.
func IsBound(b HandlerBinding) bool {
	return b.Handler != nil
}

// Priority controls where in the match order a handler kind is tried.
// Handlers registered at the same priority are tried in registration order.
type Priority int

const (
	// PriorityFirst handlers are tried before anything else (e.g.
	// handled-by-parent).
	PriorityFirst Priority = iota
	// PriorityMiddle is the default priority for domain-specific handlers.
	PriorityMiddle
	// PriorityLast handlers are the fallback of last resort (basic file,
	// basic directory, symlink).
	PriorityLast
)

// registryEntry pairs a handler kind prototype with its priority.
type registryEntry struct {
	proto    Handler
	priority Priority
}

// Registry holds the set of handler kinds a Matcher and Restorer will use,
// ordered by Priority then registration order within a priority, mirroring
// the original tool's FIRST/MIDDLE/LAST handler lists.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]registryEntry
	ordered []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registryEntry)}
}

// Register adds a handler kind at the given priority. Registering the same
// Kind twice replaces the previous entry in place: the prototype and
// priority come from the most recent call, the position within a priority
// from the first.
func (r *Registry) Register(proto Handler, priority Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := proto.Kind()
	if _, exists := r.byName[name]; !exists {
		r.ordered = append(r.ordered, name)
	}
	r.byName[name] = registryEntry{proto: proto, priority: priority}
}

// Lookup returns the registered prototype for name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, errors.WithStack(&UnknownHandler{Name: name})
	}
	return e.proto, nil
}

// Ordered returns every registered handler prototype sorted by priority
// (PriorityFirst, PriorityMiddle, PriorityLast) and, within a priority, by
// registration order. This is the order the Matcher tries handlers in.
func (r *Registry) Ordered() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.ordered))
	copy(names, r.ordered)
	sort.SliceStable(names, func(i, j int) bool {
		return r.byName[names[i]].priority < r.byName[names[j]].priority
	})
	out := make([]Handler, len(names))
	for i, n := range names {
		out[i] = r.byName[n].proto
	}
	return out
}

// Names returns every registered handler kind name, sorted, for use by
// list-handlers style tooling.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.ordered))
	copy(names, r.ordered)
	sort.Strings(names)
	return names
}
