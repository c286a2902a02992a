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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logHandler is a test-only RestoreHandler that appends its path to a
// shared, mutex-guarded log on Restore, letting tests assert ordering.
type logHandler struct {
	kind string
	path string
	deps []string
	log  *[]string
	mu   *sync.Mutex
	fail bool
}

func (h *logHandler) Kind() string { return h.kind }
func (h *logHandler) Depends(path string) []string { return h.deps }
func (h *logHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	if h.fail {
		return assert.AnError
	}
	h.mu.Lock()
	*h.log = append(*h.log, path)
	h.mu.Unlock()
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestRestoreOrdersByDependency(t *testing.T) {
	reg := NewRegistry()
	man := New(reg)
	var log []string
	var mu sync.Mutex

	require.NoError(t, man.AddFile("/p", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu}}, true))
	require.NoError(t, man.AddFile("/p/q", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, deps: []string{"/p"}}}, true))

	r := NewRestorer()
	result, err := r.Restore(context.Background(), man, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	require.Len(t, log, 2)
	assert.Less(t, indexOf(log, "/p"), indexOf(log, "/p/q"))
}

func TestRestoreDependencyFallsBackToNearestBoundAncestor(t *testing.T) {
	reg := NewRegistry()
	man := New(reg)
	var log []string
	var mu sync.Mutex

	// "/repo/inner/deep" is never a manifest key, but it is nested under
	// the bound "/repo" entry. A handler depending on it (the shape
	// GitCloneHandler.Depends takes for a file:// remote living inside a
	// bound subtree) must wait on "/repo", the nearest bound ancestor, not
	// silently drop the dependency.
	require.NoError(t, man.AddFile("/repo", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu}}, true))
	require.NoError(t, man.AddFile("/other", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, deps: []string{"/repo/inner/deep"}}}, true))

	r := NewRestorer()
	result, err := r.Restore(context.Background(), man, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	require.Len(t, log, 2)
	assert.Less(t, indexOf(log, "/repo"), indexOf(log, "/other"))
}

func TestRestoreDetectsCycle(t *testing.T) {
	reg := NewRegistry()
	man := New(reg)
	var log []string
	var mu sync.Mutex

	require.NoError(t, man.AddFile("/a", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, deps: []string{"/b"}}}, true))
	require.NoError(t, man.AddFile("/b", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, deps: []string{"/a"}}}, true))

	r := NewRestorer()
	_, err := r.Restore(context.Background(), man, nil)
	require.Error(t, err)
	var cyc *DependencyCycle
	require.ErrorAs(t, err, &cyc)
	assert.Contains(t, cyc.Chain, "/a")
	assert.Contains(t, cyc.Chain, "/b")
}

func TestRestoreIndependentSubtreesSurviveOneFailure(t *testing.T) {
	reg := NewRegistry()
	man := New(reg)
	var log []string
	var mu sync.Mutex

	require.NoError(t, man.AddFile("/broken", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, fail: true}}, true))
	require.NoError(t, man.AddFile("/broken/child", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu, deps: []string{"/broken"}}}, true))
	require.NoError(t, man.AddFile("/ok", HandlerBinding{Kind: "log", Handler: &logHandler{kind: "log", log: &log, mu: &mu}}, true))

	r := NewRestorer()
	result, err := r.Restore(context.Background(), man, nil)
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "/broken", result.Failures[0].Path)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, log, "/ok")
	assert.NotContains(t, log, "/broken/child")
}
