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

import "fmt"

// NoMatch is returned by a Handler's Match method when the handler does not
// claim a path. It is a sentinel, not a failure: the Matcher moves on to the
// next handler in priority order.
var NoMatch = fmt.Errorf("manifest: no match")

// StopMatching can be returned from a confirm callback to abort an
// in-progress Match call early. Paths already being matched finish, no
// further path starts matching, and Match returns StopMatching without a
// manifest.
var StopMatching = fmt.Errorf("manifest: matching stopped by confirm callback")

// UnknownHandler is returned when a manifest line or API call names a
// handler kind that isn't in the Registry.
type UnknownHandler struct {
	Name string
}

func (e *UnknownHandler) Error() string {
	return fmt.Sprintf("manifest: unknown handler %q", e.Name)
}

// DependencyCycle is returned by the Restorer when the dependency graph
// implied by depends() plus parent edges contains a cycle. Chain lists the
// paths in cycle order, closed (chain[0] == chain[len(chain)-1]).
type DependencyCycle struct {
	Chain []string
}

func (e *DependencyCycle) Error() string {
	return fmt.Sprintf("manifest: dependency cycle: %v", e.Chain)
}

// RestoreFailure wraps an error returned by a single path's handler during
// Restore. It never aborts sibling subtrees; the Restorer collects one per
// failing path.
type RestoreFailure struct {
	Path string
	Err  error
}

func (e *RestoreFailure) Error() string {
	return fmt.Sprintf("manifest: restore failed for %q: %v", e.Path, e.Err)
}

func (e *RestoreFailure) Unwrap() error {
	return e.Err
}

// MatchFailure wraps an error a handler's Match raised while the Matcher
// was trying it against a path. It is never returned to a Match caller:
// matchOne logs it and treats the handler as having declined the path, so
// matching continues with the next handler in priority order.
type MatchFailure struct {
	Path string
	Kind string
	Err  error
}

func (e *MatchFailure) Error() string {
	return fmt.Sprintf("manifest: handler %q failed to match %q: %v", e.Kind, e.Path, e.Err)
}

func (e *MatchFailure) Unwrap() error {
	return e.Err
}

// DuplicatePath is returned when add_file/add_file_tree would overwrite an
// existing binding and overwrite was not requested.
type DuplicatePath struct {
	Path string
}

func (e *DuplicatePath) Error() string {
	return fmt.Sprintf("manifest: path %q already present in manifest", e.Path)
}
