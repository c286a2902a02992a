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

	"github.com/strata-backup/strata/internal/runx"

	"github.com/pkg/errors"
)

// repoInfo describes a git repository rooted at a path, as determined by
// tryGetRepo.
type repoInfo struct {
	toplevel string
	bare     bool
}

// tryGetRepo reports whether path is (or is) a git working tree or bare
// repository, using the same heuristic as the original tool's
// try_get_repo: ask git itself via rev-parse rather than guessing from
// directory names, falling back to a bare-repo check when there is no
// working tree.
func tryGetRepo(ctx context.Context, path string) (repoInfo, bool) {
	if top, err := runx.Output(ctx, "git", "-C", path, "rev-parse", "--show-toplevel"); err == nil {
		return repoInfo{toplevel: strings.TrimSpace(top), bare: false}, filepath.Clean(top) == filepath.Clean(path)
	}
	if gitDir, err := runx.Output(ctx, "git", "-C", path, "rev-parse", "--git-dir"); err == nil {
		abs := gitDir
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(path, gitDir)
		}
		if filepath.Clean(abs) == filepath.Clean(path) {
			return repoInfo{toplevel: path, bare: true}, true
		}
	}
	return repoInfo{}, false
}

// preferredRemote returns the remote to back up: "origin" if present,
// otherwise the first remote reported by git, matching the original tool's
// preference order.
func preferredRemote(ctx context.Context, path string) (name, url string, err error) {
	out, err := runx.Output(ctx, "git", "-C", path, "remote", "-v")
	if err != nil {
		return "", "", errors.Wrap(err, "manifest: git remote -v")
	}
	remotes := map[string]string{}
	var order []string
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, seen := remotes[fields[0]]; !seen {
			order = append(order, fields[0])
		}
		remotes[fields[0]] = fields[1]
	}
	if u, ok := remotes["origin"]; ok {
		return "origin", u, nil
	}
	if len(order) == 0 {
		return "", "", errors.Errorf("manifest: no git remotes configured at %q", path)
	}
	return order[0], remotes[order[0]], nil
}

// GitCloneHandler matches a git working tree or bare repository whose
// chosen remote can be re-cloned, and restores it with "git clone". It
// restores its entire subtree, so the matcher never separately matches the
// files git itself manages inside the tree.
type GitCloneHandler struct {
	path   string
	bare   bool
	remote string
}

func (h *GitCloneHandler) Kind() string { return "git-clone" }

func (h *GitCloneHandler) RestoresContents() bool { return true }

func (h *GitCloneHandler) Match(path string) (bool, error) {
	ctx := context.Background()
	repo, ok := tryGetRepo(ctx, path)
	if !ok {
		return false, nil
	}
	_, _, err := preferredRemote(ctx, repo.toplevel)
	return err == nil, nil
}

func (h *GitCloneHandler) New(path string) (Handler, error) {
	ctx := context.Background()
	repo, ok := tryGetRepo(ctx, path)
	if !ok {
		return nil, errors.Errorf("manifest: %q is not a git repository", path)
	}
	_, url, err := preferredRemote(ctx, repo.toplevel)
	if err != nil {
		return nil, err
	}
	return &GitCloneHandler{path: path, bare: repo.bare, remote: url}, nil
}

func (h *GitCloneHandler) GetArgs() Args {
	kw := map[string]string{"remote": h.remote}
	if h.bare {
		kw["bare"] = "1"
	}
	return Args{Keyword: kw}
}

func (h *GitCloneHandler) FromArgs(path string, args Args) (Handler, error) {
	remote, ok := args.Keyword["remote"]
	if !ok {
		return nil, errors.New("manifest: git-clone missing remote arg")
	}
	return &GitCloneHandler{path: path, bare: args.Keyword["bare"] == "1", remote: remote}, nil
}

// Depends adds the remote as a dependency when it is a local file:// path
// within the manifest, so the source repository is restored before the
// clone that reads from it runs, matching the original get_depends.
func (h *GitCloneHandler) Depends(path string) []string {
	const prefix = "file://"
	if strings.HasPrefix(h.remote, prefix) {
		return []string{strings.TrimPrefix(h.remote, prefix)}
	}
	return nil
}

func (h *GitCloneHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "manifest: mkdir parent of %q", path)
	}
	args := []string{"clone"}
	if h.bare {
		args = append(args, "--bare")
	}
	args = append(args, h.remote, path)
	if err := runx.Run(ctx, "git", args...); err != nil {
		return errors.Wrapf(err, "manifest: git clone into %q", path)
	}
	return nil
}

// GitBundleHandler matches the same repositories GitCloneHandler would but
// instead of depending on the remote still existing, captures the entire
// repository as a "git bundle" blob in the archive's extra data at match
// time, so restore never requires network access or the original remote.
type GitBundleHandler struct {
	path   string
	bare   bool
	bundle []byte
}

func (h *GitBundleHandler) Kind() string { return "git-bundle" }

func (h *GitBundleHandler) RestoresContents() bool { return true }

func (h *GitBundleHandler) Match(path string) (bool, error) {
	_, ok := tryGetRepo(context.Background(), path)
	return ok, nil
}

func (h *GitBundleHandler) New(path string) (Handler, error) {
	repo, ok := tryGetRepo(context.Background(), path)
	if !ok {
		return nil, errors.Errorf("manifest: %q is not a git repository", path)
	}
	return &GitBundleHandler{path: path, bare: repo.bare}, nil
}

func (h *GitBundleHandler) GetExtraData(path string) (ExtraData, error) {
	out, err := runx.Output(context.Background(), "git", "-C", path, "bundle", "create", "-", "--all")
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: git bundle create for %q", path)
	}
	return ExtraData{"bundle": []byte(out)}, nil
}

func (h *GitBundleHandler) GetArgs() Args {
	kw := map[string]string{}
	if h.bare {
		kw["bare"] = "1"
	}
	return Args{Keyword: kw}
}

func (h *GitBundleHandler) FromArgs(path string, args Args) (Handler, error) {
	return &GitBundleHandler{path: path, bare: args.Keyword["bare"] == "1"}, nil
}

func (h *GitBundleHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	bundle, ok := extra["bundle"]
	if !ok {
		return errors.Errorf("manifest: no bundle data recorded for %q", path)
	}
	tmp, err := os.CreateTemp("", "strata-bundle-*.bundle")
	if err != nil {
		return errors.Wrap(err, "manifest: create temp bundle file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(bundle); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "manifest: write temp bundle file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "manifest: close temp bundle file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "manifest: mkdir parent of %q", path)
	}
	args := []string{"clone", "-o", "bundle"}
	if h.bare {
		args = append(args, "--bare")
	}
	args = append(args, tmp.Name(), path)
	if err := runx.Run(ctx, "git", args...); err != nil {
		return errors.Wrapf(err, "manifest: git clone from bundle into %q", path)
	}
	return nil
}
