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
	"encoding/json"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// fileInfo is the mode/owner/group triple SavesFileInfo captures and
// restores, serialized as the "info" key of a handler's extra data. It
// mirrors the original tool's SavesFileInfo mixin, which used the pwd/grp
// modules to resolve names; this port keeps names rather than raw numeric
// ids so an archive restores onto a host with different uid/gid mappings
// just as the original did.
type fileInfo struct {
	Mode  os.FileMode `json:"mode"`
	Owner string      `json:"owner"`
	Group string      `json:"group"`
}

// captureFileInfo stats path and resolves its owner/group names.
func captureFileInfo(path string) (fileInfo, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return fileInfo{}, errors.Wrapf(err, "manifest: stat %q", path)
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return fileInfo{Mode: st.Mode()}, nil
	}
	owner := strconv.FormatUint(uint64(sys.Uid), 10)
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}
	group := strconv.FormatUint(uint64(sys.Gid), 10)
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}
	return fileInfo{Mode: st.Mode().Perm(), Owner: owner, Group: group}, nil
}

// extraDataForFileInfo encodes fi as the extra data payload under the
// "info" key, the convention every SavesFileInfo-derived handler uses.
func extraDataForFileInfo(fi fileInfo) (ExtraData, error) {
	b, err := json.Marshal(fi)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: encode file info")
	}
	return ExtraData{"info": b}, nil
}

// restoreFileInfo applies the mode/owner/group recorded in extra["info"] to
// path. A missing "info" key is not an error: older archives, or handlers
// that chose not to capture file info, simply leave the path's mode alone.
func restoreFileInfo(path string, extra ExtraData) error {
	raw, ok := extra["info"]
	if !ok {
		return nil
	}
	var fi fileInfo
	if err := json.Unmarshal(raw, &fi); err != nil {
		return errors.Wrapf(err, "manifest: decode file info for %q", path)
	}
	if err := os.Chmod(path, fi.Mode); err != nil {
		return errors.Wrapf(err, "manifest: chmod %q", path)
	}
	uid, gid := -1, -1
	if fi.Owner != "" {
		if u, err := user.Lookup(fi.Owner); err == nil {
			if n, err := strconv.Atoi(u.Uid); err == nil {
				uid = n
			}
		}
	}
	if fi.Group != "" {
		if g, err := user.LookupGroup(fi.Group); err == nil {
			if n, err := strconv.Atoi(g.Gid); err == nil {
				gid = n
			}
		}
	}
	if uid >= 0 || gid >= 0 {
		if err := os.Chown(path, uid, gid); err != nil {
			return errors.Wrapf(err, "manifest: chown %q", path)
		}
	}
	return nil
}
