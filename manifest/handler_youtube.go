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
	"encoding/json"
	"os"
	"strings"

	"github.com/strata-backup/strata/internal/runx"

	"github.com/pkg/errors"
)

// youtubeSidecar is the subset of a "<media path>.info.json" sidecar file this
// handler reads to know how to re-fetch the original media.
type youtubeSidecar struct {
	ID     string `json:"id"`
	Format string `json:"format_id"`
}

// YoutubeHandler matches a media file with a "<base>.info.json" sidecar
// recording the video id it was downloaded from, and restores it with a
// best-effort re-download. It does not mix in SavesFileInfo: re-downloaded
// media rarely matches the original permissions bit-for-bit, and the
// original tool never attempted to restore them. It must be added
// explicitly to a Registry; it is never a default member of MIDDLE because
// restore performs network access other built-ins don't.
type YoutubeHandler struct {
	path     string
	sidecar  youtubeSidecar
	binary   string
}

// NewYoutubeHandler returns a prototype that invokes the given
// youtube-dl-compatible binary (e.g. "yt-dlp", "youtube-dl") at restore
// time.
func NewYoutubeHandler(binary string) *YoutubeHandler {
	return &YoutubeHandler{binary: binary}
}

func (h *YoutubeHandler) Kind() string { return "youtube" }

func sidecarPath(path string) string {
	return path + ".info.json"
}

func readSidecar(path string) (youtubeSidecar, error) {
	raw, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return youtubeSidecar{}, err
	}
	var sc youtubeSidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return youtubeSidecar{}, errors.Wrapf(err, "manifest: decode sidecar for %q", path)
	}
	if sc.ID == "" {
		return youtubeSidecar{}, errors.Errorf("manifest: sidecar for %q missing id", path)
	}
	return sc, nil
}

func (h *YoutubeHandler) Match(path string) (bool, error) {
	if strings.HasSuffix(path, ".info.json") {
		return false, nil
	}
	if _, err := os.Stat(sidecarPath(path)); err != nil {
		return false, nil
	}
	return true, nil
}

func (h *YoutubeHandler) New(path string) (Handler, error) {
	sc, err := readSidecar(path)
	if err != nil {
		return nil, err
	}
	return &YoutubeHandler{path: path, sidecar: sc, binary: h.binary}, nil
}

func (h *YoutubeHandler) GetArgs() Args {
	return Args{Keyword: map[string]string{"id": h.sidecar.ID, "format": h.sidecar.Format}}
}

func (h *YoutubeHandler) FromArgs(path string, args Args) (Handler, error) {
	return &YoutubeHandler{
		path:    path,
		sidecar: youtubeSidecar{ID: args.Keyword["id"], Format: args.Keyword["format"]},
		binary:  h.binary,
	}, nil
}

// Restore re-downloads the media. A failure here is reported as a
// RestoreFailure for this path alone; it never aborts the rest of the
// restore, since re-downloading is inherently best-effort (the video may
// have been taken down, geo-blocked, or re-encoded upstream).
func (h *YoutubeHandler) Restore(ctx context.Context, path string, extra ExtraData) error {
	binary := h.binary
	if binary == "" {
		binary = "youtube-dl"
	}
	args := []string{"-o", path}
	if h.sidecar.Format != "" {
		args = append(args, "-f", h.sidecar.Format)
	}
	args = append(args, "https://www.youtube.com/watch?v="+h.sidecar.ID)
	if err := runx.Run(ctx, binary, args...); err != nil {
		return errors.Wrapf(err, "manifest: re-download %q via %s", path, binary)
	}
	return nil
}
