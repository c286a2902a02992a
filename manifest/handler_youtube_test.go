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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYoutubeHandlerMatchesOnlyWithSidecar(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0644))

	h := NewYoutubeHandler("yt-dlp")
	ok, err := h.Match(media)
	require.NoError(t, err)
	assert.False(t, ok, "no sidecar yet")

	require.NoError(t, os.WriteFile(sidecarPath(media), []byte(`{"id":"abc123","format_id":"best"}`), 0644))
	ok, err = h.Match(media)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Match(sidecarPath(media))
	require.NoError(t, err)
	assert.False(t, ok, "the sidecar file itself is never matched")
}

func TestYoutubeHandlerNewReadsSidecar(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(sidecarPath(media), []byte(`{"id":"abc123","format_id":"best"}`), 0644))

	h := NewYoutubeHandler("yt-dlp")
	inst, err := h.New(media)
	require.NoError(t, err)
	args := inst.(*YoutubeHandler).GetArgs()
	assert.Equal(t, "abc123", args.Keyword["id"])
	assert.Equal(t, "best", args.Keyword["format"])
}

func TestYoutubeHandlerNewRejectsSidecarWithoutID(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(sidecarPath(media), []byte(`{"format_id":"best"}`), 0644))

	h := NewYoutubeHandler("yt-dlp")
	_, err := h.New(media)
	assert.Error(t, err)
}

func TestYoutubeHandlerArgsRoundTrip(t *testing.T) {
	h := NewYoutubeHandler("yt-dlp")
	inst, err := h.FromArgs("/videos/v.mp4", Args{Keyword: map[string]string{"id": "zz9", "format": "720p"}})
	require.NoError(t, err)
	got := inst.(*YoutubeHandler)
	assert.Equal(t, "zz9", got.sidecar.ID)
	assert.Equal(t, "720p", got.sidecar.Format)
}
