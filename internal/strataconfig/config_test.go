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

package strataconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv clears name for the duration of the test and restores whatever
// value (or absence) it had before, working around t.Setenv only being
// able to set a value, never remove one.
func unsetenv(t *testing.T, name string) {
	t.Helper()
	old, had := os.LookupEnv(name)
	require.NoError(t, os.Unsetenv(name))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(name, old)
		}
	})
}

func TestParseMatchIgnoreSplitsOnUnescapedColons(t *testing.T) {
	got := parseMatchIgnore(`/tmp:/var/run:C\:\path`)
	assert.Equal(t, []string{"/tmp", "/var/run", `C:\path`}, got)
}

func TestParseMatchIgnoreSingleEntry(t *testing.T) {
	assert.Equal(t, []string{"/tmp"}, parseMatchIgnore("/tmp"))
}

func TestLoadDefaultsConcurrencyWithoutEnvOrFile(t *testing.T) {
	unsetenv(t, "MATCH_CONCURRENCY_MAX")
	unsetenv(t, "MATCH_IGNORE")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MatchConcurrencyMax)
	assert.Empty(t, cfg.MatchIgnore)
}

func TestLoadHonorsConcurrencyEnvOverride(t *testing.T) {
	t.Setenv("MATCH_CONCURRENCY_MAX", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MatchConcurrencyMax)
}

func TestLoadNormalizesMatchIgnoreToAbsolutePaths(t *testing.T) {
	unsetenv(t, "MATCH_CONCURRENCY_MAX")
	t.Setenv("MATCH_IGNORE", "relative/scratch:/already/absolute/")
	cfg, err := Load("")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, []string{wd + "/relative/scratch", "/already/absolute"}, cfg.MatchIgnore)
}
