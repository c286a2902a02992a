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

// Package strataconfig loads strata's on-disk defaults and layers
// environment overrides on top, the same two-tier shape the mixer tool's
// MixConfig (TOML file) plus its CLI flags provide, but with the
// precedence rules expressed through viper instead of hand-written
// fallthrough.
package strataconfig

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/pkg/errors"
)

// FileConfig is the shape of an on-disk strata.toml, parsed with
// BurntSushi/toml exactly as MixConfig.parse reads the mixer's config
// file.
type FileConfig struct {
	MatchConcurrencyMax int      `toml:"match_concurrency_max"`
	MatchIgnore         []string `toml:"match_ignore"`
	HandlerPriority     []string `toml:"handler_priority"`
}

// Config is the fully resolved configuration: file defaults with
// MATCH_CONCURRENCY_MAX / MATCH_IGNORE environment overrides applied.
type Config struct {
	MatchConcurrencyMax int
	MatchIgnore         []string
	HandlerPriority     []string
}

// Load reads path (if non-empty and present) as a FileConfig, then
// resolves MATCH_CONCURRENCY_MAX and MATCH_IGNORE from the environment via
// viper, which gives "environment overrides file overrides built-in
// default" without hand-rolled precedence logic.
func Load(path string) (*Config, error) {
	var fc FileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, errors.Wrapf(err, "strataconfig: parse %q", path)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("match_concurrency_max", 100)
	if fc.MatchConcurrencyMax > 0 {
		v.SetDefault("match_concurrency_max", fc.MatchConcurrencyMax)
	}
	_ = v.BindEnv("match_concurrency_max", "MATCH_CONCURRENCY_MAX")
	_ = v.BindEnv("match_ignore", "MATCH_IGNORE")

	concurrency := v.GetInt("match_concurrency_max")
	if concurrency <= 0 {
		return nil, errors.Errorf("strataconfig: MATCH_CONCURRENCY_MAX must be positive, got %d", concurrency)
	}

	ignore := fc.MatchIgnore
	if raw := v.GetString("match_ignore"); raw != "" {
		ignore = append(append([]string{}, ignore...), parseMatchIgnore(raw)...)
	}
	// MATCH_IGNORE entries are exact transient paths (spec §6), the same
	// os.path.abspath-normalized set membership ignore.py's MATCH_PATHS
	// checks, not a pattern language.
	paths := make([]string, 0, len(ignore))
	for _, p := range ignore {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.Wrapf(err, "strataconfig: MATCH_IGNORE path %q", p)
		}
		paths = append(paths, filepath.Clean(abs))
	}

	return &Config{
		MatchConcurrencyMax: concurrency,
		MatchIgnore:         paths,
		HandlerPriority:     fc.HandlerPriority,
	}, nil
}

// parseMatchIgnore splits MATCH_IGNORE on unescaped colons, unescaping
// "\:" to a literal colon afterward, the exact rule the original tool
// applies so a path can itself contain a colon. A backslash before any
// other character is kept as is.
func parseMatchIgnore(raw string) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for _, r := range raw {
		switch {
		case escaped:
			if r != ':' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteRune('\\')
	}
	out = append(out, cur.String())
	return out
}

// FormatConcurrencyEnv renders n as the MATCH_CONCURRENCY_MAX environment
// value.
func FormatConcurrencyEnv(n int) string {
	return strconv.Itoa(n)
}
