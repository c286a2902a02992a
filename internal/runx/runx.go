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

// Package runx runs external programs (git, package managers, youtube-dl)
// on the caller's behalf, the way helpers.RunCommand* did for the mixer
// tool: capture output, wrap failures with the joined argv, and support an
// optional deadline.
package runx

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Output runs name with args and returns its captured stdout, trimmed of a
// single trailing newline. A non-zero exit wraps stderr into the error.
func Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run %q: %s", argv(name, args), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSuffix(stdout.String(), "\n"), nil
}

// Run runs name with args, discarding stdout but reporting stderr on
// failure, for commands whose output isn't needed.
func Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "run %q: %s", argv(name, args), strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RunTimeout behaves like Run but bounds execution to timeout, mirroring
// RunCommandTimeout's context.WithTimeout usage.
func RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Run(ctx, name, args...)
}

// Available reports whether name can be found on PATH, used by CLI
// subcommands to fail fast with a clear message instead of a deep runx
// error once a handler needs the binary.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func argv(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
