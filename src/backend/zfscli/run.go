package zfscli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"snapportal/src/backend"
)

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// runCommand executes one tool invocation, capturing stdout and stderr.
var runCommand runFunc = func(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()
	return stdoutBuf.String(), stderrBuf.String(), err
}

// SetRunCommandForTest allows tests to stub out subprocess execution.
func SetRunCommandForTest(fn runFunc) func() {
	prev := runCommand
	runCommand = fn
	return func() { runCommand = prev }
}

// run maps a tool invocation onto the backend error taxonomy: spawn failure
// is BackendUnavailable, a nonzero exit is BackendError carrying stderr.
func run(ctx context.Context, name string, args ...string) (string, error) {
	stdout, stderr, err := runCommand(ctx, name, args...)
	if err == nil {
		return stdout, nil
	}
	if ctx.Err() != nil {
		return "", backend.TimeoutError(fmt.Sprintf("%s %s interrupted", name, strings.Join(args, " ")))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = err.Error()
		}
		return "", backend.BackendError(fmt.Sprintf("%s exited with %d: %s", name, exitErr.ExitCode(), detail), err)
	}
	return "", backend.UnavailableError(fmt.Sprintf("cannot spawn %s", name), err)
}

var versionRegexp = regexp.MustCompile(`zfs(?:-kmod)?-([0-9][0-9A-Za-z.\-]*)`)

// Detect checks that the zfs binary exists and answers `zfs version`.
// It returns the resolved path and the reported version.
func Detect(ctx context.Context, zfsPath string) (path, version string, err error) {
	if zfsPath == "" {
		zfsPath = "zfs"
	}
	exe, err := exec.LookPath(zfsPath)
	if err != nil {
		return "", "", backend.UnavailableError("zfs binary not found on PATH", err)
	}
	out, err := run(ctx, exe, "version")
	if err != nil {
		return "", "", err
	}
	if m := versionRegexp.FindStringSubmatch(out); m != nil {
		version = m[1]
	}
	return exe, version, nil
}
