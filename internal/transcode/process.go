// Package transcode detects incompatible video codecs and re-encodes media
// on demand via external prober/encoder processes (ffprobe/ffmpeg).
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Result is the outcome of a finished external process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// StderrTail returns the last chunk of stderr for error messages, so a noisy
// encoder does not flood log lines or JSON payloads.
func (r Result) StderrTail() string {
	const max = 512
	s := bytes.TrimSpace(r.Stderr)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return string(s)
}

// Run executes an external process with captured stdout/stderr under the
// context's deadline. The process is killed when the deadline expires — a
// hung encoder must not become a resource leak.
//
// A non-zero exit is not an error here; it is reported through
// Result.ExitCode so callers decide what failure means. The returned error
// covers only failure to start and deadline expiry.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() != nil {
		return res, fmt.Errorf("transcode: %s timed out: %w", name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("transcode: running %s: %w", name, err)
	}
	return res, nil
}
