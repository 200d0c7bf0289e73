package transcode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRun_CapturesOutput(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ok.sh",
		"echo out-line\necho err-line >&2\n")

	res, err := Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out-line\n", string(res.Stdout))
	assert.Equal(t, "err-line\n", string(res.Stderr))
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	script := writeScript(t, t.TempDir(), "fail.sh",
		"echo boom >&2\nexit 3\n")

	res, err := Run(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "boom")
}

func TestRun_KillsOnDeadline(t *testing.T) {
	script := writeScript(t, t.TempDir(), "hang.sh", "sleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, script)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second,
		"the hung process must be killed, not waited out")
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), filepath.Join(t.TempDir(), "no-such-binary"))
	require.Error(t, err)
}

func TestStderrTail(t *testing.T) {
	short := Result{Stderr: []byte("  short message \n")}
	assert.Equal(t, "short message", short.StderrTail())

	long := Result{Stderr: []byte(strings.Repeat("x", 600) + "END")}
	tail := long.StderrTail()
	assert.Len(t, tail, 512)
	assert.True(t, strings.HasSuffix(tail, "END"))
}
