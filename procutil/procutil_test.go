package procutil

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	result, err := Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	require.Equal(t, "out\n", result.Stdout)
	require.Equal(t, "err\n", result.Stderr)
	require.Equal(t, 0, result.ExitCode)
}

func TestRunReturnsErrorOnNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), t.TempDir(), "sh", "-c", "exit 3")
	require.Error(t, err)
}

func TestRunRespectsContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, t.TempDir(), "sleep", "5")
	require.Error(t, err)
}

func TestIsAliveOnCurrentProcess(t *testing.T) {
	require.True(t, IsAlive(os.Getpid(), time.Now()))
}

func TestIsAliveOnUnusedPID(t *testing.T) {
	require.False(t, IsAlive(1<<30, time.Now()))
}

func TestStopOnAlreadyExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	err := Stop(pid, 100*time.Millisecond)
	require.NoError(t, err)
}

func TestWaitForReadySeesMarkerLine(t *testing.T) {
	r := strings.NewReader("starting up\nloading config\nREADY\nextra line\n")
	lines, err := WaitForReady(context.Background(), r, "READY", time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"starting up", "loading config", "READY"}, lines)
}

func TestWaitForReadyTimesOutWithoutMarker(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	_, err := WaitForReady(context.Background(), pr, "READY", 30*time.Millisecond)
	require.Error(t, err)
}
