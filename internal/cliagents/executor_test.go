package cliagents

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("subprocess tests use /bin/sh")
	}
}

func shellEnv() map[string]string {
	return map[string]string{"PATH": "/usr/bin:/bin"}
}

func TestIdleTimeoutKillsAfterFirstOutput(t *testing.T) {
	requireUnix(t)
	e := &Executor{}

	// Emits a line, then goes silent far longer than the idle window.
	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `printf 'hello\n'; sleep 30`},
		shellEnv(), 60*time.Second, 500*time.Millisecond, "")
	require.NoError(t, err)
	require.True(t, result.IdleTimeoutTriggered)
	require.False(t, result.TimedOut)
	require.Contains(t, result.Stdout, "hello\n")
}

func TestIdleTimeoutDoesNotFireBeforeFirstOutput(t *testing.T) {
	requireUnix(t)
	e := &Executor{}

	// Silent for longer than the idle window, then speaks: must survive.
	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `sleep 1; printf 'late\n'`},
		shellEnv(), 60*time.Second, 500*time.Millisecond, "")
	require.NoError(t, err)
	require.False(t, result.IdleTimeoutTriggered)
	require.Equal(t, 0, result.ReturnCode)
	require.Contains(t, result.Stdout, "late\n")
}

func TestTotalTimeoutKills(t *testing.T) {
	requireUnix(t)
	e := &Executor{}

	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `sleep 30`},
		shellEnv(), 300*time.Millisecond, 10*time.Second, "")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.False(t, result.IdleTimeoutTriggered)
}

func TestTotalTimeoutTakesPrecedenceOverIdle(t *testing.T) {
	requireUnix(t)
	e := &Executor{}

	// Both windows expire while the process sleeps after its first output;
	// the total timeout must win.
	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `printf 'x'; sleep 30`},
		shellEnv(), 400*time.Millisecond, 400*time.Millisecond, "")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.False(t, result.IdleTimeoutTriggered)
}

func TestCancellationKillsAndReRaises(t *testing.T) {
	requireUnix(t)
	e := &Executor{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := e.Execute(ctx, "/bin/sh", []string{"-c", `sleep 30`},
		shellEnv(), time.Minute, time.Minute, "")
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandNotFound(t *testing.T) {
	requireUnix(t)
	e := &Executor{}
	_, err := e.Execute(context.Background(), "definitely-not-a-real-command-xyz", nil,
		shellEnv(), time.Second, time.Second, "")
	require.True(t, errors.Is(err, ErrCommandNotFound))
}

func TestWorkdirNotFound(t *testing.T) {
	requireUnix(t)
	e := &Executor{}
	_, err := e.Execute(context.Background(), "/bin/sh", []string{"-c", "true"},
		shellEnv(), time.Second, time.Second, "/no/such/dir/anywhere")
	require.True(t, errors.Is(err, ErrWorkdirNotFound))
}

func TestStderrIsCaptured(t *testing.T) {
	requireUnix(t)
	e := &Executor{}
	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `printf 'oops\n' >&2; exit 3`},
		shellEnv(), 10*time.Second, 10*time.Second, "")
	require.NoError(t, err)
	require.Equal(t, 3, result.ReturnCode)
	require.Contains(t, result.Stderr, "oops")
}

func TestOutputIsCapped(t *testing.T) {
	requireUnix(t)
	e := &Executor{MaxOutputBytes: 100}
	result, err := e.Execute(context.Background(), "/bin/sh",
		[]string{"-c", `head -c 5000 /dev/zero | tr '\0' 'a'`},
		shellEnv(), 10*time.Second, 10*time.Second, "")
	require.NoError(t, err)
	require.Len(t, result.Stdout, 100)
}
