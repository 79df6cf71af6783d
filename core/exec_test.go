package core

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"josephlewis.net/gosh/core/shell"
)

func newTestExecutor(t *testing.T) (*Executor, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	e := NewExecutor(OSEnv{}, strings.NewReader(""), &stdout, &stderr)
	e.Dir = t.TempDir()
	return e, &stdout, &stderr
}

func mustParse(t *testing.T, line string) shell.Pipeline {
	t.Helper()

	pipeline, err := shell.Parse(line)
	require.NoError(t, err)
	return pipeline
}

func TestExecuteEmptyPipeline(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	assert.Equal(t, ControlContinue, e.Execute(nil))
	assert.Equal(t, ControlContinue, e.Execute(shell.Pipeline{{}}))
}

func TestExecuteSingleCommand(t *testing.T) {
	e, stdout, stderr := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "echo hello"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestExecutePipeline(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "echo hello | cat"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Equal(t, "hello\n", stdout.String())
}

func TestExecuteOutputRedirection(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "echo hi > out.txt"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Empty(t, stdout.String(), "redirected output must not reach the shell's stdout")

	contents, err := os.ReadFile(filepath.Join(e.Dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(contents))

	// Running again truncates rather than appends.
	e.Execute(mustParse(t, "echo bye > out.txt"))
	contents, err = os.ReadFile(filepath.Join(e.Dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bye\n", string(contents))
}

func TestExecuteInputRedirection(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir, "in.txt"), []byte("contents\n"), 0600))

	ctl := e.Execute(mustParse(t, "cat < in.txt"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Equal(t, "contents\n", stdout.String())
}

func TestExecuteMissingInputFile(t *testing.T) {
	e, stdout, stderr := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "cat < missing.txt"))
	assert.Equal(t, ControlContinue, ctl, "a redirection failure never aborts the shell")
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "missing.txt : File not found")
}

// A failed input redirection happens before the output file would be
// created, so the output file is left untouched.
func TestExecuteMissingInputSkipsOutput(t *testing.T) {
	e, _, stderr := newTestExecutor(t)

	e.Execute(mustParse(t, "cat < missing.txt > out.txt"))
	assert.Contains(t, stderr.String(), "missing.txt : File not found")

	_, err := os.Stat(filepath.Join(e.Dir, "out.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteUncreatableOutputFile(t *testing.T) {
	e, stdout, stderr := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "echo hi > nodir/out.txt"))
	assert.Equal(t, ControlContinue, ctl, "a redirection failure never aborts the shell")
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "nodir/out.txt: Cannot create file")
	assert.NotContains(t, stderr.String(), "Command not found",
		"resolution is skipped once a redirection has failed")
}

// A stage that can't create its output file dies alone; upstream stages
// still run and the pipeline finishes.
func TestExecuteUncreatableOutputSiblingsUnaffected(t *testing.T) {
	e, _, stderr := newTestExecutor(t)

	done := make(chan Control, 1)
	go func() {
		done <- e.Execute(mustParse(t, "echo hi | cat > nodir/out.txt"))
	}()

	select {
	case ctl := <-done:
		assert.Equal(t, ControlContinue, ctl)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline with an unwritable output deadlocked")
	}

	assert.Contains(t, stderr.String(), "nodir/out.txt: Cannot create file")
}

func TestExecuteCommandNotFound(t *testing.T) {
	e, _, stderr := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "no-such-program-gosh"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Contains(t, stderr.String(), "no-such-program-gosh: Command not found")
}

// The output file is created even when the program doesn't resolve;
// redirection is applied before the program image would be replaced.
func TestExecuteNotFoundStillCreatesOutput(t *testing.T) {
	e, _, stderr := newTestExecutor(t)

	e.Execute(mustParse(t, "no-such-program-gosh > out.txt"))
	assert.Contains(t, stderr.String(), "no-such-program-gosh: Command not found")

	_, err := os.Stat(filepath.Join(e.Dir, "out.txt"))
	assert.NoError(t, err)
}

// A dead stage in the middle of a pipeline must not wedge its
// neighbors: the downstream reader sees EOF and the pipeline finishes.
func TestExecutePipelineStageFailureIsolated(t *testing.T) {
	e, stdout, stderr := newTestExecutor(t)

	done := make(chan Control, 1)
	go func() {
		done <- e.Execute(mustParse(t, "echo hi | no-such-program-gosh | cat"))
	}()

	select {
	case ctl := <-done:
		assert.Equal(t, ControlContinue, ctl)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline with a failed stage deadlocked")
	}

	assert.Contains(t, stderr.String(), "no-such-program-gosh: Command not found")
	assert.Empty(t, stdout.String())
}

// The shell's stdin may be a stream that never delivers another byte,
// like an idle SSH session. Waiting for a foreground command must end
// when its processes do, not when the stream next produces input.
func TestExecuteForegroundReturnsOnIdleStdin(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	idle, _ := io.Pipe()
	e.Stdin = idle
	defer idle.Close()

	done := make(chan Control, 1)
	go func() {
		done <- e.Execute(mustParse(t, "echo hi"))
	}()

	select {
	case ctl := <-done:
		assert.Equal(t, ControlContinue, ctl)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute still blocked after the command exited")
	}

	assert.Equal(t, "hi\n", stdout.String())
}

// Start refusing to spawn means later stages would refuse too; the
// pipeline reports the first failure and stops spawning.
func TestExecuteStartFailureStopsSpawning(t *testing.T) {
	e, _, stderr := newTestExecutor(t)
	e.Dir = filepath.Join(e.Dir, "removed")

	ctl := e.Execute(mustParse(t, "echo a | cat | true"))
	assert.Equal(t, ControlContinue, ctl)

	lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
	assert.Len(t, lines, 1, "only the first stage reports; stderr: %q", stderr.String())
	assert.Contains(t, lines[0], "echo: ")
}

func TestExecuteExitStatusNotPropagated(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	ctl := e.Execute(mustParse(t, "false | echo ok"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Equal(t, "ok\n", stdout.String())
}

func TestExecuteBackground(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	start := time.Now()
	ctl := e.Execute(mustParse(t, "sleep 2 &"))
	elapsed := time.Since(start)

	assert.Equal(t, ControlContinue, ctl)
	assert.Less(t, elapsed, time.Second, "background execution must not block")
	assert.Regexp(t, regexp.MustCompile(`^\[\d+\]\n$`), stdout.String())

	// Reaping never blocks, even while the job is still running.
	e.ReapBackground()
}

func TestExecuteBackgroundReap(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	e.Execute(mustParse(t, "true &"))
	assert.Regexp(t, regexp.MustCompile(`^\[\d+\]\n$`), stdout.String())

	// Give the job a moment to finish, then collect it.
	time.Sleep(200 * time.Millisecond)
	e.ReapBackground()
}

func TestExecuteBuiltinInterception(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	assert.Equal(t, ControlExit, e.Execute(mustParse(t, "exit")))
}

func TestBuiltinsNotInterceptedInPipelines(t *testing.T) {
	e, _, stderr := newTestExecutor(t)

	// "help" only exists as a builtin; inside a pipeline it resolves
	// like any external program and fails.
	ctl := e.Execute(mustParse(t, "help | cat"))
	assert.Equal(t, ControlContinue, ctl)
	assert.Contains(t, stderr.String(), "help: Command not found")
}

func TestChdir(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	base := e.Dir

	require.NoError(t, os.Mkdir(filepath.Join(base, "sub"), 0700))

	// Relative paths resolve against the current directory.
	require.NoError(t, e.Chdir("sub"))
	assert.Equal(t, filepath.Join(base, "sub"), e.Dir)

	require.NoError(t, e.Chdir(".."))
	assert.Equal(t, base, e.Dir)

	err := e.Chdir("does-not-exist")
	assert.Error(t, err)
	assert.Equal(t, base, e.Dir, "a failed cd leaves the directory unchanged")

	require.NoError(t, os.WriteFile(filepath.Join(base, "file"), nil, 0600))
	assert.Error(t, e.Chdir("file"))
}

// Spawned stages observe the executor's directory, not the test
// process's.
func TestExecuteUsesExecutorDir(t *testing.T) {
	e, stdout, _ := newTestExecutor(t)

	e.Execute(mustParse(t, "sh -c pwd"))
	assert.Equal(t, e.Dir+"\n", stdout.String())
}

func TestLookPath(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	t.Run("PathSearch", func(t *testing.T) {
		path, err := e.lookPath("sh")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(path, "/sh"))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := e.lookPath("no-such-program-gosh")
		assert.Error(t, err)
	})

	t.Run("ExplicitPath", func(t *testing.T) {
		script := filepath.Join(e.Dir, "script.sh")
		require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0755))

		path, err := e.lookPath("./script.sh")
		require.NoError(t, err)
		assert.Equal(t, script, path)
	})

	t.Run("NotExecutable", func(t *testing.T) {
		plain := filepath.Join(e.Dir, "plain.txt")
		require.NoError(t, os.WriteFile(plain, []byte("data"), 0644))

		_, err := e.lookPath("./plain.txt")
		assert.Error(t, err)
	})
}
