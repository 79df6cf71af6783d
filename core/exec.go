package core

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"josephlewis.net/gosh/core/shell"
)

// errNotDir gives cd failures on non-directories the familiar
// "not a directory" reason.
var errNotDir = syscall.ENOTDIR

// Control tells the driver loop what to do after a line has run.
type Control int

const (
	// ControlContinue keeps the loop reading input.
	ControlContinue Control = 1
	// ControlExit terminates the loop.
	ControlExit Control = 2
)

// ErrNotFound is the error resulting if a path search failed to find an
// executable file.
var ErrNotFound = exec.ErrNotFound

// Executor runs parsed pipelines. It owns the shell's working
// directory, the streams that stages inherit by default, and the
// bookkeeping for background processes.
//
// Dir is an explicit field rather than the process working directory so
// executors can be constructed against scratch directories in tests and
// so concurrent sessions don't trample each other.
type Executor struct {
	// Env supplies environment lookups (HOME, PATH) and the environment
	// spawned processes inherit.
	Env Environ

	// Dir is the working directory every spawned stage starts in.
	// Changed only by the cd builtin.
	Dir string

	// Stdin, Stdout and Stderr are inherited by the first stage, the
	// last stage, and every stage respectively, absent redirection.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// reaped receives the pid of each finished background process.
	reaped chan int
}

// NewExecutor creates an Executor rooted in the process working
// directory.
func NewExecutor(env Environ, stdin io.Reader, stdout, stderr io.Writer) *Executor {
	dir, err := os.Getwd()
	if err != nil {
		dir = "/"
	}

	return &Executor{
		Env:    env,
		Dir:    dir,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		reaped: make(chan int, 128),
	}
}

// Execute runs one parsed pipeline to completion (or to launch, for
// background pipelines) and reports whether the driver loop should
// keep going.
//
// A single-stage pipeline naming a builtin is handled in-process and
// never spawns; builtins are not recognized inside multi-stage
// pipelines.
func (e *Executor) Execute(pipeline shell.Pipeline) Control {
	if len(pipeline) == 0 {
		return ControlContinue
	}

	if len(pipeline) == 1 {
		args := pipeline[0].Args
		if len(args) == 0 {
			// Can't happen for parser output, don't crash regardless.
			return ControlContinue
		}
		if builtin, ok := AllBuiltins[args[0]]; ok {
			return builtin.Main(e, args)
		}
	}

	return e.run(pipeline)
}

// run spawns one process per stage, connected by pipes.
//
// Descriptor discipline: the parent closes its copy of every pipe end
// and redirect file as soon as the owning child has started, or
// immediately when the stage fails, so downstream readers observe
// end-of-stream once the writers exit.
func (e *Executor) run(pipeline shell.Pipeline) Control {
	if e.reaped == nil {
		e.reaped = make(chan int, 128)
	}

	var started []*exec.Cmd
	var prevRead *os.File
	var startErr error

	for i, stage := range pipeline {
		last := i == len(pipeline)-1

		var pipeRead, pipeWrite *os.File
		if !last {
			var err error
			pipeRead, pipeWrite, err = os.Pipe()
			if err != nil {
				fmt.Fprintf(e.Stderr, "pipe: %v\n", err)
				if prevRead != nil {
					prevRead.Close()
					prevRead = nil
				}
				break
			}
		}

		// Default wiring: upstream pipe or the shell's own streams.
		var stdin io.Reader = e.Stdin
		if prevRead != nil {
			stdin = prevRead
		}
		var stdout io.Writer = e.Stdout
		if pipeWrite != nil {
			stdout = pipeWrite
		}

		// Explicit redirections override the defaults. Input opens
		// before output so a missing input file never truncates the
		// output file; the output file is created even if the program
		// turns out not to exist.
		var files []*os.File
		failed := false

		if stage.Input != "" {
			f, err := os.Open(e.abs(stage.Input))
			if err != nil {
				fmt.Fprintf(e.Stderr, "%s : File not found\n", stage.Input)
				failed = true
			} else {
				stdin = f
				files = append(files, f)
			}
		}
		if !failed && stage.Output != "" {
			f, err := os.Create(e.abs(stage.Output))
			if err != nil {
				fmt.Fprintf(e.Stderr, "%s: Cannot create file\n", stage.Output)
				failed = true
			} else {
				stdout = f
				files = append(files, f)
			}
		}

		var path string
		if !failed {
			found, err := e.lookPath(stage.Args[0])
			if err != nil {
				fmt.Fprintf(e.Stderr, "%s: Command not found\n", stage.Args[0])
				failed = true
			} else {
				path = found
			}
		}

		if !failed {
			cmd := &exec.Cmd{
				Path:   path,
				Args:   stage.Args,
				Dir:    e.Dir,
				Env:    e.Env.Environ(),
				Stdin:  stdin,
				Stdout: stdout,
				Stderr: e.Stderr,
				// Stdin may be a stream (an SSH session) rather than a
				// file; without a bound, Wait blocks on the stdin copy
				// goroutine until the stream delivers another byte,
				// long after the child has exited.
				WaitDelay: 10 * time.Millisecond,
			}
			if err := cmd.Start(); err != nil {
				fmt.Fprintf(e.Stderr, "%s: %v\n", stage.Args[0], err)
				startErr = err
			} else {
				started = append(started, cmd)
			}
		}

		// Release the parent's copies. A failed stage releases its pipe
		// ends the same way an exiting child would, keeping siblings
		// isolated from the failure.
		if prevRead != nil {
			prevRead.Close()
		}
		if pipeWrite != nil {
			pipeWrite.Close()
		}
		for _, f := range files {
			f.Close()
		}

		prevRead = pipeRead

		// Start refusing means the system is out of processes or
		// similar; spawning the rest of the pipeline would only fail the
		// same way. Stages already running are still waited on below.
		if startErr != nil {
			break
		}
	}

	if prevRead != nil {
		prevRead.Close()
	}

	if pipeline.Background() && len(started) > 0 {
		// Hand off to a reaper so the loop never blocks on this job.
		fmt.Fprintf(e.Stdout, "[%d]\n", started[len(started)-1].Process.Pid)
		go func(cmds []*exec.Cmd) {
			for _, cmd := range cmds {
				pid := cmd.Process.Pid
				_ = cmd.Wait()
				select {
				case e.reaped <- pid:
				default:
				}
			}
		}(started)
		return ControlContinue
	}

	// Foreground: every spawned process must be waited on; a partial
	// wait leaks children. Exit statuses are not propagated.
	for _, cmd := range started {
		_ = cmd.Wait()
	}

	return ControlContinue
}

// ReapBackground collects any background processes that have finished
// since the last call. It never blocks.
func (e *Executor) ReapBackground() {
	for {
		select {
		case <-e.reaped:
		default:
			return
		}
	}
}

// Chdir changes the executor's working directory, resolving relative
// paths against the current one.
func (e *Executor) Chdir(path string) error {
	target := e.abs(path)

	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "chdir", Path: target, Err: errNotDir}
	}

	e.Dir = target
	return nil
}

// abs resolves path against the executor's working directory.
func (e *Executor) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.Dir, path)
}

func findExecutable(path string) error {
	d, err := os.Stat(path)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return fs.ErrPermission
}

// lookPath searches for an executable named file in the directories
// named by the PATH environment variable. If file contains a slash, it
// is tried relative to the executor's working directory and the PATH is
// not consulted.
func (e *Executor) lookPath(file string) (string, error) {
	if strings.Contains(file, "/") {
		path := e.abs(file)
		if err := findExecutable(path); err != nil {
			return "", err
		}
		return path, nil
	}

	path := e.Env.Getenv("PATH")
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		candidate := e.abs(filepath.Join(dir, file))
		if err := findExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}
