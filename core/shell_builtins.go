package core

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pborman/getopt/v2"
)

// AllBuiltins holds every registered shell builtin, keyed by name.
//
// Builtins are only intercepted for single-stage pipelines; inside a
// pipeline the name resolves like any external program.
var AllBuiltins = make(map[string]Builtin)

type Builtin interface {
	Main(e *Executor, args []string) Control
}

type BuiltinFunc func(e *Executor, args []string) Control

func (f BuiltinFunc) Main(e *Executor, args []string) Control {
	return f(e, args)
}

var _ Builtin = (BuiltinFunc)(nil)

// Cd changes the shell's working directory. With no argument it moves
// to HOME, or stays put ('.') if HOME is unset. Failure is reported and
// the shell keeps running.
func Cd(e *Executor, args []string) Control {
	dir := ""
	if len(args) > 1 {
		dir = args[1]
	}
	if dir == "" {
		dir = e.Env.Getenv(EnvHome)
		if dir == "" {
			dir = "."
		}
	}

	if err := e.Chdir(dir); err != nil {
		// Show the bare system reason, not the wrapped stat error.
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		fmt.Fprintf(e.Stderr, "cd: %s: %v\n", dir, err)
	}

	return ControlContinue
}

// Exit quits the shell. Arguments are not consulted.
func Exit(e *Executor, args []string) Control {
	return ControlExit
}

// Pwd prints the shell's working directory.
func Pwd(e *Executor, args []string) Control {
	opts := getopt.New()
	logical := opts.Bool('L', "print the logical working directory (default)")
	physical := opts.Bool('P', "print the physical directory, resolving symlinks")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := e.Stderr
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "usage: pwd [-LP]")
		fmt.Fprintln(w, "Print the name of the current working directory.")
		return ControlContinue
	}

	dir := e.Dir
	if *physical && !*logical {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
	}
	fmt.Fprintln(e.Stdout, dir)

	return ControlContinue
}

// Help lists the registered builtins.
func Help(e *Executor, args []string) Control {
	w := e.Stdout
	fmt.Fprintln(w, "These shell commands are defined internally. Type `help' to see this list.")
	fmt.Fprintln(w)

	var builtins []string
	for k := range AllBuiltins {
		builtins = append(builtins, k)
	}
	sort.Strings(builtins)

	fmt.Fprintln(w, strings.Join(builtins, "\n"))

	return ControlContinue
}

func init() {
	AllBuiltins["cd"] = BuiltinFunc(Cd)
	AllBuiltins["exit"] = BuiltinFunc(Exit)
	AllBuiltins["pwd"] = BuiltinFunc(Pwd)
	AllBuiltins["help"] = BuiltinFunc(Help)
}
