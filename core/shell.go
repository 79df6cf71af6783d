package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/gliderlabs/ssh"
	"josephlewis.net/gosh/core/config"
	"josephlewis.net/gosh/core/shell"
)

const (
	EnvHome     = "HOME"
	EnvPath     = "PATH"
	EnvPrompt   = "PS1"
	EnvHostname = "HOSTNAME"
	EnvUser     = "USER"

	DefaultPrompt = `\u@\h:\w\$ `
)

// Shell ties a line source to the parser and executor: it reads one
// line at a time, hands it to shell.Parse, dispatches the result to its
// Executor and loops until exit or end of input.
type Shell struct {
	Env      Environ
	Exec     *Executor
	Readline *readline.Instance

	prompt     string
	isTerminal bool
	toClose    listCloser
}

// NewLocalShell creates a Shell on the process's standard streams.
func NewLocalShell(configuration *config.Configuration) (*Shell, error) {
	cfg := &readline.Config{
		HistoryFile: configuration.HistoryFile,
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}

	env := OSEnv{}
	return &Shell{
		Env:        env,
		Exec:       NewExecutor(env, os.Stdin, os.Stdout, os.Stderr),
		Readline:   rl,
		prompt:     configuration.Prompt,
		isTerminal: readline.DefaultIsTerminal(),
		toClose:    listCloser{rl},
	}, nil
}

// NewSessionShell creates a Shell bound to an SSH session's streams.
// The session gets its own environment copied from what the client
// sent, so sessions never observe the server's environment or each
// other's working directories.
func NewSessionShell(s ssh.Session, configuration *config.Configuration) (*Shell, error) {
	pty, winch, isPty := s.Pty()
	windowWidth := pty.Window.Width
	go (func() {
		for window := range winch {
			windowWidth = window.Width
		}
	})()

	var stdout io.Writer = s
	var toClose listCloser
	if configuration.SessionLogDir != "" {
		recorder, err := NewRecorder(configuration, s.User())
		if err != nil {
			return nil, err
		}
		stdout = io.MultiWriter(s, recorder)
		toClose = append(toClose, recorder)
	}

	cfg := &readline.Config{
		Stdin:  readline.NewCancelableStdin(s),
		Stdout: stdout,
		Stderr: s.Stderr(),
		FuncGetWidth: func() int {
			return windowWidth
		},
		FuncIsTerminal: func() bool {
			return isPty
		},
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}
	toClose = append(toClose, rl)

	env := NewMapEnvFromEnvList(s.Environ())
	env.Setenv(EnvUser, s.User())
	if _, ok := env.LookupEnv(EnvPath); !ok {
		env.Setenv(EnvPath, configuration.DefaultPath)
	}
	if _, ok := env.LookupEnv(EnvHome); !ok {
		env.Setenv(EnvHome, os.Getenv(EnvHome))
	}

	sh := &Shell{
		Env:        env,
		Exec:       NewExecutor(env, s, stdout, s.Stderr()),
		Readline:   rl,
		prompt:     configuration.Prompt,
		isTerminal: isPty,
		toClose:    toClose,
	}
	if home := env.Getenv(EnvHome); home != "" {
		// Best effort, the directory may not exist.
		_ = sh.Exec.Chdir(home)
	}
	return sh, nil
}

// Prompt renders the PS1-style prompt template: \u user, \h hostname,
// \w working directory with the home prefix contracted to ~, and \$.
func (s *Shell) Prompt() string {
	prompt := s.prompt
	if fromEnv := s.Env.Getenv(EnvPrompt); fromEnv != "" {
		prompt = fromEnv
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}

	user := s.Env.Getenv(EnvUser)
	host := s.Env.Getenv(EnvHostname)
	if host == "" {
		host, _ = os.Hostname()
	}

	pwd := s.Exec.Dir
	if home := s.Env.Getenv(EnvHome); home != "" {
		// Contract only at a path boundary so /home/user2 doesn't
		// render as ~2 when HOME=/home/user.
		if pwd == home {
			pwd = "~"
		} else if strings.HasPrefix(pwd, home+"/") {
			pwd = "~" + strings.TrimPrefix(pwd, home)
		}
	}
	if s.isTerminal {
		pwd = color.New(color.FgBlue).Sprint(pwd)
	}

	prompt = strings.ReplaceAll(prompt, `\u`, user)
	prompt = strings.ReplaceAll(prompt, `\h`, host)
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)
	prompt = strings.ReplaceAll(prompt, `\$`, "$")

	return prompt
}

// Run reads and executes lines until exit or end of input.
func (s *Shell) Run() {
	for {
		s.Readline.SetPrompt(s.Prompt())
		line, err := s.Readline.Readline()

		switch {
		case err == io.EOF:
			// End of input terminates the loop like exit would; leave
			// the terminal on a fresh line.
			if s.isTerminal {
				fmt.Fprintln(s.Exec.Stdout)
			}
			return

		case err == readline.ErrInterrupt:
			continue

		case err != nil:
			log.Printf("readline: %v", err)
			return
		}

		if s.runLine(line) == ControlExit {
			return
		}
	}
}

// runLine parses and executes a single input line.
func (s *Shell) runLine(line string) Control {
	line = strings.TrimSpace(line)
	if line == "" {
		return ControlContinue
	}

	pipeline, err := shell.Parse(line)
	if err != nil {
		fmt.Fprintln(s.Exec.Stderr, err)
		return ControlContinue
	}

	ctl := s.Exec.Execute(pipeline)

	// Collect any background jobs that finished in the meantime.
	s.Exec.ReapBackground()

	return ctl
}

func (s *Shell) Close() error {
	return s.toClose.Close()
}

type listCloser []io.Closer

func (lc listCloser) Close() error {
	var lastErr error
	for _, v := range lc {
		if err := v.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
