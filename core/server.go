package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/juju/ratelimit"
	"josephlewis.net/gosh/core/config"
)

// Server exposes the shell over SSH. Each accepted session gets its own
// Shell, environment and working directory.
type Server struct {
	configuration *config.Configuration
	sshServer     *ssh.Server

	// authBucket throttles password attempts across all connections so
	// a misbehaving client can't brute-force credentials at line rate.
	authBucket *ratelimit.Bucket
}

// NewServer creates an SSH front end for the shell using the addresses,
// credentials and host key from the configuration.
func NewServer(configuration *config.Configuration) (*Server, error) {
	server := &Server{
		configuration: configuration,
		authBucket:    ratelimit.NewBucket(200*time.Millisecond, 10),
	}

	server.sshServer = &ssh.Server{
		Addr: fmt.Sprintf(":%d", configuration.SSHPort),
		Handler: func(s ssh.Session) {
			server.handleSession(s)
		},
		PasswordHandler: func(ctx ssh.Context, password string) bool {
			if server.authBucket.TakeAvailable(1) == 0 {
				return false
			}
			return configuration.CheckPassword(ctx.User(), password)
		},
	}

	keyPath, err := configuration.HostKeyPath()
	if err != nil {
		return nil, err
	}
	server.sshServer.SetOption(ssh.HostKeyFile(keyPath))

	return server, nil
}

// ListenAndServe blocks serving SSH connections until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.sshServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active sessions,
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sshServer.Shutdown(ctx)
}

func (s *Server) handleSession(session ssh.Session) {
	log.Printf("session start user=%q remote=%s", session.User(), session.RemoteAddr())
	defer log.Printf("session end user=%q remote=%s", session.User(), session.RemoteAddr())

	sh, err := NewSessionShell(session, s.configuration)
	if err != nil {
		fmt.Fprintf(session.Stderr(), "failed to start shell: %v\n", err)
		session.Exit(1)
		return
	}
	defer sh.Close()

	if motd := s.configuration.Motd; motd != "" {
		io.WriteString(session, motd+"\n")
	}

	sh.Run()
	session.Exit(0)
}
