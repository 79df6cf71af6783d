package core

import (
	"fmt"
	"io"
	"sync"
	"time"

	"josephlewis.net/gosh/core/config"
)

// Recorder captures everything written to a session's terminal in a
// transcript file, one file per session.
type Recorder struct {
	mutex  sync.Mutex
	output io.WriteCloser
}

var _ io.WriteCloser = (*Recorder)(nil)

// NewRecorder opens a transcript for a session starting now.
func NewRecorder(configuration *config.Configuration, user string) (*Recorder, error) {
	name := fmt.Sprintf("%s-%s.log", time.Now().UTC().Format(time.RFC3339), user)
	fd, err := configuration.CreateSessionLog(name)
	if err != nil {
		return nil, err
	}

	return &Recorder{output: fd}, nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.output.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *Recorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.output.Close()
}
