package core

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Environ is the read-only view of the process environment the shell
// depends on. The executor only ever consults individual keys (HOME
// for cd); Environ() exists so spawned processes can inherit the full
// set.
type Environ interface {
	Getenv(key string) string
	LookupEnv(key string) (string, bool)
	Environ() []string
}

// OSEnv is the Environ backed by the real process environment.
type OSEnv struct{}

func (OSEnv) Getenv(key string) string            { return os.Getenv(key) }
func (OSEnv) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
func (OSEnv) Environ() []string                   { return os.Environ() }

var _ Environ = OSEnv{}

// NewMapEnv creates an empty in-memory environment.
func NewMapEnv() *MapEnv {
	return &MapEnv{}
}

// NewMapEnvFromEnvList creates an in-memory environment from a list of
// "key=value" entries, such as an SSH session's Environ.
func NewMapEnvFromEnvList(environ []string) *MapEnv {
	out := &MapEnv{}

	for _, e := range environ {
		split := strings.SplitN(e, "=", 2)
		key, value := split[0], ""
		if len(split) > 1 {
			value = split[1]
		}
		out.Setenv(key, value)
	}

	return out
}

// MapEnv is an in-memory Environ. It backs SSH sessions, which must
// not leak the server's own environment, and tests.
type MapEnv struct {
	rw  sync.RWMutex
	env map[string]string
}

var _ Environ = (*MapEnv)(nil)

// Setenv sets or replaces the value of key.
func (m *MapEnv) Setenv(key, value string) {
	m.rw.Lock()
	defer m.rw.Unlock()

	if m.env == nil {
		m.env = make(map[string]string)
	}
	m.env[key] = value
}

// Unsetenv removes key.
func (m *MapEnv) Unsetenv(key string) {
	m.rw.Lock()
	defer m.rw.Unlock()
	if m.env != nil {
		delete(m.env, key)
	}
}

// LookupEnv fetches the value of key, reporting whether it was set.
func (m *MapEnv) LookupEnv(key string) (string, bool) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	val, ok := m.env[key]
	return val, ok
}

// Getenv fetches the value of key, or "" if unset.
func (m *MapEnv) Getenv(key string) string {
	val, _ := m.LookupEnv(key)
	return val
}

// Environ lists the environment as sorted "key=value" entries.
func (m *MapEnv) Environ() []string {
	m.rw.RLock()
	defer m.rw.RUnlock()

	var env []string
	for k, v := range m.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	return env
}
