package config

import (
	"crypto/subtle"
	_ "embed"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

//go:embed default/config.yaml
var defaultConfigData []byte

const (
	ConfigurationName = "config.yaml"
	HostKeyName       = "host_key"
)

// Configuration holds the shell's tunable settings. It is loaded from a
// config.yaml in the configuration directory; file operations like
// session logs and the host key resolve against that directory.
type Configuration struct {
	configFs         afero.Fs
	configurationDir string

	// Prompt is the PS1-style prompt template.
	Prompt string `json:"prompt"`

	// Motd is printed once at the start of SSH sessions.
	Motd string `json:"motd"`

	// HistoryFile stores readline history; empty disables persistence.
	HistoryFile string `json:"history_file"`

	// DefaultPath seeds PATH for sessions that don't supply one.
	DefaultPath string `json:"default_path" validate:"required"`

	SSHPort int `json:"ssh_port" validate:"gte=0,lte=65535"`

	// SessionLogDir receives one transcript file per SSH session,
	// relative to the configuration directory. Empty disables
	// transcripts.
	SessionLogDir string `json:"session_log_dir"`

	Users []User `json:"users" validate:"unique=Username"`
}

type User struct {
	Username  string   `json:"username" validate:"required"`
	Passwords []string `json:"passwords" validate:"unique"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// CreateSessionLog creates a transcript file with the given name.
func (c *Configuration) CreateSessionLog(name string) (afero.File, error) {
	if err := c.fs().MkdirAll(c.SessionLogDir, 0700); err != nil {
		return nil, err
	}
	return c.fs().Create(filepath.Join(c.SessionLogDir, name))
}

// HostKeyPem returns the bytes of the SSH host key.
func (c *Configuration) HostKeyPem() ([]byte, error) {
	return afero.ReadFile(c.fs(), HostKeyName)
}

// HostKeyPath returns the on-disk location of the SSH host key.
func (c *Configuration) HostKeyPath() (string, error) {
	return filepath.Join(c.configurationDir, HostKeyName), nil
}

// GetPasswords returns allowable passwords for the given username.
func (c *Configuration) GetPasswords(username string) []string {
	var out []string
	for _, v := range c.Users {
		if v.Username == username {
			out = append(out, v.Passwords...)
		}
	}

	return out
}

// CheckPassword reports whether password is valid for username. Every
// candidate is compared in constant time.
func (c *Configuration) CheckPassword(username, password string) bool {
	ok := false
	for _, candidate := range c.GetPasswords(username) {
		if subtle.ConstantTimeCompare([]byte(password), []byte(candidate)) == 1 {
			ok = true
		}
	}
	return ok
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
