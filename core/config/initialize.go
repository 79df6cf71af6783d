package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// Initialize populates dir with a default configuration and a freshly
// generated SSH host key. Existing files are left alone so it's safe to
// run repeatedly.
func Initialize(dir string, logger *log.Logger) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	configPath := filepath.Join(dir, ConfigurationName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		logger.Printf("writing default configuration to %s", configPath)
		if err := os.WriteFile(configPath, defaultConfigData, 0600); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	keyPath := filepath.Join(dir, HostKeyName)
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		logger.Printf("generating host key %s", keyPath)
		keyPem, err := generateHostKey()
		if err != nil {
			return err
		}
		if err := os.WriteFile(keyPath, keyPem, 0600); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

// generateHostKey creates a PEM encoded ed25519 key in OpenSSH format.
func generateHostKey() ([]byte, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	block, err := ssh.MarshalPrivateKey(private, "")
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(block), nil
}
