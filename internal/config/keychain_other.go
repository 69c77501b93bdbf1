//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func dataHome() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "."
		}
	}
	return dir
}

func defaultDataDir() string {
	return filepath.Join(dataHome(), "bookforge")
}

func secretsFilePath() string {
	return filepath.Join(dataHome(), "bookforge", "secrets.json")
}

func secretHint(string) string {
	return secretsFilePath()
}

// NewKeychain returns the secrets.json secret store.
func NewKeychain() SecretStore { return &fileSecrets{path: secretsFilePath()} }
