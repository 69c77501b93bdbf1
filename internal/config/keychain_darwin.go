//go:build darwin

package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "bookforge")
	}
	return "bookforge-data"
}

func secretHint(account string) string {
	return fmt.Sprintf("macOS Keychain (service: %s, account: %s)", secretService, account)
}

// keychain reads and writes generic passwords via the security CLI.
type keychain struct{}

// NewKeychain returns the macOS Keychain secret store.
func NewKeychain() SecretStore { return keychain{} }

func (keychain) Get(service, account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychain) Set(service, account, value string) error {
	out, err := exec.Command(
		"security", "add-generic-password",
		"-U",
		"-s", service,
		"-a", account,
		"-w", value,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("keychain store %s/%s: %w, output: %s", service, account, err, strings.TrimSpace(string(out)))
	}
	return nil
}
