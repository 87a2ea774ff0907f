package util

import (
	"fmt"
	"os"
)

// GetUserPath returns the current user's home directory.
func GetUserPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home, nil
}
