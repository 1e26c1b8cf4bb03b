// Package security validates operator-supplied filesystem paths.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for paths that cannot name a database file.
var ErrInvalidPath = errors.New("invalid database path")

// forbiddenChars are shell metacharacters never expected in a data file path.
var forbiddenChars = []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\n", "\r"}

// ValidateDatabasePath cleans path, makes it absolute and resolves symlinks
// when the file already exists. A path naming an existing directory is
// rejected.
func ValidateDatabasePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}
	for _, char := range forbiddenChars {
		if strings.Contains(path, char) {
			return "", fmt.Errorf("%w: forbidden character %q", ErrInvalidPath, char)
		}
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, resolved)
	}
	return resolved, nil
}
