package utils

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoModuleRoot is returned when no go.mod is found above the start directory.
var ErrNoModuleRoot = errors.New("no go.mod found in any parent directory")

// ModuleRoot walks upward from startDir (the working directory when empty)
// and returns the first directory holding a go.mod file.
func ModuleRoot(startDir string) (string, error) {
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		startDir = wd
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoModuleRoot
		}
		dir = parent
	}
}
