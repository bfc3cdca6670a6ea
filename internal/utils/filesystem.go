package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindProjectRoot returns the nearest directory at or above the working
// directory that contains stateDir, or "" when there is none.
func FindProjectRoot(stateDir string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return FindProjectRootFrom(wd, stateDir)
}

// FindProjectRootFrom is FindProjectRoot starting at dir. The search does not
// go above the parent of the user's home directory.
func FindProjectRootFrom(dir, stateDir string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	boundary := filepath.Dir(home)

	for dir := filepath.Clean(dir); ; {
		if dir == boundary {
			return "", nil
		}
		ok, err := isDir(filepath.Join(dir, stateDir))
		if err != nil {
			return "", fmt.Errorf("error checking for %s at %s: %w", stateDir, dir, err)
		}
		if ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
