package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenPrefixes are system locations a project may never point at.
var forbiddenPrefixes = []string{
	"/etc",
	"/usr",
	"/bin",
	"/sbin",
	"/sys",
	"/proc",
	"/var/lib",
	"/root",
	"/System",
	"/Library/System",
	`C:\Windows`,
	`C:\Program Files`,
}

// Sentinel errors for local-path validation.
var (
	// ErrPathForbidden indicates the path points into a system location.
	ErrPathForbidden = errors.New("path points into a protected system location")
	// ErrPathNotDir indicates the path exists but is not a directory.
	ErrPathNotDir = errors.New("path is not a directory")
	// ErrPathUnreadable indicates the directory cannot be opened for reading.
	ErrPathUnreadable = errors.New("path is not readable")
)

// ValidateLocalPath resolves localPath to a canonical absolute path and
// checks it is a readable directory outside protected system locations.
// It returns the canonical path on success.
func ValidateLocalPath(localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	for _, prefix := range forbiddenPrefixes {
		if hasPathPrefix(resolved, prefix) {
			return "", fmt.Errorf("%w: %s", ErrPathForbidden, resolved)
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPathNotDir, resolved)
	}

	dir, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathUnreadable, resolved)
	}

	defer dir.Close()

	// An empty directory returns io.EOF here, which is fine.
	if _, err := dir.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: %s", ErrPathUnreadable, resolved)
	}

	return resolved, nil
}

// hasPathPrefix reports whether path equals prefix or lives under it.
func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}

	sep := string(os.PathSeparator)
	if strings.HasPrefix(prefix, "C:") {
		sep = `\`
	}

	return strings.HasPrefix(path, prefix+sep)
}
