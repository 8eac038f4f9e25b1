// Package security validates user-influenced paths and filenames before
// they reach the filesystem.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateExportPath accepts a destination only under the system temp
// directory or the current working directory.
func ValidateExportPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	for _, dir := range []string{os.TempDir(), cwd} {
		if containedIn(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("path %q must be under %s or the working directory", path, os.TempDir())
}

// containedIn reports whether path stays inside dir once symlinks are
// resolved. The path itself may not exist yet, so resolution falls back
// to the nearest existing parent.
func containedIn(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	canonical := resolveExistingPrefix(absPath)
	rel, err := filepath.Rel(canonicalDir, canonical)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %q escapes %s", path, dir)
	}
	return nil
}

// resolveExistingPrefix resolves symlinks in the longest existing
// prefix of absPath, so a not-yet-created file under a symlinked
// directory still canonicalizes. Catches tricks like
// /tmp/link/new.html where link points outside the allowed tree.
func resolveExistingPrefix(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for parent := filepath.Dir(absPath); ; parent = filepath.Dir(parent) {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, relErr := filepath.Rel(parent, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		if parent == filepath.Dir(parent) {
			return absPath
		}
	}
}

// SanitizeFilename maps an arbitrary identifier to a safe filename:
// ASCII letters, digits, dot, underscore and dash pass through, any
// run of other runes collapses to a single underscore, and the result
// is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
