// Package paths provides filesystem path resolution and containment checks
// for the safety gate's directory allowlist.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrOutsideRoots indicates a path resolves outside every trusted root.
	ErrOutsideRoots = errors.New("path outside trusted roots")

	// ErrNoProjectRoot indicates no enclosing repository was found.
	ErrNoProjectRoot = errors.New("no project root found")
)

// Resolve normalizes a path to absolute form with symlinks evaluated.
//
// Traversal sequences are resolved, not rejected: "a/b/../c" becomes "a/c"
// and containment is judged on the result. Paths that do not exist yet are
// resolved through their deepest existing ancestor so symlinked parents
// still count.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	return resolveSymlinks(abs), nil
}

// resolveSymlinks evaluates symlinks on abs, falling back to the deepest
// existing ancestor when the full path does not exist.
func resolveSymlinks(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		for i := len(tail) - 1; i >= 0; i-- {
			resolved = filepath.Join(resolved, tail[i])
		}
		return resolved
	}
}

// Within reports whether path falls under root. Both arguments must already
// be absolute and resolved. The root itself counts as within.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// EnsureWithin resolves path and verifies it falls under one of roots.
// Returns the resolved path on success, ErrOutsideRoots otherwise.
func EnsureWithin(path string, roots []string) (string, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return "", err
	}

	for _, root := range roots {
		if Within(root, resolved) {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrOutsideRoots, resolved)
}

// TrustedRoots assembles the directory allowlist from the config directory,
// the project root, and operator-supplied extras. Entries are trimmed,
// resolved, and deduplicated; empty or unresolvable entries are dropped.
func TrustedRoots(configDir, projectRoot string, extras []string) []string {
	var roots []string
	seen := make(map[string]struct{})

	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		resolved, err := Resolve(p)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		roots = append(roots, resolved)
	}

	add(configDir)
	add(projectRoot)
	for _, e := range extras {
		add(e)
	}

	return roots
}
