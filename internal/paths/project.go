package paths

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// DetectProjectRoot finds the root of the repository enclosing dir by
// walking up until a .git directory is found. Returns the resolved
// worktree root, or ErrNoProjectRoot when dir is not inside a repository.
func DetectProjectRoot(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoProjectRoot, dir)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("%w: bare repository at %s", ErrNoProjectRoot, dir)
	}

	return Resolve(wt.Filesystem.Root())
}
