package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAllowlists(t *testing.T) {
	t.Run("missing files are ignored", func(t *testing.T) {
		al, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "allowlist.toml"))
		require.NoError(t, err)
		assert.Empty(t, al.Paths)
		assert.Empty(t, al.Regexes)
	})

	t.Run("empty paths skip loading", func(t *testing.T) {
		al, err := LoadAllowlists("", "")
		require.NoError(t, err)
		assert.NotNil(t, al)
	})

	t.Run("merges project and user lists", func(t *testing.T) {
		project := t.TempDir()
		writeFile(t, filepath.Join(project, ".gitleaks.toml"), `
[allowlist]
paths = ["testdata/.*"]
regexes = ["example-key-[0-9]+"]
`)

		userFile := filepath.Join(t.TempDir(), "allowlist.toml")
		writeFile(t, userFile, `
[allowlist]
regexes = ["dummy-token"]
`)

		al, err := LoadAllowlists(project, userFile)
		require.NoError(t, err)
		assert.Equal(t, []string{"testdata/.*"}, al.Paths)
		assert.ElementsMatch(t, []string{"example-key-[0-9]+", "dummy-token"}, al.Regexes)
	})

	t.Run("invalid TOML returns error", func(t *testing.T) {
		project := t.TempDir()
		writeFile(t, filepath.Join(project, ".gitleaks.toml"), "not [valid toml")

		_, err := LoadAllowlists(project, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("invalid regex returns error", func(t *testing.T) {
		project := t.TempDir()
		writeFile(t, filepath.Join(project, ".gitleaks.toml"), `
[allowlist]
regexes = ["[invalid"]
`)

		_, err := LoadAllowlists(project, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}
