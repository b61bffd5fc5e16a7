// Package annextest builds throwaway git-annex repositories for tests.
package annextest

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Require skips the test unless git and git-annex are installed.
func Require(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	if err := exec.Command("git", "annex", "version").Run(); err != nil {
		t.Skip("git-annex not available")
	}
}

// Git runs git in dir and returns its trimmed standard output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// NewRepo initializes an annex repository named name under parent, with one commit.
func NewRepo(t *testing.T, parent, name string) string {
	t.Helper()

	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	t.Cleanup(func() { makeWritable(dir) })

	Git(t, dir, "init", "--quiet", "--initial-branch=master")
	Git(t, dir, "config", "user.name", "test")
	Git(t, dir, "config", "user.email", "test@example.com")
	Git(t, dir, "annex", "init", "--quiet", name)

	WriteFile(t, dir, ".gitattributes", "* annex.largefiles=anything\n")
	Git(t, dir, "add", ".gitattributes")
	Git(t, dir, "commit", "--quiet", "-m", "init "+name)
	return dir
}

// WriteFile writes content to rel inside dir, creating parents.
func WriteFile(t *testing.T, dir, rel, content string) {
	t.Helper()

	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// AddAnnexed writes and annexes rel.
func AddAnnexed(t *testing.T, dir, rel, content string) {
	t.Helper()

	WriteFile(t, dir, rel, content)
	Git(t, dir, "annex", "add", "--quiet", "--", rel)
}

// AddPlain writes rel and stages it directly in git.
func AddPlain(t *testing.T, dir, rel, content string) {
	t.Helper()

	WriteFile(t, dir, rel, content)
	Git(t, dir, "annex", "add", "--force-small", "--quiet", "--", rel)
}

// Commit commits everything staged.
func Commit(t *testing.T, dir, message string) {
	t.Helper()

	Git(t, dir, "commit", "--quiet", "-m", message)
}

// ContentPath returns the absolute path of the local object behind the annexed file rel.
func ContentPath(t *testing.T, dir, rel string) string {
	t.Helper()

	key := Git(t, dir, "annex", "lookupkey", "--", rel)
	loc := Git(t, dir, "annex", "contentlocation", key)
	require.NotEmpty(t, loc, "content of %s not present", rel)
	return filepath.Join(dir, loc)
}

// makeWritable undoes git-annex's write protection of object directories so the
// temporary directory can be removed.
func makeWritable(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0o755) //nolint:gosec // test cleanup
		}
		return nil
	})
}
