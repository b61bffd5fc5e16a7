package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

// initRepo creates a repository with one commit dated `when` and returns its root.
func initRepo(t *testing.T, when time.Time) (string, *git.Repository, plumbing.Hash) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hello\n"), 0600))

	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add("README")
	require.NoError(t, err)

	hash, err := worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: when},
	})
	require.NoError(t, err)

	return dir, repo, hash
}

func setConfig(t *testing.T, repo *git.Repository, section, option, value string) {
	t.Helper()

	cfg, err := repo.Config()
	require.NoError(t, err)
	cfg.Raw.Section(section).SetOption(option, value)
	require.NoError(t, repo.SetConfig(cfg))
}

func TestFind(t *testing.T) {
	t.Parallel()

	dir, _, _ := initRepo(t, time.Now())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0750))

	root, ok, err := Find(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	require.True(t, ok)

	expected, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, expected, root)

	root, ok, err = Find(filepath.Join(dir, "README"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, expected, root)
}

func TestFind_OutsideRepository(t *testing.T) {
	t.Parallel()

	root, ok, err := Find(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, root)

	_, err = Open(t.TempDir())
	require.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestFind_MissingPath(t *testing.T) {
	t.Parallel()

	_, _, err := Find(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestStore_RelAndAbs(t *testing.T) {
	t.Parallel()

	dir, _, _ := initRepo(t, time.Now())
	st, err := Open(dir)
	require.NoError(t, err)

	rel, err := st.Rel(filepath.Join(dir, "foo", "bar"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("foo", "bar"), rel)
	assert.Equal(t, filepath.Join(st.Root(), "foo", "bar"), st.Abs(rel))

	_, err = st.Rel(t.TempDir())
	require.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestStore_IsDetached(t *testing.T) {
	t.Parallel()

	dir, repo, hash := initRepo(t, time.Now())
	st, err := Open(dir)
	require.NoError(t, err)

	detached, err := st.IsDetached()
	require.NoError(t, err)
	assert.False(t, detached)

	worktree, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, worktree.Checkout(&git.CheckoutOptions{Hash: hash}))

	detached, err = st.IsDetached()
	require.NoError(t, err)
	assert.True(t, detached)
}

func TestStore_ConfigGetAndCheckAnnex(t *testing.T) {
	t.Parallel()

	dir, repo, _ := initRepo(t, time.Now())
	st, err := Open(dir)
	require.NoError(t, err)

	_, ok, err := st.ConfigGet("annex.used-refspec")
	require.NoError(t, err)
	assert.False(t, ok)

	err = st.CheckAnnex()
	require.ErrorIs(t, err, apperrors.ErrPrecondition)

	setConfig(t, repo, "annex", "version", "10")
	setConfig(t, repo, "annex", "used-refspec", "+refs/heads/*")

	value, ok, err := st.ConfigGet("annex.used-refspec")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "+refs/heads/*", value)
	require.NoError(t, st.CheckAnnex())

	setConfig(t, repo, "annex", "direct", "true")
	require.ErrorIs(t, st.CheckAnnex(), apperrors.ErrPrecondition)

	_, ok, err = st.ConfigGet("remote.origin.url")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RefsCommittedSince(t *testing.T) {
	t.Parallel()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	dir, repo, oldHash := initRepo(t, old)
	st, err := Open(dir)
	require.NoError(t, err)

	since, err := st.RefsCommittedSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, since)

	since, err = st.RefsCommittedSince(old)
	require.NoError(t, err)
	assert.True(t, since, "a commit at exactly the cutoff second counts")

	// A recent commit reachable only from the git-annex branch is ignored.
	worktree, err := repo.Worktree()
	require.NoError(t, err)
	recent, err := worktree.Commit("annex bookkeeping", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(AnnexBranch), recent)))
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(head.Name(), oldHash)))

	since, err = st.RefsCommittedSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, since)
}

func TestStore_Commit(t *testing.T) {
	t.Parallel()

	dir, repo, _ := initRepo(t, time.Now())
	st, err := Open(dir, WithAuthor("Migrator", "migrator@example.com"))
	require.NoError(t, err)

	hash, err := st.Commit("nothing staged")
	require.NoError(t, err)
	assert.Equal(t, plumbing.ZeroHash, hash)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new"), []byte("new\n"), 0600))
	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add("new")
	require.NoError(t, err)

	hash, err = st.Commit("add new")
	require.NoError(t, err)
	require.NotEqual(t, plumbing.ZeroHash, hash)

	commit, err := repo.CommitObject(hash)
	require.NoError(t, err)
	assert.Equal(t, "add new", commit.Message)
}

func TestStore_Paths(t *testing.T) {
	t.Parallel()

	dir, _, _ := initRepo(t, time.Now())
	st, err := Open(dir, WithCacheFile("test-cache.db"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(st.GitDir(), "annex", "test-cache.db"), st.CachePath())

	_, ok, err := st.UnusedMarkerModTime()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Join(st.GitDir(), "annex"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(st.GitDir(), "annex", "unused"), nil, 0600))

	mod, ok, err := st.UnusedMarkerModTime()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), mod, time.Minute)
}

func TestStore_StatusIsClean(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir, _, _ := initRepo(t, time.Now())
	st, err := Open(dir)
	require.NoError(t, err)

	ctx := context.Background()
	clean, err := st.StatusIsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("changed\n"), 0600))
	clean, err = st.StatusIsClean(ctx)
	require.NoError(t, err)
	assert.False(t, clean)
}
