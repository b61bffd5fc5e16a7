// Package store provides a handle on one git-annex repository.
//
// Read-side introspection (branch state, configuration, refs, commits) goes through go-git.
// Everything that needs git-annex semantics runs the git executable, either as a one-shot
// command or as a long-lived Batch.
//
// A Store is not safe for concurrent use.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

const (
	// AnnexBranch is the ref git-annex uses to track location logs.
	AnnexBranch = "git-annex"

	defaultGitBinary   = "git"
	defaultRenameLimit = 10000

	annexDir       = "annex"
	objectsDir     = "objects"
	unusedMarker   = "unused"
	defaultCacheDB = "unused-cache.db"
)

// Store is a handle on one git-annex repository. Its root is resolved once at Open.
type Store struct {
	root        string
	gitDir      string
	repo        *git.Repository
	gitBinary   string
	renameLimit int
	cacheFile   string
	authorName  string
	authorEmail string
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithGitBinary sets the git executable used for subprocesses.
func WithGitBinary(bin string) Option {
	return func(s *Store) {
		if bin != "" {
			s.gitBinary = bin
		}
	}
}

// WithRenameLimit sets the rename limit used when git skipped rename detection.
func WithRenameLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.renameLimit = limit
		}
	}
}

// WithCacheFile sets the name of the unused cache file under <gitdir>/annex.
func WithCacheFile(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.cacheFile = name
		}
	}
}

// WithAuthor sets the fallback commit author, used when the repository has no user configured.
func WithAuthor(name, email string) Option {
	return func(s *Store) {
		s.authorName = name
		s.authorEmail = email
	}
}

// Find reports the worktree root of the repository containing path.
// A path outside any repository is not an error: ok is false.
func Find(path string) (root string, ok bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("absolute path %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open git repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get worktree: %w", err)
	}

	root, err = filepath.EvalSymlinks(worktree.Filesystem.Root())
	if err != nil {
		return "", false, fmt.Errorf("resolve root: %w", err)
	}
	return root, true, nil
}

// Open returns a Store for the repository containing path.
func Open(path string, opts ...Option) (*Store, error) {
	root, ok, err := Find(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewPreconditionError(path, "not inside a git repository")
	}

	store := &Store{
		root:        root,
		gitBinary:   defaultGitBinary,
		renameLimit: defaultRenameLimit,
		cacheFile:   defaultCacheDB,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(store)
	}

	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return nil, fmt.Errorf("open git repo: %w", err)
	}
	store.repo = repo
	store.gitDir = resolveGitDir(repo, root)

	store.logger = store.logger.With("store", root)
	return store, nil
}

// resolveGitDir returns the directory holding the repository's objects and annex data.
func resolveGitDir(repo *git.Repository, root string) string {
	if fsStorage, ok := repo.Storer.(*filesystem.Storage); ok {
		return fsStorage.Filesystem().Root()
	}
	return filepath.Join(root, git.GitDirName)
}

// Root returns the absolute worktree root.
func (s *Store) Root() string {
	return s.root
}

// Abs returns the absolute path of a root-relative path.
func (s *Store) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, rel)
}

// Rel returns path relative to the worktree root. It fails if path is outside the store.
func (s *Store) Rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path %s: %w", path, err)
	}
	if resolved, evalErr := evalParent(abs); evalErr == nil {
		abs = resolved
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relative path %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.NewPreconditionError(path, "not inside "+s.root)
	}
	return rel, nil
}

// evalParent resolves symlinks in the existing ancestors of path, keeping its last element,
// so an annexed symlink is not followed into the object store.
func evalParent(path string) (string, error) {
	dir, rest := filepath.Dir(path), filepath.Base(path)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// GitDir returns the absolute git directory.
func (s *Store) GitDir() string {
	return s.gitDir
}

// CachePath returns the location of the persisted unused cache.
func (s *Store) CachePath() string {
	return filepath.Join(s.gitDir, annexDir, s.cacheFile)
}

// UnusedMarkerModTime returns the modification time of git-annex's unused marker file.
func (s *Store) UnusedMarkerModTime() (time.Time, bool, error) {
	info, err := os.Stat(filepath.Join(s.gitDir, annexDir, unusedMarker))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat unused marker: %w", err)
	}
	return info.ModTime(), true, nil
}

// CheckAnnex verifies the repository is an initialized git-annex repository in indirect mode.
func (s *Store) CheckAnnex() error {
	version, ok, err := s.ConfigGet("annex.version")
	if err != nil {
		return err
	}
	if !ok || version == "" {
		return apperrors.NewPreconditionError(s.root, "not a git-annex repository (annex.version unset)")
	}

	direct, _, err := s.ConfigGet("annex.direct")
	if err != nil {
		return err
	}
	if strings.EqualFold(direct, "true") {
		return apperrors.NewPreconditionError(s.root, "direct mode repositories are not supported")
	}
	return nil
}

// IsDetached reports whether HEAD points directly at a commit instead of a branch.
func (s *Store) IsDetached() (bool, error) {
	ref, err := s.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return false, fmt.Errorf("read HEAD: %w", err)
	}
	return ref.Type() != plumbing.SymbolicReference, nil
}

// ConfigGet returns a dotted configuration value ("annex.used-refspec", "remote.origin.url")
// merged from system, global and local scopes.
func (s *Store) ConfigGet(key string) (string, bool, error) {
	cfg, err := s.repo.ConfigScoped(config.SystemScope)
	if err != nil {
		return "", false, fmt.Errorf("read config: %w", err)
	}

	parts := strings.Split(key, ".")
	if len(parts) < 2 { //nolint:mnd // section.option
		return "", false, nil
	}

	sectionName, option := parts[0], parts[len(parts)-1]
	if !cfg.Raw.HasSection(sectionName) {
		return "", false, nil
	}
	section := cfg.Raw.Section(sectionName)

	options := section.Options
	if len(parts) > 2 { //nolint:mnd // section.subsection.option
		subName := strings.Join(parts[1:len(parts)-1], ".")
		if !section.HasSubsection(subName) {
			return "", false, nil
		}
		options = section.Subsection(subName).Options
	}

	if !options.Has(option) {
		return "", false, nil
	}
	return options.Get(option), true, nil
}

// RefsCommittedSince reports whether any ref other than the git-annex tracking branches
// points at a commit whose committer timestamp is at or after t, at one-second precision.
func (s *Store) RefsCommittedSince(t time.Time) (bool, error) {
	refs, err := s.repo.References()
	if err != nil {
		return false, fmt.Errorf("list refs: %w", err)
	}
	defer refs.Close()

	cutoff := t.Unix()
	found := false

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || isAnnexRef(ref.Name()) {
			return nil
		}

		commit := s.peelCommit(ref.Hash())
		if commit == nil {
			return nil
		}
		if commit.Committer.When.Unix() >= cutoff {
			s.logger.Debug("ref committed since cache", "ref", ref.Name().String(), "when", commit.Committer.When)
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walk refs: %w", err)
	}
	return found, nil
}

func isAnnexRef(name plumbing.ReferenceName) bool {
	return name.Short() == AnnexBranch || strings.HasSuffix(name.String(), "/"+AnnexBranch)
}

// peelCommit resolves a hash that is a commit or an annotated tag to its commit.
func (s *Store) peelCommit(hash plumbing.Hash) *object.Commit {
	if commit, err := s.repo.CommitObject(hash); err == nil {
		return commit
	}
	tag, err := s.repo.TagObject(hash)
	if err != nil {
		return nil
	}
	commit, err := tag.Commit()
	if err != nil {
		return nil
	}
	return commit
}

// Commit records the current index as a new commit on the current branch.
// It returns the zero hash without error when nothing is staged.
func (s *Store) Commit(message string) (plumbing.Hash, error) {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("get worktree: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: s.signature(),
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		s.logger.Info("nothing to commit", "message", message)
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("committed", "hash", hash.String(), "message", message)
	return hash, nil
}

// signature returns the repository's configured user, falling back to the store's defaults.
func (s *Store) signature() *object.Signature {
	name, email := s.authorName, s.authorEmail
	if cfg, err := s.repo.ConfigScoped(config.SystemScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	if name == "" {
		name = "annexmig"
	}
	if email == "" {
		email = "annexmig@localhost"
	}

	return &object.Signature{
		Name:  name,
		Email: email,
		When:  time.Now(),
	}
}
