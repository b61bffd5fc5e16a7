// Package migrate moves directory trees from one or more git-annex repositories into another,
// hard-linking annexed content when both sides share a filesystem and copying it with
// verification otherwise.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"golang.org/x/time/rate"

	"github.com/fclairamb/annexmig/internal/apperrors"
	"github.com/fclairamb/annexmig/internal/store"
)

// CommitTag marks source commits created by a migration. Reclamation relies on it.
const CommitTag = "[annexmig:migrate]"

const progressInterval = 5 * time.Second

// Source is one tree to migrate together with the store containing it.
type Source struct {
	Path  string
	Store *store.Store
}

// OpenSource resolves path and opens the store containing it.
func OpenSource(path string, opts ...store.Option) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("absolute path %s: %w", path, err)
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, apperrors.NewPreconditionError(path, "does not exist")
		}
		return Source{}, fmt.Errorf("stat %s: %w", path, err)
	}

	st, err := store.Open(abs, opts...)
	if err != nil {
		return Source{}, err
	}
	return Source{Path: filepath.Clean(abs), Store: st}, nil
}

// Result summarizes a migration run.
type Result struct {
	Roots      int
	Managed    int
	Hardlinked int
	Copied     int
	Plain      int
	Symlinks   int
	Dirs       int
	Commits    []string
}

// Engine migrates sources into a directory of a destination store.
type Engine struct {
	dest     *store.Store
	destDir  string
	logger   *slog.Logger
	progress rate.Sometimes
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine placing migrated trees under destDir, which must lie in dest.
func NewEngine(dest *store.Store, destDir string, opts ...Option) *Engine {
	engine := &Engine{
		dest:     dest,
		destDir:  destDir,
		logger:   slog.Default(),
		progress: rate.Sometimes{Interval: progressInterval},
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Migrate moves every source into the destination. All preconditions, missing objects and
// collisions are checked before anything is changed. After that the run is fail-fast:
// the first error aborts it and entries already migrated stay where they are.
func (e *Engine) Migrate(ctx context.Context, sources []Source, commit bool) (*Result, error) {
	if len(sources) == 0 {
		return nil, apperrors.ErrNotEnoughArguments
	}

	destDir, err := e.resolveDestDir()
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "starting migration",
		"sources", len(sources),
		"dest", destDir,
		"commit", commit)

	if err := e.preflight(ctx, sources, destDir, commit); err != nil {
		return nil, err
	}

	result := &Result{}
	var migrated []string

	for _, src := range sources {
		if err := e.migrateRoot(ctx, src, destDir, result); err != nil {
			return result, err
		}
		result.Roots++
		migrated = append(migrated, src.Path)

		if !commit {
			continue
		}
		relRoot, err := src.Store.Rel(src.Path)
		if err != nil {
			return result, err
		}
		hash, err := src.Store.Commit(fmt.Sprintf("Migrated %s to %s %s", relRoot, destDir, CommitTag))
		if err != nil {
			return result, fmt.Errorf("commit source %s: %w", src.Store.Root(), err)
		}
		if !hash.IsZero() {
			result.Commits = append(result.Commits, hash.String())
		}
	}

	if commit {
		hash, err := e.dest.Commit("Migrated " + strings.Join(migrated, ", "))
		if err != nil {
			return result, fmt.Errorf("commit destination: %w", err)
		}
		if !hash.IsZero() {
			result.Commits = append(result.Commits, hash.String())
		}
	}

	e.logger.InfoContext(ctx, "migration complete",
		"roots", result.Roots,
		"managed", result.Managed,
		"hardlinked", result.Hardlinked,
		"copied", result.Copied,
		"plain", result.Plain)

	return result, nil
}

// resolveDestDir returns the absolute destination directory, checking it lies in the store.
func (e *Engine) resolveDestDir() (string, error) {
	rel, err := e.dest.Rel(e.destDir)
	if err != nil {
		return "", err
	}
	destDir := e.dest.Abs(rel)

	info, err := os.Stat(destDir)
	if errors.Is(err, fs.ErrNotExist) {
		return destDir, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", destDir, err)
	}
	if !info.IsDir() {
		return "", apperrors.NewPreconditionError(destDir, "destination is not a directory")
	}
	return destDir, nil
}

// destPath re-roots path, found under root, beneath destDir.
func destPath(destDir, root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(root), path)
	if err != nil {
		return "", fmt.Errorf("relative path %s: %w", path, err)
	}
	return filepath.Join(destDir, rel), nil
}

// walk visits root and everything under it, skipping git directories.
func walk(root string, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == git.GitDirName {
			return filepath.SkipDir
		}
		return fn(path, d)
	})
}
