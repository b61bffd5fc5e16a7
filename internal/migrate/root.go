package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fclairamb/annexmig/internal/apperrors"
	"github.com/fclairamb/annexmig/internal/store"
)

// rootRun holds the per-root state: the three batches opened on the source store.
type rootRun struct {
	src          Source
	destDir      string
	lookupKey    *store.Batch
	contentPath  *store.Batch
	findUnlocked *store.Batch
}

func (r *rootRun) close() {
	for _, b := range []*store.Batch{r.lookupKey, r.contentPath, r.findUnlocked} {
		if b != nil {
			_ = b.Close()
		}
	}
}

// migrateRoot moves everything under one source root. All entries of a root share one
// store, so its batches are opened once and closed when the root is done.
func (e *Engine) migrateRoot(ctx context.Context, src Source, destDir string, result *Result) error {
	logger := e.logger.With("source", src.Path)
	logger.InfoContext(ctx, "migrating root")

	run := &rootRun{src: src, destDir: destDir}
	defer run.close()

	var err error
	if run.lookupKey, err = src.Store.OpenBatch(ctx, store.BatchLookupKey); err != nil {
		return err
	}
	if run.contentPath, err = src.Store.OpenBatch(ctx, store.BatchContentLocation); err != nil {
		return err
	}
	if run.findUnlocked, err = src.Store.OpenBatch(ctx, store.BatchFindUnlocked); err != nil {
		return err
	}

	return walk(src.Path, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.migrateEntry(ctx, run, path, d, result); err != nil {
			return err
		}
		e.progress.Do(func() {
			logger.InfoContext(ctx, "migration progress",
				"managed", result.Managed,
				"plain", result.Plain,
				"dirs", result.Dirs,
				"current", path)
		})
		return nil
	})
}

func (e *Engine) migrateEntry(ctx context.Context, run *rootRun, path string, d fs.DirEntry, result *Result) error {
	dst, err := destPath(run.destDir, run.src.Path, path)
	if err != nil {
		return err
	}
	if err := checkCollision(dst, d.IsDir()); err != nil {
		return err
	}

	if d.IsDir() {
		if err := os.MkdirAll(dst, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dst, err)
		}
		result.Dirs++
		return nil
	}

	rel, err := run.src.Store.Rel(path)
	if err != nil {
		return err
	}
	destRel, err := e.dest.Rel(dst)
	if err != nil {
		return err
	}

	key, err := run.lookupKey.Query(rel)
	if err != nil {
		return fmt.Errorf("lookup key of %s: %w", path, err)
	}

	switch {
	case key != "":
		err = e.migrateManaged(ctx, run, rel, key, dst, destRel, result)
	case d.Type()&fs.ModeSymlink != 0:
		err = e.migrateSymlink(ctx, path, dst, destRel, result)
	default:
		err = e.migratePlain(ctx, path, dst, destRel, result)
	}
	if err != nil {
		return err
	}

	return run.src.Store.RemovePath(ctx, rel)
}

// migrateManaged places an annexed object in the destination and registers it there.
func (e *Engine) migrateManaged(
	ctx context.Context, run *rootRun, rel, key, dst, destRel string, result *Result,
) error {
	location, err := run.contentPath.Query(key)
	if err != nil {
		return fmt.Errorf("content location of %s: %w", key, err)
	}
	if location == "" {
		return &apperrors.MissingObjectError{Paths: []string{run.src.Store.Abs(rel)}}
	}
	content := run.src.Store.Abs(location)

	same, err := sameDevice(content, e.dest.Root())
	if err != nil {
		return err
	}

	if same {
		objectPath, err := e.dest.ObjectPath(ctx, key)
		if err != nil {
			return err
		}
		if _, err := linkObject(content, objectPath); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
			return fmt.Errorf("create parent of %s: %w", dst, err)
		}
		// The worktree file shares the inode; adding it finds the object already present.
		if err := os.Link(content, dst); err != nil {
			return fmt.Errorf("link %s: %w", dst, err)
		}
		result.Hardlinked++
	} else {
		if err := copyVerified(content, dst); err != nil {
			return err
		}
		result.Copied++
	}

	destKey, err := e.dest.AddPath(ctx, destRel)
	if err != nil {
		return err
	}

	unlocked, err := run.findUnlocked.Query(rel)
	if err != nil {
		return fmt.Errorf("unlocked state of %s: %w", rel, err)
	}
	if unlocked != "" {
		if err := e.dest.SetUnlocked(ctx, destRel); err != nil {
			return err
		}
	}

	if err := verifyKeyDigest(e.logger, key, destKey, dst); err != nil {
		return err
	}

	e.logger.DebugContext(ctx, "migrated object",
		"path", destRel,
		"key", destKey,
		"hardlink", same,
		"unlocked", unlocked != "")
	result.Managed++
	return nil
}

// migrateSymlink recreates a symlink git tracks directly.
func (e *Engine) migrateSymlink(ctx context.Context, path, dst, destRel string, result *Result) error {
	if err := copySymlink(path, dst); err != nil {
		return err
	}
	if err := e.dest.AddPlain(ctx, destRel); err != nil {
		return err
	}
	result.Symlinks++
	return nil
}

// migratePlain copies a file git tracks directly and verifies the copy.
func (e *Engine) migratePlain(ctx context.Context, path, dst, destRel string, result *Result) error {
	if err := copyVerified(path, dst); err != nil {
		return err
	}
	if err := e.dest.AddPlain(ctx, destRel); err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "migrated plain file", "path", destRel)
	result.Plain++
	return nil
}
