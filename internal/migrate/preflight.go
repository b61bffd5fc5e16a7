package migrate

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/fclairamb/annexmig/internal/apperrors"
	"github.com/fclairamb/annexmig/internal/store"
)

// preflight checks everything that can be known before the first mutation.
func (e *Engine) preflight(ctx context.Context, sources []Source, destDir string, commit bool) error {
	if err := checkStore(ctx, e.dest, true); err != nil {
		return err
	}

	checked := map[string]bool{e.dest.Root(): true}
	for _, src := range sources {
		if _, err := src.Store.Rel(src.Path); err != nil {
			return err
		}
		if checked[src.Store.Root()] {
			continue
		}
		if err := checkStore(ctx, src.Store, commit); err != nil {
			return err
		}
		checked[src.Store.Root()] = true
	}

	var missing []string
	for _, src := range sources {
		rel, err := src.Store.Rel(src.Path)
		if err != nil {
			return err
		}
		paths, err := src.Store.ListMissingObjects(ctx, []string{rel})
		if err != nil {
			return fmt.Errorf("list missing objects in %s: %w", src.Path, err)
		}
		for _, p := range paths {
			missing = append(missing, src.Store.Abs(p))
		}
	}
	if len(missing) > 0 {
		e.logger.ErrorContext(ctx, "objects not present locally", "count", len(missing))
		return &apperrors.MissingObjectError{Paths: missing}
	}

	for _, src := range sources {
		err := walk(src.Path, func(path string, d fs.DirEntry) error {
			dst, err := destPath(destDir, src.Path, path)
			if err != nil {
				return err
			}
			return checkCollision(dst, d.IsDir())
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// checkStore verifies st is a usable annex repository. With clean, it also requires a
// clean tree on a named branch, since the run is going to commit there.
func checkStore(ctx context.Context, st *store.Store, clean bool) error {
	if err := st.CheckAnnex(); err != nil {
		return err
	}
	if !clean {
		return nil
	}

	isClean, err := st.StatusIsClean(ctx)
	if err != nil {
		return err
	}
	if !isClean {
		return apperrors.NewPreconditionError(st.Root(), "working tree has pending changes")
	}

	detached, err := st.IsDetached()
	if err != nil {
		return err
	}
	if detached {
		return apperrors.NewPreconditionError(st.Root(), "HEAD is detached")
	}
	return nil
}
