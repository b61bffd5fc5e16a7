// Package reclaim drops unused objects left behind in a source repository by a migration,
// as long as the destination still holds a hard link to the same content.
package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fclairamb/annexmig/internal/migrate"
	"github.com/fclairamb/annexmig/internal/store"
	"github.com/fclairamb/annexmig/internal/unused"
)

// Store is the part of a repository the reclaimer needs.
type Store interface {
	ContentPaths(ctx context.Context, keys []string) ([]string, error)
	HistorySearch(ctx context.Context, key string) ([]store.Commit, error)
	ForcePurge(ctx context.Context, numbers []int) error
}

// Lister provides the unused report and forgets it once numbers have been dropped.
type Lister interface {
	GetUnused(ctx context.Context, params store.UnusedParams, withLog bool) ([]unused.Entry, error)
	Invalidate() error
}

// Candidate is an unused entry together with the facts the decision was based on.
type Candidate struct {
	Entry       unused.Entry
	ContentPath string
	LinkCount   uint64
	Migrated    bool
	Purgeable   bool
}

// Result describes a reclamation run.
type Result struct {
	Candidates []Candidate
	Purged     []int
	DryRun     bool
}

// Reclaimer decides which unused objects are safe to drop.
type Reclaimer struct {
	store  Store
	lister Lister
	tag    string
	dryRun bool
	logger *slog.Logger
}

// Option configures the reclaimer.
type Option func(*Reclaimer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reclaimer) {
		r.logger = l
	}
}

// WithDryRun reports purgeable numbers without dropping anything.
func WithDryRun(dryRun bool) Option {
	return func(r *Reclaimer) {
		r.dryRun = dryRun
	}
}

// WithTag overrides the commit message tag identifying migration commits.
func WithTag(tag string) Option {
	return func(r *Reclaimer) {
		if tag != "" {
			r.tag = tag
		}
	}
}

// New creates a reclaimer.
func New(st Store, lister Lister, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		store:  st,
		lister: lister,
		tag:    migrate.CommitTag,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reclaim drops every unused object whose last commit was a migration and whose content
// is still hard-linked elsewhere. An object holding its only link is never dropped.
func (r *Reclaimer) Reclaim(ctx context.Context) (*Result, error) {
	r.logger.InfoContext(ctx, "starting reclamation", "dry_run", r.dryRun)

	entries, err := r.lister.GetUnused(ctx, store.UnusedParams{}, false)
	if err != nil {
		return nil, fmt.Errorf("get unused: %w", err)
	}

	var plain []unused.Entry
	for _, e := range entries {
		if e.Plain() {
			plain = append(plain, e)
		}
	}

	result := &Result{DryRun: r.dryRun}
	if len(plain) == 0 {
		r.logger.InfoContext(ctx, "no unused objects to consider")
		return result, nil
	}

	keys := make([]string, len(plain))
	for i, e := range plain {
		keys[i] = e.Key
	}
	paths, err := r.store.ContentPaths(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("resolve content paths: %w", err)
	}

	for i, e := range plain {
		candidate, err := r.inspect(ctx, e, paths[i])
		if err != nil {
			return nil, err
		}
		result.Candidates = append(result.Candidates, candidate)
		if candidate.Purgeable {
			result.Purged = append(result.Purged, e.Number)
		}
	}

	r.logger.InfoContext(ctx, "reclamation decided",
		"candidates", len(result.Candidates),
		"purgeable", len(result.Purged))

	if len(result.Purged) == 0 || r.dryRun {
		return result, nil
	}

	if err := r.store.ForcePurge(ctx, result.Purged); err != nil {
		return nil, err
	}
	if err := r.lister.Invalidate(); err != nil {
		return result, fmt.Errorf("invalidate unused cache: %w", err)
	}
	return result, nil
}

func (r *Reclaimer) inspect(ctx context.Context, e unused.Entry, contentPath string) (Candidate, error) {
	candidate := Candidate{Entry: e, ContentPath: contentPath}

	if contentPath != "" {
		n, err := migrate.LinkCount(contentPath)
		if err != nil {
			return candidate, err
		}
		candidate.LinkCount = n
	}

	commits, err := r.store.HistorySearch(ctx, e.Key)
	if err != nil {
		return candidate, fmt.Errorf("history of %s: %w", e.Key, err)
	}
	candidate.Migrated = len(commits) > 0 && strings.Contains(commits[0].Message, r.tag)
	candidate.Purgeable = candidate.Migrated && candidate.LinkCount > 1

	switch {
	case candidate.Purgeable:
		r.logger.DebugContext(ctx, "purgeable", "number", e.Number, "key", e.Key, "links", candidate.LinkCount)
	case candidate.Migrated:
		r.logger.WarnContext(ctx, "migrated object holds its only link, keeping it",
			"number", e.Number,
			"key", e.Key,
			"links", candidate.LinkCount)
	}
	return candidate, nil
}
