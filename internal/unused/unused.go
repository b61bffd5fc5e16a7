package unused

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fclairamb/annexmig/internal/store"
)

// DefaultUsedRefspec is used when neither the caller nor annex.used-refspec names one.
const DefaultUsedRefspec = "+refs/heads/*:-refs/heads/synced/*"

const usedRefspecConfig = "annex.used-refspec"

// Source is the part of a store the reporter reads from.
type Source interface {
	CachePath() string
	UnusedMarkerModTime() (time.Time, bool, error)
	RefsCommittedSince(t time.Time) (bool, error)
	ConfigGet(key string) (string, bool, error)
	ScanUnused(ctx context.Context, params store.UnusedParams) (string, error)
	HistorySearch(ctx context.Context, key string) ([]store.Commit, error)
}

// Reporter serves the unused report of one store, reusing a persisted snapshot while it is valid.
// It is not safe for concurrent use.
type Reporter struct {
	source Source
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time

	snapshot *Snapshot
	loaded   bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets a custom logger for the reporter.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = l
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// NewReporter returns a reporter for source, persisting under source.CachePath().
func NewReporter(source Source, opts ...Option) *Reporter {
	r := &Reporter{
		source: source,
		cache:  NewCache(source.CachePath()),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveParams fills UsedRefspec from configuration, then from DefaultUsedRefspec.
func (r *Reporter) ResolveParams(params store.UnusedParams) (store.UnusedParams, error) {
	if params.UsedRefspec != "" {
		return params, nil
	}

	value, ok, err := r.source.ConfigGet(usedRefspecConfig)
	if err != nil {
		return params, fmt.Errorf("read %s: %w", usedRefspecConfig, err)
	}
	if ok && value != "" {
		params.UsedRefspec = value
	} else {
		params.UsedRefspec = DefaultUsedRefspec
	}
	return params, nil
}

// GetUnused returns the unused entries for params, scanning only when no valid snapshot exists.
// With withLog, entries that are neither bad nor tmp get their history attached; histories
// already present are kept.
func (r *Reporter) GetUnused(ctx context.Context, params store.UnusedParams, withLog bool) ([]Entry, error) {
	params, err := r.ResolveParams(params)
	if err != nil {
		return nil, err
	}

	if !r.loaded {
		snap, err := r.cache.Load()
		if err != nil {
			r.logger.WarnContext(ctx, "removing unreadable unused cache", "path", r.cache.Path(), "error", err)
			if err := r.cache.Remove(); err != nil {
				return nil, err
			}
			snap = nil
		}
		r.snapshot = snap
		r.loaded = true
	}

	if r.snapshot != nil {
		reason, err := r.staleReason(r.snapshot, params)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			r.logger.InfoContext(ctx, "unused cache is stale", "reason", reason)
			if err := r.Invalidate(); err != nil {
				return nil, err
			}
		} else {
			r.logger.DebugContext(ctx, "reusing unused cache", "timestamp", r.snapshot.Timestamp, "entries", len(r.snapshot.Entries))
		}
	}

	if r.snapshot == nil {
		if err := r.scan(ctx, params); err != nil {
			return nil, err
		}
	}

	if withLog {
		changed, err := r.annotate(ctx)
		if err != nil {
			return nil, err
		}
		if changed {
			if err := r.cache.Save(r.snapshot); err != nil {
				return nil, err
			}
		}
	}

	return cloneEntries(r.snapshot.Entries), nil
}

func (r *Reporter) scan(ctx context.Context, params store.UnusedParams) error {
	report, err := r.source.ScanUnused(ctx, params)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		Timestamp: time.Unix(r.now().Unix(), 0),
		Params:    params,
		Entries:   ParseReport(report),
	}
	if snap.Entries == nil {
		snap.Entries = []Entry{}
	}

	r.logger.InfoContext(ctx, "unused scan complete", "entries", len(snap.Entries))

	if err := r.cache.Save(snap); err != nil {
		return err
	}
	r.snapshot = snap
	return nil
}

// annotate attaches history to plain entries that have none yet.
func (r *Reporter) annotate(ctx context.Context) (bool, error) {
	changed := false
	for i := range r.snapshot.Entries {
		entry := &r.snapshot.Entries[i]
		if !entry.Plain() || entry.HasLog() {
			continue
		}

		commits, err := r.source.HistorySearch(ctx, entry.Key)
		if err != nil {
			return changed, fmt.Errorf("history of %s: %w", entry.Key, err)
		}

		lines := []string{}
		for _, c := range commits {
			lines = append(lines, c.Lines...)
		}
		entry.LogLines = lines
		changed = true
	}
	return changed, nil
}

// staleReason returns why snap cannot serve params, or "" if it can.
func (r *Reporter) staleReason(snap *Snapshot, params store.UnusedParams) (string, error) {
	markerMod, markerOK, err := r.source.UnusedMarkerModTime()
	if err != nil {
		return "", err
	}
	if !MarkerValid(snap, markerMod, markerOK) {
		return "unused marker changed since the snapshot", nil
	}

	if !ParamsMatch(snap, params) {
		return "parameters differ from the snapshot", nil
	}

	committed, err := r.source.RefsCommittedSince(snap.Timestamp)
	if err != nil {
		return "", err
	}
	if committed {
		return "refs committed since the snapshot", nil
	}
	return "", nil
}

// MarkerValid reports whether git-annex's unused marker is no newer than the snapshot.
// A missing marker has not been modified, so it does not invalidate.
func MarkerValid(snap *Snapshot, markerMod time.Time, markerExists bool) bool {
	if !markerExists {
		return true
	}
	return markerMod.Unix() <= snap.Timestamp.Unix()
}

// ParamsMatch reports whether the snapshot was computed for params.
func ParamsMatch(snap *Snapshot, params store.UnusedParams) bool {
	return snap.Params == params
}

// Invalidate drops the in-memory snapshot and deletes the persisted one.
func (r *Reporter) Invalidate() error {
	r.snapshot = nil
	r.loaded = true
	return r.cache.Remove()
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.LogLines != nil {
			out[i].LogLines = append([]string{}, e.LogLines...)
		}
	}
	return out
}
