package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

// Messages git prints on stderr when it gave up on rename detection.
var renameLimitHints = []string{
	"rename detection was skipped",
	"you may want to set your diff.renameLimit",
}

// UnusedParams selects which unused report git-annex computes.
type UnusedParams struct {
	From        string `json:"from"`
	UsedRefspec string `json:"used_refspec"`
}

// run executes one git subcommand in the worktree root and captures both streams.
// A non-zero exit status is returned as *apperrors.CommandError along with the output.
func (s *Store) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	var outBuf, errBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, s.gitBinary, args...) //nolint:gosec // arguments are built from a fixed op set
	cmd.Dir = s.root
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	s.logger.DebugContext(ctx, "running git", "args", args)

	runErr := cmd.Run()
	if runErr == nil {
		return outBuf.Bytes(), errBuf.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return outBuf.Bytes(), errBuf.Bytes(), &apperrors.CommandError{
			Args:     append([]string{s.gitBinary}, args...),
			ExitCode: exitErr.ExitCode(),
			Stderr:   errBuf.String(),
		}
	}
	return nil, nil, fmt.Errorf("run %s %s: %w", s.gitBinary, strings.Join(args, " "), runErr)
}

// output runs a subcommand and returns its trimmed standard output.
func (s *Store) output(ctx context.Context, args ...string) (string, error) {
	stdout, _, err := s.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(stdout), "\n"), nil
}

// AddPath annexes a root-relative path and returns the key it was stored under.
// annex.largefiles is ignored: the path always becomes a managed object.
func (s *Store) AddPath(ctx context.Context, rel string) (string, error) {
	if _, err := s.output(ctx, "annex", "add", "--force-large", "--quiet", "--", rel); err != nil {
		return "", fmt.Errorf("annex add %s: %w", rel, err)
	}

	key, err := s.output(ctx, "annex", "lookupkey", "--", rel)
	if err != nil {
		return "", fmt.Errorf("lookup key %s: %w", rel, err)
	}
	if key == "" {
		return "", fmt.Errorf("annex add %s: %w", rel, apperrors.ErrCommandFailed)
	}
	return key, nil
}

// AddPlain stages a root-relative path as an ordinary git file, bypassing annex.largefiles.
func (s *Store) AddPlain(ctx context.Context, rel string) error {
	if _, err := s.output(ctx, "annex", "add", "--force-small", "--quiet", "--", rel); err != nil {
		return fmt.Errorf("add %s: %w", rel, err)
	}
	return nil
}

// ObjectPath returns where key's content lives, or would live, in this store's object storage.
func (s *Store) ObjectPath(ctx context.Context, key string) (string, error) {
	rel, err := s.output(ctx, "annex", "examinekey", "--format=${hashdirmixed}${key}/${key}\\n", key)
	if err != nil {
		return "", fmt.Errorf("annex examinekey %s: %w", key, err)
	}
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("annex examinekey %s: %w", key, apperrors.ErrCommandFailed)
	}
	return filepath.Join(s.gitDir, annexDir, objectsDir, rel), nil
}

// SetUnlocked switches an annexed path to the unlocked presentation.
func (s *Store) SetUnlocked(ctx context.Context, rel string) error {
	if _, err := s.output(ctx, "annex", "unlock", "--quiet", "--", rel); err != nil {
		return fmt.Errorf("annex unlock %s: %w", rel, err)
	}
	return nil
}

// RemovePath removes a root-relative path from the index and the working tree.
func (s *Store) RemovePath(ctx context.Context, rel string) error {
	if _, err := s.output(ctx, "rm", "--quiet", "--ignore-unmatch", "--", rel); err != nil {
		return fmt.Errorf("git rm %s: %w", rel, err)
	}

	// Untracked files are left behind by git rm.
	if err := os.Remove(s.Abs(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// StatusIsClean reports whether the index and tracked files have no pending changes.
func (s *Store) StatusIsClean(ctx context.Context) (bool, error) {
	out, err := s.output(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// ListMissingObjects returns the annexed files under paths whose content is not present here.
func (s *Store) ListMissingObjects(ctx context.Context, paths []string) ([]string, error) {
	args := append([]string{"annex", "find", "--not", "--in=here", "--"}, paths...)
	out, err := s.output(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("annex find: %w", err)
	}
	return splitLines(out), nil
}

// ScanUnused runs git-annex's unused scan and returns its raw report.
func (s *Store) ScanUnused(ctx context.Context, params UnusedParams) (string, error) {
	args := []string{"annex", "unused"}
	if params.From != "" {
		args = append(args, "--from="+params.From)
	}
	if params.UsedRefspec != "" {
		args = append(args, "--used-refspec="+params.UsedRefspec)
	}

	s.logger.InfoContext(ctx, "scanning for unused objects", "from", params.From, "used_refspec", params.UsedRefspec)

	out, err := s.output(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("annex unused: %w", err)
	}
	return out, nil
}

// ForcePurge drops the given unused numbers without checking numcopies.
func (s *Store) ForcePurge(ctx context.Context, numbers []int) error {
	return s.dropUnused(ctx, numbers, true)
}

// Purge drops the given unused numbers, letting git-annex enforce numcopies.
func (s *Store) Purge(ctx context.Context, numbers []int) error {
	return s.dropUnused(ctx, numbers, false)
}

func (s *Store) dropUnused(ctx context.Context, numbers []int, force bool) error {
	if len(numbers) == 0 {
		return nil
	}

	args := []string{"annex", "dropunused"}
	if force {
		args = append(args, "--force")
	}
	for _, n := range numbers {
		args = append(args, strconv.Itoa(n))
	}

	s.logger.InfoContext(ctx, "dropping unused objects", "count", len(numbers), "force", force)

	if _, err := s.output(ctx, args...); err != nil {
		return fmt.Errorf("annex dropunused: %w", err)
	}
	return nil
}

// HistorySearch returns the commits, newest first, whose diff adds or removes key.
// When git reports it skipped rename detection the search is repeated with a wider limit.
func (s *Store) HistorySearch(ctx context.Context, key string) ([]Commit, error) {
	args := []string{"log", "--stat", "--no-textconv", "--no-color", "--no-decorate", "-S" + key}

	stdout, stderr, err := s.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git log -S %s: %w", key, err)
	}

	if needsRenameLimit(string(stderr)) {
		s.logger.DebugContext(ctx, "widening rename limit", "key", key, "limit", s.renameLimit)
		widened := append([]string{"log", "-l" + strconv.Itoa(s.renameLimit)}, args[1:]...)
		stdout, _, err = s.run(ctx, widened...)
		if err != nil {
			return nil, fmt.Errorf("git log -S %s: %w", key, err)
		}
	}

	return ParseLog(string(stdout)), nil
}

func needsRenameLimit(stderr string) bool {
	for _, hint := range renameLimitHints {
		if strings.Contains(stderr, hint) {
			return true
		}
	}
	return false
}

// ContentPaths resolves keys to the absolute paths of their local content, in order.
// Keys without local content map to "".
func (s *Store) ContentPaths(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	batch, err := s.OpenBatch(ctx, BatchContentLocation)
	if err != nil {
		return nil, err
	}
	defer func() { _ = batch.Close() }()

	replies, err := batch.QueryMany(keys)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(replies))
	for i, reply := range replies {
		if reply != "" {
			paths[i] = s.Abs(reply)
		}
	}
	return paths, nil
}

func splitLines(out string) []string {
	var lines []string
	for line := range strings.SplitSeq(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
