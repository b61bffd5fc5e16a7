package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

// BatchKind is one of the git-annex queries that can run as a long-lived batch process.
type BatchKind int

const (
	// BatchLookupKey maps a worktree path to its key, or "" when the path is not annexed.
	BatchLookupKey BatchKind = iota
	// BatchContentLocation maps a key to its object path relative to the root, or "" when absent.
	BatchContentLocation
	// BatchFindUnlocked echoes a worktree path when it is unlocked, or "" otherwise.
	BatchFindUnlocked
)

// String returns the subcommand name.
func (k BatchKind) String() string {
	switch k {
	case BatchLookupKey:
		return "lookupkey"
	case BatchContentLocation:
		return "contentlocation"
	case BatchFindUnlocked:
		return "find --unlocked"
	default:
		return fmt.Sprintf("batch(%d)", int(k))
	}
}

func (k BatchKind) args() []string {
	switch k {
	case BatchLookupKey:
		return []string{"annex", "lookupkey", "--batch"}
	case BatchContentLocation:
		return []string{"annex", "contentlocation", "--batch"}
	case BatchFindUnlocked:
		return []string{"annex", "find", "--unlocked", "--batch"}
	default:
		return nil
	}
}

// OpenBatch starts a batch process of the given kind in the store's root.
func (s *Store) OpenBatch(ctx context.Context, kind BatchKind) (*Batch, error) {
	args := kind.args()
	if args == nil {
		return nil, fmt.Errorf("%w: unknown batch kind %d", apperrors.ErrSpawn, int(kind))
	}
	return NewBatch(ctx, s.root, s.gitBinary, args, s.logger)
}

// Batch is a request/response conversation with one subprocess: every line written to its
// input yields exactly one line on its output, in order.
//
// A Batch is not safe for concurrent use; two Batches are independent.
type Batch struct {
	dir    string
	name   string
	args   []string
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewBatch starts name with args in dir. The process is killed when ctx is canceled.
func NewBatch(ctx context.Context, dir, name string, args []string, logger *slog.Logger) (*Batch, error) {
	if logger == nil {
		logger = slog.Default()
	}

	batch := &Batch{
		dir:    dir,
		name:   name,
		args:   append([]string(nil), args...),
		logger: logger,
	}

	if err := batch.start(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// Command returns the command line the batch runs.
func (b *Batch) Command() string {
	return strings.Join(append([]string{b.name}, b.args...), " ")
}

func (b *Batch) start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.name, b.args...) //nolint:gosec // arguments come from BatchKind
	cmd.Dir = b.dir
	cmd.Stderr = &stderrLogger{logger: b.logger, command: b.Command()}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &apperrors.SpawnError{Command: b.Command(), Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &apperrors.SpawnError{Command: b.Command(), Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &apperrors.SpawnError{Command: b.Command(), Err: err}
	}

	b.cmd = cmd
	b.stdin = stdin
	b.stdout = bufio.NewReader(stdout)

	b.logger.DebugContext(ctx, "batch started", "command", b.Command(), "pid", cmd.Process.Pid)
	return nil
}

// Query sends one line and returns the single line replied to it.
func (b *Batch) Query(line string) (string, error) {
	if b.cmd == nil {
		return "", &apperrors.ProtocolError{Command: b.Command(), Err: errors.New("batch is closed")}
	}
	if strings.ContainsAny(line, "\r\n") {
		return "", &apperrors.ProtocolError{Command: b.Command(), Err: fmt.Errorf("request %q spans lines", line)}
	}

	if _, err := io.WriteString(b.stdin, line+"\n"); err != nil {
		return "", &apperrors.ProtocolError{Command: b.Command(), Err: fmt.Errorf("write request: %w", err)}
	}

	reply, err := b.stdout.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("process exited before replying")
		}
		return "", &apperrors.ProtocolError{Command: b.Command(), Err: err}
	}

	return strings.TrimSuffix(reply, "\n"), nil
}

// QueryMany sends lines one at a time and returns the replies in the same order.
func (b *Batch) QueryMany(lines []string) ([]string, error) {
	replies := make([]string, 0, len(lines))
	for _, line := range lines {
		reply, err := b.Query(line)
		if err != nil {
			return replies, err
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Restart kills the process and starts a fresh one with the same command line.
// It is needed after anything that moves the branch a running batch may have cached.
func (b *Batch) Restart(ctx context.Context) error {
	if err := b.Close(); err != nil {
		b.logger.DebugContext(ctx, "batch close before restart", "command", b.Command(), "error", err)
	}
	return b.start(ctx)
}

// Close kills the process and reaps it. Closing a closed Batch is a no-op.
func (b *Batch) Close() error {
	if b.cmd == nil {
		return nil
	}

	cmd := b.cmd
	b.cmd = nil

	_ = b.stdin.Close()
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", b.Command(), err)
	}

	// Wait reports the kill signal; only the reaping matters here.
	_ = cmd.Wait()

	b.logger.Debug("batch closed", "command", b.Command())
	return nil
}

// stderrLogger forwards a batch process's diagnostics to the logger, one record per line.
type stderrLogger struct {
	logger  *slog.Logger
	command string
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("batch stderr", "command", w.command, "line", line)
		}
	}
	return len(p), nil
}
