// Package apperrors provides the error taxonomy shared by the migration, cache and
// reclamation components.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is. Every typed error below unwraps to one of them.
var (
	// ErrPrecondition is returned when a store or path is not in a state that allows mutation.
	ErrPrecondition = errors.New("precondition failed")

	// ErrMissingObjects is returned when annexed content is not present locally.
	ErrMissingObjects = errors.New("annexed objects not present locally")

	// ErrCollision is returned when a destination path is already occupied.
	ErrCollision = errors.New("destination path already exists")

	// ErrChecksumMismatch is returned when copied content or key digests differ.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrProtocol is returned when a batch subprocess died or replied out of framing.
	ErrProtocol = errors.New("batch protocol error")

	// ErrSpawn is returned when a batch subprocess cannot be started.
	ErrSpawn = errors.New("cannot start batch process")

	// ErrCommandFailed is returned when a one-shot git or git-annex command exits non-zero.
	ErrCommandFailed = errors.New("command failed")

	// ErrNotEnoughArguments is returned when a CLI command misses positional arguments.
	ErrNotEnoughArguments = errors.New("not enough arguments")
)

// PreconditionError describes a store or path that cannot be migrated.
type PreconditionError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrPrecondition.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// NewPreconditionError creates a PreconditionError.
func NewPreconditionError(path, reason string) *PreconditionError {
	return &PreconditionError{Path: path, Reason: reason}
}

// MissingObjectError lists every path whose content is absent, not just the first one.
type MissingObjectError struct {
	Paths []string
}

// Error implements the error interface.
func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("%d file(s) have no local content: %s", len(e.Paths), strings.Join(e.Paths, ", "))
}

// Unwrap returns ErrMissingObjects.
func (e *MissingObjectError) Unwrap() error { return ErrMissingObjects }

// CollisionError names the occupied destination path.
type CollisionError struct {
	Path string
}

// Error implements the error interface.
func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s already exists", e.Path)
}

// Unwrap returns ErrCollision.
func (e *CollisionError) Unwrap() error { return ErrCollision }

// ChecksumError names the destination path whose content did not verify.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// ProtocolError reports a broken batch conversation.
type ProtocolError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("batch %q: protocol error", e.Command)
	}
	return fmt.Sprintf("batch %q: %v", e.Command, e.Err)
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Unwrap returns the underlying I/O error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// SpawnError reports a batch process that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %q: %v", e.Command, e.Err)
}

// Is matches ErrSpawn.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// Unwrap returns the underlying exec error.
func (e *SpawnError) Unwrap() error { return e.Err }

// CommandError reports a one-shot command that exited with a non-zero status.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap returns ErrCommandFailed.
func (e *CommandError) Unwrap() error { return ErrCommandFailed }
