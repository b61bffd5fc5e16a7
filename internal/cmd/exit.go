package cmd

import (
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

// Process exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrecondition = 2
	exitMissing      = 3
	exitCollision    = 4
	exitChecksum     = 5
	exitUnusedFound  = 10
)

// ExitCode maps an error returned by the application to a process exit code.
func ExitCode(err error) int {
	var exitCoder cli.ExitCoder

	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exitCoder):
		return exitCoder.ExitCode()
	case errors.Is(err, apperrors.ErrPrecondition), errors.Is(err, apperrors.ErrNotEnoughArguments):
		return exitPrecondition
	case errors.Is(err, apperrors.ErrMissingObjects):
		return exitMissing
	case errors.Is(err, apperrors.ErrCollision):
		return exitCollision
	case errors.Is(err, apperrors.ErrChecksumMismatch):
		return exitChecksum
	default:
		return exitFailure
	}
}
