// Package errkind defines the closed set of error categories a peer or
// database operation can fail with, and the exit codes the operator CLI
// maps them onto.
package errkind

import "github.com/cockroachdb/errors"

// The sentinels below are the closed set of error categories from spec.md
// section 9. Sentinel values are compared with errors.Is after cockroachdb/errors
// wrapping.
var (
	ErrOutOfMemory   = errors.New("errkind: out of memory")
	ErrBadObject     = errors.New("errkind: bad object")
	ErrBadArgument   = errors.New("errkind: bad argument")
	ErrDataNotFound  = errors.New("errkind: data not found")
	ErrUnimplemented = errors.New("errkind: unimplemented")
	ErrTimedOut      = errors.New("errkind: timed out")
	ErrIO            = errors.New("errkind: io error")
	ErrDiverged      = errors.New("errkind: diverged")
)

// ExitCode maps an error, as classified by errors.Is against the sentinels
// above, onto the operator CLI's process exit code. Unclassified errors
// (including nil) map to 0 or 1 as noted.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrBadArgument):
		return 2
	case errors.Is(err, ErrTimedOut):
		return 3
	case errors.Is(err, ErrDiverged):
		return 4
	default:
		return 1
	}
}
