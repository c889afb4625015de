package backup

import (
	"errors"
	"fmt"
	"strings"

	"snapback/internal/shell"
)

// State violations returned by the per-snapshot operations.
var (
	ErrNotOnSource      = errors.New("snapshot not on source")
	ErrAlreadyOnTarget  = errors.New("snapshot already on target")
	ErrNotOnTarget      = errors.New("snapshot not on target")
	ErrAlreadyOnSource  = errors.New("snapshot already on source")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ErrConfigMismatch is returned by New when the backup config's source path is not
// the subvolume its snapper config manages.
var ErrConfigMismatch = errors.New("source path does not match snapper subvolume")

// CommandError reports an external command that could not be started or exited non-zero.
type CommandError struct {
	Op     string
	Shell  shell.Shell
	Result shell.Result
	Err    error // set when the command could not be run at all
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("'%s' failed", e.Op)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		return fmt.Sprintf("%s on %s (exit %d): %s", msg, e.Shell, e.Result.ExitCode, stderr)
	}
	return fmt.Sprintf("%s on %s (exit %d)", msg, e.Shell, e.Result.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
