package app

import (
	"fmt"
	"strings"
)

// Operation statuses, as stored in the history.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// BackupOperation tracks a CLI operation that may change snapshots.
// Operations are created in memory with ID=0. Only commands that transfer,
// restore or delete snapshots persist them (giving them an ID from the database).
type BackupOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewBackupOperation creates a new in-memory backup operation.
func NewBackupOperation(operation, parameters string) *BackupOperation {
	return &BackupOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *BackupOperation) Persisted() bool {
	return op.ID != 0
}

// Finish records the outcome of the operation.
func (op *BackupOperation) Finish(err error) {
	if err != nil {
		op.Status = StatusError
	}
}

// Selection picks the backup configurations and snapshot an operation works on.
type Selection struct {
	Configs   []string // empty selects every configuration
	Automatic bool     // only configurations with automatic = true
	Number    uint     // a single snapshot; 0 runs the bulk pass
	Quiet     bool
	Verbose   bool
}

// String renders the selection for the operation history.
func (s Selection) String() string {
	var parts []string
	if len(s.Configs) > 0 {
		parts = append(parts, "configs="+strings.Join(s.Configs, ","))
	}
	if s.Automatic {
		parts = append(parts, "automatic")
	}
	if s.Number != 0 {
		parts = append(parts, fmt.Sprintf("number=%d", s.Number))
	}
	return strings.Join(parts, " ")
}
