package model

import "time"

// Operation is one snapback invocation that may change snapshots.
type Operation struct {
	ID         int64
	Operation  string // CLI command, e.g. "transfer"
	Parameters string // selected backup configs and snapshot number, for humans
	StartedAt  time.Time
	FinishedAt *time.Time // nil while running or if the process died
	Status     string     // "running", "success" or "error"
}

// SnapshotEvent records the outcome of one transfer, restore or remove of a snapshot.
type SnapshotEvent struct {
	ID           int64
	OperationID  int64 // 0 when not tied to an operation
	BackupConfig string
	Number       uint
	Action       string // "transfer", "restore" or "remove"
	Status       string // "success" or "error"
	Message      string // error text for failed events
	CreatedAt    time.Time
}
