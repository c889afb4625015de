package backup

import "snapback/internal/model"

// Actions recorded in the journal.
const (
	ActionTransfer = "transfer"
	ActionRestore  = "restore"
	ActionRemove   = "remove"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Journal keeps the history of per-snapshot operations.
type Journal interface {
	RecordSnapshotEvent(ev *model.SnapshotEvent) error
}

// recordEvent writes the outcome of one operation to the journal. The history is
// informational, so a journal failure is logged and otherwise ignored.
func (s *SnapshotSet) recordEvent(action string, number uint, opErr error) {
	if s.journal == nil {
		return
	}
	ev := &model.SnapshotEvent{
		BackupConfig: s.config.Name,
		Number:       number,
		Action:       action,
		Status:       StatusSuccess,
		CreatedAt:    s.clock.Now(),
	}
	if opErr != nil {
		ev.Status = StatusError
		ev.Message = opErr.Error()
	}
	if err := s.journal.RecordSnapshotEvent(ev); err != nil {
		s.logger.Warn("failed to record snapshot event", "config", s.config.Name,
			"number", number, "action", action, "error", err)
	}
}
