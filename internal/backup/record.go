package backup

import (
	"context"
	"fmt"
	"path"
	"time"

	"snapback/internal/btrfs"
	"snapback/internal/snapper"
)

// SourceState describes a snapshot on the source.
type SourceState int

const (
	SourceMissing SourceState = iota
	SourceReadOnly
	SourceReadWrite
)

func (s SourceState) String() string {
	switch s {
	case SourceMissing:
		return "missing"
	case SourceReadOnly:
		return "read-only"
	case SourceReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("SourceState(%d)", int(s))
	}
}

// TargetState describes the copy of a snapshot on the target.
type TargetState int

const (
	TargetMissing TargetState = iota
	// TargetValid is a read-only copy received from this snapshot.
	TargetValid
	// TargetInvalid is a copy that cannot be trusted: not read-only (an interrupted
	// receive) or received from a different subvolume (a reused number).
	TargetInvalid
)

func (s TargetState) String() string {
	switch s {
	case TargetMissing:
		return "missing"
	case TargetValid:
		return "valid"
	case TargetInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("TargetState(%d)", int(s))
	}
}

// Identity is the btrfs identity of one copy of a snapshot.
type Identity struct {
	UUID         string
	ParentUUID   string
	ReceivedUUID string
	CreationTime time.Time
}

func identityOf(sv *btrfs.Subvolume) Identity {
	return Identity{
		UUID:         sv.UUID,
		ParentUUID:   sv.ParentUUID,
		ReceivedUUID: sv.ReceivedUUID,
		CreationTime: sv.CreationTime,
	}
}

// SnapshotRecord is the merged source and target state of one snapshot number.
type SnapshotRecord struct {
	Number      uint
	Date        time.Time // zero for snapshots only found on the target
	SourceState SourceState
	TargetState TargetState
	Source      Identity
	Target      Identity
}

// Transfer copies the snapshot from the source to the target, incrementally when a
// snapshot already present on both sides is close by in the source lineage.
func (r *SnapshotRecord) Transfer(ctx context.Context, s *SnapshotSet, quiet bool) error {
	if r.SourceState == SourceMissing {
		return fmt.Errorf("snapshot %d: %w", r.Number, ErrNotOnSource)
	}
	if r.TargetState != TargetMissing {
		return fmt.Errorf("snapshot %d: %w", r.Number, ErrAlreadyOnTarget)
	}

	if !quiet {
		s.printf("Transferring snapshot %d.\n", r.Number)
	}
	src, dst := r.makeCopySpecs(s, SourceToTarget)
	err := s.copy(ctx, src, dst)
	s.recordEvent(ActionTransfer, r.Number, err)
	if err != nil {
		return fmt.Errorf("transferring snapshot %d: %w", r.Number, err)
	}

	r.TargetState = TargetValid
	return nil
}

// Restore copies the snapshot from the target back to the source.
func (r *SnapshotRecord) Restore(ctx context.Context, s *SnapshotSet, quiet bool) error {
	if r.TargetState != TargetValid {
		return fmt.Errorf("snapshot %d: %w", r.Number, ErrNotOnTarget)
	}
	if r.SourceState != SourceMissing {
		return fmt.Errorf("snapshot %d: %w", r.Number, ErrAlreadyOnSource)
	}

	if !quiet {
		s.printf("Restoring snapshot %d.\n", r.Number)
	}
	src, dst := r.makeCopySpecs(s, TargetToSource)
	err := s.copy(ctx, src, dst)
	s.recordEvent(ActionRestore, r.Number, err)
	if err != nil {
		return fmt.Errorf("restoring snapshot %d: %w", r.Number, err)
	}

	r.SourceState = SourceReadOnly
	return nil
}

// Remove deletes the copy of the snapshot on the target. The source is never touched.
func (r *SnapshotRecord) Remove(ctx context.Context, s *SnapshotSet, quiet bool) error {
	if r.TargetState == TargetMissing {
		return fmt.Errorf("snapshot %d: %w", r.Number, ErrNotOnTarget)
	}

	if !quiet {
		s.printf("Deleting snapshot %d from target.\n", r.Number)
	}
	err := s.removeTarget(ctx, targetEndpoint(s.config, r.Number))
	s.recordEvent(ActionRemove, r.Number, err)
	if err != nil {
		return fmt.Errorf("deleting snapshot %d: %w", r.Number, err)
	}

	r.TargetState = TargetMissing
	r.Target = Identity{}
	return nil
}

func (s *SnapshotSet) removeTarget(ctx context.Context, target CopySpec) error {
	tool := btrfs.NewTool(s.exec, target.Shell, target.Bins.Btrfs)
	steps := []struct {
		op   string
		argv []string
	}{
		{"btrfs subvolume delete", tool.DeleteCommand(target.SubvolumePath())},
		{"rm info.xml", []string{target.Bins.Rm, "--", target.InfoPath()}},
		{"rmdir", []string{target.Bins.Rmdir, "--", target.SnapshotDir}},
	}
	for _, step := range steps {
		if err := s.run(ctx, target.Shell, step.op, step.argv); err != nil {
			return err
		}
	}
	return nil
}

// makeCopySpecs resolves both endpoints for copying this snapshot in direction d,
// including the delta parent: the nearest snapshot in the copy source's lineage
// that both sides already hold.
func (r *SnapshotRecord) makeCopySpecs(s *SnapshotSet, d Direction) (src, dst CopySpec) {
	src, dst = copySpecs(s.config, d, r.Number)

	var parent *SnapshotRecord
	var distance int
	var found bool
	var err error
	switch d {
	case SourceToTarget:
		parent, distance, found, err = nearestValid(s.sourceTree, r.Source.UUID)
	case TargetToSource:
		parent, distance, found, err = nearestValid(s.targetTree, r.Target.UUID)
	}

	switch {
	case err != nil:
		s.logger.Debug("snapshot not in lineage tree, sending in full", "number", r.Number, "direction", d, "error", err)
	case !found:
		s.logger.Debug("no delta parent, sending in full", "number", r.Number, "direction", d)
	default:
		src.ParentDir = snapshotDir(s.config, d.From(), parent.Number)
		s.logger.Debug("delta parent resolved", "number", r.Number, "direction", d,
			"parent", parent.Number, "distance", distance)
	}
	return src, dst
}

// SourceSnapshotDir returns the directory snapper keeps snapshot n in below sourcePath.
func SourceSnapshotDir(sourcePath string, n uint) string {
	return path.Join(sourcePath, snapper.SnapshotsDir, fmt.Sprint(n))
}

// TargetSnapshotDir returns the directory holding the copy of snapshot n below targetPath.
func TargetSnapshotDir(targetPath string, n uint) string {
	return path.Join(targetPath, fmt.Sprint(n))
}
