package backup

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"snapback/internal/btrfs"
	"snapback/internal/config"
	"snapback/internal/shell"
	"snapback/internal/snapper"
	"snapback/internal/tree"
)

// SnapshotSource lists the snapshots of the source subvolume. *snapper.Config implements it.
type SnapshotSource interface {
	SubvolumePath() string
	Snapshots() ([]snapper.Snapshot, error)
}

// Deps are the collaborators of a SnapshotSet.
type Deps struct {
	Snapshots SnapshotSource
	Exec      shell.Executor
	Logger    Logger  // nil discards log output
	Journal   Journal // nil disables the history
	Clock     Clock   // nil uses RealClock
	Out       io.Writer
}

// SnapshotSet holds every snapshot of one backup configuration, on either side.
//
// A SnapshotSet is built for one run and is not safe for concurrent use.
type SnapshotSet struct {
	config  *config.BackupConfig
	exec    shell.Executor
	logger  Logger
	journal Journal
	clock   Clock
	out     io.Writer

	records    []*SnapshotRecord
	byNumber   map[uint]*SnapshotRecord
	sourceTree *tree.Tree[sourceNode]
	targetTree *tree.Tree[targetNode]
}

// New probes the source and the target of cfg and builds the snapshot lineage trees.
func New(ctx context.Context, cfg *config.BackupConfig, deps Deps) (*SnapshotSet, error) {
	if deps.Snapshots == nil || deps.Exec == nil {
		return nil, fmt.Errorf("backup config %q: snapshot source and executor are required", cfg.Name)
	}
	if filepath.Clean(cfg.SourcePath) != filepath.Clean(deps.Snapshots.SubvolumePath()) {
		return nil, fmt.Errorf("backup config %q: source-path %s, snapper config %q manages %s: %w",
			cfg.Name, cfg.SourcePath, cfg.Config, deps.Snapshots.SubvolumePath(), ErrConfigMismatch)
	}

	s := &SnapshotSet{
		config:   cfg,
		exec:     deps.Exec,
		logger:   deps.Logger,
		journal:  deps.Journal,
		clock:    deps.Clock,
		out:      deps.Out,
		byNumber: make(map[uint]*SnapshotRecord),
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.out == nil {
		s.out = io.Discard
	}

	if err := s.probeSource(ctx, deps.Snapshots); err != nil {
		return nil, err
	}
	if err := s.probeTarget(ctx); err != nil {
		return nil, err
	}

	sort.Slice(s.records, func(i, j int) bool { return s.records[i].Number < s.records[j].Number })

	var err error
	if s.sourceTree, err = tree.Build(sourceNodes(s.records)); err != nil {
		return nil, fmt.Errorf("building source tree: %w", err)
	}
	if s.targetTree, err = tree.Build(targetNodes(s.records)); err != nil {
		return nil, fmt.Errorf("building target tree: %w", err)
	}

	s.logger.Info("snapshot set loaded", "config", cfg.Name, "records", len(s.records))
	return s, nil
}

func (s *SnapshotSet) probeSource(ctx context.Context, src SnapshotSource) error {
	snaps, err := src.Snapshots()
	if err != nil {
		return fmt.Errorf("listing snapshots of %q: %w", s.config.Config, err)
	}

	tool := btrfs.NewTool(s.exec, shell.Local(), "")
	for _, snap := range snaps {
		if snap.Number == 0 {
			continue
		}
		spec := sourceEndpoint(s.config, snap.Number)
		sv, err := tool.Show(ctx, spec.SubvolumePath())
		if err != nil {
			return fmt.Errorf("probing source snapshot %d: %w", snap.Number, err)
		}

		r := &SnapshotRecord{
			Number:      snap.Number,
			Date:        snap.Date,
			SourceState: SourceReadWrite,
			TargetState: TargetMissing,
			Source:      identityOf(sv),
		}
		if sv.ReadOnly {
			r.SourceState = SourceReadOnly
		}
		s.add(r)
	}
	return nil
}

func (s *SnapshotSet) probeTarget(ctx context.Context) error {
	base := targetEndpoint(s.config, 0)
	names, err := btrfs.List(ctx, s.exec, base.Shell, base.Bins.Ls, s.config.TargetPath)
	if err != nil {
		return fmt.Errorf("listing target %s: %w", s.config.TargetPath, err)
	}

	tool := btrfs.NewTool(s.exec, base.Shell, base.Bins.Btrfs)
	for _, name := range names {
		n, err := strconv.ParseUint(name, 10, 32)
		if err != nil || strconv.FormatUint(n, 10) != name {
			return fmt.Errorf("unexpected entry %q in target %s", name, s.config.TargetPath)
		}
		number := uint(n)

		spec := targetEndpoint(s.config, number)
		sv, err := tool.Show(ctx, spec.SubvolumePath())
		if err != nil {
			s.logger.Warn("skipping target snapshot", "config", s.config.Name, "number", number, "error", err)
			continue
		}

		r, ok := s.byNumber[number]
		if !ok {
			r = &SnapshotRecord{Number: number, SourceState: SourceMissing}
			s.add(r)
		}
		r.Target = identityOf(sv)

		if sv.ReadOnly && receivedFrom(sv, r) {
			r.TargetState = TargetValid
		} else {
			r.TargetState = TargetInvalid
			s.logger.Info("target copy is invalid", "config", s.config.Name, "number", number,
				"read_only", sv.ReadOnly, "received_uuid", sv.ReceivedUUID, "source_uuid", r.Source.UUID)
		}
	}
	return nil
}

// receivedFrom reports whether the target copy sv was received from r's source
// snapshot, directly or, after a restore, from the same original. Without a source
// snapshot there is nothing to contradict the copy.
func receivedFrom(sv *btrfs.Subvolume, r *SnapshotRecord) bool {
	if r.SourceState == SourceMissing {
		return true
	}
	if sv.ReceivedUUID == "" {
		return false
	}
	return sv.ReceivedUUID == r.Source.UUID || sv.ReceivedUUID == r.Source.ReceivedUUID
}

func (s *SnapshotSet) add(r *SnapshotRecord) {
	s.records = append(s.records, r)
	s.byNumber[r.Number] = r
}

// Config returns the backup configuration the set was built for.
func (s *SnapshotSet) Config() *config.BackupConfig {
	return s.config
}

// Records returns all records in ascending number order.
func (s *SnapshotSet) Records() []*SnapshotRecord {
	return s.records
}

// Find returns the record for number.
func (s *SnapshotSet) Find(number uint) (*SnapshotRecord, bool) {
	r, ok := s.byNumber[number]
	return r, ok
}

// Get is like Find but reports an unknown number as ErrSnapshotNotFound.
func (s *SnapshotSet) Get(number uint) (*SnapshotRecord, error) {
	r, ok := s.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("snapshot %d in %q: %w", number, s.config.Name, ErrSnapshotNotFound)
	}
	return r, nil
}

// RenderSourceTree writes the source lineage to w.
func (s *SnapshotSet) RenderSourceTree(w io.Writer) error {
	return s.sourceTree.Render(w)
}

// RenderTargetTree writes the target lineage to w.
func (s *SnapshotSet) RenderTargetTree(w io.Writer) error {
	return s.targetTree.Render(w)
}

// Transfer copies every read-only source snapshot the target lacks, replacing invalid
// copies. Snapshots are processed in ascending order so each transfer can use the
// previous one as delta parent.
func (s *SnapshotSet) Transfer(ctx context.Context, quiet, verbose bool) error {
	done := 0
	for _, r := range s.records {
		if r.SourceState != SourceReadOnly {
			if verbose && r.SourceState == SourceReadWrite {
				s.printf("Snapshot %d is writable, skipping.\n", r.Number)
			}
			continue
		}
		if r.TargetState == TargetInvalid {
			if err := r.Remove(ctx, s, quiet); err != nil {
				return err
			}
		}
		if r.TargetState != TargetMissing {
			if verbose {
				s.printf("Snapshot %d is already on target.\n", r.Number)
			}
			continue
		}
		if err := r.Transfer(ctx, s, quiet); err != nil {
			return err
		}
		done++
	}
	if done == 0 && !quiet {
		s.printf("Nothing to transfer.\n")
	}
	return nil
}

// Restore copies every valid target snapshot missing on the source back to the source.
func (s *SnapshotSet) Restore(ctx context.Context, quiet, verbose bool) error {
	done := 0
	for _, r := range s.records {
		if r.TargetState != TargetValid || r.SourceState != SourceMissing {
			if verbose && r.SourceState == SourceMissing {
				s.printf("Snapshot %d has no valid copy on target, skipping.\n", r.Number)
			}
			continue
		}
		if err := r.Restore(ctx, s, quiet); err != nil {
			return err
		}
		done++
	}
	if done == 0 && !quiet {
		s.printf("Nothing to restore.\n")
	}
	return nil
}

// Remove deletes invalid copies and copies whose source snapshot no longer exists.
func (s *SnapshotSet) Remove(ctx context.Context, quiet, verbose bool) error {
	done := 0
	for _, r := range s.records {
		if r.TargetState == TargetMissing {
			continue
		}
		if r.TargetState != TargetInvalid && r.SourceState != SourceMissing {
			if verbose {
				s.printf("Snapshot %d is still on source, keeping.\n", r.Number)
			}
			continue
		}
		if err := r.Remove(ctx, s, quiet); err != nil {
			return err
		}
		done++
	}
	if done == 0 && !quiet {
		s.printf("Nothing to delete.\n")
	}
	return nil
}

func (s *SnapshotSet) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
