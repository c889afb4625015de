package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"snapback/internal/backup"
	"snapback/internal/config"
	"snapback/internal/database"
	"snapback/internal/model"
	"snapback/internal/shell"
	"snapback/internal/snapper"
)

// History stores operations and their per-snapshot events.
type History interface {
	CreateOperation(operation, parameters string) (*model.Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*model.Operation, error)
	RecordSnapshotEvent(ev *model.SnapshotEvent) error
	ListSnapshotEvents(backupConfig string, limit int) ([]*model.SnapshotEvent, error)
	Close() error
}

// SnapshotSourceFunc opens the snapper configuration called name.
type SnapshotSourceFunc func(name string) (backup.SnapshotSource, error)

// Options are the command line switches that shape logging and output.
type Options struct {
	Verbose bool
	Out     io.Writer // progress output; defaults to stdout
	Stderr  io.Writer // defaults to stderr
}

// SnapbackApp is the application layer between the CLI and the replication engine.
// It constructs all dependencies from config, runs operations across backup
// configurations, and records them in the history.
// The caller must call Close when done.
type SnapbackApp struct {
	cfg       *config.Config
	db        History
	exec      shell.Executor
	snapshots SnapshotSourceFunc
	logger    *slog.Logger
	logFile   io.Closer
	out       io.Writer
	clock     backup.Clock
	op        *BackupOperation
}

// NewSnapbackApp creates a fully wired SnapbackApp from the given config.
// operation identifies the CLI command being run (e.g. "transfer", "list").
func NewSnapbackApp(cfg *config.Config, operation string, opts Options) (*SnapbackApp, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, cfg.Log, opID, opts.Stderr, opts.Verbose)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	snapperDir := cfg.SnapperConfigDir
	if snapperDir == "" {
		snapperDir = snapper.DefaultConfigDir
	}

	return &SnapbackApp{
		cfg:  cfg,
		db:   db,
		exec: shell.NewOSExecutor(),
		snapshots: func(name string) (backup.SnapshotSource, error) {
			c, err := snapper.ReadConfig(snapperDir, name)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		logger:  logger,
		logFile: logFile,
		out:     opts.Out,
		clock:   backup.RealClock{},
		op:      NewBackupOperation(operation, ""),
	}, nil
}

// persistOperation saves the backup operation to the database, giving it an auto-increment ID.
// This should only be called for commands that change snapshots.
func (a *SnapbackApp) persistOperation(sel Selection) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = sel.String()
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// BackupConfigs returns the selected backup configurations, sorted by name.
func (a *SnapbackApp) BackupConfigs(sel Selection) ([]*config.BackupConfig, error) {
	all, err := config.LoadBackupConfigs(a.cfg.BackupConfigDir)
	if err != nil {
		return nil, err
	}

	for _, name := range sel.Configs {
		if !slices.ContainsFunc(all, func(bc *config.BackupConfig) bool { return bc.Name == name }) {
			return nil, fmt.Errorf("unknown backup config %q", name)
		}
	}

	var selected []*config.BackupConfig
	for _, bc := range all {
		if len(sel.Configs) > 0 && !slices.Contains(sel.Configs, bc.Name) {
			continue
		}
		if sel.Automatic && !bc.Automatic {
			continue
		}
		selected = append(selected, bc)
	}
	return selected, nil
}

// Load probes both sides of bc.
func (a *SnapbackApp) Load(ctx context.Context, bc *config.BackupConfig) (*backup.SnapshotSet, error) {
	src, err := a.snapshots(bc.Config)
	if err != nil {
		return nil, fmt.Errorf("backup config %q: %w", bc.Name, err)
	}
	return backup.New(ctx, bc, backup.Deps{
		Snapshots: src,
		Exec:      a.exec,
		Logger:    &slogAdapter{l: a.logger.With("config", bc.Name)},
		Journal:   &operationJournal{db: a.db, op: a.op},
		Clock:     a.clock,
		Out:       a.out,
	})
}

// Transfer copies snapshots from the source to the target.
func (a *SnapbackApp) Transfer(ctx context.Context, sel Selection) error {
	return a.mutate(ctx, sel,
		func(s *backup.SnapshotSet) error { return s.Transfer(ctx, sel.Quiet, sel.Verbose) },
		func(s *backup.SnapshotSet, r *backup.SnapshotRecord) error { return r.Transfer(ctx, s, sel.Quiet) })
}

// Restore copies snapshots from the target back to the source.
func (a *SnapbackApp) Restore(ctx context.Context, sel Selection) error {
	return a.mutate(ctx, sel,
		func(s *backup.SnapshotSet) error { return s.Restore(ctx, sel.Quiet, sel.Verbose) },
		func(s *backup.SnapshotSet, r *backup.SnapshotRecord) error { return r.Restore(ctx, s, sel.Quiet) })
}

// Delete removes stale and orphaned copies from the target.
func (a *SnapbackApp) Delete(ctx context.Context, sel Selection) error {
	return a.mutate(ctx, sel,
		func(s *backup.SnapshotSet) error { return s.Remove(ctx, sel.Quiet, sel.Verbose) },
		func(s *backup.SnapshotSet, r *backup.SnapshotRecord) error { return r.Remove(ctx, s, sel.Quiet) })
}

// mutate runs bulk on every selected backup configuration, or single on one snapshot.
// Each configuration is handled on its own: a failure is logged and the run continues
// with the next one; the failures are returned together.
func (a *SnapbackApp) mutate(ctx context.Context, sel Selection,
	bulk func(*backup.SnapshotSet) error,
	single func(*backup.SnapshotSet, *backup.SnapshotRecord) error,
) (err error) {
	if err := a.persistOperation(sel); err != nil {
		return err
	}
	defer func() { a.op.Finish(err) }()

	configs, err := a.BackupConfigs(sel)
	if err != nil {
		return err
	}

	if sel.Number != 0 {
		if len(configs) != 1 {
			return fmt.Errorf("snapshot %d: select exactly one backup config", sel.Number)
		}
		s, err := a.Load(ctx, configs[0])
		if err != nil {
			return err
		}
		r, err := s.Get(sel.Number)
		if err != nil {
			return err
		}
		return single(s, r)
	}

	var errs []error
	for _, bc := range configs {
		a.logger.Info("processing backup config", "config", bc.Name, "operation", a.op.Operation)
		s, err := a.Load(ctx, bc)
		if err == nil {
			err = bulk(s)
		}
		if err != nil {
			a.logger.Error("backup config failed", "config", bc.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", bc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// List loads every selected backup configuration. Configurations that cannot be
// loaded are left out; their errors are returned together.
func (a *SnapbackApp) List(ctx context.Context, sel Selection) ([]*backup.SnapshotSet, error) {
	configs, err := a.BackupConfigs(sel)
	if err != nil {
		return nil, err
	}

	var sets []*backup.SnapshotSet
	var errs []error
	for _, bc := range configs {
		s, err := a.Load(ctx, bc)
		if err != nil {
			a.logger.Error("backup config failed", "config", bc.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", bc.Name, err))
			continue
		}
		sets = append(sets, s)
	}
	return sets, errors.Join(errs...)
}

// Tree writes the source and target lineage of one backup configuration to w.
func (a *SnapbackApp) Tree(ctx context.Context, name string, w io.Writer) error {
	configs, err := a.BackupConfigs(Selection{Configs: []string{name}})
	if err != nil {
		return err
	}
	s, err := a.Load(ctx, configs[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "source:")
	if err := s.RenderSourceTree(w); err != nil {
		return err
	}
	fmt.Fprintln(w, "target:")
	return s.RenderTargetTree(w)
}

// GetHistory returns the most recent operations.
func (a *SnapbackApp) GetHistory(limit int) ([]*model.Operation, error) {
	return a.db.ListOperations(limit)
}

// GetEvents returns the most recent snapshot events of one backup config, or of all
// when name is empty.
func (a *SnapbackApp) GetEvents(name string, limit int) ([]*model.SnapshotEvent, error) {
	return a.db.ListSnapshotEvents(name, limit)
}

// Close finalizes the operation and closes all resources.
func (a *SnapbackApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}

// operationJournal ties snapshot events to the running operation.
type operationJournal struct {
	db History
	op *BackupOperation
}

func (j *operationJournal) RecordSnapshotEvent(ev *model.SnapshotEvent) error {
	ev.OperationID = j.op.ID
	return j.db.RecordSnapshotEvent(ev)
}
