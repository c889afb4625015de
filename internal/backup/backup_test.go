package backup

import (
	"bytes"
	"context"
	"path"
	"testing"

	"github.com/google/uuid"

	"snapback/internal/btrfs"
	"snapback/internal/config"
	"snapback/internal/model"
	"snapback/internal/testutil"
)

const (
	testSource = "/data"
	testTarget = "/mnt/backup/data"
)

type memJournal struct {
	events []*model.SnapshotEvent
	err    error
}

func (j *memJournal) RecordSnapshotEvent(ev *model.SnapshotEvent) error {
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, ev)
	return nil
}

type fixture struct {
	exec    *testutil.FakeExecutor
	snapper *testutil.FakeSnapper
	cfg     *config.BackupConfig
	journal *memJournal
	out     bytes.Buffer
	live    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		exec:    testutil.NewFakeExecutor(),
		snapper: &testutil.FakeSnapper{Subvolume: testSource},
		cfg: &config.BackupConfig{
			Name:       "data",
			Config:     "data",
			TargetMode: config.TargetModeLocal,
			SourcePath: testSource,
			TargetPath: testTarget,
		},
		journal: &memJournal{},
		live:    uuid.NewString(),
	}
	f.exec.Local().MkdirAll(testTarget)
	return f
}

// sourceSnapshot creates read-only snapshot n of the live subvolume on the source.
func (f *fixture) sourceSnapshot(n uint) *btrfs.Subvolume {
	return f.snapper.AddSnapshot(f.exec.Local(), n, &btrfs.Subvolume{ParentUUID: f.live, ReadOnly: true})
}

// targetCopy places a copy of snapshot n on the target as receive would leave it.
func (f *fixture) targetCopy(n uint, sv *btrfs.Subvolume) *btrfs.Subvolume {
	h := f.exec.Local()
	dir := TargetSnapshotDir(testTarget, n)
	h.WriteFile(path.Join(dir, "info.xml"), []byte("<snapshot/>"))
	return h.AddSubvolume(path.Join(dir, "snapshot"), sv)
}

func (f *fixture) load(t *testing.T) *SnapshotSet {
	t.Helper()
	s, err := New(context.Background(), f.cfg, Deps{
		Snapshots: f.snapper,
		Exec:      f.exec,
		Journal:   f.journal,
		Clock:     testutil.FixedClock(),
		Out:       &f.out,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func mustFind(t *testing.T, s *SnapshotSet, n uint) *SnapshotRecord {
	t.Helper()
	r, ok := s.Find(n)
	if !ok {
		t.Fatalf("Find(%d) not found", n)
	}
	return r
}

// sendParent returns the -p argument of the send of subvolume, and whether it was sent at all.
func sendParent(f *fixture, subvolume string) (string, bool) {
	for _, c := range f.exec.CallsMatching("btrfs", "send") {
		if c.Argv[len(c.Argv)-1] != subvolume {
			continue
		}
		for i := 0; i < len(c.Argv)-1; i++ {
			if c.Argv[i] == "-p" {
				return c.Argv[i+1], true
			}
		}
		return "", true
	}
	return "", false
}
