package backup

import (
	"context"
	"errors"
	"path"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"

	"snapback/internal/btrfs"
	"snapback/internal/config"
	"snapback/internal/snapper"
)

func TestNew(t *testing.T) {
	t.Run("source path must match snapper subvolume", func(t *testing.T) {
		f := newFixture(t)
		f.snapper.Subvolume = "/home"
		_, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec})
		if !errors.Is(err, ErrConfigMismatch) {
			t.Errorf("New() error = %v, want ErrConfigMismatch", err)
		}
	})

	t.Run("records are sorted and number 0 is skipped", func(t *testing.T) {
		f := newFixture(t)
		f.sourceSnapshot(7)
		f.sourceSnapshot(2)
		f.snapper.List = append(f.snapper.List, snapper.Snapshot{Number: 0})
		f.targetCopy(4, &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true})

		s := f.load(t)
		var got []uint
		for _, r := range s.Records() {
			got = append(got, r.Number)
		}
		if want := []uint{2, 4, 7}; !slices.Equal(got, want) {
			t.Errorf("numbers = %v, want %v", got, want)
		}
	})

	t.Run("source snapshot without subvolume is an error", func(t *testing.T) {
		f := newFixture(t)
		f.sourceSnapshot(1)
		f.snapper.List = append(f.snapper.List, snapper.Snapshot{Number: 3})

		_, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec})
		if err == nil || !strings.Contains(err.Error(), "source snapshot 3") {
			t.Errorf("New() error = %v, want source probe error", err)
		}
	})

	t.Run("failing source probe leaves the target copy alone", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.sourceSnapshot(1)
		f.targetCopy(1, &btrfs.Subvolume{ReceivedUUID: s1.UUID, ReadOnly: true})
		f.exec.Fail("local", "btrfs subvolume show /data/.snapshots/1/snapshot", 1, "ERROR: cannot access")

		if _, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec}); err == nil {
			t.Fatal("New() expected error when a source snapshot cannot be probed")
		}
		if len(f.exec.CallsMatching("btrfs", "subvolume", "delete")) != 0 {
			t.Error("target copy was deleted")
		}
		if f.exec.Local().Subvolume(path.Join(TargetSnapshotDir(testTarget, 1), "snapshot")) == nil {
			t.Error("target copy is gone")
		}
	})

	t.Run("writable source snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.snapper.AddSnapshot(f.exec.Local(), 1, &btrfs.Subvolume{})
		if r := mustFind(t, f.load(t), 1); r.SourceState != SourceReadWrite {
			t.Errorf("SourceState = %v, want read-write", r.SourceState)
		}
	})

	t.Run("target directory without subvolume is left out", func(t *testing.T) {
		f := newFixture(t)
		f.exec.Local().MkdirAll(TargetSnapshotDir(testTarget, 7))
		if _, ok := f.load(t).Find(7); ok {
			t.Error("Find(7) found a copy that has no subvolume")
		}
	})

	t.Run("non-numeric target entry is an error", func(t *testing.T) {
		f := newFixture(t)
		f.exec.Local().MkdirAll(path.Join(testTarget, "lost+found"))
		_, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec})
		if err == nil || !strings.Contains(err.Error(), "lost+found") {
			t.Errorf("New() error = %v, want unexpected entry error", err)
		}
	})

	t.Run("zero padded target entry is an error", func(t *testing.T) {
		f := newFixture(t)
		f.exec.Local().MkdirAll(path.Join(testTarget, "007"))
		_, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec})
		if err == nil || !strings.Contains(err.Error(), "007") {
			t.Errorf("New() error = %v, want unexpected entry error", err)
		}
	})

	t.Run("missing target directory is an error", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.TargetPath = "/mnt/nowhere"
		if _, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec}); err == nil {
			t.Error("New() expected error for missing target")
		}
	})

	t.Run("snapper failure is an error", func(t *testing.T) {
		f := newFixture(t)
		f.snapper.Err = errors.New("boom")
		if _, err := New(context.Background(), f.cfg, Deps{Snapshots: f.snapper, Exec: f.exec}); err == nil {
			t.Error("New() expected error")
		}
	})
}

func TestNew_TargetValidity(t *testing.T) {
	tests := []struct {
		name   string
		source bool
		target func(src *btrfs.Subvolume) *btrfs.Subvolume
		want   TargetState
	}{
		{
			name:   "received from source",
			source: true,
			target: func(src *btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReceivedUUID: src.UUID, ReadOnly: true}
			},
			want: TargetValid,
		},
		{
			name:   "received from the source's origin",
			source: true,
			target: func(src *btrfs.Subvolume) *btrfs.Subvolume {
				src.ReceivedUUID = uuid.NewString()
				return &btrfs.Subvolume{ReceivedUUID: src.ReceivedUUID, ReadOnly: true}
			},
			want: TargetValid,
		},
		{
			name:   "interrupted receive",
			source: true,
			target: func(src *btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReceivedUUID: src.UUID}
			},
			want: TargetInvalid,
		},
		{
			name:   "reused number",
			source: true,
			target: func(src *btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true}
			},
			want: TargetInvalid,
		},
		{
			name:   "never received",
			source: true,
			target: func(src *btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReadOnly: true}
			},
			want: TargetInvalid,
		},
		{
			name: "target only",
			target: func(*btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true}
			},
			want: TargetValid,
		},
		{
			name: "target only and writable",
			target: func(*btrfs.Subvolume) *btrfs.Subvolume {
				return &btrfs.Subvolume{ReceivedUUID: uuid.NewString()}
			},
			want: TargetInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var src *btrfs.Subvolume
			if tt.source {
				src = f.sourceSnapshot(5)
			}
			f.targetCopy(5, tt.target(src))

			r := mustFind(t, f.load(t), 5)
			if r.TargetState != tt.want {
				t.Errorf("TargetState = %v, want %v", r.TargetState, tt.want)
			}
			if !tt.source && r.SourceState != SourceMissing {
				t.Errorf("SourceState = %v, want missing", r.SourceState)
			}
		})
	}
}

func TestSnapshotSet_Transfer(t *testing.T) {
	t.Run("chain is transferred incrementally in ascending order", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.snapper.AddSnapshot(f.exec.Local(), 1, &btrfs.Subvolume{ReadOnly: true})
		f.snapper.AddSnapshot(f.exec.Local(), 2, &btrfs.Subvolume{ParentUUID: s1.UUID, ReadOnly: true})
		s := f.load(t)

		if err := s.Transfer(context.Background(), false, false); err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}

		for _, n := range []uint{1, 2} {
			if r := mustFind(t, s, n); r.TargetState != TargetValid {
				t.Errorf("record %d TargetState = %v, want valid", n, r.TargetState)
			}
		}

		if parent, sent := sendParent(f, "/data/.snapshots/1/snapshot"); !sent || parent != "" {
			t.Errorf("snapshot 1: sent %v with parent %q, want full send", sent, parent)
		}
		if parent, sent := sendParent(f, "/data/.snapshots/2/snapshot"); !sent || parent != "/data/.snapshots/1/snapshot" {
			t.Errorf("snapshot 2: sent %v with parent %q, want snapshot 1", sent, parent)
		}

		h := f.exec.Local()
		t1 := h.Subvolume("/mnt/backup/data/1/snapshot")
		t2 := h.Subvolume("/mnt/backup/data/2/snapshot")
		if t1 == nil || t2 == nil {
			t.Fatal("target copies missing")
		}
		if t2.ParentUUID != t1.UUID {
			t.Errorf("target 2 parent = %s, want target 1 (%s)", t2.ParentUUID, t1.UUID)
		}
		if _, ok := h.Files["/mnt/backup/data/2/info.xml"]; !ok {
			t.Error("info.xml not copied")
		}

		want := "Transferring snapshot 1.\nTransferring snapshot 2.\n"
		if f.out.String() != want {
			t.Errorf("output = %q, want %q", f.out.String(), want)
		}
	})

	t.Run("sibling shares parent through the live subvolume", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.sourceSnapshot(1)
		f.sourceSnapshot(2)
		f.targetCopy(1, &btrfs.Subvolume{ReceivedUUID: s1.UUID, ReadOnly: true})
		s := f.load(t)

		if err := s.Transfer(context.Background(), true, false); err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}
		if parent, _ := sendParent(f, "/data/.snapshots/2/snapshot"); parent != "/data/.snapshots/1/snapshot" {
			t.Errorf("parent = %q, want snapshot 1", parent)
		}
		if got := len(f.exec.CallsMatching("btrfs", "send")); got != 1 {
			t.Errorf("sends = %d, want 1", got)
		}
	})

	t.Run("invalid copy is replaced", func(t *testing.T) {
		f := newFixture(t)
		src := f.sourceSnapshot(5)
		f.targetCopy(5, &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true})
		s := f.load(t)

		if err := s.Transfer(context.Background(), true, false); err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}
		if r := mustFind(t, s, 5); r.TargetState != TargetValid {
			t.Errorf("TargetState = %v, want valid", r.TargetState)
		}
		copy5 := f.exec.Local().Subvolume("/mnt/backup/data/5/snapshot")
		if copy5 == nil || copy5.ReceivedUUID != src.UUID {
			t.Errorf("target copy = %+v, want received from %s", copy5, src.UUID)
		}
	})

	t.Run("writable and target-only snapshots are left alone", func(t *testing.T) {
		f := newFixture(t)
		f.snapper.AddSnapshot(f.exec.Local(), 1, &btrfs.Subvolume{})
		f.targetCopy(2, &btrfs.Subvolume{ReceivedUUID: uuid.NewString()})
		s := f.load(t)

		if err := s.Transfer(context.Background(), false, false); err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}
		if calls := f.exec.CallsMatching("btrfs", "send"); len(calls) != 0 {
			t.Errorf("unexpected sends: %v", calls)
		}
		if r := mustFind(t, s, 2); r.TargetState != TargetInvalid {
			t.Errorf("record 2 TargetState = %v, want invalid", r.TargetState)
		}
		if !strings.Contains(f.out.String(), "Nothing to transfer.") {
			t.Errorf("output = %q", f.out.String())
		}
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		f := newFixture(t)
		f.sourceSnapshot(1)
		f.sourceSnapshot(2)
		f.exec.Fail("local", "mkdir -p -- /mnt/backup/data/1", 1, "mkdir: Permission denied")
		s := f.load(t)

		err := s.Transfer(context.Background(), true, false)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Op != "mkdir" {
			t.Fatalf("Transfer() error = %v, want 'mkdir' failed", err)
		}
		if r := mustFind(t, s, 2); r.TargetState != TargetMissing {
			t.Errorf("record 2 TargetState = %v, want missing", r.TargetState)
		}
		if got := len(f.exec.CallsMatching("mkdir")); got != 1 {
			t.Errorf("mkdir calls = %d, want 1", got)
		}
	})
}

func TestSnapshotSet_Remove(t *testing.T) {
	t.Run("invalid copy is deleted in three steps", func(t *testing.T) {
		f := newFixture(t)
		f.sourceSnapshot(5)
		f.targetCopy(5, &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true})
		s := f.load(t)
		r := mustFind(t, s, 5)
		if r.TargetState != TargetInvalid {
			t.Fatalf("TargetState = %v, want invalid", r.TargetState)
		}

		if err := s.Remove(context.Background(), true, false); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if r.TargetState != TargetMissing {
			t.Errorf("TargetState = %v, want missing", r.TargetState)
		}

		var steps []string
		for _, c := range f.exec.Calls() {
			switch {
			case c.Argv[0] == "btrfs" && len(c.Argv) > 2 && c.Argv[2] == "delete",
				c.Argv[0] == "rm", c.Argv[0] == "rmdir":
				steps = append(steps, strings.Join(c.Argv, " "))
			}
		}
		want := []string{
			"btrfs subvolume delete /mnt/backup/data/5/snapshot",
			"rm -- /mnt/backup/data/5/info.xml",
			"rmdir -- /mnt/backup/data/5",
		}
		if !slices.Equal(steps, want) {
			t.Errorf("steps =\n%s\nwant\n%s", strings.Join(steps, "\n"), strings.Join(want, "\n"))
		}
		if f.exec.Local().Exists("/mnt/backup/data/5") {
			t.Error("target directory still exists")
		}
		if !f.exec.Local().Exists("/data/.snapshots/5/snapshot") {
			t.Error("source snapshot was touched")
		}
	})

	t.Run("orphans are removed and valid copies kept", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.sourceSnapshot(1)
		f.targetCopy(1, &btrfs.Subvolume{ReceivedUUID: s1.UUID, ReadOnly: true})
		f.targetCopy(2, &btrfs.Subvolume{ReceivedUUID: uuid.NewString(), ReadOnly: true})
		s := f.load(t)

		if err := s.Remove(context.Background(), true, false); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if r := mustFind(t, s, 1); r.TargetState != TargetValid {
			t.Errorf("record 1 TargetState = %v, want valid", r.TargetState)
		}
		if r := mustFind(t, s, 2); r.TargetState != TargetMissing {
			t.Errorf("record 2 TargetState = %v, want missing", r.TargetState)
		}
	})

	t.Run("invalid orphan is only touched by remove", func(t *testing.T) {
		f := newFixture(t)
		f.targetCopy(3, &btrfs.Subvolume{ReceivedUUID: uuid.NewString()})
		s := f.load(t)
		r := mustFind(t, s, 3)

		if err := s.Transfer(context.Background(), true, false); err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}
		if err := s.Restore(context.Background(), true, false); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if r.SourceState != SourceMissing || r.TargetState != TargetInvalid {
			t.Fatalf("after transfer/restore: %v/%v, want missing/invalid", r.SourceState, r.TargetState)
		}
		if len(f.exec.CallsMatching("btrfs", "send")) != 0 {
			t.Error("transfer or restore sent a snapshot")
		}

		if err := s.Remove(context.Background(), true, false); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if r.TargetState != TargetMissing {
			t.Errorf("TargetState = %v, want missing", r.TargetState)
		}
	})

	t.Run("failing step aborts the rest", func(t *testing.T) {
		f := newFixture(t)
		f.targetCopy(3, &btrfs.Subvolume{ReceivedUUID: uuid.NewString()})
		f.exec.Fail("local", "rm --", 1, "rm: Read-only file system")
		s := f.load(t)

		err := s.Remove(context.Background(), true, false)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Op != "rm info.xml" {
			t.Fatalf("Remove() error = %v, want 'rm info.xml' failed", err)
		}
		if len(f.exec.CallsMatching("rmdir")) != 0 {
			t.Error("rmdir ran after rm failed")
		}
		if r := mustFind(t, s, 3); r.TargetState != TargetInvalid {
			t.Errorf("TargetState = %v, want invalid", r.TargetState)
		}
	})
}

func TestSnapshotSet_Restore(t *testing.T) {
	t.Run("valid orphans are restored", func(t *testing.T) {
		f := newFixture(t)
		origin := uuid.NewString()
		f.targetCopy(4, &btrfs.Subvolume{ReceivedUUID: origin, ReadOnly: true})
		s := f.load(t)

		if err := s.Restore(context.Background(), false, false); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		r := mustFind(t, s, 4)
		if r.SourceState != SourceReadOnly || r.TargetState != TargetValid {
			t.Errorf("record = %v/%v, want read-only/valid", r.SourceState, r.TargetState)
		}
		restored := f.exec.Local().Subvolume("/data/.snapshots/4/snapshot")
		if restored == nil || restored.ReceivedUUID != origin {
			t.Errorf("restored subvolume = %+v, want received UUID %s", restored, origin)
		}
		if f.out.String() != "Restoring snapshot 4.\n" {
			t.Errorf("output = %q", f.out.String())
		}
	})

	t.Run("nothing to restore", func(t *testing.T) {
		f := newFixture(t)
		f.sourceSnapshot(1)
		s := f.load(t)
		if err := s.Restore(context.Background(), false, false); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if f.out.String() != "Nothing to restore.\n" {
			t.Errorf("output = %q", f.out.String())
		}
	})
}

func TestSnapshotSet_SSHTarget(t *testing.T) {
	f := newFixture(t)
	f.cfg.TargetMode = config.TargetModeSSHPush
	f.cfg.SSHHost = "nas"
	f.cfg.SSHUser = "backup"
	f.cfg.SSHPort = 2222
	f.cfg.TargetBtrfsBin = "/usr/local/sbin/btrfs"
	nas := f.exec.Host("nas")
	nas.MkdirAll(testTarget)
	f.exec.Local().Dirs = map[string]bool{"/": true}
	f.sourceSnapshot(1)

	s := f.load(t)
	if err := s.Transfer(context.Background(), true, false); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	if nas.Subvolume("/mnt/backup/data/1/snapshot") == nil {
		t.Error("snapshot not received on nas")
	}
	if _, ok := nas.Files["/mnt/backup/data/1/info.xml"]; !ok {
		t.Error("info.xml not copied to nas")
	}

	scp := f.exec.CallsMatching("scp")
	if len(scp) != 1 || scp[0].Host != "local" {
		t.Fatalf("scp calls = %v, want one local call", scp)
	}
	wantSCP := "scp -P 2222 -- /data/.snapshots/1/info.xml backup@nas:/mnt/backup/data/1/info.xml"
	if got := strings.Join(scp[0].Argv, " "); got != wantSCP {
		t.Errorf("scp = %q, want %q", got, wantSCP)
	}

	recv := f.exec.CallsMatching("btrfs", "receive")
	if len(recv) != 1 || recv[0].Host != "nas" || recv[0].Argv[0] != "/usr/local/sbin/btrfs" {
		t.Errorf("receive calls = %v", recv)
	}
}

func TestSnapshotSet_SSHRestore(t *testing.T) {
	f := newFixture(t)
	f.cfg.TargetMode = config.TargetModeSSHPush
	f.cfg.SSHHost = "nas"
	f.cfg.SSHUser = "backup"
	f.cfg.SSHPort = 2222
	f.cfg.TargetBtrfsBin = "/usr/local/sbin/btrfs"
	nas := f.exec.Host("nas")
	f.exec.Local().Dirs = map[string]bool{"/": true}

	origin := uuid.NewString()
	dir := TargetSnapshotDir(testTarget, 4)
	nas.WriteFile(path.Join(dir, "info.xml"), []byte("<snapshot/>"))
	nas.AddSubvolume(path.Join(dir, "snapshot"), &btrfs.Subvolume{ReceivedUUID: origin, ReadOnly: true})

	s := f.load(t)
	if err := s.Restore(context.Background(), true, false); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	restored := f.exec.Local().Subvolume("/data/.snapshots/4/snapshot")
	if restored == nil || restored.ReceivedUUID != origin {
		t.Errorf("restored subvolume = %+v, want received UUID %s", restored, origin)
	}
	if _, ok := f.exec.Local().Files["/data/.snapshots/4/info.xml"]; !ok {
		t.Error("info.xml not copied from nas")
	}

	scp := f.exec.CallsMatching("scp")
	if len(scp) != 1 || scp[0].Host != "local" {
		t.Fatalf("scp calls = %v, want one local call", scp)
	}
	wantSCP := "scp -P 2222 -- backup@nas:/mnt/backup/data/4/info.xml /data/.snapshots/4/info.xml"
	if got := strings.Join(scp[0].Argv, " "); got != wantSCP {
		t.Errorf("scp = %q, want %q", got, wantSCP)
	}

	send := f.exec.CallsMatching("btrfs", "send")
	if len(send) != 1 || send[0].Host != "nas" || send[0].Argv[0] != "/usr/local/sbin/btrfs" {
		t.Errorf("send calls = %v, want one on nas", send)
	}
	recv := f.exec.CallsMatching("btrfs", "receive")
	if len(recv) != 1 || recv[0].Host != "local" {
		t.Errorf("receive calls = %v, want one local", recv)
	}
	if r := mustFind(t, s, 4); r.SourceState != SourceReadOnly || r.TargetState != TargetValid {
		t.Errorf("record = %v/%v, want read-only/valid", r.SourceState, r.TargetState)
	}
}

func TestSnapshotSet_ProtocolNegotiation(t *testing.T) {
	tests := []struct {
		name         string
		kernel       string
		progs        string
		wantProto    bool
		wantCompress bool
	}{
		{name: "everything supports v2", kernel: "2", progs: "btrfs-progs v6.6.3", wantProto: true, wantCompress: true},
		{name: "old kernel", kernel: "1", progs: "btrfs-progs v6.6.3"},
		{name: "kernel without sysfs file", kernel: "", progs: "btrfs-progs v6.6.3"},
		{name: "old btrfs-progs", kernel: "2", progs: "btrfs-progs v5.16.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.SendCompressedData = true
			f.exec.Local().KernelProto = tt.kernel
			f.exec.Local().BtrfsVersion = tt.progs
			f.sourceSnapshot(1)
			s := f.load(t)

			if err := s.Transfer(context.Background(), true, false); err != nil {
				t.Fatalf("Transfer() error = %v", err)
			}
			send := f.exec.CallsMatching("btrfs", "send")
			if len(send) != 1 {
				t.Fatalf("send calls = %d, want 1", len(send))
			}
			argv := send[0].Argv
			if got := slices.Contains(argv, "--proto"); got != tt.wantProto {
				t.Errorf("--proto present = %v, want %v (%v)", got, tt.wantProto, argv)
			}
			if got := slices.Contains(argv, "--compressed-data"); got != tt.wantCompress {
				t.Errorf("--compressed-data present = %v, want %v (%v)", got, tt.wantCompress, argv)
			}
		})
	}
}

func TestSnapshotSet_RenderTrees(t *testing.T) {
	f := newFixture(t)
	s1 := f.sourceSnapshot(1)
	f.targetCopy(1, &btrfs.Subvolume{ReceivedUUID: s1.UUID, ReadOnly: true})
	s := f.load(t)

	var src, dst strings.Builder
	if err := s.RenderSourceTree(&src); err != nil {
		t.Fatalf("RenderSourceTree() error = %v", err)
	}
	if err := s.RenderTargetTree(&dst); err != nil {
		t.Fatalf("RenderTargetTree() error = %v", err)
	}

	wantSrc := "root\n  - virtual " + f.live + " [implicit]\n    - 1 " + s1.UUID + " (valid)\n"
	if src.String() != wantSrc {
		t.Errorf("source tree =\n%s\nwant\n%s", src.String(), wantSrc)
	}
	if !strings.Contains(dst.String(), "- 1 ") {
		t.Errorf("target tree =\n%s", dst.String())
	}
}
