package testutil

import (
	"fmt"
	"path"
	"time"

	"snapback/internal/btrfs"
	"snapback/internal/snapper"
)

// FakeSnapper is a snapshot source backed by a fixed list.
type FakeSnapper struct {
	Subvolume string
	List      []snapper.Snapshot
	Err       error
}

func (f *FakeSnapper) SubvolumePath() string { return f.Subvolume }

func (f *FakeSnapper) Snapshots() ([]snapper.Snapshot, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.List, nil
}

// AddSnapshot registers snapshot n with the snapper listing and creates it on h the
// way snapper lays it out: <subvolume>/.snapshots/<n>/{snapshot,info.xml}.
func (f *FakeSnapper) AddSnapshot(h *FakeHost, n uint, sv *btrfs.Subvolume) *btrfs.Subvolume {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
	f.List = append(f.List, snapper.Snapshot{Number: n, Type: "single", Date: date, Cleanup: "number"})

	dir := path.Join(f.Subvolume, snapper.SnapshotsDir, fmt.Sprint(n))
	h.WriteFile(path.Join(dir, snapper.InfoFile), []byte(InfoXML(n, date)))
	if sv.CreationTime.IsZero() {
		sv.CreationTime = date
	}
	return h.AddSubvolume(path.Join(dir, "snapshot"), sv)
}

// InfoXML renders a minimal snapper info.xml for snapshot n.
func InfoXML(n uint, date time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<snapshot>
  <type>single</type>
  <num>%d</num>
  <date>%s</date>
  <cleanup>number</cleanup>
</snapshot>
`, n, date.UTC().Format("2006-01-02 15:04:05"))
}
