package backup

import (
	"fmt"
	"path"

	"snapback/internal/btrfs"
	"snapback/internal/config"
	"snapback/internal/shell"
	"snapback/internal/snapper"
)

// Side names one end of a backup configuration.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

func (s Side) String() string {
	if s == SideSource {
		return "source"
	}
	return "target"
}

// Direction is the way a snapshot is copied.
type Direction int

const (
	SourceToTarget Direction = iota
	TargetToSource
)

// From returns the side the copy is sent from.
func (d Direction) From() Side {
	if d == SourceToTarget {
		return SideSource
	}
	return SideTarget
}

// To returns the side the copy is received on.
func (d Direction) To() Side {
	if d == SourceToTarget {
		return SideTarget
	}
	return SideSource
}

func (d Direction) String() string {
	return fmt.Sprintf("%s->%s", d.From(), d.To())
}

// Binaries are the tools run on one side of a copy.
type Binaries struct {
	Btrfs string
	Ls    string
	Mkdir string
	Rm    string
	Rmdir string
}

func defaultBinaries() Binaries {
	return Binaries{
		Btrfs: btrfs.DefaultBin,
		Ls:    btrfs.DefaultLsBin,
		Mkdir: "mkdir",
		Rm:    "rm",
		Rmdir: "rmdir",
	}
}

// CopySpec is one endpoint of a snapshot copy.
type CopySpec struct {
	Shell shell.Shell
	Bins  Binaries
	// RemoteHost prefixes paths for scp ("user@host:"); empty for the local shell.
	RemoteHost  string
	SnapshotDir string
	// ParentDir is the snapshot directory of the delta parent on this side.
	// Only set on the sending endpoint, and only for incremental copies.
	ParentDir string
}

// SubvolumePath returns the path of the snapshot subvolume.
func (c CopySpec) SubvolumePath() string {
	return path.Join(c.SnapshotDir, "snapshot")
}

// InfoPath returns the path of the snapper metadata file.
func (c CopySpec) InfoPath() string {
	return path.Join(c.SnapshotDir, snapper.InfoFile)
}

// ParentSubvolumePath returns the delta parent's subvolume, or "" for a full copy.
func (c CopySpec) ParentSubvolumePath() string {
	if c.ParentDir == "" {
		return ""
	}
	return path.Join(c.ParentDir, "snapshot")
}

// sourceEndpoint describes snapshot n on the source. The source is always this host.
func sourceEndpoint(cfg *config.BackupConfig, n uint) CopySpec {
	return CopySpec{
		Shell:       shell.Local(),
		Bins:        defaultBinaries(),
		SnapshotDir: SourceSnapshotDir(cfg.SourcePath, n),
	}
}

// targetEndpoint describes the copy of snapshot n on the target.
func targetEndpoint(cfg *config.BackupConfig, n uint) CopySpec {
	spec := CopySpec{
		Shell:       shell.Local(),
		Bins:        targetBinaries(cfg),
		SnapshotDir: TargetSnapshotDir(cfg.TargetPath, n),
	}
	if cfg.IsRemote() {
		spec.Shell = shell.SSH(cfg.SSHHost, cfg.SSHPort, cfg.SSHUser, cfg.SSHIdentity)
		spec.RemoteHost = spec.Shell.RemotePrefix()
	}
	return spec
}

func targetBinaries(cfg *config.BackupConfig) Binaries {
	bins := defaultBinaries()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&bins.Btrfs, cfg.TargetBtrfsBin)
	override(&bins.Ls, cfg.TargetLsBin)
	override(&bins.Mkdir, cfg.TargetMkdirBin)
	override(&bins.Rm, cfg.TargetRmBin)
	override(&bins.Rmdir, cfg.TargetRmdirBin)
	return bins
}

func endpoint(cfg *config.BackupConfig, side Side, n uint) CopySpec {
	if side == SideSource {
		return sourceEndpoint(cfg, n)
	}
	return targetEndpoint(cfg, n)
}

func snapshotDir(cfg *config.BackupConfig, side Side, n uint) string {
	return endpoint(cfg, side, n).SnapshotDir
}

// copySpecs returns the sending and receiving endpoints for copying snapshot n in direction d.
func copySpecs(cfg *config.BackupConfig, d Direction, n uint) (src, dst CopySpec) {
	return endpoint(cfg, d.From(), n), endpoint(cfg, d.To(), n)
}
