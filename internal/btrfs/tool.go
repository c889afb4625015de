package btrfs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"snapback/internal/shell"
)

// DefaultBin is the btrfs tool used when no override is configured.
const DefaultBin = "btrfs"

// KernelSendStreamVersionPath exposes the newest send stream version the running kernel supports.
const KernelSendStreamVersionPath = "/sys/fs/btrfs/features/send_stream_version"

// protoV2Since is the first btrfs-progs release whose send/receive understand protocol 2.
var protoV2Since = semver.MustParse("5.19")

// Tool runs btrfs commands in one shell.
type Tool struct {
	Exec  shell.Executor
	Shell shell.Shell
	Bin   string
}

// NewTool creates a Tool; an empty bin selects DefaultBin.
func NewTool(ex shell.Executor, sh shell.Shell, bin string) *Tool {
	if bin == "" {
		bin = DefaultBin
	}
	return &Tool{Exec: ex, Shell: sh, Bin: bin}
}

// Show queries the identity of the subvolume at path.
func (t *Tool) Show(ctx context.Context, path string) (*Subvolume, error) {
	res, err := t.Exec.Run(ctx, t.Shell, []string{t.Bin, "subvolume", "show", path})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("'btrfs subvolume show' failed for %s on %s: %s", path, t.Shell, strings.TrimSpace(res.Stderr))
	}
	sv, err := ParseShow(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("subvolume %s on %s: %w", path, t.Shell, err)
	}
	return sv, nil
}

// DeleteCommand returns the argv deleting the subvolume at path.
func (t *Tool) DeleteCommand(path string) []string {
	return []string{t.Bin, "subvolume", "delete", path}
}

// SendCommand returns the argv streaming the subvolume at path to standard output.
// Protocol versions above 1 are requested explicitly, and compressed data is only
// passed through from protocol 2 on. An empty parent sends the full subvolume.
func (t *Tool) SendCommand(path string, proto int, compressed bool, options []string, parent string) []string {
	argv := []string{t.Bin, "send"}
	if proto > 1 {
		argv = append(argv, "--proto", strconv.Itoa(proto))
		if compressed {
			argv = append(argv, "--compressed-data")
		}
	}
	argv = append(argv, options...)
	if parent != "" {
		argv = append(argv, "-p", parent)
	}
	return append(argv, path)
}

// ReceiveCommand returns the argv receiving a send stream from standard input into dir.
func (t *Tool) ReceiveCommand(dir string, options []string) []string {
	argv := []string{t.Bin, "receive"}
	argv = append(argv, options...)
	return append(argv, dir)
}

// ProtoVersion returns the newest send stream version this btrfs tool supports,
// derived from `btrfs version`.
func (t *Tool) ProtoVersion(ctx context.Context) (int, error) {
	res, err := t.Exec.Run(ctx, t.Shell, []string{t.Bin, "version"})
	if err != nil {
		return 0, err
	}
	if !res.Success() {
		return 0, fmt.Errorf("'btrfs version' failed on %s: %s", t.Shell, strings.TrimSpace(res.Stderr))
	}
	return ParseProtoVersion(res.Stdout)
}

// ParseProtoVersion maps `btrfs version` output (e.g. "btrfs-progs v6.6.3") to the
// newest send stream version the tool supports.
func ParseProtoVersion(output string) (int, error) {
	fields := strings.Fields(output)
	if len(fields) < 2 || fields[0] != "btrfs-progs" {
		return 0, fmt.Errorf("unexpected btrfs version output: %q", strings.TrimSpace(output))
	}
	v, err := semver.NewVersion(fields[1])
	if err != nil {
		return 0, fmt.Errorf("parsing btrfs-progs version %q: %w", fields[1], err)
	}
	if v.LessThan(protoV2Since) {
		return 1, nil
	}
	return 2, nil
}

// KernelProtoVersion returns the newest send stream version the kernel of sh supports.
// Kernels without the sysfs feature file only know version 1.
func KernelProtoVersion(ctx context.Context, ex shell.Executor, sh shell.Shell) (int, error) {
	res, err := ex.Run(ctx, sh, []string{"cat", KernelSendStreamVersionPath})
	if err != nil {
		return 0, err
	}
	if !res.Success() {
		return 1, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", KernelSendStreamVersionPath, err)
	}
	return v, nil
}

// DefaultLsBin is the directory listing tool used when no override is configured.
const DefaultLsBin = "ls"

// List returns the entry names of dir in sh, one per line of `ls -1`.
func List(ctx context.Context, ex shell.Executor, sh shell.Shell, lsBin, dir string) ([]string, error) {
	if lsBin == "" {
		lsBin = DefaultLsBin
	}
	res, err := ex.Run(ctx, sh, []string{lsBin, "-1", "--", dir})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("'ls' failed for %s on %s: %s", dir, sh, strings.TrimSpace(res.Stderr))
	}

	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
