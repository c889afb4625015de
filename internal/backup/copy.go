package backup

import (
	"context"
	"fmt"
	"strings"

	"snapback/internal/btrfs"
	"snapback/internal/shell"
)

// copy transfers one snapshot from src to dst: directory, metadata, then the
// subvolume itself as a send stream piped straight into receive.
func (s *SnapshotSet) copy(ctx context.Context, src, dst CopySpec) error {
	if err := s.run(ctx, dst.Shell, "mkdir", []string{dst.Bins.Mkdir, "-p", "--", dst.SnapshotDir}); err != nil {
		return err
	}

	if src.Shell.IsLocal() && dst.Shell.IsLocal() {
		argv := []string{"cp", "--", src.InfoPath(), dst.InfoPath()}
		if err := s.run(ctx, shell.Local(), "cp info.xml", argv); err != nil {
			return err
		}
	} else {
		remote := src.Shell
		if remote.IsLocal() {
			remote = dst.Shell
		}
		argv := []string{shell.DefaultSCPBin}
		argv = append(argv, remote.SCPOptions()...)
		argv = append(argv, "--", src.RemoteHost+src.InfoPath(), dst.RemoteHost+dst.InfoPath())
		if err := s.run(ctx, shell.Local(), "scp info.xml", argv); err != nil {
			return err
		}
	}

	proto, err := s.negotiateProto(ctx, src, dst)
	if err != nil {
		return fmt.Errorf("negotiating send protocol: %w", err)
	}

	sendTool := btrfs.NewTool(s.exec, src.Shell, src.Bins.Btrfs)
	recvTool := btrfs.NewTool(s.exec, dst.Shell, dst.Bins.Btrfs)
	send := sendTool.SendCommand(src.SubvolumePath(), proto, s.config.SendCompressedData,
		s.config.SendOptions, src.ParentSubvolumePath())
	recv := recvTool.ReceiveCommand(dst.SnapshotDir, s.config.ReceiveOptions)

	s.logger.Debug("running send | receive",
		"send", strings.Join(send, " "), "send_shell", src.Shell.String(),
		"receive", strings.Join(recv, " "), "receive_shell", dst.Shell.String())
	res, err := s.exec.Pipe(ctx, src.Shell, send, dst.Shell, recv)
	if err != nil || !res.Success() {
		return s.commandFailed("send | receive", dst.Shell, res, err)
	}
	return nil
}

// negotiateProto picks the newest send stream version that the local kernel and the
// btrfs tools on both ends understand.
func (s *SnapshotSet) negotiateProto(ctx context.Context, src, dst CopySpec) (int, error) {
	proto, err := btrfs.KernelProtoVersion(ctx, s.exec, shell.Local())
	if err != nil {
		return 0, err
	}
	for _, end := range []CopySpec{src, dst} {
		v, err := btrfs.NewTool(s.exec, end.Shell, end.Bins.Btrfs).ProtoVersion(ctx)
		if err != nil {
			return 0, err
		}
		proto = min(proto, v)
	}
	s.logger.Debug("send protocol negotiated", "proto", proto)
	return proto, nil
}

// run executes argv in sh and turns a failure into a CommandError for op.
func (s *SnapshotSet) run(ctx context.Context, sh shell.Shell, op string, argv []string) error {
	s.logger.Debug("running command", "op", op, "shell", sh.String(), "argv", strings.Join(argv, " "))
	res, err := s.exec.Run(ctx, sh, argv)
	if err != nil || !res.Success() {
		return s.commandFailed(op, sh, res, err)
	}
	return nil
}

func (s *SnapshotSet) commandFailed(op string, sh shell.Shell, res shell.Result, err error) error {
	s.logger.Error("command failed", "op", op, "shell", sh.String(), "exit_code", res.ExitCode,
		"stdout", strings.TrimSpace(res.Stdout), "stderr", strings.TrimSpace(res.Stderr), "error", err)
	return &CommandError{Op: op, Shell: sh, Result: res, Err: err}
}
