package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs commands in a Shell.
// A non-zero exit status is reported through Result, not as an error; the error return
// is reserved for commands that could not be started or waited for.
type Executor interface {
	// Run runs argv in sh and waits for it to exit.
	Run(ctx context.Context, sh Shell, argv []string) (Result, error)

	// Pipe runs src in srcShell and dst in dstShell with src's standard output connected
	// to dst's standard input, and waits for both. The data flows between the two
	// processes without being buffered here. The returned ExitCode is the first non-zero
	// exit status of src then dst.
	Pipe(ctx context.Context, srcShell Shell, src []string, dstShell Shell, dst []string) (Result, error)
}

// OSExecutor runs commands as local processes, wrapping remote ones in ssh.
type OSExecutor struct{}

// NewOSExecutor creates an executor backed by os/exec.
func NewOSExecutor() *OSExecutor {
	return &OSExecutor{}
}

func (e *OSExecutor) command(ctx context.Context, sh Shell, argv []string) (*exec.Cmd, error) {
	wrapped, err := sh.Wrap(argv)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, wrapped[0], wrapped[1:]...)
	// Tools parse each other's output, keep it untranslated.
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	return cmd, nil
}

// Run runs argv in sh and captures its output.
func (e *OSExecutor) Run(ctx context.Context, sh Shell, argv []string) (Result, error) {
	cmd, err := e.command(ctx, sh, argv)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	code, err := exitCode(err)
	if err != nil {
		return res, fmt.Errorf("running %s on %s: %w", argv[0], sh, err)
	}
	res.ExitCode = code
	return res, nil
}

// Pipe connects src's standard output to dst's standard input through an OS pipe.
func (e *OSExecutor) Pipe(ctx context.Context, srcShell Shell, src []string, dstShell Shell, dst []string) (Result, error) {
	srcCmd, err := e.command(ctx, srcShell, src)
	if err != nil {
		return Result{}, err
	}
	dstCmd, err := e.command(ctx, dstShell, dst)
	if err != nil {
		return Result{}, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("creating pipe: %w", err)
	}

	var srcErr, dstErr, dstOut bytes.Buffer
	srcCmd.Stdout = w
	srcCmd.Stderr = &srcErr
	dstCmd.Stdin = r
	dstCmd.Stdout = &dstOut
	dstCmd.Stderr = &dstErr

	if err := srcCmd.Start(); err != nil {
		r.Close()
		w.Close()
		return Result{}, fmt.Errorf("starting %s on %s: %w", src[0], srcShell, err)
	}
	if err := dstCmd.Start(); err != nil {
		r.Close()
		w.Close()
		srcCmd.Wait()
		return Result{}, fmt.Errorf("starting %s on %s: %w", dst[0], dstShell, err)
	}

	// The children hold their own copies; closing ours lets EOF and SIGPIPE propagate.
	r.Close()
	w.Close()

	srcCode, srcWaitErr := exitCode(srcCmd.Wait())
	dstCode, dstWaitErr := exitCode(dstCmd.Wait())

	res := Result{
		Stdout: dstOut.String(),
		Stderr: joinOutput(srcErr.String(), dstErr.String()),
	}
	if srcWaitErr != nil {
		return res, fmt.Errorf("waiting for %s on %s: %w", src[0], srcShell, srcWaitErr)
	}
	if dstWaitErr != nil {
		return res, fmt.Errorf("waiting for %s on %s: %w", dst[0], dstShell, dstWaitErr)
	}

	res.ExitCode = pipeExitCode(srcCode, dstCode)
	return res, nil
}

// pipeExitCode picks the exit code that explains a pipeline's failure. A source
// killed by a signal (SIGPIPE once the destination is gone) defers to a failing
// destination.
func pipeExitCode(srcCode, dstCode int) int {
	if srcCode == 0 || (srcCode >= 128 && dstCode != 0) {
		return dstCode
	}
	return srcCode
}

// exitCode extracts the exit status from a Wait/Run error.
// Errors other than a non-zero exit are returned unchanged.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Killed by a signal.
		return 128, nil
	}
	return -1, err
}

func joinOutput(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimRight(p, "\n"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return strings.Join(nonEmpty, "\n") + "\n"
}

// Compile-time check that OSExecutor implements Executor
var _ Executor = (*OSExecutor)(nil)
