package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

type ShellOpts struct {
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Passthrough hands our own stdout/stderr to the child. Nothing is captured.
	Passthrough bool
}

type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecShellEx runs name to completion. A non-zero exit is reported in
// ExitCode with a nil error; err is only set when the process could not run.
func ExecShellEx(ctx context.Context, opts ShellOpts, name string, arg ...string) (*ShellResult, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	co := exec.CommandContext(ctx, name, arg...)
	co.Dir = opts.Dir
	if len(opts.Env) > 0 {
		co.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Passthrough {
		co.Stdout = os.Stdout
		co.Stderr = os.Stderr
		return exitResult(&ShellResult{}, co.Run())
	}
	stdoutIn, err := co.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrIn, err := co.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err = co.Start(); err != nil {
		return nil, err
	}
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdoutBuf, stdoutIn)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderrIn)
	}()
	wg.Wait()
	err = co.Wait()

	return exitResult(&ShellResult{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}, err)
}

func exitResult(ret *ShellResult, err error) (*ShellResult, error) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ret.ExitCode = exitErr.ExitCode()
		if ret.ExitCode < 0 {
			ret.ExitCode = 1
		}
		return ret, nil
	}
	if err != nil {
		return ret, err
	}
	return ret, nil
}
