package lsp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process is the language server the client talks to. Stdin and Stdout are
// handed off once at construction: the client owns the write half and its
// background reader owns the read half.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	// Kill terminates the process. Killing an exited process is not an error.
	Kill() error
	// Wait blocks until the process has exited.
	Wait() error
	// Exited reports without blocking whether the process has terminated,
	// and the error its exit produced.
	Exited() (bool, error)
}

// ExecProcess is a Process backed by os/exec.
//
// The stdio pipes are created with os.Pipe rather than cmd.StdoutPipe so that
// the background wait does not close stdout before the reader drains it.
type ExecProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// StartProcess spawns cmd with piped stdin/stdout. cmd.Stdin and cmd.Stdout
// must be unset; cmd.Stderr is left as configured by the caller.
func StartProcess(cmd *exec.Cmd) (*ExecProcess, error) {
	if cmd.Stdin != nil || cmd.Stdout != nil {
		return nil, errors.New("exec: Stdin and Stdout must not be set")
	}

	childIn, stdin, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, childOut, err := os.Pipe()
	if err != nil {
		childIn.Close()
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	cmd.Stdin = childIn
	cmd.Stdout = childOut
	startErr := cmd.Start()

	// the child holds its own copies now
	childIn.Close()
	childOut.Close()

	if startErr != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, startErr)
	}

	p := &ExecProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Stdin returns the write end of the child's standard input.
func (p *ExecProcess) Stdin() io.Writer { return p.stdin }

// Stdout returns the read end of the child's standard output.
func (p *ExecProcess) Stdout() io.Reader { return p.stdout }

// Pid returns the child's process id.
func (p *ExecProcess) Pid() int { return p.cmd.Process.Pid }

// Kill sends SIGKILL to the child.
func (p *ExecProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until the child exits, then releases the parent's pipe ends.
func (p *ExecProcess) Wait() error {
	<-p.done
	p.once.Do(func() {
		p.stdin.Close()
		p.stdout.Close()
	})
	return p.waitErr
}

// Exited implements Process.
func (p *ExecProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, p.waitErr
	default:
		return false, nil
	}
}
