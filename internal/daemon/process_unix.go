//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// OSSignaler signals real processes.
type OSSignaler struct{}

// Probe sends signal 0 to pid.
func (OSSignaler) Probe(pid int) error {
	return classify(syscall.Kill(pid, 0))
}

// Terminate sends SIGTERM to pid.
func (OSSignaler) Terminate(pid int) error {
	return classify(syscall.Kill(pid, syscall.SIGTERM))
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
	case errors.Is(err, syscall.ESRCH):
		return fmt.Errorf("%w: %w", ErrProcessGone, err)
	default:
		return err
	}
}

// ExecSpawner re-executes the current binary in a new session.
type ExecSpawner struct {
	// Executable overrides os.Executable.
	Executable string
}

// Spawn starts the child with stdin closed and output sent to logPath.
func (s ExecSpawner) Spawn(args []string, logPath string) (Process, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}
	out, err := openLog(logPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}
	return watch(cmd), nil
}
