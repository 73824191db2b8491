//go:build windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// OSSignaler signals real processes. Windows has no signal 0, so Probe opens the process.
type OSSignaler struct{}

// Probe reports whether pid exists.
func (OSSignaler) Probe(pid int) error {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, syscall.ERROR_ACCESS_DENIED) {
			return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
		}
		return fmt.Errorf("%w: %w", ErrProcessGone, err)
	}
	defer syscall.CloseHandle(h)
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return err
	}
	const stillActive = 259
	if code != stillActive {
		return ErrProcessGone
	}
	return nil
}

// Terminate kills pid.
func (OSSignaler) Terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessGone, err)
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w: %w", ErrProcessGone, err)
		}
		return err
	}
	return nil
}

// ExecSpawner re-executes the current binary in a new process group.
type ExecSpawner struct {
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
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}
	return watch(cmd), nil
}
