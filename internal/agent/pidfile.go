package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/willibrandon/vperf/internal/config"
)

var (
	// ErrAgentRunning means another live agent holds the PID file.
	ErrAgentRunning = errors.New("another vperf-agent instance is already running")
	// ErrNoPIDFile means no agent has claimed the PID file.
	ErrNoPIDFile = errors.New("no PID file found")
	// ErrStalePIDFile means the recorded agent is no longer running.
	ErrStalePIDFile = errors.New("stale PID file (process not running)")
)

// WritePIDFile claims path for this process. The file is created
// exclusively; one left by a dead agent, or by this process, is replaced.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	self := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", self)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				return fmt.Errorf("failed to write PID file: %w", werr)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		holder, rerr := ReadPIDFile(path)
		if rerr == nil && holder != self && isProcessRunning(holder) {
			return fmt.Errorf("%w (PID %d)", ErrAgentRunning, holder)
		}
		if err := RemovePIDFile(path); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to claim PID file %s", path)
}

// ReadPIDFile returns the PID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoPIDFile
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes path. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// CheckPIDFile returns the PID of the running agent, 0 when there is none,
// or ErrStalePIDFile when the recorded process is gone.
func CheckPIDFile(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	switch {
	case errors.Is(err, ErrNoPIDFile):
		return 0, nil
	case err != nil:
		return 0, err
	case !isProcessRunning(pid):
		return 0, ErrStalePIDFile
	}
	return pid, nil
}

// isProcessRunning probes pid with signal 0. FindProcess always succeeds
// on Unix, so the signal is the real test.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// DefaultPIDFilePath returns ~/.config/vperf/vperf-agent.pid.
func DefaultPIDFilePath() string {
	return filepath.Join(config.DefaultConfigDir(), "vperf-agent.pid")
}

// AgentRunning reports whether a live agent holds the default PID file. A
// stale file is removed on the way.
func AgentRunning() (bool, int, error) {
	path := DefaultPIDFilePath()
	pid, err := CheckPIDFile(path)
	if errors.Is(err, ErrStalePIDFile) {
		_ = RemovePIDFile(path)
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return pid > 0, pid, nil
}
