// Package lockfile keeps two ShopPipe processes from sharing one state
// directory. The flock is dropped by the kernel when the process exits, so a
// crash never leaves a stale lock behind.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "shoppipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Holder describes the process recorded in an existing lock file.
type Holder struct {
	PID     int
	Started string
	Raw     string
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("state directory is locked by another ShopPipe process (lock file %s)", e.LockPath)
	if e.Holder.PID > 0 {
		msg += fmt.Sprintf(", pid %d", e.Holder.PID)
		if e.Holder.Started != "" {
			msg += " started " + e.Holder.Started
		}
		if !processAlive(e.Holder.PID) {
			msg += " (process no longer running; the lock should clear shortly)"
		}
	}
	return msg
}

func (e *LockError) Unwrap() error { return e.Cause }

// Acquire takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// Not truncated before the flock succeeds, so a losing process can still
	// report who holds it.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		holder := readHolder(path)
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "pid", holder.PID)
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeAll(f, info); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	slog.Debug("lockfile.Acquire: lock held", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

func writeAll(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.Acquire: sync failed", "path", f.Name(), "error", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	if err := f.Close(); err != nil {
		slog.Warn("lockfile.Release: close failed", "path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	slog.Debug("lockfile.Release: lock released", "path", l.path)
	return nil
}

func readHolder(path string) Holder {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

func parseHolder(raw string) Holder {
	h := Holder{Raw: strings.TrimSpace(raw)}
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			h.Started = value
		}
	}
	return h
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
