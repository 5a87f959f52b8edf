// Package proclock guards a storage directory against concurrent processor
// instances. Ownership is a marker file recording the holder's process
// identity; a marker whose holder is verifiably dead is reclaimed instead of
// blocking the new instance forever.
package proclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// MarkerName is the lock marker file created inside the storage directory.
// Absence means unlocked.
const MarkerName = "processor.lock"

// ErrAlreadyRunning means a live processor instance already owns the
// directory. The caller must not touch the record.
var ErrAlreadyRunning = errors.New("another processor instance is already running")

// Marker identifies the lock holder. PIDStartTimeMS discriminates a stale
// marker whose PID the kernel has since handed to an unrelated process: same
// PID, different start time, dead holder.
type Marker struct {
	PID            int       `json:"pid"`
	PIDStartTimeMS int64     `json:"pid_start_time_ms"`
	Hostname       string    `json:"hostname"`
	AcquiredAt     time.Time `json:"acquired_at"`
}

// Lock is exclusive ownership of a storage directory for the lifetime of one
// running instance.
type Lock struct {
	mu       sync.Mutex
	path     string
	released bool
}

// Acquire attempts exclusive acquisition of dir. An existing marker whose
// holder is still alive fails with ErrAlreadyRunning; a stale or unreadable
// marker is reclaimed.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, MarkerName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := writeMarker(f, selfMarker()); err != nil {
				os.Remove(path)
				return nil, err
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock marker %s: %w", path, err)
		}

		m, readErr := readMarker(path)
		if readErr == nil && holderAlive(m) {
			return nil, fmt.Errorf("%w: pid %d on %s holds %s since %s",
				ErrAlreadyRunning, m.PID, m.Hostname, path, m.AcquiredAt.Format(time.RFC3339))
		}

		// Stale or unreadable marker: reclaim and retry the exclusive create.
		// If the marker changed hands in the meantime the next attempt
		// re-reads it and re-checks liveness.
		if err := reclaimStale(path, m); err != nil {
			return nil, err
		}
	}

	// Two rounds of create-or-reclaim lost the race both times; somebody live
	// is churning the marker.
	return nil, fmt.Errorf("%w: lost acquisition race on %s", ErrAlreadyRunning, path)
}

// Release removes the lock marker. Releasing an already-released lock is a
// no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock marker %s: %w", l.path, err)
	}
	l.released = true
	return nil
}

// reclaimStale removes the marker at path only while it still matches the
// marker judged stale. The marker is renamed aside before the check: a plain
// remove could race a concurrent starter that reclaimed first and delete the
// fresh marker it just wrote. An unreadable judged marker is the zero Marker,
// which never matches a readable one.
func reclaimStale(path string, judged Marker) error {
	aside := fmt.Sprintf("%s.reclaim.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // someone else reclaimed first
		}
		return fmt.Errorf("reclaim stale lock marker %s: %w", path, err)
	}

	if cur, err := readMarker(aside); err == nil && cur != judged {
		// A different holder wrote this marker after it was judged stale;
		// hand it back untouched.
		if err := os.Rename(aside, path); err != nil {
			os.Remove(aside)
		}
		return nil
	}

	if err := os.Remove(aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reclaim stale lock marker %s: %w", path, err)
	}
	return nil
}

func selfMarker() Marker {
	m := Marker{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	m.Hostname, _ = os.Hostname()
	if p, err := process.NewProcess(int32(m.PID)); err == nil {
		if ct, err := p.CreateTime(); err == nil {
			m.PIDStartTimeMS = ct
		}
	}
	return m
}

func writeMarker(f *os.File, m Marker) error {
	defer f.Close()
	if err := json.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("write lock marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock marker: %w", err)
	}
	return nil
}

func readMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, err
	}
	if m.PID <= 0 {
		return Marker{}, fmt.Errorf("marker has invalid pid %d", m.PID)
	}
	return m, nil
}

// holderAlive reports whether the recorded holder is still a running process.
// When in doubt it answers true: wrongly refusing to start is recoverable,
// two writers on one record are not.
func holderAlive(m Marker) bool {
	if host, err := os.Hostname(); err == nil && m.Hostname != "" && m.Hostname != host {
		// Marker written on another machine; its PID table is not ours to probe.
		return true
	}

	p, err := process.NewProcess(int32(m.PID))
	if err != nil {
		return false // no such process
	}
	if m.PIDStartTimeMS == 0 {
		return true
	}
	ct, err := p.CreateTime()
	if err != nil {
		return true
	}
	return ct == m.PIDStartTimeMS
}
