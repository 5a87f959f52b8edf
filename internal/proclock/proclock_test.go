package proclock

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeMarkerFile(t *testing.T, dir string, m Marker) string {
	t.Helper()
	path := filepath.Join(dir, MarkerName)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func selfMarkerForTest(t *testing.T) Marker {
	t.Helper()
	m := selfMarker()
	require.Equal(t, os.Getpid(), m.PID)
	return m
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	lock, err := Acquire(dir)
	require.NoError(t, err)

	// The marker names this process as the holder.
	data, err := os.ReadFile(filepath.Join(dir, MarkerName))
	require.NoError(t, err)
	var m Marker
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, os.Getpid(), m.PID)
	require.NotZero(t, m.PIDStartTimeMS)
	require.False(t, m.AcquiredAt.IsZero())

	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, MarkerName))
	require.ErrorIs(t, err, os.ErrNotExist)

	// Releasing again is a no-op, not an error.
	require.NoError(t, lock.Release())
}

func TestAcquire_LiveHolderRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// The holder is this very process, which is definitely alive.
	writeMarkerFile(t, dir, selfMarkerForTest(t))

	_, err := Acquire(dir)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquire_DeadHolderReclaimed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Run a short-lived child and record it as the holder; once Wait returns
	// the pid belongs to no running process.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	host, _ := os.Hostname()
	writeMarkerFile(t, dir, Marker{
		PID:            pid,
		PIDStartTimeMS: time.Now().UnixMilli(),
		Hostname:       host,
		AcquiredAt:     time.Now().UTC(),
	})

	lock, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquire_PIDReuseTreatedAsStale(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Same pid as a live process but a different recorded start time: the
	// original holder died and the kernel reused its pid.
	m := selfMarkerForTest(t)
	m.PIDStartTimeMS += 123456
	writeMarkerFile(t, dir, m)

	lock, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquire_UnreadableMarkerReclaimed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkerName), []byte("not json"), 0o644))

	lock, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestReclaimStale_MatchingMarkerRemoved(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeMarkerFile(t, dir, Marker{
		PID:            12345,
		PIDStartTimeMS: 1,
		Hostname:       "h",
		AcquiredAt:     time.Now().UTC(),
	})

	judged, err := readMarker(path)
	require.NoError(t, err)
	require.NoError(t, reclaimStale(path, judged))

	// The marker is gone and no renamed-aside residue is left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReclaimStale_ReplacedMarkerSurvives(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// The marker on disk is not the one judged stale: a concurrent starter
	// reclaimed and re-created it in between. It must survive the reclaim.
	fresh := selfMarkerForTest(t)
	path := writeMarkerFile(t, dir, fresh)

	judged := fresh
	judged.PID = fresh.PID + 1
	require.NoError(t, reclaimStale(path, judged))

	got, err := readMarker(path)
	require.NoError(t, err)
	require.Equal(t, fresh.PID, got.PID)
	require.Equal(t, fresh.PIDStartTimeMS, got.PIDStartTimeMS)
}

func TestAcquire_ForeignHostMarkerTreatedAsLive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m := selfMarkerForTest(t)
	m.Hostname = "some-other-host"
	writeMarkerFile(t, dir, m)

	_, err := Acquire(dir)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}
