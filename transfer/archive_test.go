package transfer

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/rainhub/engine/enginetest"
	"github.com/fortytw2/leaktest"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, fs billy.Filesystem, p string) map[string][]byte {
	t.Helper()
	b, err := util.ReadFile(fs, p)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	files := make(map[string][]byte)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = content
	}
	return files
}

func TestPackageAll(t *testing.T) {
	defer leaktest.Check(t)()

	fs := memfs.New()
	eng := enginetest.New(fs)
	s, _ := startSession(t, fs, eng, enginetest.MultiFile("album", 10, 20, 30))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.PackageAll(s)
	require.NoError(t, err)
	assert.Equal(t, "archives/"+s.ID()+"/album.zip", p)

	files := readZip(t, fs, p)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"file0.bin", "file1.bin", "file2.bin"}, names)
	assert.Equal(t, enginetest.Content(2, 30), files["file2.bin"])

	// No temporary files are left next to the archive.
	infos, err := fs.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestPackageAllSingleFile(t *testing.T) {
	fs := memfs.New()
	eng := enginetest.New(fs)
	s, _ := startSession(t, fs, eng, enginetest.SingleFile("movie.mkv", 40))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.PackageAll(s)
	var ae *ArchiveError
	require.True(t, errors.As(err, &ae), "unexpected error: %v", err)
	assert.Contains(t, err.Error(), "try downloading the file directly")
	assert.False(t, exists(fs, "archives/"+s.ID()+"/movie.mkv.zip"))
}

func TestPackageAllNotStarted(t *testing.T) {
	fs := memfs.New()
	eng := enginetest.New(fs)
	s := newSession(t, fs, eng, enginetest.MultiFile("album", 10))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.PackageAll(s)
	assert.ErrorIs(t, err, ErrSessionNotStarted)
}

func TestScheduleExpiry(t *testing.T) {
	defer leaktest.Check(t)()

	fs := memfs.New()
	eng := enginetest.New(fs)
	s, _ := startSession(t, fs, eng, enginetest.MultiFile("album", 10, 20))
	expired := metrics.NewCounter()
	a, err := NewArchiver(fs, archivesDir, nil, expired)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.PackageAll(s)
	require.NoError(t, err)
	a.ScheduleExpiry(p, 20*time.Millisecond)
	assert.True(t, exists(fs, p))
	assert.Equal(t, 1, a.Pending())

	assert.Eventually(t, func() bool { return !exists(fs, p) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return expired.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !exists(fs, filepath.Dir(p)) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, a.Pending())
}

func TestScheduleExpiryMissingFile(t *testing.T) {
	fs := memfs.New()
	expired := metrics.NewCounter()
	a, err := NewArchiver(fs, archivesDir, nil, expired)
	require.NoError(t, err)
	defer a.Close()

	a.ScheduleExpiry("archives/gone/gone.zip", 0)
	assert.Eventually(t, func() bool { return a.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return expired.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPackageAllCancelsPendingExpiry(t *testing.T) {
	defer leaktest.Check(t)()

	fs := memfs.New()
	eng := enginetest.New(fs)
	s, _ := startSession(t, fs, eng, enginetest.MultiFile("album", 10, 20))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.PackageAll(s)
	require.NoError(t, err)
	a.ScheduleExpiry(p, 30*time.Millisecond)

	// A second request regenerates the archive before the deletion fires.
	p2, err := a.PackageAll(s)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	assert.Equal(t, 0, a.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.True(t, exists(fs, p))
}

func TestScheduleExpiryReplaces(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "archives/x/a.zip", []byte("zip"), 0o644))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	a.ScheduleExpiry("archives/x/a.zip", time.Hour)
	a.ScheduleExpiry("archives/x/a.zip", 10*time.Millisecond)
	assert.Equal(t, 1, a.Pending())
	assert.Eventually(t, func() bool { return !exists(fs, "archives/x/a.zip") }, time.Second, 5*time.Millisecond)

	a.ScheduleExpiry("archives/x/b.zip", time.Hour)
	assert.True(t, a.Cancel("archives/x/b.zip"))
	assert.False(t, a.Cancel("archives/x/b.zip"))
	assert.Equal(t, 0, a.Pending())
}

func TestArchiverCloseStopsTimers(t *testing.T) {
	defer leaktest.Check(t)()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "archives/x/a.zip", []byte("zip"), 0o644))
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)

	a.ScheduleExpiry("archives/x/a.zip", 20*time.Millisecond)
	a.Close()
	assert.Equal(t, 0, a.Pending())

	// Scheduling after Close is ignored.
	a.ScheduleExpiry("archives/x/a.zip", 0)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, exists(fs, "archives/x/a.zip"))
}

// blockingRemoveFS holds the first Remove of name until release is closed.
type blockingRemoveFS struct {
	billy.Filesystem
	name    string
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (fs *blockingRemoveFS) Remove(name string) error {
	if name == fs.name {
		fs.once.Do(func() {
			close(fs.started)
			<-fs.release
		})
	}
	return fs.Filesystem.Remove(name)
}

func TestPackageAllWaitsForRunningExpiry(t *testing.T) {
	defer leaktest.Check(t)()

	mem := memfs.New()
	eng := enginetest.New(mem)
	s, _ := startSession(t, mem, eng, enginetest.MultiFile("album", 10, 20))
	fs := &blockingRemoveFS{
		Filesystem: mem,
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	a, err := NewArchiver(fs, archivesDir, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.PackageAll(s)
	require.NoError(t, err)
	fs.name = p
	a.ScheduleExpiry(p, 0)
	<-fs.started

	// The deletion is in progress; a new archive must not be written under it.
	type result struct {
		path string
		err  error
	}
	resultC := make(chan result, 1)
	go func() {
		p2, err := a.PackageAll(s)
		resultC <- result{p2, err}
	}()
	select {
	case <-resultC:
		t.Fatal("PackageAll returned while the old archive was being deleted")
	case <-time.After(50 * time.Millisecond):
	}

	close(fs.release)
	res := <-resultC
	require.NoError(t, res.err)
	assert.Equal(t, p, res.path)
	assert.True(t, exists(mem, p))
	assert.Len(t, readZip(t, mem, p), 2)
	assert.Equal(t, 0, a.Pending())
}

func TestArchiverLedger(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "archives.db"))
	require.NoError(t, err)
	defer l.Close()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "archives/x/a.zip", []byte("zip"), 0o644))
	require.NoError(t, util.WriteFile(fs, "archives/y/b.zip", []byte("zip"), 0o644))
	a, err := NewArchiver(fs, archivesDir, l, nil)
	require.NoError(t, err)
	defer a.Close()

	before := time.Now()
	a.ScheduleExpiry("archives/x/a.zip", time.Hour)
	a.ScheduleExpiry("archives/y/b.zip", 10*time.Millisecond)
	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries["archives/x/a.zip"].Before(before.Add(time.Hour).Truncate(time.Second)))

	// Cancelling drops the recorded deadline.
	assert.True(t, a.Cancel("archives/x/a.zip"))
	entries, err = l.Entries()
	require.NoError(t, err)
	assert.NotContains(t, entries, "archives/x/a.zip")

	// An executed deletion drops it too.
	assert.Eventually(t, func() bool {
		entries, err := l.Entries()
		return err == nil && len(entries) == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, exists(fs, "archives/y/b.zip"))
	assert.True(t, exists(fs, "archives/x/a.zip"))
}
