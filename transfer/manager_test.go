package transfer

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/engine/enginetest"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerThreeFileTransfer(t *testing.T) {
	m, eng, _ := newTestManager(t)

	s, index, err := m.Submit(bytes.NewReader(enginetest.MultiFile("album", 100, 200, 300)))
	require.NoError(t, err)
	assert.Equal(t, 0, index)
	assert.Contains(t, m.Names(), "album")

	st, err := m.Status("0")
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Progress)
	assert.Equal(t, s.ID(), st.ID)

	eng.Handles()[0].SetProgress(1)
	st, err = m.Status(s.ID())
	require.NoError(t, err)
	line := st.StatusLine()
	assert.True(t, strings.HasPrefix(line, "100.00%"+separator+strings.Repeat("█", ProgressBarWidth)+separator), line)
	assert.NotContains(t, line, "░")

	files, err := m.Files("0")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	f, info, err := m.OpenFile("0", 2)
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "album/file2.bin", info.Name)
	assert.Equal(t, enginetest.Content(2, 300), b)

	_, _, err = m.OpenFile("0", 3)
	assert.ErrorIs(t, err, ErrInvalidFileIndex)
}

func TestManagerSubmitErrors(t *testing.T) {
	m, eng, fs := newTestManager(t)

	_, _, err := m.Submit(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrMissingDescriptor)
	assert.True(t, IsInputError(err))

	_, _, err = m.Submit(strings.NewReader("not a descriptor"))
	var ide *engine.InvalidDescriptorError
	assert.True(t, errors.As(err, &ide))

	eng.FailBegin(errors.New("no ports"))
	_, _, err = m.Submit(bytes.NewReader(enginetest.MultiFile("album", 10)))
	var ue *engine.UnavailableError
	assert.True(t, errors.As(err, &ue))

	assert.Equal(t, 0, m.Registry().Len())
	infos, err := fs.ReadDir(descriptorsDir)
	require.NoError(t, err)
	assert.Empty(t, infos, "descriptors of failed submissions are removed")
	assert.Equal(t, int64(3), m.metrics.SubmitFailed.Count())
}

func TestManagerDescriptorSizeLimit(t *testing.T) {
	fs := memfs.New()
	cfg := DefaultConfig
	cfg.Database = ""
	cfg.MaxDescriptorSize = 16
	m, err := New(cfg, enginetest.New(fs), fs)
	require.NoError(t, err)
	defer m.Close()

	_, _, err = m.Submit(bytes.NewReader(enginetest.MultiFile("album", 10)))
	var ide *engine.InvalidDescriptorError
	assert.True(t, errors.As(err, &ide), "unexpected error: %v", err)
}

func TestManagerStopShiftsPositions(t *testing.T) {
	m, eng, fs := newTestManager(t)

	first, _ := submit(t, m, enginetest.MultiFile("first", 10))
	second, _ := submit(t, m, enginetest.MultiFile("second", 10))
	third, index := submit(t, m, enginetest.MultiFile("third", 10))
	assert.Equal(t, 2, index)
	assert.Equal(t, []string{"first", "second", "third"}, m.Names())

	stopped, err := m.Stop("1")
	require.NoError(t, err)
	assert.Same(t, second, stopped)
	assert.True(t, eng.Handles()[1].Released())
	assert.False(t, exists(fs, second.Dir()))
	assert.Equal(t, []string{"first", "third"}, m.Names())

	s, err := m.Resolve("1")
	require.NoError(t, err)
	assert.Same(t, third, s)

	// IDs keep pointing to the same transfer.
	s, err = m.Resolve(first.ID())
	require.NoError(t, err)
	assert.Same(t, first, s)
	_, err = m.Resolve(second.ID())
	assert.ErrorIs(t, err, ErrTransferNotFound)

	_, err = m.Stop("2")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, 2, m.Registry().Len())
}

func TestManagerPauseResume(t *testing.T) {
	m, _, _ := newTestManager(t)
	submit(t, m, enginetest.MultiFile("album", 10))

	_, err := m.Pause("0")
	require.NoError(t, err)
	st, err := m.Status("0")
	require.NoError(t, err)
	assert.True(t, st.IsPaused)
	assert.True(t, strings.HasSuffix(st.StatusLine(), separator+"false"))

	_, err = m.Resume("0")
	require.NoError(t, err)
	st, err = m.Status("0")
	require.NoError(t, err)
	assert.False(t, st.IsPaused)

	_, err = m.Pause("7")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestManagerRateLimits(t *testing.T) {
	m, _, _ := newTestManager(t)
	submit(t, m, enginetest.MultiFile("album", 10))

	_, err := m.SetDownloadLimit("0", 0)
	require.NoError(t, err)
	_, err = m.SetUploadLimit("0", 4096)
	require.NoError(t, err)
	st, err := m.Status("0")
	require.NoError(t, err)
	assert.Equal(t, engine.Unlimited, st.DownloadLimit)
	assert.Equal(t, int64(4096), st.UploadLimit)

	_, err = m.SetDownloadLimit("0", -1)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestManagerArchiveLifecycle(t *testing.T) {
	m, _, fs := newTestManager(t)
	submit(t, m, enginetest.MultiFile("album", 10, 20, 30))

	p, err := m.PackageAll("0")
	require.NoError(t, err)
	f, err := m.Open(p)
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, f)
	require.NoError(t, err)
	f.Close()

	m.ScheduleExpiry(p)
	assert.True(t, exists(fs, p))
	assert.Eventually(t, func() bool { return !exists(fs, p) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), m.metrics.ArchivesCreated.Count())
}

func TestManagerArchiveSingleFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	submit(t, m, enginetest.SingleFile("movie.mkv", 10))

	_, err := m.PackageAll("0")
	var ae *ArchiveError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, int64(1), m.metrics.ArchiveFailures.Count())
}

func TestManagerCloseKeepsFiles(t *testing.T) {
	fs := memfs.New()
	eng := enginetest.New(fs)
	cfg := DefaultConfig
	cfg.Database = filepath.Join(t.TempDir(), "archives.db")
	m, err := New(cfg, eng, fs)
	require.NoError(t, err)

	s, _ := submit(t, m, enginetest.MultiFile("album", 10))
	p, err := m.PackageAll("0")
	require.NoError(t, err)
	m.ScheduleExpiryAfter(p, time.Hour)
	require.NoError(t, m.Close())

	assert.True(t, eng.Handles()[0].Released())
	assert.True(t, exists(fs, filepath.ToSlash(filepath.Join(s.Dir(), "album", "file0.bin"))))
	assert.True(t, exists(fs, p))

	// The next Manager picks up the pending deletion.
	m, err = New(cfg, eng, fs)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 1, m.archiver.Pending())
}

func TestManagerMetrics(t *testing.T) {
	m, _, _ := newTestManager(t)
	submit(t, m, enginetest.MultiFile("a", 10))
	submit(t, m, enginetest.MultiFile("b", 10))
	_, err := m.Stop("0")
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.metrics.Transfers.Value())
	assert.Equal(t, int64(2), m.metrics.Submitted.Count())
	assert.Equal(t, int64(1), m.metrics.Stopped.Count())
	assert.NotNil(t, m.Metrics().Get("pending_expiries"))
}
