package transfer

import (
	"bytes"
	"path"
	"testing"
	"time"

	"github.com/cenkalti/rainhub/engine/enginetest"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *enginetest.Engine, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	eng := enginetest.New(fs)
	cfg := DefaultConfig
	cfg.Database = ""
	cfg.ArchiveGracePeriod = 50 * time.Millisecond
	m, err := New(cfg, eng, fs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, eng, fs
}

func submit(t *testing.T, m *Manager, desc []byte) (*Session, int) {
	t.Helper()
	s, index, err := m.Submit(bytes.NewReader(desc))
	require.NoError(t, err)
	return s, index
}

// newSession writes desc into fs and returns a Session for it that is not started yet.
func newSession(t *testing.T, fs billy.Filesystem, eng *enginetest.Engine, desc []byte) *Session {
	t.Helper()
	id := uuid.Must(uuid.NewV4()).String()
	p := path.Join(descriptorsDir, id+".torrent")
	require.NoError(t, util.WriteFile(fs, p, desc, 0o644))
	return NewSession(id, p, path.Join(transfersDir, id), eng, fs)
}

func startSession(t *testing.T, fs billy.Filesystem, eng *enginetest.Engine, desc []byte) (*Session, *enginetest.Handle) {
	t.Helper()
	s := newSession(t, fs, eng, desc)
	require.NoError(t, s.Start())
	handles := eng.Handles()
	return s, handles[len(handles)-1]
}

func exists(fs billy.Filesystem, p string) bool {
	_, err := fs.Stat(p)
	return err == nil
}
