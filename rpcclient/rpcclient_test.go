package rpcclient

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/rainhub/engine/enginetest"
	"github.com/cenkalti/rainhub/server"
	"github.com/cenkalti/rainhub/transfer"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs := memfs.New()
	cfg := transfer.DefaultConfig
	cfg.Database = ""
	m, err := transfer.New(cfg, enginetest.New(fs), fs)
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(m).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = m.Close()
	})
	return ts
}

func TestWaitReady(t *testing.T) {
	ts := newServer(t)
	clt := New(ts.URL + "/")
	defer clt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, clt.WaitReady(ctx))
}

func TestWaitReadyTimeout(t *testing.T) {
	ts := newServer(t)
	u := ts.URL
	ts.Close()

	clt := New(u)
	defer clt.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, clt.WaitReady(ctx))
}

func TestDownloadErrors(t *testing.T) {
	ts := newServer(t)
	clt := New(ts.URL)
	defer clt.Close()

	var buf bytes.Buffer
	_, err := clt.DownloadFile("0", 0, &buf)
	assert.EqualError(t, err, "400 Bad Request: Invalid index")

	_, err = clt.AddTransfer(bytes.NewReader(enginetest.SingleFile("movie.mkv", 10)))
	require.NoError(t, err)
	_, err = clt.DownloadArchive("0", &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())

	name, err := clt.DownloadFile("0", 0, &buf)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", name)
	assert.Equal(t, enginetest.Content(0, 10), buf.Bytes())
}
