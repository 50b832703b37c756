// Package enginetest provides an in-memory engine.Engine for tests.
// Begin writes the described files into a billy filesystem immediately and reports progress
// that the test controls.
package enginetest

import (
	"bytes"
	"errors"
	"io"
	"path"
	"sync"

	"github.com/cenkalti/rainhub/engine"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Engine is a fake engine.Engine.
type Engine struct {
	fs billy.Filesystem

	m        sync.Mutex
	beginErr error
	handles  []*Handle
}

var _ engine.Engine = (*Engine)(nil)

// New returns an Engine that materializes transfer files in fs.
func New(fs billy.Filesystem) *Engine {
	return &Engine{fs: fs}
}

// FailBegin makes subsequent Begin calls fail with an UnavailableError wrapping err.
// Passing nil restores normal behavior.
func (e *Engine) FailBegin(err error) {
	e.m.Lock()
	e.beginErr = err
	e.m.Unlock()
}

// Handles returns every handle created so far.
func (e *Engine) Handles() []*Handle {
	e.m.Lock()
	defer e.m.Unlock()
	return append([]*Handle(nil), e.handles...)
}

// Parse implements engine.Engine.
func (e *Engine) Parse(r io.Reader) (*engine.Metadata, error) {
	return engine.ParseDescriptor(r, 0)
}

// Begin implements engine.Engine.
func (e *Engine) Begin(m *engine.Metadata, dir string) (engine.Handle, error) {
	e.m.Lock()
	defer e.m.Unlock()
	if e.beginErr != nil {
		return nil, engine.NewUnavailableError(e.beginErr)
	}
	for i, f := range m.Files {
		err := util.WriteFile(e.fs, path.Join(dir, f.Path), Content(i, f.Length), 0o644)
		if err != nil {
			return nil, engine.NewUnavailableError(err)
		}
	}
	h := &Handle{
		Meta:      m,
		Dir:       dir,
		downLimit: engine.Unlimited,
		upLimit:   engine.Unlimited,
		state:     "downloading",
	}
	e.handles = append(e.handles, h)
	return h, nil
}

// Content returns the bytes written for the i'th file of a transfer.
func Content(i int, length int64) []byte {
	return bytes.Repeat([]byte{byte('a' + i%26)}, int(length))
}

var errReleased = errors.New("handle released")

// Handle is a fake engine.Handle.
type Handle struct {
	Meta *engine.Metadata
	Dir  string

	m         sync.Mutex
	progress  float64
	downRate  int64
	upRate    int64
	peers     int
	state     string
	paused    bool
	released  bool
	downLimit int64
	upLimit   int64
}

var _ engine.Handle = (*Handle)(nil)

// SetProgress sets the progress reported by Status.
func (h *Handle) SetProgress(p float64) {
	h.m.Lock()
	h.progress = p
	if p >= 1 {
		h.state = "seeding"
	}
	h.m.Unlock()
}

// SetRates sets transfer rates in bytes per second.
func (h *Handle) SetRates(down, up int64) {
	h.m.Lock()
	h.downRate, h.upRate = down, up
	h.m.Unlock()
}

// SetPeers sets the number of connected peers.
func (h *Handle) SetPeers(n int) {
	h.m.Lock()
	h.peers = n
	h.m.Unlock()
}

// SetEnginePaused changes the engine's own pause flag without going through Pause/Resume.
func (h *Handle) SetEnginePaused(paused bool) {
	h.m.Lock()
	h.paused = paused
	h.m.Unlock()
}

// Released reports whether Release was called.
func (h *Handle) Released() bool {
	h.m.Lock()
	defer h.m.Unlock()
	return h.released
}

func (h *Handle) Status() engine.Status {
	h.m.Lock()
	defer h.m.Unlock()
	completed := int64(h.progress * float64(h.Meta.TotalLength))
	state := h.state
	if h.paused {
		state = "paused"
	}
	return engine.Status{
		Name:            h.Meta.Name,
		InfoHash:        h.Meta.InfoHash,
		State:           state,
		Progress:        h.progress,
		DownloadRate:    h.downRate,
		UploadRate:      h.upRate,
		NumPeers:        h.peers,
		TotalBytes:      h.Meta.TotalLength,
		CompletedBytes:  completed,
		DownloadedBytes: completed,
		FileCount:       len(h.Meta.Files),
		Paused:          h.paused,
		ETA:             -1,
	}
}

func (h *Handle) Pause() error {
	h.m.Lock()
	defer h.m.Unlock()
	if h.released {
		return errReleased
	}
	h.paused = true
	return nil
}

func (h *Handle) Resume() error {
	h.m.Lock()
	defer h.m.Unlock()
	if h.released {
		return errReleased
	}
	h.paused = false
	return nil
}

func (h *Handle) Release() error {
	h.m.Lock()
	defer h.m.Unlock()
	h.released = true
	return nil
}

func (h *Handle) Files() []engine.FileInfo {
	h.m.Lock()
	defer h.m.Unlock()
	files := make([]engine.FileInfo, len(h.Meta.Files))
	for i, f := range h.Meta.Files {
		files[i] = engine.FileInfo{
			Path:     f.Path,
			Size:     f.Length,
			Progress: h.progress,
			Priority: 4,
		}
	}
	return files
}

func (h *Handle) SetDownloadLimit(n int64) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.downLimit = n
	return nil
}

func (h *Handle) SetUploadLimit(n int64) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.upLimit = n
	return nil
}

func (h *Handle) DownloadLimit() int64 {
	h.m.Lock()
	defer h.m.Unlock()
	return h.downLimit
}

func (h *Handle) UploadLimit() int64 {
	h.m.Lock()
	defer h.m.Unlock()
	return h.upLimit
}
