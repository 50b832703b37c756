// Package anacrolix implements engine.Engine on top of github.com/anacrolix/torrent.
//
// Every transfer gets its own torrent.Client so that rate limits and listen ports are per transfer.
package anacrolix

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/internal/logger"
	"golang.org/x/time/rate"
)

// Config for Engine.
type Config struct {
	// Transfer output directories passed to Begin are relative to DataDir.
	DataDir string
	// Peer listen ports are allocated from [PortBegin, PortEnd).
	PortBegin uint16
	PortEnd   uint16
	// Disable DHT peer discovery.
	NoDHT bool
	// Keep uploading after the download is complete.
	Seed bool
	// Disable uploading entirely.
	NoUpload bool
	// Do not map listen ports on the router with UPnP.
	NoPortForwarding bool
	// Maximum accepted descriptor size in bytes.
	MaxDescriptorSize int64
}

var errNoPort = errors.New("no free port")

// Engine starts a torrent.Client per transfer.
type Engine struct {
	config Config
	log    logger.Logger

	mPorts         sync.Mutex
	availablePorts map[uint16]struct{}
}

var _ engine.Engine = (*Engine)(nil)

// New returns a new Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.PortBegin >= cfg.PortEnd {
		return nil, errors.New("invalid port range")
	}
	ports := make(map[uint16]struct{})
	for p := cfg.PortBegin; p < cfg.PortEnd; p++ {
		ports[p] = struct{}{}
	}
	return &Engine{
		config:         cfg,
		log:            logger.New("anacrolix"),
		availablePorts: ports,
	}, nil
}

// Parse implements engine.Engine.
func (e *Engine) Parse(r io.Reader) (*engine.Metadata, error) {
	return engine.ParseDescriptor(r, e.config.MaxDescriptorSize)
}

// Begin implements engine.Engine.
func (e *Engine) Begin(m *engine.Metadata, dir string) (engine.Handle, error) {
	mi, err := metainfo.Load(bytes.NewReader(m.Raw))
	if err != nil {
		return nil, engine.NewInvalidDescriptorError(err)
	}
	port, err := e.getPort()
	if err != nil {
		return nil, engine.NewUnavailableError(err)
	}
	var success bool
	defer func() {
		if !success {
			e.releasePort(port)
		}
	}()

	down := rate.NewLimiter(rate.Inf, 0)
	up := rate.NewLimiter(rate.Inf, 0)

	dataDir := filepath.Join(e.config.DataDir, filepath.FromSlash(dir))
	// Piece completion is kept in memory. The default store puts a database file into the
	// output directory, which would outlive the transfer's own files.
	store := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   dataDir,
		PieceCompletion: storage.NewMapPieceCompletion(),
	})

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.DefaultStorage = store
	cfg.ListenPort = int(port)
	cfg.NoDefaultPortForwarding = e.config.NoPortForwarding
	cfg.NoDHT = e.config.NoDHT
	cfg.Seed = e.config.Seed
	cfg.NoUpload = e.config.NoUpload
	cfg.DownloadRateLimiter = down
	cfg.UploadRateLimiter = up

	cl, err := torrent.NewClient(cfg)
	if err != nil {
		store.Close()
		return nil, engine.NewUnavailableError(err)
	}
	t, err := cl.AddTorrent(mi)
	if err != nil {
		cl.Close()
		store.Close()
		return nil, engine.NewUnavailableError(err)
	}
	t.DownloadAll()
	success = true
	e.log.Debugf("started %s on port %d in %s", m.Name, port, cfg.DataDir)
	return &handle{
		engine:    e,
		client:    cl,
		store:     store,
		torrent:   t,
		meta:      m,
		port:      port,
		down:      down,
		up:        up,
		downLimit: engine.Unlimited,
		upLimit:   engine.Unlimited,
	}, nil
}

func (e *Engine) getPort() (uint16, error) {
	e.mPorts.Lock()
	defer e.mPorts.Unlock()
	for p := range e.availablePorts {
		delete(e.availablePorts, p)
		return p, nil
	}
	return 0, errNoPort
}

func (e *Engine) releasePort(port uint16) {
	e.mPorts.Lock()
	defer e.mPorts.Unlock()
	e.availablePorts[port] = struct{}{}
}
