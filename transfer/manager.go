// Package transfer orchestrates transfers running in an engine.Engine.
//
// A Manager keeps a Registry of Sessions, each wrapping one engine handle,
// projects their status into Snapshots and packages their output into archives
// that are deleted after a grace period.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/internal/logger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/uuid"
	"github.com/rcrowley/go-metrics"
)

// Layout of the data directory.
const (
	descriptorsDir = "descriptors"
	transfersDir   = "transfers"
	archivesDir    = "archives"
)

// Manager owns every transfer of a process.
type Manager struct {
	config   Config
	engine   engine.Engine
	fs       billy.Filesystem
	registry *Registry
	archiver *Archiver
	ledger   *Ledger
	metrics  *managerMetrics
	log      logger.Logger
}

// New returns a Manager that keeps its files in fs.
// fs must be rooted at the same directory the engine writes transfers into.
func New(cfg Config, eng engine.Engine, fs billy.Filesystem) (*Manager, error) {
	m := &Manager{
		config:   cfg,
		engine:   eng,
		fs:       fs,
		registry: NewRegistry(),
		log:      logger.New("manager"),
	}
	m.initMetrics()
	if cfg.Database != "" {
		l, err := OpenLedger(cfg.Database)
		if err != nil {
			return nil, err
		}
		m.ledger = l
	}
	a, err := NewArchiver(fs, archivesDir, m.ledger, m.metrics.ArchivesExpired)
	if err != nil {
		if m.ledger != nil {
			m.ledger.Close()
		}
		return nil, err
	}
	m.archiver = a
	m.initArchiveMetrics()
	return m, nil
}

// Registry returns the registry of running transfers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Config returns the configuration the Manager was created with.
func (m *Manager) Config() Config {
	return m.config
}

// Metrics returns the registry of Manager metrics.
func (m *Manager) Metrics() metrics.Registry {
	return m.metrics.registry
}

// Submit stores the descriptor read from r and starts transferring its content.
// The Session is visible in the Registry only after it has started.
// Returns the Session and its position.
func (m *Manager) Submit(r io.Reader) (*Session, int, error) {
	s, index, err := m.submit(r)
	if err != nil {
		m.metrics.SubmitFailed.Inc(1)
		return nil, -1, err
	}
	m.metrics.Submitted.Inc(1)
	return s, index, nil
}

func (m *Manager) submit(r io.Reader) (*Session, int, error) {
	if m.config.MaxDescriptorSize > 0 {
		r = io.LimitReader(r, m.config.MaxDescriptorSize+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, -1, err
	}
	if len(b) == 0 {
		return nil, -1, ErrMissingDescriptor
	}
	if m.config.MaxDescriptorSize > 0 && int64(len(b)) > m.config.MaxDescriptorSize {
		return nil, -1, engine.NewInvalidDescriptorError(fmt.Errorf("descriptor is larger than %d bytes", m.config.MaxDescriptorSize))
	}
	u, err := uuid.NewV4()
	if err != nil {
		return nil, -1, err
	}
	id := u.String()
	descriptorPath := path.Join(descriptorsDir, id+".torrent")
	if err = m.fs.MkdirAll(descriptorsDir, 0o750); err != nil {
		return nil, -1, err
	}
	if err = util.WriteFile(m.fs, descriptorPath, b, 0o640); err != nil {
		return nil, -1, err
	}
	dir := path.Join(transfersDir, id)
	s := NewSession(id, descriptorPath, dir, m.engine, m.fs)
	if err = s.Start(); err != nil {
		m.discard(descriptorPath, dir)
		return nil, -1, err
	}
	index := m.registry.Add(s)
	m.log.Infof("transfer %q added with id %s at index %d", s.Name(), id, index)
	return s, index, nil
}

// discard removes what a failed submission left behind.
func (m *Manager) discard(descriptorPath, dir string) {
	if err := m.fs.Remove(descriptorPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warningln("cannot remove descriptor:", err)
	}
	if err := util.RemoveAll(m.fs, dir); err != nil {
		m.log.Debugln("cannot remove output directory:", err)
	}
}

// Resolve returns the Session referred by ref, a position or an ID.
func (m *Manager) Resolve(ref string) (*Session, error) {
	return m.registry.Resolve(ref)
}

// Names returns display names of transfers in registry order.
func (m *Manager) Names() []string {
	return m.registry.Names()
}

// Stop removes the transfer from the registry, then stops it and deletes its files.
func (m *Manager) Stop(ref string) (*Session, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	// Another request may have removed it in between.
	if _, err = m.registry.Remove(s.ID()); err != nil {
		return nil, err
	}
	if err = s.Stop(); err != nil {
		return nil, err
	}
	m.metrics.Stopped.Inc(1)
	return s, nil
}

// Pause the transfer referred by ref.
func (m *Manager) Pause(ref string) (*Session, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s, s.Pause()
}

// Resume the transfer referred by ref.
func (m *Manager) Resume(ref string) (*Session, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s, s.Resume()
}

// Status returns a Snapshot of the transfer referred by ref.
func (m *Manager) Status(ref string) (Snapshot, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Status()
}

// Files returns the files of the transfer referred by ref.
func (m *Manager) Files(ref string) ([]File, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.Files()
}

// OpenFile opens the file at index of the transfer referred by ref.
// The caller must close the returned file.
func (m *Manager) OpenFile(ref string, index int) (billy.File, File, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, File{}, err
	}
	p, f, err := s.FilePath(index)
	if err != nil {
		return nil, File{}, err
	}
	file, err := m.fs.Open(p)
	if err != nil {
		return nil, File{}, err
	}
	m.metrics.FilesServed.Mark(1)
	return file, f, nil
}

// PackageAll creates a zip archive of all files of the transfer referred by ref.
// Returns the path of the archive, to be opened with Open and passed to ScheduleExpiry after it is served.
func (m *Manager) PackageAll(ref string) (string, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return "", err
	}
	p, err := m.archiver.PackageAll(s)
	if err != nil {
		var ae *ArchiveError
		if errors.As(err, &ae) {
			m.metrics.ArchiveFailures.Inc(1)
		}
		return "", err
	}
	m.metrics.ArchivesCreated.Inc(1)
	return p, nil
}

// Open opens a file created by PackageAll.
func (m *Manager) Open(p string) (billy.File, error) {
	return m.fs.Open(p)
}

// ScheduleExpiry deletes the archive at p after the configured grace period.
func (m *Manager) ScheduleExpiry(p string) {
	m.ScheduleExpiryAfter(p, m.config.ArchiveGracePeriod)
}

// ScheduleExpiryAfter deletes the archive at p after delay.
func (m *Manager) ScheduleExpiryAfter(p string, delay time.Duration) {
	m.archiver.ScheduleExpiry(p, delay)
}

// SetDownloadLimit sets the download limit of the transfer referred by ref. Zero removes the limit.
func (m *Manager) SetDownloadLimit(ref string, bytesPerSec int64) (*Session, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s, s.SetDownloadLimit(bytesPerSec)
}

// SetUploadLimit sets the upload limit of the transfer referred by ref. Zero removes the limit.
func (m *Manager) SetUploadLimit(ref string, bytesPerSec int64) (*Session, error) {
	s, err := m.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s, s.SetUploadLimit(bytesPerSec)
}

// Close releases every engine handle. Downloaded files are kept on disk.
// Pending archive deletions are kept in the ledger to be done by the next Manager.
func (m *Manager) Close() error {
	for _, s := range m.registry.List() {
		s.close()
	}
	m.archiver.Close()
	m.metrics.Close()
	if m.ledger != nil {
		return m.ledger.Close()
	}
	return nil
}
