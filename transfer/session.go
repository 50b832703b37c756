package transfer

import (
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/internal/logger"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-billy/v5"
)

// Session is a single transfer: a descriptor and the engine handle that transfers its content.
// All methods are safe for concurrent use and are serialized per Session.
type Session struct {
	id         string
	descriptor string
	dir        string
	engine     engine.Engine
	fs         billy.Filesystem
	addedAt    time.Time
	log        logger.Logger

	m       sync.Mutex
	handle  engine.Handle
	meta    *engine.Metadata
	files   []engine.FileInfo
	active  bool
	removed bool
}

// File is a file that belongs to a transfer.
type File struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

// NewSession returns a Session for the descriptor file at descriptorPath in fs.
// Content is downloaded into dir, relative to the root of fs.
// The session does nothing until Start is called.
func NewSession(id, descriptorPath, dir string, eng engine.Engine, fs billy.Filesystem) *Session {
	return &Session{
		id:         id,
		descriptor: descriptorPath,
		dir:        dir,
		engine:     eng,
		fs:         fs,
		addedAt:    time.Now(),
		log:        logger.New("session " + id),
	}
}

// ID returns the identifier of the session. It never changes.
func (s *Session) ID() string {
	return s.id
}

// AddedAt returns the creation time of the session.
func (s *Session) AddedAt() time.Time {
	return s.addedAt
}

// Dir returns the output directory of the transfer.
func (s *Session) Dir() string {
	return s.dir
}

// Name returns the display name of the transfer.
// Empty until the session is started.
func (s *Session) Name() string {
	s.m.Lock()
	defer s.m.Unlock()
	if s.meta == nil {
		return ""
	}
	return s.meta.Name
}

// Start parses the descriptor and begins the transfer.
func (s *Session) Start() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.removed {
		return ErrSessionRemoved
	}
	if s.handle != nil {
		return ErrAlreadyStarted
	}
	f, err := s.fs.Open(s.descriptor)
	if err != nil {
		return engine.NewInvalidDescriptorError(err)
	}
	defer f.Close()
	meta, err := s.engine.Parse(f)
	if err != nil {
		var ide *engine.InvalidDescriptorError
		if !errors.As(err, &ide) {
			err = engine.NewInvalidDescriptorError(err)
		}
		return err
	}
	h, err := s.engine.Begin(meta, s.dir)
	if err != nil {
		var ue *engine.UnavailableError
		if !errors.As(err, &ue) {
			err = engine.NewUnavailableError(err)
		}
		return err
	}
	s.handle = h
	s.meta = meta
	s.files = h.Files()
	s.active = true
	s.log.Infof("started %q with %d files", meta.Name, len(s.files))
	return nil
}

// Stop releases the engine handle and removes the downloaded files and the descriptor.
// The session cannot be used after Stop.
func (s *Session) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.removed {
		return ErrSessionRemoved
	}
	s.active = false
	s.removed = true
	if s.handle != nil {
		if err := s.handle.Release(); err != nil {
			s.log.Warningln("cannot release engine handle:", err)
		}
	}
	s.removeFiles()
	if err := s.fs.Remove(s.descriptor); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warningln("cannot remove descriptor:", err)
	}
	s.log.Info("stopped")
	return nil
}

// close releases the engine handle without touching files on disk.
func (s *Session) close() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.removed {
		return
	}
	s.active = false
	s.removed = true
	if s.handle != nil {
		if err := s.handle.Release(); err != nil {
			s.log.Warningln("cannot release engine handle:", err)
		}
	}
}

// removeFiles deletes the files enumerated at start, then every directory emptied by that,
// never leaving the output directory of the session.
func (s *Session) removeFiles() {
	dirs := map[string]struct{}{s.dir: {}}
	for _, f := range s.files {
		p, err := s.resolve(f.Path)
		if err != nil {
			s.log.Warningln("skipping file outside of output directory:", f.Path)
			continue
		}
		if err = s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warningln("cannot remove file:", err)
		}
		for d := path.Dir(p); strings.HasPrefix(d, s.dir+"/"); d = path.Dir(d) {
			dirs[d] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	// deepest first
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, d := range sorted {
		if err := s.fs.Remove(d); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Debugln("cannot remove directory:", err)
		}
	}
}

// resolve returns the location of a transfer file in fs.
// The result is guaranteed to be inside the output directory even in presence of symlinks.
func (s *Session) resolve(name string) (string, error) {
	p, err := securejoin.SecureJoinVFS(s.dir, name, s.fs)
	if err != nil {
		return "", err
	}
	return path.Clean(p), nil
}

// Pause stops transferring data until Resume is called.
func (s *Session) Pause() error {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.checkStarted(); err != nil {
		return err
	}
	if err := s.handle.Pause(); err != nil {
		return err
	}
	s.active = false
	return nil
}

// Resume continues a paused transfer.
func (s *Session) Resume() error {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.checkStarted(); err != nil {
		return err
	}
	if err := s.handle.Resume(); err != nil {
		return err
	}
	s.active = true
	return nil
}

// Active reports the activity flag of the session.
func (s *Session) Active() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.active
}

// Status returns a snapshot of the transfer.
// Returns ErrSessionNotStarted if Start has not been called yet.
func (s *Session) Status() (Snapshot, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.checkStarted(); err != nil {
		return Snapshot{}, err
	}
	return Project(s.id, s.addedAt, s.handle.Status(), s.active, s.handle.DownloadLimit(), s.handle.UploadLimit()), nil
}

// Files returns the files of the transfer with their progress.
func (s *Session) Files() ([]File, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	infos := s.handle.Files()
	files := make([]File, len(infos))
	for i, fi := range infos {
		files[i] = File{
			Name:     fi.Path,
			Size:     fi.Size,
			Progress: fi.Progress,
			Priority: fi.Priority,
		}
	}
	return files, nil
}

// FilePath validates the file index and returns the location of the file in the filesystem.
func (s *Session) FilePath(index int) (string, File, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.checkStarted(); err != nil {
		return "", File{}, err
	}
	infos := s.handle.Files()
	if index < 0 || index >= len(infos) {
		return "", File{}, ErrInvalidFileIndex
	}
	fi := infos[index]
	p, err := s.resolve(fi.Path)
	if err != nil {
		return "", File{}, err
	}
	return p, File{Name: fi.Path, Size: fi.Size, Progress: fi.Progress, Priority: fi.Priority}, nil
}

// contentRoot returns the location of the downloaded content and the display name.
// For multi-file transfers it is a directory, otherwise a single file.
func (s *Session) contentRoot() (root, name string, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err = s.checkStarted(); err != nil {
		return "", "", err
	}
	root, err = s.resolve(s.meta.Name)
	return root, s.meta.Name, err
}

func (s *Session) checkStarted() error {
	if s.removed {
		return ErrSessionRemoved
	}
	if s.handle == nil {
		return ErrSessionNotStarted
	}
	return nil
}
