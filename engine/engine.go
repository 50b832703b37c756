// Package engine defines the contract between rainhub and the library that performs the actual
// peer-to-peer transfer. Implementations own all networking and disk scheduling; callers only issue
// control calls and read status.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/rainhub/internal/descriptor"
)

// Unlimited is the rate limit value meaning no limit is applied.
const Unlimited int64 = -1

// Engine starts transfers.
type Engine interface {
	// Parse decodes a descriptor. Returns *InvalidDescriptorError if it cannot be parsed.
	Parse(r io.Reader) (*Metadata, error)
	// Begin starts transferring the content described by m into dir.
	// dir is relative to the data directory the engine was configured with.
	// Returns *UnavailableError if the engine cannot start the transfer.
	Begin(m *Metadata, dir string) (Handle, error)
}

// Handle controls a single running transfer.
// Implementations must be safe for concurrent use.
type Handle interface {
	Status() Status
	Pause() error
	Resume() error
	// Release stops the transfer permanently and frees engine resources.
	// Downloaded data is left on disk.
	Release() error
	Files() []FileInfo
	SetDownloadLimit(bytesPerSec int64) error
	SetUploadLimit(bytesPerSec int64) error
	DownloadLimit() int64
	UploadLimit() int64
}

// Metadata is the parsed form of a descriptor.
type Metadata struct {
	Name        string
	InfoHash    string
	PieceLength uint32
	NumPieces   uint32
	TotalLength int64
	MultiFile   bool
	Private     bool
	Trackers    [][]string
	// Files are relative to the transfer's output directory.
	// In multi-file mode they are prefixed with Name.
	Files []descriptor.File
	// Raw is the original descriptor.
	Raw []byte
}

// Status is the state of a transfer at a point in time.
type Status struct {
	Name     string
	InfoHash string
	// State is a human readable label such as "downloading" or "seeding".
	State string
	// Progress is in range [0, 1].
	Progress float64
	// Rates are in bytes per second.
	DownloadRate int64
	UploadRate   int64
	NumPeers     int
	TotalBytes   int64
	// CompletedBytes are verified bytes on disk.
	CompletedBytes  int64
	DownloadedBytes int64
	UploadedBytes   int64
	FileCount       int
	// Paused is the engine's own view of the pause state.
	Paused bool
	// ETA is negative when unknown.
	ETA   time.Duration
	Error error
}

// FileInfo describes one file of a transfer.
type FileInfo struct {
	// Path is slash separated and relative to the transfer's output directory.
	Path     string
	Size     int64
	Progress float64
	Priority int
}

// ParseDescriptor reads at most maxSize bytes from r and converts the descriptor into Metadata.
// A maxSize of zero or less means no limit.
func ParseDescriptor(r io.Reader, maxSize int64) (*Metadata, error) {
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, &InvalidDescriptorError{err: err}
	}
	if maxSize > 0 && int64(len(b)) > maxSize {
		return nil, &InvalidDescriptorError{err: fmt.Errorf("descriptor is larger than %d bytes", maxSize)}
	}
	d, err := descriptor.New(bytes.NewReader(b))
	if err != nil {
		return nil, &InvalidDescriptorError{err: err}
	}
	return &Metadata{
		Name:        d.Info.Name,
		InfoHash:    d.Info.HexHash(),
		PieceLength: d.Info.PieceLength,
		NumPieces:   d.Info.NumPieces,
		TotalLength: d.Info.TotalLength,
		MultiFile:   d.Info.MultiFile(),
		Private:     d.Info.IsPrivate(),
		Trackers:    d.AnnounceList,
		Files:       d.Info.GetFiles(),
		Raw:         d.Raw,
	}, nil
}
