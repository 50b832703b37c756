package descriptor

import (
	"crypto/sha1" // nolint: gosec
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info is the "info" dictionary of a descriptor.
type Info struct {
	PieceLength uint32             `bencode:"piece length"`
	Pieces      []byte             `bencode:"pieces"`
	Private     bencode.RawMessage `bencode:"private"`
	Name        string             `bencode:"name"`
	Length      int64              `bencode:"length"` // Single File Mode
	Files       []FileDict         `bencode:"files"`  // Multiple File mode

	// Calculated fields
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
	private     bool
}

// FileDict is a single entry of the "files" list in multi-file mode.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo decodes and validates the bencoded info dictionary in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if !isValidName(i.Name) {
		return nil, fmt.Errorf("invalid name: %q", i.Name)
	}
	if i.PieceLength == 0 {
		return nil, errors.New("piece length is zero")
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if len(i.Private) > 0 {
		var intVal int64
		var stringVal string
		err := bencode.DecodeBytes(i.Private, &intVal)
		if err != nil {
			err = bencode.DecodeBytes(i.Private, &stringVal)
			if err == nil {
				i.private = stringVal == "1"
			}
		} else {
			i.private = intVal == 1
		}
	}
	for _, file := range i.Files {
		if len(file.Path) == 0 {
			return nil, errors.New("empty file path")
		}
		for _, p := range file.Path {
			if !isValidName(p) {
				return nil, fmt.Errorf("invalid file name: %q", path.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	hash := sha1.New()   // nolint: gosec
	_, _ = hash.Write(b) // nolint: gosec
	copy(i.Hash[:], hash.Sum(nil))
	return &i, nil
}

// isValidName reports whether s can be used as a single path element inside the output directory.
func isValidName(s string) bool {
	switch strings.TrimSpace(s) {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

// MultiFile reports whether the content is a directory of files rather than a single file.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HexHash returns the info hash in hex encoding.
func (i *Info) HexHash() string {
	return hex.EncodeToString(i.Hash[:])
}

// IsPrivate reports the value of the private flag.
func (i *Info) IsPrivate() bool {
	if i == nil {
		return false
	}
	return i.private
}

// File is a file of the content, with its slash separated path relative to the download directory.
type File struct {
	Path   string
	Length int64
}

// GetFiles returns the files as they are laid out on disk.
// Multi-file paths are prefixed with the content name; a single file is just the name.
func (i *Info) GetFiles() []File {
	if !i.MultiFile() {
		return []File{{Path: i.Name, Length: i.Length}}
	}
	files := make([]File, len(i.Files))
	for j, f := range i.Files {
		files[j] = File{
			Path:   path.Join(append([]string{i.Name}, f.Path...)...),
			Length: f.Length,
		}
	}
	return files
}
