package descriptor

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/zeebo/bencode"
)

// DefaultPieceLength is used by Create when no piece length is given.
const DefaultPieceLength = 256 << 10

// CreateOptions controls the descriptor generated by Create.
type CreateOptions struct {
	PieceLength uint32
	Private     bool
	Trackers    [][]string
	Comment     string
}

// Create builds a descriptor for the file or directory at root in fs.
// A directory produces a multi-file descriptor with files in lexical order.
func Create(fs billy.Filesystem, root string, opt CreateOptions) ([]byte, error) {
	if opt.PieceLength == 0 {
		opt.PieceLength = DefaultPieceLength
	}
	fi, err := fs.Stat(root)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(root)
	type source struct {
		name  string
		parts []string
		size  int64
	}
	var sources []source
	if fi.IsDir() {
		err = util.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			sources = append(sources, source{name: p, parts: strings.Split(filepath.ToSlash(rel), "/"), size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			return nil, errors.New("no files in directory")
		}
		sort.Slice(sources, func(i, j int) bool {
			return path.Join(sources[i].parts...) < path.Join(sources[j].parts...)
		})
	} else {
		sources = []source{{name: root, size: fi.Size()}}
	}

	readers := make([]io.Reader, 0, len(sources))
	for _, s := range sources {
		f, err := fs.Open(s.name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	pieces, err := hashPieces(io.MultiReader(readers...), opt.PieceLength)
	if err != nil {
		return nil, err
	}

	info := struct {
		PieceLength uint32     `bencode:"piece length"`
		Pieces      []byte     `bencode:"pieces"`
		Private     int64      `bencode:"private,omitempty"`
		Name        string     `bencode:"name"`
		Length      int64      `bencode:"length,omitempty"`
		Files       []FileDict `bencode:"files,omitempty"`
	}{
		PieceLength: opt.PieceLength,
		Pieces:      pieces,
		Name:        name,
	}
	if opt.Private {
		info.Private = 1
	}
	if fi.IsDir() {
		for _, s := range sources {
			info.Files = append(info.Files, FileDict{Length: s.size, Path: s.parts})
		}
	} else {
		info.Length = fi.Size()
	}
	b, err := bencode.EncodeBytes(info)
	if err != nil {
		return nil, err
	}
	return Encode(b, opt.Trackers, opt.Comment)
}

func hashPieces(r io.Reader, pieceLength uint32) ([]byte, error) {
	var pieces []byte
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n]) // nolint: gosec
			pieces = append(pieces, sum[:]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return pieces, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
