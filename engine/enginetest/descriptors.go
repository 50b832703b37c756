package enginetest

import (
	"fmt"
	"path"

	"github.com/cenkalti/rainhub/internal/descriptor"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// MultiFile returns a descriptor for a directory called name containing one file per size,
// named "file0.bin", "file1.bin" and so on.
func MultiFile(name string, sizes ...int64) []byte {
	fs := memfs.New()
	for i, size := range sizes {
		p := path.Join(name, fmt.Sprintf("file%d.bin", i))
		if err := util.WriteFile(fs, p, Content(i, size), 0o644); err != nil {
			panic(err)
		}
	}
	b, err := descriptor.Create(fs, name, descriptor.CreateOptions{PieceLength: 16})
	if err != nil {
		panic(err)
	}
	return b
}

// SingleFile returns a descriptor for a single file called name.
func SingleFile(name string, size int64) []byte {
	fs := memfs.New()
	if err := util.WriteFile(fs, name, Content(0, size), 0o644); err != nil {
		panic(err)
	}
	b, err := descriptor.Create(fs, name, descriptor.CreateOptions{PieceLength: 16})
	if err != nil {
		panic(err)
	}
	return b
}
