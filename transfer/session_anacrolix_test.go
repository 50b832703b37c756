package transfer

import (
	"testing"

	"github.com/cenkalti/rainhub/engine/anacrolix"
	"github.com/cenkalti/rainhub/internal/descriptor"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopRemovesOutputDirectoryOfAnacrolixTransfer(t *testing.T) {
	dataDir := t.TempDir()
	eng, err := anacrolix.New(anacrolix.Config{
		DataDir:          dataDir,
		PortBegin:        0,
		PortEnd:          1,
		NoDHT:            true,
		NoPortForwarding: true,
	})
	require.NoError(t, err)
	fs := osfs.New(dataDir)

	const id = "6f1c2a8e-3b4d-4c5e-8f90-a1b2c3d4e5f6"
	dir := transfersDir + "/" + id
	require.NoError(t, util.WriteFile(fs, dir+"/album/a.bin", []byte("aaaaaaaaaaaaaaaaaaaa"), 0o640))
	require.NoError(t, util.WriteFile(fs, dir+"/album/sub/b.bin", []byte("bbbbbbbbbb"), 0o640))
	desc, err := descriptor.Create(osfs.New(dataDir+"/"+dir), "album", descriptor.CreateOptions{PieceLength: 16})
	require.NoError(t, err)
	descriptorPath := descriptorsDir + "/" + id + ".torrent"
	require.NoError(t, util.WriteFile(fs, descriptorPath, desc, 0o640))

	s := NewSession(id, descriptorPath, dir, eng, fs)
	require.NoError(t, s.Start())
	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, "album", st.Name)

	require.NoError(t, s.Stop())
	assert.False(t, exists(fs, dir), "output directory is left behind")
	assert.False(t, exists(fs, descriptorPath))
}
