package blockdev

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	dev, err := Open(&Config{Path: path, Create: true, Size: 1 << 20})
	require.NoError(t, err)
	defer dev.Close()

	want := bytes.Repeat([]byte{0xCD}, SectorSize*4)
	require.NoError(t, dev.Submit(Write, 10, want))

	got := make([]byte, SectorSize*4)
	require.NoError(t, dev.Submit(Read, 10, got))
	require.Equal(t, want, got)
}

func TestSubmitRejectsUnalignedBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	dev, err := Open(&Config{Path: path, Create: true, Size: 1 << 20})
	require.NoError(t, err)
	defer dev.Close()

	err = dev.Submit(Write, 0, make([]byte, 10))
	require.Error(t, err)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.img")
	dev, err := Open(&Config{Path: path, Create: true, Size: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	err = dev.Submit(Read, 0, make([]byte, SectorSize))
	require.Error(t, err)
}
