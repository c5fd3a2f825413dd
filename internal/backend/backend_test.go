package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory(1024)
	defer m.Close()

	n, err := m.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestMemoryReadBeyondEndTruncates(t *testing.T) {
	m := NewMemory(100)
	defer m.Close()

	buf := make([]byte, 50)
	n, err := m.ReadAt(buf, 80)
	require.NoError(t, err)
	require.Equal(t, 20, n)
}

func TestMemoryWriteBeyondEndErrors(t *testing.T) {
	m := NewMemory(100)
	defer m.Close()

	_, err := m.WriteAt([]byte("x"), 100)
	require.Error(t, err)
}

func TestMemoryDiscardZeroes(t *testing.T) {
	m := NewMemory(16)
	defer m.Close()

	_, err := m.WriteAt([]byte("0123456789ABCDEF"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Discard(0, 4))

	buf := make([]byte, 16)
	_, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, buf[:4])
	require.Equal(t, "456789ABCDEF", string(buf[4:]))
}

func TestMemoryShardBoundaryReadWrite(t *testing.T) {
	m := NewMemory(ShardSize * 3)
	defer m.Close()

	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	off := int64(ShardSize) - 64

	n, err := m.WriteAt(payload, off)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	_, err = m.ReadAt(got, off)
	require.NoError(t, err)
	require.Equal(t, payload, got, "write/read spanning a shard boundary must not corrupt data")
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory(1024)
	defer m.Close()

	stats := m.Stats()
	require.Equal(t, "memory", stats["type"])
	require.Equal(t, int64(1024), stats["size"])
}

func TestFileCreatesAndGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lower.img")
	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, int64(4096), f.Size())
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lower.img")
	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("payload"), 100)
	require.NoError(t, err)

	buf := make([]byte, len("payload"))
	n, err := f.ReadAt(buf, 100)
	require.NoError(t, err)
	require.Equal(t, len("payload"), n)
	require.Equal(t, "payload", string(buf))
}

func TestFileReopenPreservesSizeWhenZeroRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lower.img")
	f, err := NewFile(path, 8192)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := NewFile(path, 0)
	require.NoError(t, err)
	defer f2.Close()
	require.Equal(t, int64(8192), f2.Size())
}

func TestFileDiscardZeroes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lower.img")
	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("abcd"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Discard(0, 4))

	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestFileResize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lower.img")
	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Resize(8192))
	require.Equal(t, int64(8192), f.Size())
}
