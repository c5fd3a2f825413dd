package nrbd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockBackendReadWrite(t *testing.T) {
	m := NewMockBackend(64)
	n, err := m.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestMockBackendWriteBeyondSizeErrors(t *testing.T) {
	m := NewMockBackend(16)
	_, err := m.WriteAt([]byte("x"), 16)
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestMockBackendClosedRejectsIO(t *testing.T) {
	m := NewMockBackend(16)
	require.NoError(t, m.Close())
	require.True(t, m.IsClosed())

	_, err := m.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestMockBackendDiscardAndWriteZeroes(t *testing.T) {
	m := NewMockBackend(8)
	_, err := m.WriteAt([]byte("abcdefgh"), 0)
	require.NoError(t, err)
	require.NoError(t, m.WriteZeroes(2, 2))

	buf := make([]byte, 8)
	_, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 0, 0, 'e', 'f', 'g', 'h'}, buf)
}

func TestMockBackendFlushAndSyncTracking(t *testing.T) {
	m := NewMockBackend(8)
	require.False(t, m.IsFlushed())
	require.NoError(t, m.Flush())
	require.True(t, m.IsFlushed())

	require.False(t, m.IsSynced())
	require.NoError(t, m.SyncRange(0, 8))
	require.True(t, m.IsSynced())

	counts := m.CallCounts()
	require.Equal(t, 1, counts["flush"])
	require.Equal(t, 1, counts["sync"])
}

func TestMockBackendResizeGrowAndShrink(t *testing.T) {
	m := NewMockBackend(8)
	require.NoError(t, m.Resize(16))
	require.Equal(t, int64(16), m.Size())

	require.NoError(t, m.Resize(4))
	require.Equal(t, int64(4), m.Size())

	require.ErrorIs(t, m.Resize(-1), ErrInvalidParameters)
}

func TestMockBackendResetClearsCallCountsAndFlags(t *testing.T) {
	m := NewMockBackend(8)
	_, _ = m.WriteAt([]byte("x"), 0)
	_ = m.Flush()
	m.Reset()

	counts := m.CallCounts()
	require.Equal(t, 0, counts["write"])
	require.Equal(t, 0, counts["flush"])
	require.False(t, m.IsFlushed())
}

func TestMockBackendStatsIncludesCallCountsAndCustom(t *testing.T) {
	m := NewMockBackend(8)
	m.SetCustomStats(map[string]interface{}{"type": "mock"})
	_, _ = m.ReadAt(make([]byte, 1), 0)

	stats := m.Stats()
	require.Equal(t, "mock", stats["type"])
	require.Equal(t, 1, stats["read_calls"])
}
