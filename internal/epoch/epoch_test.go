package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbowen/nrbd/internal/proto"
)

func TestPoolRoundTrip(t *testing.T) {
	buf := GetBuffer(4096)
	require.Len(t, buf, 4096)
	buf[0] = 0xAB
	PutBuffer(buf)

	again := GetBuffer(4096)
	require.Len(t, again, 4096)
}

func TestPoolBucketSelection(t *testing.T) {
	small := GetBuffer(1024)
	require.Equal(t, 128*1024, cap(small), "sub-128K requests use the 128K bucket")
	PutBuffer(small)

	big := GetBuffer(600 * 1024)
	require.Equal(t, 1024*1024, cap(big), "requests above 512K up to 1M use the 1M bucket")
	PutBuffer(big)
}

func TestIsSyncerBlockID(t *testing.T) {
	require.True(t, IsSyncerBlockID(proto.IDSyncer))
	require.False(t, IsSyncerBlockID(42))
}

func TestSetInsertMarkWrittenAndDrain(t *testing.T) {
	s := NewSet(4)

	slot, err := s.Insert(10, 1, []byte("a"))
	require.NoError(t, err)
	require.False(t, s.AllWritten())

	s.MarkWritten(slot)
	require.True(t, s.AllWritten())

	var acked []Entry
	n := s.DrainEpoch(func(e Entry) { acked = append(acked, e) })
	require.Equal(t, 1, n)
	require.Len(t, acked, 1)
	require.Equal(t, uint64(10), acked[0].BlockNr)

	require.True(t, s.AllWritten(), "a freshly drained set has nothing pending")
}

func TestSetInsertFullReturnsErrFull(t *testing.T) {
	s := NewSet(1)
	_, err := s.Insert(1, 1, nil)
	require.NoError(t, err)

	_, err = s.Insert(2, 2, nil)
	require.ErrorIs(t, err, ErrFull)
}

func TestSetAllWrittenFalseUntilEveryEntryWritten(t *testing.T) {
	s := NewSet(4)
	slot1, err := s.Insert(1, 1, nil)
	require.NoError(t, err)
	_, err = s.Insert(2, 2, nil)
	require.NoError(t, err)

	s.MarkWritten(slot1)
	require.False(t, s.AllWritten(), "one entry is still pending")
}

func TestSyncLogInsertMarkWrittenAndDrain(t *testing.T) {
	sl := NewSyncLog(4)

	slot, err := sl.Insert(5, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	var drained []uint64
	require.Equal(t, 0, sl.DrainCompleted(func(blockNr uint64) { drained = append(drained, blockNr) }))

	sl.MarkWritten(slot)
	n := sl.DrainCompleted(func(blockNr uint64) { drained = append(drained, blockNr) })
	require.Equal(t, 1, n)
	require.Equal(t, []uint64{5}, drained)
}

func TestSyncLogFull(t *testing.T) {
	sl := NewSyncLog(1)
	_, err := sl.Insert(1, []byte{1})
	require.NoError(t, err)

	_, err = sl.Insert(2, []byte{2})
	require.ErrorIs(t, err, ErrSyncLogFull)
}
