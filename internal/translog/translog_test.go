package translog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestProtocolACompletesOnLocal(t *testing.T) {
	r := NewRequest(1, 10, ProtocolA)
	require.False(t, r.IsDone())

	require.NoError(t, r.MarkLocalComplete())
	require.True(t, r.IsDone(), "protocol A completes on local write alone")
	require.Equal(t, ReqDone, r.State())
}

func TestRequestProtocolCWaitsForAck(t *testing.T) {
	r := NewRequest(1, 10, ProtocolC)
	require.NoError(t, r.MarkLocalComplete())
	require.False(t, r.IsDone(), "protocol C must not complete before the peer's ack")
	require.Equal(t, ReqLocalComplete, r.State())

	require.NoError(t, r.MarkAcked())
	require.True(t, r.IsDone())
}

func TestRequestIllegalDoubleLocalComplete(t *testing.T) {
	r := NewRequest(1, 10, ProtocolB)
	require.NoError(t, r.MarkLocalComplete())
	require.Error(t, r.MarkLocalComplete())
}

func TestRequestIllegalAckBeforeLocal(t *testing.T) {
	r := NewRequest(1, 10, ProtocolB)
	require.Error(t, r.MarkAcked())
}

func TestRequestAckIsIdempotentOnceAcked(t *testing.T) {
	r := NewRequest(1, 10, ProtocolB)
	require.NoError(t, r.MarkLocalComplete())
	require.NoError(t, r.MarkAcked())
	require.NoError(t, r.MarkAcked(), "a second ack on an already-acked request is tolerated, not an error")
}

func TestRequestWaitUnblocksOnCompletion(t *testing.T) {
	r := NewRequest(1, 10, ProtocolA)
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	require.NoError(t, r.MarkLocalComplete())
	<-done
}

func TestLogAppendWriteAndOverrun(t *testing.T) {
	l := New(2)
	require.NoError(t, l.AppendWrite(NewRequest(1, 0, ProtocolA), 0))
	require.NoError(t, l.AppendWrite(NewRequest(2, 0, ProtocolA), 1))
	require.ErrorIs(t, l.AppendWrite(NewRequest(3, 0, ProtocolA), 2), ErrOverrun)
}

func TestLogAppendBarrierAllocatesIncreasingNonzeroIDs(t *testing.T) {
	l := New(4)
	nr1, err := l.AppendBarrier()
	require.NoError(t, err)
	nr2, err := l.AppendBarrier()
	require.NoError(t, err)
	require.NotZero(t, nr1)
	require.Greater(t, nr2, nr1)
}

func TestLogReleaseThrough(t *testing.T) {
	l := New(4)
	require.NoError(t, l.AppendWrite(NewRequest(1, 0, ProtocolB), 5))
	require.NoError(t, l.AppendWrite(NewRequest(2, 0, ProtocolB), 6))
	nr, err := l.AppendBarrier()
	require.NoError(t, err)

	released, matched, err := l.ReleaseThrough(nr, 2)
	require.NoError(t, err)
	require.Equal(t, 2, released)
	require.True(t, matched)
	require.True(t, l.Empty())
}

func TestLogReleaseThroughUnknownBarrier(t *testing.T) {
	l := New(4)
	_, _, err := l.ReleaseThrough(99, 0)
	require.Error(t, err)
}

func TestLogContainsSectorStopsAtBarrier(t *testing.T) {
	l := New(4)
	require.NoError(t, l.AppendWrite(NewRequest(1, 0, ProtocolA), 10))
	_, err := l.AppendBarrier()
	require.NoError(t, err)
	require.NoError(t, l.AppendWrite(NewRequest(2, 0, ProtocolA), 20))

	require.True(t, l.ContainsSector(20))
	require.False(t, l.ContainsSector(10), "a barrier breaks the read-your-own-writes scan")
}

func TestLogClearAndRequeue(t *testing.T) {
	l := New(4)
	reqB := NewRequest(1, 0, ProtocolB)
	require.NoError(t, l.AppendWrite(reqB, 5))
	require.NoError(t, reqB.MarkLocalComplete())

	var dirtySectors []uint64
	var completed []*Request
	l.ClearAndRequeue(
		func(sector uint64) { dirtySectors = append(dirtySectors, sector) },
		func(req *Request) { completed = append(completed, req) },
	)

	require.Equal(t, []uint64{5}, dirtySectors)
	require.Len(t, completed, 1)
	require.True(t, l.Empty())
}
