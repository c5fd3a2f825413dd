// Package epoch implements the Secondary-side epoch-entry array and
// sync-log: the bounded set of owned block buffers received within the
// current barrier-delimited epoch (spec.md §3, §4.2), and the
// out-of-order resync completion tracker (spec.md §3, §4.4).
package epoch

import (
	"fmt"
	"sync"

	"github.com/kbowen/nrbd/internal/constants"
	"github.com/kbowen/nrbd/internal/proto"
)

// EntryState tracks one epoch entry's local-write progress.
type EntryState int

const (
	EntryPending EntryState = iota
	EntryWritten
	EntryAcked
)

// Entry is one received-but-not-yet-acked block, per spec.md §3:
// {buffer, block_id}, with block_id == 0 meaning "acked, slot free".
type Entry struct {
	Buffer  []byte
	BlockNr uint64
	BlockID uint64
	state   EntryState
}

// Set is the Secondary's bounded array of in-flight epoch entries,
// sized to the negotiated transfer-log size (spec.md §3).
type Set struct {
	mu      sync.Mutex
	entries []Entry
}

// NewSet creates an epoch set with the given capacity, defaulting to
// constants.DefaultTransferLogSize when cap <= 0.
func NewSet(cap int) *Set {
	if cap <= 0 {
		cap = constants.DefaultTransferLogSize
	}
	return &Set{entries: make([]Entry, cap)}
}

// ErrFull is returned when the epoch set has no free slots.
var ErrFull = fmt.Errorf("epoch: set full")

// Insert adds a newly received block to the epoch, taking ownership of
// buf (caller must not reuse it). Returns the entry's slot index for
// later lookup with MarkWritten.
func (s *Set) Insert(blockNr, blockID uint64, buf []byte) (slot int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].BlockID == 0 {
			s.entries[i] = Entry{Buffer: buf, BlockNr: blockNr, BlockID: blockID, state: EntryPending}
			return i, nil
		}
	}
	return -1, ErrFull
}

// MarkWritten records that slot's local write has completed.
func (s *Set) MarkWritten(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= 0 && slot < len(s.entries) {
		s.entries[slot].state = EntryWritten
	}
}

// DrainEpoch invokes ack for every occupied, not-yet-acknowledged
// entry, then frees every slot (block_id -> 0) as spec.md §4.2's
// barrier-drain requires. Callers must have already confirmed
// AllWritten. The number of entries drained is returned for the
// BarrierAck{nr, set_size} reply.
func (s *Set) DrainEpoch(ack func(e Entry)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for i := range s.entries {
		if s.entries[i].BlockID == 0 {
			continue
		}
		count++
		if s.entries[i].state != EntryAcked {
			ack(s.entries[i])
		}
		s.entries[i] = Entry{}
	}
	return count
}

// AllWritten reports whether every occupied slot has completed its
// local write, the precondition for draining the epoch on Barrier.
func (s *Set) AllWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.BlockID != 0 && e.state == EntryPending {
			return false
		}
	}
	return true
}

// syncLogEntry is one in-flight resync block awaiting local completion.
type syncLogEntry struct {
	blockNr uint64
	buffer  []byte
	written bool
}

// SyncLog is the Secondary's bounded set of in-flight resync writes,
// capacity SYNC_LOG_S (spec.md §3), used to emit WriteAcks in
// completion order rather than arrival order.
type SyncLog struct {
	mu      sync.Mutex
	entries []syncLogEntry
}

// NewSyncLog creates a sync-log with the given capacity, defaulting to
// constants.SyncLogCapacity when cap <= 0.
func NewSyncLog(cap int) *SyncLog {
	if cap <= 0 {
		cap = constants.SyncLogCapacity
	}
	return &SyncLog{entries: make([]syncLogEntry, cap)}
}

// ErrSyncLogFull is returned when the sync-log has no free slots;
// callers must drop the ack per spec.md §7's resource-exhaustion policy,
// which forces a resync retry of the affected block.
var ErrSyncLogFull = fmt.Errorf("epoch: sync-log full")

// Insert records a new in-flight resync block.
func (sl *SyncLog) Insert(blockNr uint64, buf []byte) (slot int, err error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for i, e := range sl.entries {
		if e.buffer == nil {
			sl.entries[i] = syncLogEntry{blockNr: blockNr, buffer: buf}
			return i, nil
		}
	}
	return -1, ErrSyncLogFull
}

// MarkWritten records slot's local write completion.
func (sl *SyncLog) MarkWritten(slot int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if slot >= 0 && slot < len(sl.entries) {
		sl.entries[slot].written = true
	}
}

// DrainCompleted invokes ack for every entry whose local write has
// completed and frees its slot, returning how many were drained. This
// preserves per-block completion semantics without globally
// serializing the resync stream (spec.md §4.4).
func (sl *SyncLog) DrainCompleted(ack func(blockNr uint64)) int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	drained := 0
	for i, e := range sl.entries {
		if e.buffer == nil || !e.written {
			continue
		}
		ack(e.blockNr)
		PutBuffer(e.buffer)
		sl.entries[i] = syncLogEntry{}
		drained++
	}
	return drained
}

// IsSyncerBlockID reports whether a block_id is the resync sentinel.
func IsSyncerBlockID(id uint64) bool { return id == proto.IDSyncer }
