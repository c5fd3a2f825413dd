// Package translog implements the Primary-side transfer log: a
// fixed-capacity ring of in-flight write descriptors and barrier
// markers (spec.md §3, §4.1), plus the per-request completion state
// machine that encodes protocol A/B/C's differing "write complete"
// conditions. The state machine's shape — a mutex-guarded switch over
// an enum, rejecting illegal transitions — mirrors the teacher's
// per-tag TagState machine in internal/queue/runner.go, generalized
// from per-tag to per-request.
package translog

import (
	"fmt"
	"sync"
)

// ReqState is the lifecycle of a single in-flight write request on the
// Primary, per protocol A/B/C's differing completion condition
// (spec.md §4.3).
type ReqState int

const (
	// Submitted: local write issued, packet not yet handed to TCP.
	ReqSubmitted ReqState = iota
	// LocalComplete: local write finished AND packet handed to TCP.
	// Under protocol A this alone completes the request.
	ReqLocalComplete
	// Acked: the peer has acknowledged (RecvAck for B, WriteAck for C).
	ReqAcked
	// Done: terminal; request has been completed to the submitter and
	// may be released from the log.
	ReqDone
)

func (s ReqState) String() string {
	switch s {
	case ReqSubmitted:
		return "Submitted"
	case ReqLocalComplete:
		return "LocalComplete"
	case ReqAcked:
		return "Acked"
	case ReqDone:
		return "Done"
	default:
		return fmt.Sprintf("ReqState(%d)", int(s))
	}
}

// Protocol selects the wire semantics of spec.md §4.3.
type Protocol int

const (
	ProtocolA Protocol = iota // async: local write + handed to TCP
	ProtocolB                 // local write + RecvAck
	ProtocolC                 // local write + WriteAck
)

// Request tracks one in-flight write's completion state.
type Request struct {
	mu      sync.Mutex
	state   ReqState
	proto   Protocol
	BlockID uint64
	Sector  uint64
	done    chan struct{}
}

// NewRequest creates a request in the Submitted state.
func NewRequest(blockID, sector uint64, proto Protocol) *Request {
	return &Request{
		state:   ReqSubmitted,
		proto:   proto,
		BlockID: blockID,
		Sector:  sector,
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (r *Request) State() ReqState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkLocalComplete transitions Submitted -> LocalComplete, completing
// the request to the submitter immediately under protocol A.
func (r *Request) MarkLocalComplete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ReqSubmitted {
		return fmt.Errorf("translog: illegal transition LocalComplete from %s", r.state)
	}
	r.state = ReqLocalComplete
	if r.proto == ProtocolA {
		r.completeLocked()
	}
	return nil
}

// MarkAcked transitions LocalComplete -> Acked -> Done, completing the
// request to the submitter under protocol B or C once both the local
// write and the peer's ack have arrived. A further ack on a request
// that is already Done is accepted and changes nothing.
func (r *Request) MarkAcked() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == ReqDone {
		return nil
	}
	if r.state != ReqLocalComplete && r.state != ReqAcked {
		return fmt.Errorf("translog: illegal transition Acked from %s", r.state)
	}
	r.state = ReqAcked
	r.completeLocked()
	return nil
}

func (r *Request) completeLocked() {
	if r.state == ReqDone {
		return
	}
	r.state = ReqDone
	close(r.done)
}

// Wait blocks until the request reaches Done.
func (r *Request) Wait() {
	<-r.done
}

// IsDone reports whether the request has completed to the submitter.
func (r *Request) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// entryKind distinguishes a data entry from a barrier marker in the ring.
type entryKind int

const (
	entryData entryKind = iota
	entryBarrier
)

type entry struct {
	kind      entryKind
	req       *Request
	sector    uint64
	barrierNr uint32
}

// Log is the Primary's ring of in-flight writes and barrier markers.
type Log struct {
	mu        sync.RWMutex
	entries   []entry
	begin     int
	end       int
	count     int
	cap       int
	nextBarNr uint32
}

// New creates a transfer log with the given ring capacity.
func New(capacity int) *Log {
	return &Log{
		entries:   make([]entry, capacity),
		cap:       capacity,
		nextBarNr: 1,
	}
}

// ErrOverrun is returned when the ring is full; per spec.md §3 this is
// a configuration error, not a runtime recovery condition.
var ErrOverrun = fmt.Errorf("translog: ring overrun")

// AppendWrite records a new in-flight write request.
func (l *Log) AppendWrite(req *Request, sector uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == l.cap {
		return ErrOverrun
	}
	l.entries[l.end] = entry{kind: entryData, req: req, sector: sector}
	l.end = (l.end + 1) % l.cap
	l.count++
	return nil
}

// AppendBarrier allocates a monotonically increasing non-zero barrier
// id (wrapping past zero) and records a BARRIER marker. Must be called
// while the caller holds the send path's send mutex, so the wire
// packet and the log entry land in the same total order (spec.md §4.1).
func (l *Log) AppendBarrier() (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == l.cap {
		return 0, ErrOverrun
	}

	nr := l.nextBarNr
	l.nextBarNr++
	if l.nextBarNr == 0 {
		l.nextBarNr = 1 // wrap, skipping 0
	}

	l.entries[l.end] = entry{kind: entryBarrier, barrierNr: nr}
	l.end = (l.end + 1) % l.cap
	l.count++
	return nr, nil
}

// ReleaseThrough advances tl_begin past exactly one barrier matching
// nr. It returns the number of data entries it released along with
// whether that count matched expectedSize; a mismatch is logged by the
// caller, not fatal — the release still occurs (spec.md §4.1).
func (l *Log) ReleaseThrough(nr uint32, expectedSize int) (released int, sizeMatched bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.begin
	dataCount := 0
	for n := 0; n < l.count; n++ {
		e := l.entries[i]
		i = (i + 1) % l.cap
		if e.kind == entryData {
			dataCount++
			continue
		}
		// entryBarrier
		if e.barrierNr == nr {
			l.begin = i
			l.count -= n + 1
			return dataCount, dataCount == expectedSize, nil
		}
	}
	return 0, false, fmt.Errorf("translog: no barrier %d outstanding", nr)
}

// ContainsSector scans the log backwards from tl_end, stopping at the
// first BARRIER or at tl_begin, reporting whether sector appears among
// the still-in-flight data entries. Used to decide whether a
// just-completed local write creates a read-your-own-writes dependency
// requiring a barrier before the next network write (spec.md §4.1).
func (l *Log) ContainsSector(sector uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := l.end
	for n := 0; n < l.count; n++ {
		i = (i - 1 + l.cap) % l.cap
		e := l.entries[i]
		if e.kind == entryBarrier {
			return false
		}
		if e.sector == sector {
			return true
		}
	}
	return false
}

// ClearAndRequeue is invoked on Primary-side disconnect. dirty is
// called for every un-acked data entry's sector range so the caller can
// mark it out-of-sync in the bitmap; completeLocal is called when the
// request's protocol is B or C and it is still live, since its local
// write already happened and it can be completed with success
// immediately (spec.md §4.1). The ring is reset to empty.
func (l *Log) ClearAndRequeue(dirty func(sector uint64), completeLocal func(req *Request)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.begin
	for n := 0; n < l.count; n++ {
		e := l.entries[i]
		i = (i + 1) % l.cap
		if e.kind != entryData {
			continue
		}
		dirty(e.sector)
		if e.req != nil && (e.req.proto == ProtocolB || e.req.proto == ProtocolC) && !e.req.IsDone() {
			completeLocal(e.req)
		}
	}

	l.begin = 0
	l.end = 0
	l.count = 0
}

// Len reports the number of entries currently in the ring.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Empty reports whether tl_begin == tl_end.
func (l *Log) Empty() bool {
	return l.Len() == 0
}
