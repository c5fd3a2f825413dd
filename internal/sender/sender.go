// Package sender implements the Primary's send path (spec.md §4.1,
// §4.2: serialize local writes onto the wire, atomically interleave
// barrier insertion) and the async/ack sender task (spec.md §4.5:
// ping, postpone, barrier-drain; the Secondary's epoch and sync-log
// acks are sent inline by the receiver package, not here), run as
// one goroutine woken by a small buffered work-item channel — spec.md
// §9's "flag-bit coordination -> explicit messages" redesign note
// applied to ISSUE_BARRIER/SEND_PING/SEND_POSTPONE.
package sender

import (
	"context"
	"io"
	"sync"

	"github.com/kbowen/nrbd/internal/logging"
	"github.com/kbowen/nrbd/internal/proto"
	"github.com/kbowen/nrbd/internal/translog"
)

// WorkKind identifies a queued async-sender job.
type WorkKind int

const (
	WorkSendPing WorkKind = iota
	WorkSendPostpone
	WorkDrainBarrier
)

// WorkItem is one unit of work for the async sender.
type WorkItem struct {
	Kind      WorkKind
	BarrierNr uint32
}

// Sender owns the send mutex: every packet write (header + payload)
// and every barrier insertion into the transfer log happens while
// holding it, so the wire order and the log order agree (spec.md §4.1).
type Sender struct {
	mu                  sync.Mutex
	w                   io.Writer
	log                 *translog.Log
	logger              *logging.Logger
	strictBarrierEndian bool

	work chan WorkItem
}

// New creates a Sender writing packets to w and recording barrier
// insertion into tlog.
func New(w io.Writer, tlog *translog.Log, logger *logging.Logger, strictBarrierEndian bool) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		w:                   w,
		log:                 tlog,
		logger:              logger,
		strictBarrierEndian: strictBarrierEndian,
		work:                make(chan WorkItem, 32),
	}
}

// SendData transmits one application write, atomically creating a
// request-lifecycle entry in the transfer log before releasing the
// send mutex.
func (s *Sender) SendData(blockNr, blockID uint64, payload []byte, req *translog.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.AppendWrite(req, blockNr); err != nil {
		return err
	}

	h := proto.Header{Magic: proto.Magic, Command: proto.CmdData, Length: uint16(len(payload))}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	dh := proto.DataHeader{BlockNr: blockNr, BlockID: blockID}
	if err := dh.Marshal(s.w); err != nil {
		return err
	}
	_, err := s.w.Write(payload)
	return err
}

// SendSyncData transmits a resync block directly, bypassing the
// transfer log entirely: resync writes are tracked by the sync-log on
// the receiving side and acked by block number, not by a Primary-side
// request handle, so they must never occupy a transfer-log ring slot
// (spec.md §4.8, §3 "Sync-log").
func (s *Sender) SendSyncData(blockNr uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := proto.Header{Magic: proto.Magic, Command: proto.CmdData, Length: uint16(len(payload))}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	dh := proto.DataHeader{BlockNr: blockNr, BlockID: proto.IDSyncer}
	if err := dh.Marshal(s.w); err != nil {
		return err
	}
	_, err := s.w.Write(payload)
	return err
}

// SendBarrier allocates and transmits a barrier, atomically with the
// transfer-log insertion (spec.md §4.1).
func (s *Sender) SendBarrier() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendBarrierLocked()
}

func (s *Sender) sendBarrierLocked() (uint32, error) {
	nr, err := s.log.AppendBarrier()
	if err != nil {
		return 0, err
	}
	h := proto.Header{Magic: proto.Magic, Command: proto.CmdBarrier, Length: 0}
	if err := h.Marshal(s.w); err != nil {
		return 0, err
	}
	bh := proto.BarrierHeader{BarrierNr: nr}
	if err := bh.Marshal(s.w); err != nil {
		return 0, err
	}
	return nr, nil
}

// sendSimple transmits a zero-payload singleton command.
func (s *Sender) sendSimple(cmd proto.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := proto.Header{Magic: proto.Magic, Command: cmd, Length: 0}
	return h.Marshal(s.w)
}

func (s *Sender) SendPing() error          { return s.sendSimple(proto.CmdPing) }
func (s *Sender) SendPingAck() error       { return s.sendSimple(proto.CmdPingAck) }
func (s *Sender) SendPostpone() error      { return s.sendSimple(proto.CmdPostpone) }
func (s *Sender) SendBecomeSec() error     { return s.sendSimple(proto.CmdBecomeSec) }
func (s *Sender) SendSetConsistent() error { return s.sendSimple(proto.CmdSetConsistent) }
func (s *Sender) SendStartSync() error     { return s.sendSimple(proto.CmdStartSync) }

// SendBlockAck transmits a RecvAck or WriteAck.
func (s *Sender) SendBlockAck(cmd proto.Command, blockNr, blockID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := proto.Header{Magic: proto.Magic, Command: cmd, Length: 0}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	ah := proto.BlockAckHeader{BlockNr: blockNr, BlockID: blockID}
	return ah.Marshal(s.w)
}

// SendBarrierAck transmits a BarrierAck.
func (s *Sender) SendBarrierAck(barrierNr, setSize uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := proto.Header{Magic: proto.Magic, Command: proto.CmdBarrierAck, Length: 0}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	bah := proto.BarrierAckHeader{BarrierNr: barrierNr, SetSize: setSize}
	return bah.Marshal(s.w, s.strictBarrierEndian)
}

// SendReportParams transmits the handshake parameters.
func (s *Sender) SendReportParams(rp proto.ReportParamsHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := proto.Header{Magic: proto.Magic, Command: proto.CmdReportParams, Length: 0}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	return rp.Marshal(s.w)
}

// SendCState transmits a CStateChanged notification.
func (s *Sender) SendCState(cstate uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := proto.Header{Magic: proto.Magic, Command: proto.CmdCStateChanged, Length: 0}
	if err := h.Marshal(s.w); err != nil {
		return err
	}
	ch := proto.CStateHeader{CState: cstate}
	return ch.Marshal(s.w)
}

// Enqueue posts work for the async sender loop, dropping it (with a
// log) if the queue is momentarily full rather than blocking the
// caller — wake signals are a coalescable optimization, not a
// durable queue (spec.md §9).
func (s *Sender) Enqueue(item WorkItem) {
	select {
	case s.work <- item:
	default:
		s.logger.With("kind", item.Kind).Warn("async sender work queue full, dropping wake")
	}
}

// AsyncLoop runs the async/ack sender task (spec.md §4.5) until ctx is
// canceled. onDrainBarrier is invoked with the barrier number of each
// WorkDrainBarrier item; the device posts such items when a BarrierAck
// arrives and passes a callback that releases the matching
// transfer-log epoch.
func (s *Sender) AsyncLoop(ctx context.Context, onDrainBarrier func(barrierNr uint32)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.work:
			switch item.Kind {
			case WorkSendPing:
				if err := s.SendPing(); err != nil {
					return err
				}
			case WorkSendPostpone:
				if err := s.SendPostpone(); err != nil {
					return err
				}
			case WorkDrainBarrier:
				if onDrainBarrier != nil {
					onDrainBarrier(item.BarrierNr)
				}
			}
		}
	}
}
