// Package receiver implements the Secondary's packet-dispatch loop
// (spec.md §4.4): read length-prefixed packets off the wire, apply
// writes to the lower device, and reply per the negotiated protocol.
package receiver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kbowen/nrbd/internal/backend"
	"github.com/kbowen/nrbd/internal/bitmap"
	"github.com/kbowen/nrbd/internal/constants"
	"github.com/kbowen/nrbd/internal/epoch"
	"github.com/kbowen/nrbd/internal/logging"
	"github.com/kbowen/nrbd/internal/proto"
	"github.com/kbowen/nrbd/internal/sender"
)

// Protocol mirrors translog.Protocol without importing it, to keep
// receiver decoupled from the Primary-only transfer log package.
type Protocol int

const (
	ProtocolA Protocol = iota
	ProtocolB
	ProtocolC
)

// Handlers are the side-effecting callbacks the dispatch loop invokes
// for control packets that change device-wide state, kept out of this
// package so Receiver stays unit-testable against a canned byte stream.
// The ack handlers (OnRecvAck/OnWriteAck/OnBarrierAck) are set on both
// roles but only fire on a connection's Primary side, since only the
// Secondary emits acks.
type Handlers struct {
	OnCStateChanged func(cstate uint32)
	OnStartSync     func()
	OnPostpone      func()
	OnBecomeSec     func()
	OnSetConsistent func()
	OnReportParams  func(proto.ReportParamsHeader)
	OnPingAck       func()
	OnRecvAck       func(blockNr, blockID uint64)
	OnWriteAck      func(blockNr, blockID uint64)
	OnBarrierAck    func(barrierNr, setSize uint32)
}

// Receiver drives one connection's receive path. The same dispatch loop
// serves both roles: Data/Barrier packets arrive when this side is the
// Secondary (replicated writes flowing in), and RecvAck/WriteAck/
// BarrierAck arrive when this side is the Primary (acks flowing back).
type Receiver struct {
	r                   io.Reader
	backend             backend.Backend
	bmp                 *bitmap.Bitmap
	epochSet            *epoch.Set
	syncLog             *epoch.SyncLog
	send                *sender.Sender
	logger              *logging.Logger
	protocol            Protocol
	blockSize           uint32
	strictBarrierEndian bool
	handlers            Handlers
}

// Config bundles Receiver's dependencies.
type Config struct {
	Reader              io.Reader
	Backend             backend.Backend
	Bitmap              *bitmap.Bitmap
	EpochSet            *epoch.Set
	SyncLog             *epoch.SyncLog
	Sender              *sender.Sender
	Logger              *logging.Logger
	Protocol            Protocol
	BlockSize           uint32
	StrictBarrierEndian bool
	Handlers            Handlers
}

// New creates a Receiver from cfg.
func New(cfg Config) *Receiver {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = constants.DefaultBlockSize
	}
	return &Receiver{
		r:                   cfg.Reader,
		backend:             cfg.Backend,
		bmp:                 cfg.Bitmap,
		epochSet:            cfg.EpochSet,
		syncLog:             cfg.SyncLog,
		send:                cfg.Sender,
		logger:              log,
		protocol:            cfg.Protocol,
		blockSize:           blockSize,
		strictBarrierEndian: cfg.StrictBarrierEndian,
		handlers:            cfg.Handlers,
	}
}

// Run reads and dispatches packets until ctx is canceled or a
// protocol/IO error terminates the loop. Per spec.md §7, any error here
// propagates to the standard disconnect path; the caller is
// responsible for driving that on return.
func (rv *Receiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, err := proto.ReadHeader(rv.r)
		if err != nil {
			return fmt.Errorf("receiver: read header: %w", err)
		}

		if err := rv.dispatch(h); err != nil {
			return fmt.Errorf("receiver: dispatch %s: %w", h.Command, err)
		}
	}
}

func (rv *Receiver) dispatch(h proto.Header) error {
	switch h.Command {
	case proto.CmdData:
		return rv.handleData()
	case proto.CmdBarrier:
		return rv.handleBarrier()
	case proto.CmdPing:
		return rv.send.SendPingAck()
	case proto.CmdPingAck:
		if rv.handlers.OnPingAck != nil {
			rv.handlers.OnPingAck()
		}
		return nil
	case proto.CmdReportParams:
		rp, err := proto.ReadReportParamsHeader(rv.r)
		if err != nil {
			return err
		}
		if rv.handlers.OnReportParams != nil {
			rv.handlers.OnReportParams(rp)
		}
		return nil
	case proto.CmdCStateChanged:
		cs, err := proto.ReadCStateHeader(rv.r)
		if err != nil {
			return err
		}
		if rv.handlers.OnCStateChanged != nil {
			rv.handlers.OnCStateChanged(cs.CState)
		}
		return nil
	case proto.CmdStartSync:
		if rv.handlers.OnStartSync != nil {
			rv.handlers.OnStartSync()
		}
		return nil
	case proto.CmdPostpone:
		if rv.handlers.OnPostpone != nil {
			rv.handlers.OnPostpone()
		}
		return nil
	case proto.CmdBecomeSec:
		if rv.handlers.OnBecomeSec != nil {
			rv.handlers.OnBecomeSec()
		}
		return nil
	case proto.CmdSetConsistent:
		if rv.handlers.OnSetConsistent != nil {
			rv.handlers.OnSetConsistent()
		}
		return nil
	case proto.CmdRecvAck:
		ah, err := proto.ReadBlockAckHeader(rv.r)
		if err != nil {
			return err
		}
		if rv.handlers.OnRecvAck != nil {
			rv.handlers.OnRecvAck(ah.BlockNr, ah.BlockID)
		}
		return nil
	case proto.CmdWriteAck:
		ah, err := proto.ReadBlockAckHeader(rv.r)
		if err != nil {
			return err
		}
		if rv.handlers.OnWriteAck != nil {
			rv.handlers.OnWriteAck(ah.BlockNr, ah.BlockID)
		}
		return nil
	case proto.CmdBarrierAck:
		bah, err := proto.ReadBarrierAckHeader(rv.r, rv.strictBarrierEndian)
		if err != nil {
			return err
		}
		if rv.handlers.OnBarrierAck != nil {
			rv.handlers.OnBarrierAck(bah.BarrierNr, bah.SetSize)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %d", uint16(h.Command))
	}
}

func (rv *Receiver) handleData() error {
	dh, err := proto.ReadDataHeader(rv.r)
	if err != nil {
		return err
	}

	buf := epoch.GetBuffer(rv.blockSize)
	if _, err := io.ReadFull(rv.r, buf); err != nil {
		epoch.PutBuffer(buf)
		return err
	}

	isSyncer := epoch.IsSyncerBlockID(dh.BlockID)
	// Resync blocks are numbered in blockSize units; application writes
	// carry the Primary's 512-byte sector number.
	offset := int64(dh.BlockNr) * int64(rv.blockSize)
	if !isSyncer {
		offset = int64(dh.BlockNr) * constants.SectorSize
	}

	var slot int
	if isSyncer {
		slot, err = rv.syncLog.Insert(dh.BlockNr, buf)
	} else {
		slot, err = rv.epochSet.Insert(dh.BlockNr, dh.BlockID, buf)
	}
	if err != nil {
		epoch.PutBuffer(buf)
		return err
	}

	if _, werr := rv.backend.WriteAt(buf, offset); werr != nil {
		return werr
	}

	if isSyncer {
		rv.syncLog.MarkWritten(slot)
		if rv.bmp != nil {
			rv.bmp.Set(dh.BlockNr, false)
		}
		rv.syncLog.DrainCompleted(func(blockNr uint64) {
			_ = rv.send.SendBlockAck(proto.CmdWriteAck, blockNr, proto.IDSyncer)
		})
		return nil
	}

	rv.epochSet.MarkWritten(slot)

	switch rv.protocol {
	case ProtocolB:
		return rv.send.SendBlockAck(proto.CmdRecvAck, dh.BlockNr, dh.BlockID)
	case ProtocolC:
		return rv.send.SendBlockAck(proto.CmdWriteAck, dh.BlockNr, dh.BlockID)
	default:
		return nil
	}
}

func (rv *Receiver) handleBarrier() error {
	bh, err := proto.ReadBarrierHeader(rv.r)
	if err != nil {
		return err
	}

	for !rv.epochSet.AllWritten() {
		// WriteAt is synchronous in the current backend implementations
		// (mem, file), so this normally doesn't spin; a future async
		// backend should replace this with a condition variable signaled
		// from the write-completion callback.
		time.Sleep(time.Millisecond)
	}

	// Protocol-C entries were WriteAcked in handleData as soon as their
	// local write finished, so draining frees the slots without acking
	// them a second time.
	setSize := rv.epochSet.DrainEpoch(func(epoch.Entry) {})

	return rv.send.SendBarrierAck(bh.BarrierNr, uint32(setSize))
}
