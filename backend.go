// Package nrbd provides the main API for running a network-replicated
// block device: a local lower device mirrored synchronously or
// asynchronously to a paired peer over TCP for HA failover.
package nrbd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/kbowen/nrbd/internal/bitmap"
	"github.com/kbowen/nrbd/internal/conn"
	"github.com/kbowen/nrbd/internal/constants"
	"github.com/kbowen/nrbd/internal/epoch"
	"github.com/kbowen/nrbd/internal/logging"
	"github.com/kbowen/nrbd/internal/meta"
	"github.com/kbowen/nrbd/internal/proto"
	"github.com/kbowen/nrbd/internal/receiver"
	"github.com/kbowen/nrbd/internal/resync"
	"github.com/kbowen/nrbd/internal/sender"
	"github.com/kbowen/nrbd/internal/translog"
)

// Role re-exports conn.Role so callers configuring a Device don't need
// to import the internal package.
type Role = conn.Role

const (
	RoleUnknown   = conn.RoleUnknown
	RolePrimary   = conn.RolePrimary
	RoleSecondary = conn.RoleSecondary
)

// Protocol selects the replication acknowledgement discipline (spec.md
// §4.3): A acks on local write + handoff to TCP, B on peer RecvAck, C
// on peer WriteAck.
type Protocol int

const (
	ProtocolA Protocol = iota
	ProtocolB
	ProtocolC
)

func (p Protocol) translog() translog.Protocol { return translog.Protocol(p) }
func (p Protocol) receiver() receiver.Protocol  { return receiver.Protocol(p) }

// Config configures a Device. Zero-valued optional fields take the
// package defaults named in internal/constants.
type Config struct {
	// Backend is the local lower device writes are applied to and
	// resync data is read from.
	Backend Backend

	// MetaPath is the on-disk path for the persisted generation
	// counters (spec.md §4.9). Required.
	MetaPath string

	// LocalAddr and PeerAddr are "host:port" TCP endpoints used for the
	// connect/listen race of spec.md §4.7.
	LocalAddr string
	PeerAddr  string

	// InitialRole is the role this device starts in.
	InitialRole Role

	// Protocol selects the ack discipline for application writes.
	Protocol Protocol

	// BlockSize overrides constants.DefaultBlockSize.
	BlockSize uint32

	// TransferLogSize overrides constants.DefaultTransferLogSize.
	TransferLogSize int

	// SyncLogCapacity overrides constants.SyncLogCapacity.
	SyncLogCapacity int

	// TryConnectInterval overrides the connect/accept retry cadence.
	TryConnectInterval time.Duration

	// Timeout is defaulted from constants.DefaultTimeoutDeciseconds and
	// stored; no ack, send or processing timer in this package reads it.
	Timeout time.Duration

	// PingInterval overrides the idle/ping timer.
	PingInterval time.Duration

	// SyncRateKiBps overrides constants.DefaultSyncRateKiBps.
	SyncRateKiBps int

	// StrictBarrierEndian normalizes BarrierAck.BarrierNr to network
	// byte order instead of reproducing spec.md §9's native-endian quirk.
	StrictBarrierEndian bool

	// SkipInitialSync makes the resync decision of every handshake, not
	// only the first, land on Connected, bypassing resync (for a freshly
	// mirrored pair known to be in sync).
	SkipInitialSync bool

	Logger   *logging.Logger
	Observer Observer
}

func (c *Config) setDefaults() {
	if c.BlockSize == 0 {
		c.BlockSize = constants.DefaultBlockSize
	}
	if c.TransferLogSize == 0 {
		c.TransferLogSize = constants.DefaultTransferLogSize
	}
	if c.SyncLogCapacity == 0 {
		c.SyncLogCapacity = constants.SyncLogCapacity
	}
	if c.TryConnectInterval == 0 {
		c.TryConnectInterval = constants.DecisecondsToDuration(constants.DefaultTryConnectIntervalDeciseconds)
	}
	if c.Timeout == 0 {
		c.Timeout = constants.DecisecondsToDuration(constants.DefaultTimeoutDeciseconds)
	}
	if c.PingInterval == 0 {
		c.PingInterval = constants.DecisecondsToDuration(constants.DefaultPingIntervalDeciseconds)
	}
	if c.SyncRateKiBps == 0 {
		c.SyncRateKiBps = constants.DefaultSyncRateKiBps
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
}

// Device is one node of a replicated block device pair.
type Device struct {
	cfg Config

	backend Backend
	bmp     *bitmap.Bitmap
	metaSt  *meta.Store

	machine *conn.Machine

	mu      sync.Mutex
	role    Role
	genCnt  meta.Counters
	netConn io.Closer

	tlog     *translog.Log
	epochSet *epoch.Set
	syncLog  *epoch.SyncLog

	activeSender *sender.Sender
	nextBlockID  uint64
	pendingReqs  sync.Map // blockID uint64 -> *translog.Request

	metrics  *Metrics
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Device from cfg. It loads (or initializes) the
// persisted generation counters and sizes the bitmap from the backend.
func New(cfg Config) (*Device, error) {
	if cfg.Backend == nil {
		return nil, NewError("New", ErrCodeInvalidParameters, "backend is required")
	}
	if cfg.MetaPath == "" {
		return nil, NewError("New", ErrCodeInvalidParameters, "meta path is required")
	}
	cfg.setDefaults()

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	metaSt := meta.Open(cfg.MetaPath)
	genCnt, err := metaSt.Load(cfg.InitialRole == RolePrimary)
	if err != nil {
		return nil, WrapError("New", err)
	}

	d := &Device{
		cfg:      cfg,
		backend:  cfg.Backend,
		bmp:      bitmap.New(cfg.Backend.Size()),
		metaSt:   metaSt,
		machine:  conn.NewMachine(cfg.Logger),
		role:     cfg.InitialRole,
		genCnt:   genCnt,
		tlog:     translog.New(cfg.TransferLogSize),
		epochSet: epoch.NewSet(cfg.TransferLogSize),
		syncLog:  epoch.NewSyncLog(cfg.SyncLogCapacity),
		metrics:  metrics,
		observer: observer,
	}
	if err := d.machine.Transition(conn.StandAlone); err != nil {
		return nil, WrapError("New", err)
	}
	return d, nil
}

// Serve drives the connect/handshake/replicate/reconnect loop until ctx
// is canceled. It returns nil on a clean ctx cancellation and a
// non-nil error only if the device cannot make progress at all (e.g.
// misconfiguration discovered at connect time).
func (d *Device) Serve(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	defer close(d.done)
	defer d.cancel()

	if err := d.machine.Transition(conn.Unconnected); err != nil {
		return WrapError("Serve", err)
	}

	for {
		select {
		case <-d.ctx.Done():
			return nil
		default:
		}

		if err := d.connectAndServeOnce(d.ctx); err != nil {
			d.cfg.Logger.With("error", err).Warn("replication connection ended")
			d.observer.ObserveReconnect()
			d.metrics.RecordReconnect()
		}

		select {
		case <-d.ctx.Done():
			return nil
		default:
		}
	}
}

// connectAndServeOnce runs exactly one connect-handshake-replicate
// cycle: connect, negotiate, run the receiver/sender/resync tasks until
// disconnect, then tear down in spec.md §4.6's order (resync -> async
// sender -> receiver -> free socket).
func (d *Device) connectAndServeOnce(ctx context.Context) error {
	if err := d.machine.Transition(conn.WFConnection); err != nil {
		return err
	}

	netConn, err := conn.DialRace(ctx, d.cfg.LocalAddr, d.cfg.PeerAddr, d.cfg.TryConnectInterval, d.cfg.Logger)
	if err != nil {
		_ = d.machine.Transition(conn.Unconnected)
		return err
	}
	defer netConn.Close()

	d.mu.Lock()
	d.netConn = netConn
	d.mu.Unlock()

	if err := d.machine.Transition(conn.WFReportParams); err != nil {
		return err
	}

	localParams, peerParams, err := d.handshake(netConn)
	if err != nil {
		_ = d.machine.Transition(conn.Unconnected)
		return err
	}

	nextState, err := d.resolveConnectState(localParams, peerParams)
	if err != nil {
		_ = d.machine.Transition(conn.Unconnected)
		return err
	}
	if err := d.machine.Transition(nextState); err != nil {
		return err
	}

	runErr := d.runConnection(ctx, netConn, localParams, peerParams)

	if runErr != nil {
		d.handlePrimaryDisconnect()
		_ = d.machine.Transition(conn.BrokenPipe)
		_ = d.machine.Transition(conn.Unconnected)
	}
	return runErr
}

// handlePrimaryDisconnect runs the Primary-side disconnect cleanup of
// spec.md §3/§4.1/§4.9: un-acked transfer-log entries are marked
// out-of-sync in the bitmap and, for protocol B/C, completed locally
// since their local write already happened; the ring is reset; and
// ConnectedCnt is incremented and persisted, mirroring the original's
// tl_clear + drbd_md_inc(ConnectedCnt) on every Primary-side disconnect.
// A no-op when the device is not currently Primary.
func (d *Device) handlePrimaryDisconnect() {
	d.mu.Lock()
	isPrimary := d.role == RolePrimary
	d.mu.Unlock()
	if !isPrimary {
		return
	}

	d.tlog.ClearAndRequeue(
		func(sector uint64) {
			d.bmp.SetRange(int64(sector)*constants.SectorSize, constants.SectorSize, true)
		},
		func(req *translog.Request) {
			d.pendingReqs.Delete(req.BlockID)
			if err := req.MarkAcked(); err != nil {
				d.cfg.Logger.With("block_id", req.BlockID, "error", err).Warn("illegal local-complete transition on disconnect")
			}
		},
	)

	d.mu.Lock()
	d.genCnt.ConnectedCnt++
	err := d.metaSt.Persist(d.genCnt)
	d.mu.Unlock()
	if err != nil {
		d.cfg.Logger.With("error", err).Warn("failed to persist generation counters on disconnect")
	}
}

// handshake exchanges ReportParams and returns both sides' parameters.
func (d *Device) handshake(netConn io.ReadWriter) (local, peer conn.Params, err error) {
	d.mu.Lock()
	local = conn.Params{
		Size:     uint64(d.backend.Size()) / constants.SectorSize,
		BlkSize:  d.cfg.BlockSize,
		Role:     d.role,
		Protocol: int(d.cfg.Protocol),
		Version:  1,
		GenCnt:   d.genCnt,
	}
	d.mu.Unlock()

	rp := proto.ReportParamsHeader{
		Size:     local.Size,
		BlkSize:  local.BlkSize,
		State:    uint32(local.Role),
		Protocol: uint32(local.Protocol),
		Version:  local.Version,
		GenCnt: [5]uint32{
			local.GenCnt.Consistent, local.GenCnt.HumanCnt,
			local.GenCnt.ConnectedCnt, local.GenCnt.ArbitraryCnt, local.GenCnt.PrimaryInd,
		},
	}

	h := proto.Header{Magic: proto.Magic, Command: proto.CmdReportParams, Length: 0}
	if err = h.Marshal(netConn); err != nil {
		return
	}
	if err = rp.Marshal(netConn); err != nil {
		return
	}

	peerH, err := proto.ReadHeader(netConn)
	if err != nil {
		return
	}
	if peerH.Command != proto.CmdReportParams {
		err = fmt.Errorf("handshake: expected ReportParams, got %s", peerH.Command)
		return
	}
	peerRP, err := proto.ReadReportParamsHeader(netConn)
	if err != nil {
		return
	}

	peer = conn.Params{
		Size:     peerRP.Size,
		BlkSize:  peerRP.BlkSize,
		Role:     conn.Role(peerRP.State),
		Protocol: int(peerRP.Protocol),
		Version:  peerRP.Version,
		GenCnt: meta.Counters{
			Consistent:   peerRP.GenCnt[0],
			HumanCnt:     peerRP.GenCnt[1],
			ConnectedCnt: peerRP.GenCnt[2],
			ArbitraryCnt: peerRP.GenCnt[3],
			PrimaryInd:   peerRP.GenCnt[4],
		},
	}

	if !conn.VersionsCompatible(local, peer) {
		err = NewError("handshake", ErrCodeVersionMismatch, "incompatible version/protocol/role pairing")
	}
	return
}

// resolveConnectState applies spec.md §4.7's resync decision tree,
// running the both-Secondary tie-break first if neither side is Primary.
func (d *Device) resolveConnectState(local, peer conn.Params) (conn.CState, error) {
	if local.Role != RolePrimary && peer.Role != RolePrimary {
		localWins, ok := conn.TieBreak(local.GenCnt, peer.GenCnt)
		if !ok {
			return 0, NewError("resolveConnectState", ErrCodeBothPrimary, "generation counters tied, cannot elect Primary")
		}
		d.mu.Lock()
		if localWins {
			d.role = RolePrimary
		} else {
			d.role = RoleSecondary
		}
		d.mu.Unlock()
		return conn.Connected, nil
	}

	peerWasPrimary := peer.Role == RolePrimary
	cstate := conn.ResyncDecision(d.cfg.SkipInitialSync, local.GenCnt, peer.GenCnt, peerWasPrimary)
	if cstate.Resyncing() && local.Role != RolePrimary {
		if err := d.clearConsistentOnResyncStart(); err != nil {
			return 0, WrapError("resolveConnectState", err)
		}
	}
	return cstate, nil
}

// clearConsistentOnResyncStart clears and persists the Consistent flag,
// invoked when this side is about to become (or has just learned it is)
// the target of a resync (spec.md §4.4/§4.9): entering SyncingAll or
// SyncingQuick as a non-Primary always means our data is no longer known
// good until the resync completes.
func (d *Device) clearConsistentOnResyncStart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.genCnt.Consistent = 0
	return d.metaSt.Persist(d.genCnt)
}

// runConnection spawns the receiver, async sender, and (if resyncing)
// resync engine, and blocks until one of them returns or ctx is
// canceled, then tears everything down in spec.md §4.6's stated order.
func (d *Device) runConnection(ctx context.Context, netConn io.ReadWriter, local, peer conn.Params) error {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	snd := sender.New(writerOf(netConn), d.tlog, d.cfg.Logger, d.cfg.StrictBarrierEndian)
	d.mu.Lock()
	d.activeSender = snd
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.activeSender = nil
		d.mu.Unlock()
	}()

	rcv := receiver.New(receiver.Config{
		Reader:              readerOf(netConn),
		Backend:             d.backend,
		Bitmap:              d.bmp,
		EpochSet:            d.epochSet,
		SyncLog:             d.syncLog,
		Sender:              snd,
		Logger:              d.cfg.Logger,
		Protocol:            d.cfg.Protocol.receiver(),
		BlockSize:           d.cfg.BlockSize,
		StrictBarrierEndian: d.cfg.StrictBarrierEndian,
		Handlers: receiver.Handlers{
			OnCStateChanged: func(cstate uint32) {
				_ = d.machine.Transition(conn.CState(cstate))
				d.maybeClearConsistentOnResyncStart(conn.CState(cstate))
			},
			OnStartSync: func() {
				_ = d.machine.Transition(conn.SyncingAll)
				d.maybeClearConsistentOnResyncStart(conn.SyncingAll)
			},
			OnBecomeSec: func() {
				d.mu.Lock()
				d.role = RoleSecondary
				d.mu.Unlock()
			},
			OnRecvAck: func(blockNr, blockID uint64) {
				d.ackRequest(blockID)
			},
			OnWriteAck: func(blockNr, blockID uint64) {
				if blockID == proto.IDSyncer {
					d.bmp.Set(blockNr, false)
					return
				}
				d.ackRequest(blockID)
			},
			OnBarrierAck: func(barrierNr, setSize uint32) {
				snd.Enqueue(sender.WorkItem{Kind: sender.WorkDrainBarrier, BarrierNr: barrierNr})
			},
			OnSetConsistent: func() {
				d.mu.Lock()
				d.genCnt.Consistent = 1
				_ = d.metaSt.Persist(d.genCnt)
				d.mu.Unlock()
			},
		},
	})

	g, gctx := errgroup.WithContext(connCtx)
	// A blocked socket read does not observe gctx, so closing the
	// connection is what stops the receiver once any goroutine fails or
	// ctx is canceled.
	go func() {
		<-gctx.Done()
		if c, ok := netConn.(io.Closer); ok {
			_ = c.Close()
		}
	}()
	g.Go(func() error { return rcv.Run(gctx) })
	g.Go(func() error { return snd.AsyncLoop(gctx, d.onDrainBarrier) })

	if d.machine.State().Resyncing() && local.Role == RolePrimary {
		re := resync.New(resync.Config{
			Backend:   d.backend,
			Bitmap:    d.bmp,
			Sender:    snd,
			Logger:    d.cfg.Logger,
			BlockSize: d.cfg.BlockSize,
			RateKiBps: d.cfg.SyncRateKiBps,
		})
		mode := resync.ModeFull
		if d.machine.State() == conn.SyncingQuick {
			mode = resync.ModeQuick
		}
		lastBlock := uint64(d.backend.Size())/int64(d.cfg.BlockSize) - 1
		g.Go(func() error {
			if err := re.Run(gctx, mode, lastBlock); err != nil {
				return err
			}
			return snd.SendSetConsistent()
		})
	}

	g.Go(func() error {
		return d.pingLoop(gctx, snd)
	})

	runErr := g.Wait()
	connCancel()

	var merr *multierror.Error
	if runErr != nil {
		merr = multierror.Append(merr, runErr)
	}
	return merr.ErrorOrNil()
}

// maybeClearConsistentOnResyncStart clears and persists Consistent when
// the peer has just told us (via CStateChanged or StartSync) that we are
// entering SyncingAll/SyncingQuick, but only while our own role is not
// Primary — mirroring the original's receive_cstate, which clears
// gen_cnt[Consistent] only on the Secondary side of a resync.
func (d *Device) maybeClearConsistentOnResyncStart(cstate conn.CState) {
	if !cstate.Resyncing() {
		return
	}
	d.mu.Lock()
	isPrimary := d.role == RolePrimary
	d.mu.Unlock()
	if isPrimary {
		return
	}
	if err := d.clearConsistentOnResyncStart(); err != nil {
		d.cfg.Logger.With("error", err).Warn("failed to persist generation counters on resync start")
	}
}

// ackRequest completes the pending request registered under blockID, if
// any, transitioning it to Acked (spec.md §4.3 protocols B/C).
func (d *Device) ackRequest(blockID uint64) {
	v, ok := d.pendingReqs.LoadAndDelete(blockID)
	if !ok {
		return
	}
	req := v.(*translog.Request)
	if err := req.MarkAcked(); err != nil {
		d.cfg.Logger.With("block_id", blockID, "error", err).Warn("illegal ack transition")
	}
}

// onDrainBarrier services a WorkDrainBarrier item posted by the
// Primary's own barrier bookkeeping (spec.md §4.5): on the Primary side
// this is invoked when a BarrierAck for barrierNr arrives, releasing the
// matching transfer-log epoch.
func (d *Device) onDrainBarrier(barrierNr uint32) {
	released, _, err := d.tlog.ReleaseThrough(barrierNr, -1)
	if err != nil {
		d.cfg.Logger.With("barrier", barrierNr, "error", err).Warn("failed to release transfer log epoch")
		return
	}
	d.cfg.Logger.With("barrier", barrierNr, "released", released).Debug("transfer log epoch released")
}

// pingLoop periodically wakes the async sender to emit a keepalive Ping
// (spec.md §4.6's idle timer).
func (d *Device) pingLoop(ctx context.Context, snd *sender.Sender) error {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snd.Enqueue(sender.WorkItem{Kind: sender.WorkSendPing})
		}
	}
}

// WriteAt issues one application write down the replicated send path:
// local write, then transmission to the peer, completing to the caller
// per the negotiated protocol's acknowledgement condition (spec.md §4.3).
// Only valid while the device's role is Primary.
func (d *Device) WriteAt(p []byte, sector uint64) error {
	d.mu.Lock()
	if d.role != RolePrimary {
		d.mu.Unlock()
		return ErrNotConfigured
	}
	netConn := d.netConn
	d.mu.Unlock()
	if netConn == nil {
		return ErrDeviceBusy
	}

	if _, err := d.backend.WriteAt(p, int64(sector)*constants.SectorSize); err != nil {
		return WrapError("WriteAt", err)
	}
	d.metrics.RecordWrite(uint64(len(p)), 0, true)
	d.observer.ObserveWrite(uint64(len(p)), 0, true)

	if d.tlog.ContainsSector(sector) {
		snd := d.currentSender()
		if snd != nil {
			if _, err := snd.SendBarrier(); err != nil {
				return WrapError("WriteAt", err)
			}
		}
	}

	blockID := atomic.AddUint64(&d.nextBlockID, 1)
	req := translog.NewRequest(blockID, sector, d.cfg.Protocol.translog())
	if d.cfg.Protocol != ProtocolA {
		d.pendingReqs.Store(blockID, req)
	}

	snd := d.currentSender()
	if snd == nil {
		return ErrDeviceBusy
	}
	if err := snd.SendData(sector, blockID, p, req); err != nil {
		d.pendingReqs.Delete(blockID)
		return WrapError("WriteAt", err)
	}
	if err := req.MarkLocalComplete(); err != nil {
		return WrapError("WriteAt", err)
	}

	if d.cfg.Protocol != ProtocolA {
		req.Wait()
	}
	return nil
}

// currentSender returns the Sender for the live connection, or nil when
// disconnected.
func (d *Device) currentSender() *sender.Sender {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeSender
}

// SetRole changes the device's replication role. Demoting from Primary
// notifies the peer via BecomeSec. Promoting to Primary updates
// PrimaryInd and bumps the generation counter spec.md §3/§4.9 assigns to
// that promotion: force (a human-initiated `primary --force`) bumps
// HumanCnt; otherwise the bump lands on ConnectedCnt if the device is
// currently connected to its peer (Connected, SyncingAll or
// SyncingQuick), or ArbitraryCnt if it is not — the
// exact split that lets tie-break detect two nodes independently
// promoted to Primary while disconnected from each other.
func (d *Device) SetRole(role Role, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.role == role {
		return nil
	}
	if role == RolePrimary {
		d.genCnt.PrimaryInd = 1
		switch {
		case force:
			d.genCnt.HumanCnt++
		case d.machine.State() == conn.Connected || d.machine.State().Resyncing():
			d.genCnt.ConnectedCnt++
		default:
			d.genCnt.ArbitraryCnt++
		}
	} else {
		d.genCnt.PrimaryInd = 0
	}
	if err := d.metaSt.Persist(d.genCnt); err != nil {
		return WrapError("SetRole", err)
	}
	d.role = role

	if role == RoleSecondary && d.activeSender != nil {
		return d.activeSender.SendBecomeSec()
	}
	return nil
}

// WaitConnected blocks until the connection state machine reaches
// Connected, or ctx is done.
func (d *Device) WaitConnected(ctx context.Context) error {
	return d.waitForState(ctx, conn.Connected)
}

// WaitSynced blocks until the device leaves both resync states.
func (d *Device) WaitSynced(ctx context.Context) error {
	return d.waitForPredicate(ctx, func(s conn.CState) bool { return !s.Resyncing() })
}

func (d *Device) waitForState(ctx context.Context, want conn.CState) error {
	return d.waitForPredicate(ctx, func(s conn.CState) bool { return s == want })
}

func (d *Device) waitForPredicate(ctx context.Context, pred func(conn.CState) bool) error {
	if pred(d.machine.State()) {
		return nil
	}
	done := make(chan struct{})
	var once sync.Once
	d.machine.OnEnter(func(s conn.CState) {
		if pred(s) {
			once.Do(func() { close(done) })
		}
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// ForceFullSync clears the Consistent flag, bumps ArbitraryCnt and
// persists the counters. The ArbitraryCnt bump makes this side's
// [HumanCnt, ConnectedCnt, ArbitraryCnt] differ from the peer's at the
// next handshake, so the resync decision selects SyncingAll rather than
// SyncingQuick; with SkipInitialSync set it still selects Connected.
func (d *Device) ForceFullSync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.genCnt.Consistent = 0
	d.genCnt.ArbitraryCnt++
	return d.metaSt.Persist(d.genCnt)
}

// Unconfigure tears the device down and discards its in-memory state,
// the nrbd equivalent of spec.md §6's unconfigure ioctl.
func (d *Device) Unconfigure() error {
	if err := d.Close(); err != nil {
		return err
	}
	return d.machine.Transition(conn.Unconfigured)
}

// Close cancels the Serve loop, waits for it to return, and closes the
// backend.
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
	d.metrics.Stop()
	if err := d.backend.Close(); err != nil {
		return WrapError("Close", err)
	}
	return nil
}

// Status returns a one-line human-readable summary matching spec.md
// §6's cs/st/ns/nr/dw/dr/gc status surface.
func (d *Device) Status() string {
	d.mu.Lock()
	role := d.role
	gc := d.genCnt
	d.mu.Unlock()

	snap := d.metrics.Snapshot()
	return fmt.Sprintf(
		"cs:%s st:%s ns:%d nr:%d dw:%d dr:%d gc:[%d,%d,%d,%d,%d]",
		d.machine.State(), role,
		d.bmp.Cardinality()*uint64(d.cfg.BlockSize),
		snap.ReadBytes,
		snap.WriteBytes, snap.ReadBytes,
		gc.Consistent, gc.HumanCnt, gc.ConnectedCnt, gc.ArbitraryCnt, gc.PrimaryInd,
	)
}

func writerOf(rw io.ReadWriter) io.Writer { return rw }
func readerOf(rw io.ReadWriter) io.Reader { return rw }
