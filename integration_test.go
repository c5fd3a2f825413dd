package nrbd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbowen/nrbd/internal/conn"
	"github.com/kbowen/nrbd/internal/meta"
)

// newLoopbackPair wires up a Primary/Secondary Device pair bound to two
// adjacent loopback ports, with SkipInitialSync so the handshake lands
// directly on Connected without exercising the resync engine.
func newLoopbackPair(t *testing.T, localAddr, peerAddr string, size int64) (primary, secondary *Device) {
	t.Helper()
	dir := t.TempDir()

	primaryCfg := Config{
		Backend:         NewMockBackend(size),
		MetaPath:        filepath.Join(dir, "primary.meta"),
		LocalAddr:       localAddr,
		PeerAddr:        peerAddr,
		InitialRole:     RolePrimary,
		Protocol:        ProtocolC,
		BlockSize:       4096,
		SkipInitialSync: true,
	}
	var err error
	primary, err = New(primaryCfg)
	require.NoError(t, err)

	secondaryCfg := Config{
		Backend:         NewMockBackend(size),
		MetaPath:        filepath.Join(dir, "secondary.meta"),
		LocalAddr:       peerAddr,
		PeerAddr:        localAddr,
		InitialRole:     RoleSecondary,
		Protocol:        ProtocolC,
		BlockSize:       4096,
		SkipInitialSync: true,
	}
	secondary, err = New(secondaryCfg)
	require.NoError(t, err)

	return primary, secondary
}

func TestDevicePairConnectsAndReplicatesWriteProtocolC(t *testing.T) {
	const size = 4096 * 16
	primary, secondary := newLoopbackPair(t, "127.0.0.1:18101", "127.0.0.1:18102", size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- primary.Serve(ctx) }()
	go func() { serveErrs <- secondary.Serve(ctx) }()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	require.NoError(t, primary.WaitConnected(connectCtx))
	require.NoError(t, secondary.WaitConnected(connectCtx))

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 0x42
	}
	require.NoError(t, primary.WriteAt(payload, 0))

	require.Eventually(t, func() bool {
		got := make([]byte, 4096)
		_, err := secondary.backend.ReadAt(got, 0)
		return err == nil && got[0] == 0x42 && got[4095] == 0x42
	}, 2*time.Second, 10*time.Millisecond, "write must replicate to the secondary's backend")

	cancel()
	require.NoError(t, primary.Close())
	require.NoError(t, secondary.Close())
}

func TestDeviceWriteRejectedWhenSecondary(t *testing.T) {
	be := NewMockBackend(4096)
	dev, err := New(Config{
		Backend:     be,
		MetaPath:    filepath.Join(t.TempDir(), "meta"),
		LocalAddr:   "127.0.0.1:0",
		PeerAddr:    "127.0.0.1:0",
		InitialRole: RoleSecondary,
	})
	require.NoError(t, err)

	err = dev.WriteAt(make([]byte, 16), 0)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestDeviceStatusReportsRoleAndCState(t *testing.T) {
	be := NewMockBackend(4096)
	dev, err := New(Config{
		Backend:     be,
		MetaPath:    filepath.Join(t.TempDir(), "meta"),
		LocalAddr:   "127.0.0.1:0",
		PeerAddr:    "127.0.0.1:0",
		InitialRole: RolePrimary,
	})
	require.NoError(t, err)

	status := dev.Status()
	require.Contains(t, status, "st:Primary")
	require.Contains(t, status, "cs:")
	require.Contains(t, status, "gc:[")
}

// TestPrimaryDisconnectCompletesInFlightWriteAndBumpsConnectedCnt drives
// spec.md §8 S3: kill the Secondary while a protocol-C write is in
// flight. The in-flight WriteAt must not deadlock waiting on an ack that
// will never arrive — it must complete locally via
// internal/translog.Log.ClearAndRequeue, mark the sector out-of-sync in
// the bitmap, and bump+persist ConnectedCnt on the surviving Primary.
func TestPrimaryDisconnectCompletesInFlightWriteAndBumpsConnectedCnt(t *testing.T) {
	const size = 4096 * 16
	primary, secondary := newLoopbackPair(t, "127.0.0.1:18201", "127.0.0.1:18202", size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	secCtx, secCancel := context.WithCancel(ctx)

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- primary.Serve(ctx) }()
	go func() { serveErrs <- secondary.Serve(secCtx) }()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	require.NoError(t, primary.WaitConnected(connectCtx))
	require.NoError(t, secondary.WaitConnected(connectCtx))
	require.Contains(t, primary.Status(), "gc:[1,1,1,1,1]")

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- primary.WriteAt(make([]byte, 4096), 8)
	}()

	// Kill the Secondary out from under the live connection: the
	// in-flight write above has no ack coming.
	secCancel()
	require.NoError(t, secondary.Close())

	select {
	case err := <-writeErrCh:
		require.NoError(t, err, "in-flight write must complete locally, not deadlock, on Primary-side disconnect")
	case <-time.After(3 * time.Second):
		t.Fatal("WriteAt deadlocked after peer disconnect")
	}

	require.Eventually(t, func() bool {
		return primary.bmp.Cardinality() > 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect must mark the un-acked sector out-of-sync")

	require.Eventually(t, func() bool {
		return strings.Contains(primary.Status(), "gc:[1,1,2,1,1]")
	}, 2*time.Second, 10*time.Millisecond, "Primary-side disconnect must increment and persist ConnectedCnt")

	require.NoError(t, primary.Close())
}

// TestTieBreakElectsHigherGenerationCounterAsPrimary drives spec.md §8
// S5: two nodes that each think they're Secondary, with diverging
// generation counters (as if each had independently been promoted to
// Primary while disconnected from the other), must resolve the tie by
// electing the side with the lexicographically larger counters.
func TestTieBreakElectsHigherGenerationCounterAsPrimary(t *testing.T) {
	const size = 4096 * 4
	dir := t.TempDir()

	highPath := filepath.Join(dir, "high.meta")
	lowPath := filepath.Join(dir, "low.meta")
	require.NoError(t, meta.Open(highPath).Persist(meta.Counters{
		Consistent: 1, HumanCnt: 1, ConnectedCnt: 5, ArbitraryCnt: 1, PrimaryInd: 0,
	}))
	require.NoError(t, meta.Open(lowPath).Persist(meta.Counters{
		Consistent: 1, HumanCnt: 1, ConnectedCnt: 4, ArbitraryCnt: 9, PrimaryInd: 0,
	}))

	high, err := New(Config{
		Backend: NewMockBackend(size), MetaPath: highPath,
		LocalAddr: "127.0.0.1:18301", PeerAddr: "127.0.0.1:18302",
		InitialRole: RoleSecondary, Protocol: ProtocolC, BlockSize: 4096,
		SkipInitialSync: true,
	})
	require.NoError(t, err)
	low, err := New(Config{
		Backend: NewMockBackend(size), MetaPath: lowPath,
		LocalAddr: "127.0.0.1:18302", PeerAddr: "127.0.0.1:18301",
		InitialRole: RoleSecondary, Protocol: ProtocolC, BlockSize: 4096,
		SkipInitialSync: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErrs := make(chan error, 2)
	go func() { serveErrs <- high.Serve(ctx) }()
	go func() { serveErrs <- low.Serve(ctx) }()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	require.NoError(t, high.WaitConnected(connectCtx))
	require.NoError(t, low.WaitConnected(connectCtx))

	require.Contains(t, high.Status(), "st:Primary")
	require.Contains(t, low.Status(), "st:Secondary")

	cancel()
	require.NoError(t, high.Close())
	require.NoError(t, low.Close())
}

// TestResolveConnectStateChoosesQuickResyncWithoutClearingSourceConsistent
// drives spec.md §8 S4 from the sync source's side: when the peer is not
// Primary and the [HumanCnt, ConnectedCnt, ArbitraryCnt] triple matches
// byte-for-byte, the Primary (the resync source, which runs resolveConnectState
// to decide its cstate) must pick SyncingQuick
// over a full resync — and must leave its own Consistent flag untouched,
// since §4.9's clear-on-resync-start only applies to the target.
func TestResolveConnectStateChoosesQuickResyncWithoutClearingSourceConsistent(t *testing.T) {
	be := NewMockBackend(4096 * 4)
	dev, err := New(Config{
		Backend:     be,
		MetaPath:    filepath.Join(t.TempDir(), "meta"),
		LocalAddr:   "127.0.0.1:0",
		PeerAddr:    "127.0.0.1:0",
		InitialRole: RolePrimary,
		Protocol:    ProtocolC,
		BlockSize:   4096,
	})
	require.NoError(t, err)

	localGen := meta.Counters{Consistent: 1, HumanCnt: 1, ConnectedCnt: 2, ArbitraryCnt: 1, PrimaryInd: 1}
	peerGen := meta.Counters{Consistent: 1, HumanCnt: 1, ConnectedCnt: 2, ArbitraryCnt: 1, PrimaryInd: 0}
	dev.genCnt = localGen

	cstate, err := dev.resolveConnectState(
		conn.Params{Role: RolePrimary, GenCnt: localGen},
		conn.Params{Role: RoleSecondary, GenCnt: peerGen},
	)
	require.NoError(t, err)
	require.Equal(t, conn.SyncingQuick, cstate)
	require.Equal(t, uint32(1), dev.genCnt.Consistent, "the sync source must not clear its own Consistent flag")
}

// TestMaybeClearConsistentOnResyncStartClearsOnSecondaryTarget drives the
// other half of spec.md §8 S4/§4.4: a Secondary adopting a peer-announced
// SyncingQuick/SyncingAll cstate (via the OnCStateChanged/OnStartSync
// receiver callbacks) must clear and persist its own Consistent flag,
// since it is the resync target, mirroring the original's receive_cstate.
func TestMaybeClearConsistentOnResyncStartClearsOnSecondaryTarget(t *testing.T) {
	be := NewMockBackend(4096 * 4)
	dev, err := New(Config{
		Backend:     be,
		MetaPath:    filepath.Join(t.TempDir(), "meta"),
		LocalAddr:   "127.0.0.1:0",
		PeerAddr:    "127.0.0.1:0",
		InitialRole: RoleSecondary,
		Protocol:    ProtocolC,
		BlockSize:   4096,
	})
	require.NoError(t, err)
	dev.genCnt.Consistent = 1

	dev.maybeClearConsistentOnResyncStart(conn.SyncingQuick)

	require.Equal(t, uint32(0), dev.genCnt.Consistent)
	reloaded, err := meta.Open(dev.cfg.MetaPath).Load(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0), reloaded.Consistent, "the clear must be persisted, not just held in memory")
}
