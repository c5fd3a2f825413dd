package conn

import "github.com/kbowen/nrbd/internal/meta"

// Params is the local view of a handshake ReportParams exchange
// (spec.md §4.7, §6).
type Params struct {
	Size     uint64 // sectors
	BlkSize  uint32
	Role     Role
	Protocol int
	Version  uint32
	GenCnt   meta.Counters
}

// NegotiateSize returns min(peer, ours, userDeclared), per spec.md
// §4.7: "negotiated size = min(peer_size, our_size, user_declared_size)".
func NegotiateSize(peerSize, ourSize, userDeclaredSize uint64) uint64 {
	size := peerSize
	if ourSize < size {
		size = ourSize
	}
	if userDeclaredSize != 0 && userDeclaredSize < size {
		size = userDeclaredSize
	}
	return size
}

// NegotiateBlockSize returns the Primary's block size if exactly one
// side is Primary, else the max of the two (spec.md §4.7).
func NegotiateBlockSize(local, peer Params) uint32 {
	if local.Role == RolePrimary && peer.Role != RolePrimary {
		return local.BlkSize
	}
	if peer.Role == RolePrimary && local.Role != RolePrimary {
		return peer.BlkSize
	}
	if local.BlkSize > peer.BlkSize {
		return local.BlkSize
	}
	return peer.BlkSize
}

// TieBreak implements the both-Secondary role tie-break of spec.md
// §4.7: the strictly greater generation-counter side becomes Primary.
// ok is false if the counters are exactly equal. No secondary key
// breaks such a tie: the caller, Device.resolveConnectState, returns an
// error and neither side becomes Primary.
func TieBreak(local, peer meta.Counters) (localWins bool, ok bool) {
	if local.Less(peer) {
		return false, true
	}
	if peer.Less(local) {
		return true, true
	}
	return false, false
}

// VersionsCompatible reports whether a protocol-version / wire-protocol
// / role pairing is acceptable per spec.md §4.7: versions and
// replication protocol must match, and both sides cannot be Primary.
func VersionsCompatible(local, peer Params) bool {
	if local.Version != peer.Version {
		return false
	}
	if local.Protocol != peer.Protocol {
		return false
	}
	if local.Role == RolePrimary && peer.Role == RolePrimary {
		return false
	}
	return true
}

// ResyncDecision implements spec.md §4.7's resync decision tree for the
// case where exactly one side is Primary. skipSync short-circuits to
// Connected; otherwise a byte-for-byte match of [HumanCnt, ConnectedCnt,
// ArbitraryCnt] against the peer's pre-disconnect snapshot, combined
// with "peer was not Primary", selects SyncingQuick; anything else
// selects SyncingAll.
func ResyncDecision(skipSync bool, localGen, peerGen meta.Counters, peerWasPrimary bool) CState {
	if skipSync {
		return Connected
	}
	if !peerWasPrimary && localGen.MatchesForQuickResync(peerGen) {
		return SyncingQuick
	}
	return SyncingAll
}
