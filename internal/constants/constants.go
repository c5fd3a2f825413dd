// Package constants holds tunable defaults shared across the replication
// engine. Values mirror spec.md's named defaults so the rest of the code
// can refer to one source of truth instead of re-deriving magic numbers.
package constants

import "time"

// Block and ring sizing defaults.
const (
	// DefaultBlockSize is the negotiated block size fallback (bytes), a
	// power of two measured in 512-byte sectors per spec.md §3.
	DefaultBlockSize = 4096

	// SectorSize is the fixed on-wire sector unit spec.md §3 names.
	SectorSize = 512

	// BMBlockSize is the granularity of one bitmap bit (4 KiB, spec.md §3).
	BMBlockSize = 4096

	// DefaultTransferLogSize is the default ring capacity for the
	// transfer log / epoch-entry array (spec.md §3, shared backing store).
	DefaultTransferLogSize = 256

	// SyncLogCapacity is SYNC_LOG_S from spec.md §3: the number of
	// in-flight resync blocks the secondary tracks awaiting local
	// completion.
	SyncLogCapacity = 80

	// IDSyncer is the reserved block_id sentinel meaning "this write is
	// part of resync, not an application write" (spec.md GLOSSARY).
	IDSyncer = ^uint64(0)
)

// Timeouts, in deciseconds per spec.md §4.6, with Go time.Duration
// equivalents for convenience.
const (
	// DefaultTimeoutDeciseconds is the default value for the send/ack/
	// processing timers (spec.md §4.6 "timeout").
	DefaultTimeoutDeciseconds = 60 // 6s

	// DefaultPingIntervalDeciseconds governs the idle/ping timer.
	DefaultPingIntervalDeciseconds = 100 // 10s

	// DefaultTryConnectIntervalDeciseconds governs the connect-accept
	// timer driving the connect/listen race retry cadence.
	DefaultTryConnectIntervalDeciseconds = 100 // 10s
)

// DecisecondsToDuration converts a spec.md-style decisecond count into a
// time.Duration.
func DecisecondsToDuration(ds int) time.Duration {
	return time.Duration(ds) * 100 * time.Millisecond
}

// Default resync pacing.
const (
	// DefaultSyncRateKiBps is the default resync rate limit.
	DefaultSyncRateKiBps = 1 << 16 // 64 MiB/s

	// ResyncBatchSize is the per-batch transfer size for the
	// double-buffered resync pipeline (spec.md §4.8).
	ResyncBatchSize = 256 * 1024
)

// Wire-format magic, per spec.md §6.
const WireMagic uint32 = 0x83740267

// MetaMagic validates the on-disk generation-counter file (spec.md §4.9).
const MetaMagic uint32 = 0x83740267
