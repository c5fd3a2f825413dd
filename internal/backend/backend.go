// Package backend defines the storage abstraction a replicated device
// reads and writes locally. A lower device is anything satisfying Backend;
// the optional interfaces let a concrete implementation opt into discard,
// write-zeroes, explicit sync, stats, and resize without forcing every
// backend to implement all of them.
package backend

// Backend is the minimal surface the replication engine needs from a
// lower device: random-access read/write plus size, flush, and close.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	Flush() error
	Close() error
}

// DiscardBackend is implemented by backends that can efficiently
// zero/punch a byte range instead of writing zero bytes through WriteAt.
type DiscardBackend interface {
	Discard(offset, length int64) error
}

// WriteZeroesBackend is implemented by backends with a dedicated
// write-zeroes primitive distinct from discard (e.g. one that keeps space
// allocated but zeroed).
type WriteZeroesBackend interface {
	WriteZeroes(offset, length int64) error
}

// SyncBackend is implemented by backends that distinguish Flush (complete
// pending writes) from Sync (force durability to stable storage).
type SyncBackend interface {
	Sync() error
	SyncRange(offset, length int64) error
}

// StatBackend exposes implementation-defined diagnostic counters.
type StatBackend interface {
	Stats() map[string]interface{}
}

// ResizeBackend is implemented by backends that support online resize.
// The replicated Device never calls Resize itself.
type ResizeBackend interface {
	Resize(newSize int64) error
}
