// Package resync implements the source-side resync engine (spec.md
// §4.8): a double-buffered batch pipeline that streams out-of-sync
// blocks to the peer, rate-limited to sync_rate_KiBps, selecting its
// block source from a decreasing full-device sweep (SyncingAll) or the
// bitmap's dirty-bit iterator (SyncingQuick).
package resync

import (
	"context"
	"time"

	"github.com/kbowen/nrbd/internal/backend"
	"github.com/kbowen/nrbd/internal/bitmap"
	"github.com/kbowen/nrbd/internal/constants"
	"github.com/kbowen/nrbd/internal/epoch"
	"github.com/kbowen/nrbd/internal/logging"
	"github.com/kbowen/nrbd/internal/sender"
)

// mbdsDone is the sentinel block number terminating a decreasing sweep,
// named after spec.md §4.8's MBDS_DONE.
const mbdsDone = ^uint64(0)

// Mode selects the resync block source.
type Mode int

const (
	// ModeFull sweeps the device from the last block to 0 (SyncingAll).
	ModeFull Mode = iota
	// ModeQuick iterates only the bitmap's dirty bits (SyncingQuick).
	ModeQuick
)

// Engine drives one resync pass over a device.
type Engine struct {
	backend   backend.Backend
	bmp       *bitmap.Bitmap
	send      *sender.Sender
	logger    *logging.Logger
	blockSize uint32
	rateKiBps int
	batchSize int
}

// Config bundles Engine's dependencies.
type Config struct {
	Backend   backend.Backend
	Bitmap    *bitmap.Bitmap
	Sender    *sender.Sender
	Logger    *logging.Logger
	BlockSize uint32
	RateKiBps int
	BatchSize int
}

// New creates a resync Engine from cfg, applying spec.md defaults for
// zero-valued fields.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = constants.DefaultBlockSize
	}
	rate := cfg.RateKiBps
	if rate == 0 {
		rate = constants.DefaultSyncRateKiBps
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = constants.ResyncBatchSize
	}
	return &Engine{
		backend:   cfg.Backend,
		bmp:       cfg.Bitmap,
		send:      cfg.Sender,
		logger:    log,
		blockSize: blockSize,
		rateKiBps: rate,
		batchSize: batch,
	}
}

// Run streams blocks to the peer per mode until the source is
// exhausted or ctx is canceled. lastBlockNr is the highest valid block
// index on the device, used as the SyncingAll sweep's starting point.
func (e *Engine) Run(ctx context.Context, mode Mode, lastBlockNr uint64) error {
	e.bmp.ResetScanCursor()

	source := e.fullSweepSource(lastBlockNr)
	if mode == ModeQuick {
		source = e.quickSource()
	}

	blocksPerBatch := e.batchSize / int(e.blockSize)
	if blocksPerBatch < 1 {
		blocksPerBatch = 1
	}

	// Double-buffered pipeline: readBatch fills the "next" buffer while
	// the "current" buffer is in flight on the wire, per spec.md §4.8.
	current, err := e.readBatch(source, blocksPerBatch)
	if err != nil {
		return err
	}

	for len(current) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nextCh := make(chan batchResult, 1)
		go func() {
			blocks, err := e.readBatch(source, blocksPerBatch)
			nextCh <- batchResult{blocks, err}
		}()

		amount := 0
		for _, blk := range current {
			if err := e.send.SendSyncData(blk.blockNr, blk.buf); err != nil {
				return err
			}
			epoch.PutBuffer(blk.buf)
			amount += len(blk.buf)
		}
		e.rateLimit(amount)

		next := <-nextCh
		if next.err != nil {
			return next.err
		}
		current = next.blocks
	}
	return nil
}

type syncBlock struct {
	blockNr uint64
	buf     []byte
}

type batchResult struct {
	blocks []syncBlock
	err    error
}

// readBatch pulls up to n blocks from source, reading each from the
// lower device into a pooled buffer.
func (e *Engine) readBatch(source func() (uint64, bool), n int) ([]syncBlock, error) {
	blocks := make([]syncBlock, 0, n)
	for i := 0; i < n; i++ {
		blockNr, ok := source()
		if !ok {
			break
		}
		buf := epoch.GetBuffer(e.blockSize)
		offset := int64(blockNr) * int64(e.blockSize)
		if _, err := e.backend.ReadAt(buf, offset); err != nil {
			epoch.PutBuffer(buf)
			return nil, err
		}
		blocks = append(blocks, syncBlock{blockNr: blockNr, buf: buf})
	}
	return blocks, nil
}

// fullSweepSource returns a closure yielding block numbers in
// decreasing order from lastBlockNr to 0, terminating at mbdsDone.
func (e *Engine) fullSweepSource(lastBlockNr uint64) func() (uint64, bool) {
	next := lastBlockNr
	started := false
	return func() (uint64, bool) {
		if !started {
			started = true
			if lastBlockNr == mbdsDone {
				return 0, false
			}
			return next, true
		}
		if next == 0 {
			return 0, false
		}
		next--
		return next, true
	}
}

// quickSource returns a closure yielding the bitmap's dirty bit indices
// in ascending order.
func (e *Engine) quickSource() func() (uint64, bool) {
	return e.bmp.NextDirty
}

// rateLimit sleeps amount / sync_rate_KiBps seconds after a batch
// (spec.md §4.8's interval, with HZ folded into time.Second since Go
// works in wall-clock durations rather than kernel jiffies). The
// interval has no lower bound: an empty batch does not sleep.
func (e *Engine) rateLimit(amountBytes int) {
	if e.rateKiBps <= 0 {
		return
	}
	kib := float64(amountBytes) / 1024.0
	seconds := kib / float64(e.rateKiBps)
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}
