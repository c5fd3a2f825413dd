package resync

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbowen/nrbd/internal/backend"
	"github.com/kbowen/nrbd/internal/bitmap"
	"github.com/kbowen/nrbd/internal/proto"
	"github.com/kbowen/nrbd/internal/sender"
	"github.com/kbowen/nrbd/internal/translog"
)

func TestRunFullSweepStreamsEveryBlock(t *testing.T) {
	const blockSize = 4096
	const numBlocks = 4
	be := backend.NewMemory(blockSize * numBlocks)
	for i := 0; i < numBlocks; i++ {
		_, err := be.WriteAt(bytes.Repeat([]byte{byte(i + 1)}, blockSize), int64(i)*blockSize)
		require.NoError(t, err)
	}

	var out bytes.Buffer
	snd := sender.New(&out, translog.New(4), nil, false)
	bmp := bitmap.New(blockSize * numBlocks)

	e := New(Config{
		Backend: be, Bitmap: bmp, Sender: snd,
		BlockSize: blockSize, RateKiBps: 0, BatchSize: blockSize * 2,
	})

	require.NoError(t, e.Run(context.Background(), ModeFull, numBlocks-1))

	var seen []uint64
	for {
		h, err := proto.ReadHeader(&out)
		if err != nil {
			break
		}
		require.Equal(t, proto.CmdData, h.Command)
		dh, err := proto.ReadDataHeader(&out)
		require.NoError(t, err)
		require.Equal(t, proto.IDSyncer, dh.BlockID)
		seen = append(seen, dh.BlockNr)
		payload := make([]byte, blockSize)
		_, err = out.Read(payload)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{3, 2, 1, 0}, seen, "full sweep streams in decreasing order from the last block")
}

func TestRunQuickModeStreamsOnlyDirtyBlocks(t *testing.T) {
	const blockSize = 4096
	const numBlocks = 4
	be := backend.NewMemory(blockSize * numBlocks)
	bmp := bitmap.New(blockSize * numBlocks)
	bmp.Set(1, true)
	bmp.Set(3, true)

	var out bytes.Buffer
	snd := sender.New(&out, translog.New(4), nil, false)
	e := New(Config{Backend: be, Bitmap: bmp, Sender: snd, BlockSize: blockSize, BatchSize: blockSize})

	require.NoError(t, e.Run(context.Background(), ModeQuick, numBlocks-1))

	var seen []uint64
	for {
		h, err := proto.ReadHeader(&out)
		if err != nil {
			break
		}
		dh, err := proto.ReadDataHeader(&out)
		require.NoError(t, err)
		seen = append(seen, dh.BlockNr)
		payload := make([]byte, blockSize)
		_, _ = out.Read(payload)
		_ = h
	}
	require.Equal(t, []uint64{1, 3}, seen)
}

func TestRunEmptySweepSendsNothing(t *testing.T) {
	be := backend.NewMemory(4096)
	bmp := bitmap.New(4096)
	var out bytes.Buffer
	snd := sender.New(&out, translog.New(4), nil, false)
	e := New(Config{Backend: be, Bitmap: bmp, Sender: snd, BlockSize: 4096})

	require.NoError(t, e.Run(context.Background(), ModeQuick, 0))
	require.Zero(t, out.Len())
}
