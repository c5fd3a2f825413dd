package nrbd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbowen/nrbd/internal/constants"
)

func TestReExportedConstantsMatchInternal(t *testing.T) {
	require.EqualValues(t, constants.DefaultBlockSize, DefaultBlockSize)
	require.EqualValues(t, constants.SectorSize, SectorSize)
	require.EqualValues(t, constants.BMBlockSize, BMBlockSize)
	require.EqualValues(t, constants.DefaultTransferLogSize, DefaultTransferLogSize)
	require.EqualValues(t, constants.SyncLogCapacity, SyncLogCapacity)
	require.EqualValues(t, constants.IDSyncer, IDSyncer)
	require.EqualValues(t, constants.DefaultTimeoutDeciseconds, DefaultTimeoutDeciseconds)
	require.EqualValues(t, constants.DefaultPingIntervalDeciseconds, DefaultPingIntervalDeciseconds)
	require.EqualValues(t, constants.DefaultTryConnectIntervalDeciseconds, DefaultTryConnectIntervalDeciseconds)
	require.EqualValues(t, constants.DefaultSyncRateKiBps, DefaultSyncRateKiBps)
	require.EqualValues(t, constants.ResyncBatchSize, ResyncBatchSize)
	require.EqualValues(t, constants.WireMagic, WireMagic)
	require.EqualValues(t, constants.MetaMagic, MetaMagic)
}

func TestDecisecondsToDuration(t *testing.T) {
	require.Equal(t, 6*time.Second, constants.DecisecondsToDuration(DefaultTimeoutDeciseconds))
	require.Equal(t, 10*time.Second, constants.DecisecondsToDuration(DefaultPingIntervalDeciseconds))
	require.Equal(t, time.Duration(0), constants.DecisecondsToDuration(0))
}

func TestIDSyncerIsAllOnes(t *testing.T) {
	require.Equal(t, ^uint64(0), uint64(IDSyncer))
}
