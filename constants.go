package nrbd

import "github.com/kbowen/nrbd/internal/constants"

// Re-exported defaults, for consumers that don't want to import the
// internal package directly.
const (
	DefaultBlockSize       = constants.DefaultBlockSize
	SectorSize             = constants.SectorSize
	BMBlockSize            = constants.BMBlockSize
	DefaultTransferLogSize = constants.DefaultTransferLogSize
	SyncLogCapacity        = constants.SyncLogCapacity
	IDSyncer               = constants.IDSyncer

	DefaultTimeoutDeciseconds             = constants.DefaultTimeoutDeciseconds
	DefaultPingIntervalDeciseconds        = constants.DefaultPingIntervalDeciseconds
	DefaultTryConnectIntervalDeciseconds  = constants.DefaultTryConnectIntervalDeciseconds

	DefaultSyncRateKiBps = constants.DefaultSyncRateKiBps
	ResyncBatchSize      = constants.ResyncBatchSize

	WireMagic = constants.WireMagic
	MetaMagic = constants.MetaMagic
)
