package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Magic: Magic, Command: CmdData, Length: 4096}
	var buf bytes.Buffer
	require.NoError(t, h.Marshal(&buf))
	require.Equal(t, HeaderSize, buf.Len())

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReadHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: 0xdeadbeef, Command: CmdPing}
	require.NoError(t, h.Marshal(&buf))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
}

func TestReadHeaderShortRead(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestDataHeaderRoundTrip(t *testing.T) {
	dh := DataHeader{BlockNr: 123, BlockID: 456}
	var buf bytes.Buffer
	require.NoError(t, dh.Marshal(&buf))

	got, err := ReadDataHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, dh, got)
}

func TestDataHeaderSyncerBlockID(t *testing.T) {
	dh := DataHeader{BlockNr: 7, BlockID: IDSyncer}
	var buf bytes.Buffer
	require.NoError(t, dh.Marshal(&buf))

	got, err := ReadDataHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, IDSyncer, got.BlockID)
}

func TestBarrierHeaderRoundTrip(t *testing.T) {
	bh := BarrierHeader{BarrierNr: 99}
	var buf bytes.Buffer
	require.NoError(t, bh.Marshal(&buf))

	got, err := ReadBarrierHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, bh, got)
}

// TestBarrierAckHeaderNativeEndian confirms spec §9's deliberate quirk:
// with strictEndian=false, BarrierNr round-trips via native byte order,
// which differs from the wire's usual network-order fields whenever the
// host is little-endian.
func TestBarrierAckHeaderNativeEndian(t *testing.T) {
	bah := BarrierAckHeader{BarrierNr: 0x01020304, SetSize: 10}
	var buf bytes.Buffer
	require.NoError(t, bah.Marshal(&buf, false))

	got, err := ReadBarrierAckHeader(&buf, false)
	require.NoError(t, err)
	require.Equal(t, bah, got)
}

func TestBarrierAckHeaderStrictEndian(t *testing.T) {
	bah := BarrierAckHeader{BarrierNr: 0x01020304, SetSize: 10}
	var buf bytes.Buffer
	require.NoError(t, bah.Marshal(&buf, true))

	raw := buf.Bytes()
	require.Equal(t, byte(0x01), raw[0], "strict mode marshals BarrierNr big-endian")

	got, err := ReadBarrierAckHeader(&buf, true)
	require.NoError(t, err)
	require.Equal(t, bah, got)
}

func TestBlockAckHeaderRoundTrip(t *testing.T) {
	ah := BlockAckHeader{BlockNr: 1, BlockID: 2}
	var buf bytes.Buffer
	require.NoError(t, ah.Marshal(&buf))

	got, err := ReadBlockAckHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, ah, got)
}

func TestReportParamsHeaderRoundTrip(t *testing.T) {
	rp := ReportParamsHeader{
		Size:     2048,
		BlkSize:  4096,
		State:    1,
		Protocol: 2,
		Version:  1,
		GenCnt:   [5]uint32{1, 2, 3, 4, 5},
	}
	var buf bytes.Buffer
	require.NoError(t, rp.Marshal(&buf))

	got, err := ReadReportParamsHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, rp, got)
}

func TestCStateHeaderRoundTrip(t *testing.T) {
	ch := CStateHeader{CState: 5}
	var buf bytes.Buffer
	require.NoError(t, ch.Marshal(&buf))

	got, err := ReadCStateHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, ch, got)
}

func TestCommandString(t *testing.T) {
	require.Equal(t, "Data", CmdData.String())
	require.Equal(t, "StartSync", CmdStartSync.String())
	require.Contains(t, Command(999).String(), "Command(999)")
}
