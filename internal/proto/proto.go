// Package proto implements the replication wire format: a fixed 8-byte
// header followed by a command-specific header and, for Data packets, a
// payload. Marshaling is hand-rolled on encoding/binary, the same
// technique the teacher's internal/uapi package used for kernel ABI
// structs, because the wire layout (including one deliberately
// non-byte-swapped field) doesn't map onto a generic codec.
package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Command identifies the packet type following the header.
type Command uint16

const (
	CmdData Command = iota + 1
	CmdBarrier
	CmdBarrierAck
	CmdRecvAck
	CmdWriteAck
	CmdReportParams
	CmdCStateChanged
	CmdPing
	CmdPingAck
	CmdPostpone
	CmdBecomeSec
	CmdSetConsistent
	CmdStartSync
)

func (c Command) String() string {
	switch c {
	case CmdData:
		return "Data"
	case CmdBarrier:
		return "Barrier"
	case CmdBarrierAck:
		return "BarrierAck"
	case CmdRecvAck:
		return "RecvAck"
	case CmdWriteAck:
		return "WriteAck"
	case CmdReportParams:
		return "ReportParams"
	case CmdCStateChanged:
		return "CStateChanged"
	case CmdPing:
		return "Ping"
	case CmdPingAck:
		return "PingAck"
	case CmdPostpone:
		return "Postpone"
	case CmdBecomeSec:
		return "BecomeSec"
	case CmdSetConsistent:
		return "SetConsistent"
	case CmdStartSync:
		return "StartSync"
	default:
		return fmt.Sprintf("Command(%d)", uint16(c))
	}
}

// Magic is the fixed header magic value (spec §6).
const Magic uint32 = 0x83740267

// HeaderSize is the wire size of Header in bytes.
const HeaderSize = 8

// IDSyncer is the reserved block_id sentinel for resync writes.
const IDSyncer uint64 = 0xFFFFFFFFFFFFFFFF

// Header is the fixed 8-byte preamble of every packet.
type Header struct {
	Magic   uint32
	Command Command
	Length  uint16 // bytes of payload following the command-specific header
}

// Marshal writes the header in network byte order.
func (h Header) Marshal(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Command))
	binary.BigEndian.PutUint16(buf[6:8], h.Length)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Command: Command(binary.BigEndian.Uint16(buf[4:6])),
		Length:  binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("proto: bad magic %#x", h.Magic)
	}
	return h, nil
}

// DataHeader is the Data packet's command-specific header.
type DataHeader struct {
	BlockNr uint64
	BlockID uint64
}

const dataHeaderSize = 16

func (h DataHeader) Marshal(w io.Writer) error {
	var buf [dataHeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], h.BlockNr)
	binary.BigEndian.PutUint64(buf[8:16], h.BlockID)
	_, err := w.Write(buf[:])
	return err
}

func ReadDataHeader(r io.Reader) (DataHeader, error) {
	var buf [dataHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return DataHeader{}, err
	}
	return DataHeader{
		BlockNr: binary.BigEndian.Uint64(buf[0:8]),
		BlockID: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// BarrierHeader is the Barrier packet's command-specific header.
type BarrierHeader struct {
	BarrierNr uint32
}

const barrierHeaderSize = 4

func (h BarrierHeader) Marshal(w io.Writer) error {
	var buf [barrierHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.BarrierNr)
	_, err := w.Write(buf[:])
	return err
}

func ReadBarrierHeader(r io.Reader) (BarrierHeader, error) {
	var buf [barrierHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BarrierHeader{}, err
	}
	return BarrierHeader{BarrierNr: binary.BigEndian.Uint32(buf[0:4])}, nil
}

// BarrierAckHeader is the BarrierAck packet's command-specific header.
//
// Per spec §9's Open Question, BarrierNr is marshaled in native byte
// order rather than network order, faithfully reproducing the documented
// quirk. StrictBarrierEndian, when true, normalizes to network byte
// order instead, for operators who need interop across mixed-endian
// peers (see Marshal/ReadBarrierAckHeader).
type BarrierAckHeader struct {
	BarrierNr uint32
	SetSize   uint32
}

const barrierAckHeaderSize = 8

func (h BarrierAckHeader) Marshal(w io.Writer, strictEndian bool) error {
	var buf [barrierAckHeaderSize]byte
	if strictEndian {
		binary.BigEndian.PutUint32(buf[0:4], h.BarrierNr)
	} else {
		nativeEndian.PutUint32(buf[0:4], h.BarrierNr)
	}
	binary.BigEndian.PutUint32(buf[4:8], h.SetSize)
	_, err := w.Write(buf[:])
	return err
}

func ReadBarrierAckHeader(r io.Reader, strictEndian bool) (BarrierAckHeader, error) {
	var buf [barrierAckHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BarrierAckHeader{}, err
	}
	h := BarrierAckHeader{SetSize: binary.BigEndian.Uint32(buf[4:8])}
	if strictEndian {
		h.BarrierNr = binary.BigEndian.Uint32(buf[0:4])
	} else {
		h.BarrierNr = nativeEndian.Uint32(buf[0:4])
	}
	return h, nil
}

// BlockAckHeader is shared by RecvAck and WriteAck.
type BlockAckHeader struct {
	BlockNr uint64
	BlockID uint64
}

const blockAckHeaderSize = 16

func (h BlockAckHeader) Marshal(w io.Writer) error {
	var buf [blockAckHeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], h.BlockNr)
	binary.BigEndian.PutUint64(buf[8:16], h.BlockID)
	_, err := w.Write(buf[:])
	return err
}

func ReadBlockAckHeader(r io.Reader) (BlockAckHeader, error) {
	var buf [blockAckHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BlockAckHeader{}, err
	}
	return BlockAckHeader{
		BlockNr: binary.BigEndian.Uint64(buf[0:8]),
		BlockID: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// ReportParamsHeader is exchanged during handshake (spec §4.7).
type ReportParamsHeader struct {
	Size     uint64 // sectors
	BlkSize  uint32
	State    uint32 // role
	Protocol uint32
	Version  uint32
	GenCnt   [5]uint32
}

const reportParamsHeaderSize = 8 + 4 + 4 + 4 + 4 + 5*4

func (h ReportParamsHeader) Marshal(w io.Writer) error {
	var buf [reportParamsHeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], h.Size)
	binary.BigEndian.PutUint32(buf[8:12], h.BlkSize)
	binary.BigEndian.PutUint32(buf[12:16], h.State)
	binary.BigEndian.PutUint32(buf[16:20], h.Protocol)
	binary.BigEndian.PutUint32(buf[20:24], h.Version)
	for i, v := range h.GenCnt {
		off := 24 + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], v)
	}
	_, err := w.Write(buf[:])
	return err
}

func ReadReportParamsHeader(r io.Reader) (ReportParamsHeader, error) {
	var buf [reportParamsHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ReportParamsHeader{}, err
	}
	h := ReportParamsHeader{
		Size:     binary.BigEndian.Uint64(buf[0:8]),
		BlkSize:  binary.BigEndian.Uint32(buf[8:12]),
		State:    binary.BigEndian.Uint32(buf[12:16]),
		Protocol: binary.BigEndian.Uint32(buf[16:20]),
		Version:  binary.BigEndian.Uint32(buf[20:24]),
	}
	for i := range h.GenCnt {
		off := 24 + i*4
		h.GenCnt[i] = binary.BigEndian.Uint32(buf[off : off+4])
	}
	return h, nil
}

// CStateHeader carries a connection-state change notification.
type CStateHeader struct {
	CState uint32
}

const cstateHeaderSize = 4

func (h CStateHeader) Marshal(w io.Writer) error {
	var buf [cstateHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.CState)
	_, err := w.Write(buf[:])
	return err
}

func ReadCStateHeader(r io.Reader) (CStateHeader, error) {
	var buf [cstateHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return CStateHeader{}, err
	}
	return CStateHeader{CState: binary.BigEndian.Uint32(buf[0:4])}, nil
}
