// Package meta persists the five generation counters spec.md §4.9
// describes, as a fixed 24-byte big-endian file: one word of magic
// plus the five counters. Missing or corrupt files are reinitialized
// rather than treated as fatal, per spec.md's documented recovery rule.
package meta

import (
	"encoding/binary"
	"fmt"
	"os"
)

// FileSize is the on-disk size in bytes: six u32 words.
const FileSize = 24

// Magic validates the file; a mismatch or short read means "missing or
// corrupt", triggering reinitialization rather than an error.
const Magic uint32 = 0x83740267

// Counters holds the five persistent generation counters spec.md §3
// names, in their tie-break comparison order.
type Counters struct {
	Consistent   uint32
	HumanCnt     uint32
	ConnectedCnt uint32
	ArbitraryCnt uint32
	PrimaryInd   uint32
}

// Less compares two counter sets lexicographically in
// [Consistent, HumanCnt, ConnectedCnt, ArbitraryCnt, PrimaryInd] order,
// the rule spec.md §4.7 uses for the both-Secondary tie-break.
func (c Counters) Less(other Counters) bool {
	a := [5]uint32{c.Consistent, c.HumanCnt, c.ConnectedCnt, c.ArbitraryCnt, c.PrimaryInd}
	b := [5]uint32{other.Consistent, other.HumanCnt, other.ConnectedCnt, other.ArbitraryCnt, other.PrimaryInd}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MatchesForQuickResync reports whether the [HumanCnt, ConnectedCnt,
// ArbitraryCnt] triple matches byte-for-byte, the condition spec.md
// §4.7 uses (alongside "peer was not Primary") to choose SyncingQuick
// over SyncingAll.
func (c Counters) MatchesForQuickResync(other Counters) bool {
	return c.HumanCnt == other.HumanCnt &&
		c.ConnectedCnt == other.ConnectedCnt &&
		c.ArbitraryCnt == other.ArbitraryCnt
}

// Store is a file-backed Counters with load/init/persist semantics.
type Store struct {
	path string
}

// Open returns a Store bound to path. It does not read or write
// anything until Load is called.
func Open(path string) *Store {
	return &Store{path: path}
}

// Load reads the counters file, reinitializing it (see Init) if it is
// missing, short, or has a bad magic.
func (s *Store) Load(currentlyPrimary bool) (Counters, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.Init(currentlyPrimary)
		}
		return Counters{}, fmt.Errorf("meta: read %s: %w", s.path, err)
	}

	if len(data) != FileSize {
		return s.Init(currentlyPrimary)
	}

	magic := binary.BigEndian.Uint32(data[20:24])
	if magic != Magic {
		return s.Init(currentlyPrimary)
	}

	c := Counters{
		Consistent:   binary.BigEndian.Uint32(data[0:4]),
		HumanCnt:     binary.BigEndian.Uint32(data[4:8]),
		ConnectedCnt: binary.BigEndian.Uint32(data[8:12]),
		ArbitraryCnt: binary.BigEndian.Uint32(data[12:16]),
		PrimaryInd:   binary.BigEndian.Uint32(data[16:20]),
	}
	return c, nil
}

// Init reinitializes all counters to 1 and PrimaryInd to the current
// role, then persists the result, per spec.md §4.9's recovery rule.
func (s *Store) Init(currentlyPrimary bool) (Counters, error) {
	primaryInd := uint32(0)
	if currentlyPrimary {
		primaryInd = 1
	}
	c := Counters{
		Consistent:   1,
		HumanCnt:     1,
		ConnectedCnt: 1,
		ArbitraryCnt: 1,
		PrimaryInd:   primaryInd,
	}
	if err := s.Persist(c); err != nil {
		return c, err
	}
	return c, nil
}

// Persist writes c to the counters file.
func (s *Store) Persist(c Counters) error {
	var buf [FileSize]byte
	binary.BigEndian.PutUint32(buf[0:4], c.Consistent)
	binary.BigEndian.PutUint32(buf[4:8], c.HumanCnt)
	binary.BigEndian.PutUint32(buf[8:12], c.ConnectedCnt)
	binary.BigEndian.PutUint32(buf[12:16], c.ArbitraryCnt)
	binary.BigEndian.PutUint32(buf[16:20], c.PrimaryInd)
	binary.BigEndian.PutUint32(buf[20:24], Magic)

	return os.WriteFile(s.path, buf[:], 0600)
}
