package proto

import (
	"encoding/binary"
	"unsafe"
)

// nativeEndian is detected once at init, the common idiom for code that
// must reproduce a C program's native-byte-order write without assuming
// the host's endianness at compile time.
var nativeEndian binary.ByteOrder

func init() {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		nativeEndian = binary.LittleEndian
	} else {
		nativeEndian = binary.BigEndian
	}
}
