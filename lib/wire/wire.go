/*Package wire implements the wire-encoding primitive that lib/cell's
particle packing (used by lib/ghost and lib/exchange) and lib/fft's stage
buffers go through; lib/exchange's counts and bond/exclusion tails,
lib/adapt's payloads and lib/octree's quadrants use encoding/binary
directly. All inter-rank messages are raw byte buffers whose layout is the packed contiguous
representation of the relevant struct, with no framing beyond the MPI
envelope (spec ยง6).

This is a generalization of guppy's lib.WriteAsBytes/ReadAsBytes, which used
an unsafe cast from [][3]floatNN to []floatNN to avoid the heap allocations
reflect-driven encoding/binary calls would otherwise cause.
*/
package wire

import (
	"encoding/binary"
	"io"
	"reflect"
	"unsafe"
)

// ByteOrder is the byte order every rank in a run must agree on. The core
// assumes a homogeneous cluster and always uses the host's native order,
// exactly as guppy's SystemByteOrder does.
func ByteOrder() binary.ByteOrder {
	b := [2]byte{}
	*(*uint16)(unsafe.Pointer(&b[0])) = uint16(0x0001)
	if b[0] == 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Write serializes buf, which must be one of the slice types below, onto w
// in the host's native byte order.
func Write(w io.Writer, buf interface{}) error {
	order := ByteOrder()
	switch x := buf.(type) {
	case []int32:
		return binary.Write(w, order, x)
	case []int64:
		return binary.Write(w, order, x)
	case []uint32:
		return binary.Write(w, order, x)
	case []uint64:
		return binary.Write(w, order, x)
	case []float32:
		return binary.Write(w, order, x)
	case []float64:
		return binary.Write(w, order, x)
	case []byte:
		_, err := w.Write(x)
		return err
	case [][3]float64:
		return binary.Write(w, order, widen64(x))
	case [][3]float32:
		return binary.Write(w, order, widen32(x))
	}
	panic("wire: unrecognized buffer type")
}

// Read deserializes into buf, which must be one of the slice types below,
// from r in the host's native byte order.
func Read(r io.Reader, buf interface{}) error {
	order := ByteOrder()
	switch x := buf.(type) {
	case []int32:
		return binary.Read(r, order, x)
	case []int64:
		return binary.Read(r, order, x)
	case []uint32:
		return binary.Read(r, order, x)
	case []uint64:
		return binary.Read(r, order, x)
	case []float32:
		return binary.Read(r, order, x)
	case []float64:
		return binary.Read(r, order, x)
	case []byte:
		_, err := io.ReadFull(r, x)
		return err
	case [][3]float64:
		return binary.Read(r, order, widen64(x))
	case [][3]float32:
		return binary.Read(r, order, widen32(x))
	}
	panic("wire: unrecognized buffer type")
}

// widen64 reinterprets a [][3]float64 slice as a flat []float64 slice of
// three times the length without copying.
func widen64(x [][3]float64) []float64 {
	hd := *(*reflect.SliceHeader)(unsafe.Pointer(&x))
	hd.Len *= 3
	hd.Cap *= 3
	return *(*[]float64)(unsafe.Pointer(&hd))
}

// widen32 reinterprets a [][3]float32 slice as a flat []float32 slice of
// three times the length without copying.
func widen32(x [][3]float32) []float32 {
	hd := *(*reflect.SliceHeader)(unsafe.Pointer(&x))
	hd.Len *= 3
	hd.Cap *= 3
	return *(*[]float32)(unsafe.Pointer(&hd))
}
