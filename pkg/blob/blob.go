// Package blob implements the Blob type shared by triples, stored
// values, and wire records: a byte buffer tagged with a data-type enum
// that may either reference caller-owned memory or own its storage.
package blob

import (
	"encoding/binary"
	"fmt"
)

// Type is the closed set of data-type tags a Blob may carry.
type Type uint8

const (
	Invalid Type = iota
	Int32
	Int64
	Size
	Float32
	Float64
	Byte
	Pointer
)

func (t Type) String() string {
	switch t {
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Size:
		return "SIZE"
	case Float32:
		return "FLOAT32"
	case Float64:
		return "FLOAT64"
	case Byte:
		return "BYTE"
	case Pointer:
		return "POINTER"
	default:
		return "INVALID"
	}
}

// Blob is either referencing (borrows the caller's slice, never copies or
// frees it) or owning (holds a private copy that only this Blob controls).
// The zero value is an empty, owning Blob of type Invalid.
type Blob struct {
	data   []byte
	typ    Type
	owning bool
}

// NewReferencing wraps data without copying it. The caller must keep data
// alive for at least as long as the returned Blob is used.
func NewReferencing(data []byte, t Type) Blob {
	return Blob{data: data, typ: t, owning: false}
}

// NewOwning copies data into a private buffer owned by the returned Blob.
func NewOwning(data []byte, t Type) Blob {
	if len(data) == 0 {
		return Blob{typ: t, owning: true}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return Blob{data: cp, typ: t, owning: true}
}

// Empty reports whether the Blob carries no bytes.
func (b Blob) Empty() bool { return len(b.data) == 0 }

// Len returns the number of bytes carried by the Blob.
func (b Blob) Len() int { return len(b.data) }

// Type returns the Blob's data-type tag.
func (b Blob) Type() Type { return b.typ }

// Bytes returns the underlying byte slice. For a referencing Blob this
// aliases caller memory; callers must not retain it past the referent's
// lifetime.
func (b Blob) Bytes() []byte { return b.data }

// IsOwning reports whether the Blob releases its storage independently of
// any other value.
func (b Blob) IsOwning() bool { return b.owning }

// Ref returns a referencing Blob that aliases this Blob's bytes,
// regardless of whether the receiver itself owns its storage. This is how
// copying a Blob is expressed: the result points at the same bytes.
func (b Blob) Ref() Blob {
	return Blob{data: b.data, typ: b.typ, owning: false}
}

// Own returns an owning copy of the Blob's bytes.
func (b Blob) Own() Blob {
	return NewOwning(b.data, b.typ)
}

// PackSize returns the number of bytes Pack will produce.
func (b Blob) PackSize(includeType bool) int {
	n := len(b.data) + 8 // u64 length prefix
	if includeType {
		n++
	}
	return n
}

// Pack serializes the Blob as u64-length-prefixed bytes, optionally
// followed by the type tag byte, matching the wire layout in spec.md §6.
func (b Blob) Pack(includeType bool) []byte {
	out := make([]byte, 0, b.PackSize(includeType))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b.data)))
	out = append(out, lenBuf[:]...)
	out = append(out, b.data...)
	if includeType {
		out = append(out, byte(b.typ))
	}
	return out
}

// Unpack reads a length-prefixed (and optionally typed) Blob from buf,
// returning the owning Blob and the number of bytes consumed. Unpack
// always allocates owning storage, per spec.md §4.1.
func Unpack(buf []byte, includeType bool) (Blob, int, error) {
	if len(buf) < 8 {
		return Blob{}, 0, fmt.Errorf("blob: truncated length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	pos := 8
	need := pos + int(n)
	if includeType {
		need++
	}
	if len(buf) < need {
		return Blob{}, 0, fmt.Errorf("blob: truncated body, want %d have %d", need, len(buf))
	}
	data := buf[pos : pos+int(n)]
	pos += int(n)
	t := Invalid
	if includeType {
		t = Type(buf[pos])
		pos++
	}
	return NewOwning(data, t), pos, nil
}

// UnpackRef is like Unpack but yields a Blob that aliases buf directly
// instead of allocating, per spec.md §4.1 ("unpack_ref always yields
// referencing"). Mirrors pkg/triple/codec.go's DecodeRef, which slices
// the key buffer in place rather than copying through Unpack.
func UnpackRef(buf []byte, includeType bool) (Blob, int, error) {
	if len(buf) < 8 {
		return Blob{}, 0, fmt.Errorf("blob: truncated length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	pos := 8
	need := pos + int(n)
	if includeType {
		need++
	}
	if len(buf) < need {
		return Blob{}, 0, fmt.Errorf("blob: truncated body, want %d have %d", need, len(buf))
	}
	data := buf[pos : pos+int(n)]
	pos += int(n)
	t := Invalid
	if includeType {
		t = Type(buf[pos])
		pos++
	}
	return NewReferencing(data, t), pos, nil
}

// Equal compares length, type, and content. Two blobs are equal
// regardless of whether either is referencing or owning.
func (b Blob) Equal(other Blob) bool {
	if len(b.data) != len(other.data) || b.typ != other.typ {
		return false
	}
	if len(b.data) == 0 {
		return true
	}
	// short-circuit on identical backing array before a full compare
	if &b.data[0] == &other.data[0] {
		return true
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

func (b Blob) String() string {
	return fmt.Sprintf("Blob{type=%s len=%d owning=%v data=%q}", b.typ, len(b.data), b.owning, b.data)
}
