// Package triple implements the triple-to-key codec and the typed stored
// value encoding described in spec.md §3 and §4.2: it turns a
// (subject, predicate) pair into an ordered byte key, and appends/strips
// the trailing type byte on stored objects.
package triple

import (
	"encoding/binary"
	"fmt"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

// sentinel separates subject||predicate from the fixed trailer so that a
// key which is itself a prefix of a longer subject+predicate
// concatenation still decodes unambiguously.
const sentinel byte = 0xFF

// trailerSize is the length of the sentinel plus everything the encoded
// key carries after it: two little-endian uint64 lengths plus two type bytes.
const trailerSize = 1 /*sentinel*/ + 8 + 8 + 1 + 1

// Error is the codec's sentinel error type, matching spec.md §4.2's
// CodecError::Truncated / CodecError::BadSentinel dispositions.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("triple: %s: %s", e.Kind, e.Msg) }

func truncatedErr(msg string) error  { return &Error{Kind: "Truncated", Msg: msg} }
func badSentinelErr(msg string) error { return &Error{Kind: "BadSentinel", Msg: msg} }

// Key holds a decoded (subject, predicate) pair. Subject and Predicate
// are either both referencing (pointing into the key buffer they were
// decoded from) or both owning, depending on which Decode variant
// produced them.
type Key struct {
	Subject   blob.Blob
	Predicate blob.Blob
}

// Encode builds the ordered byte key for (subject, predicate) per
// spec.md §3:
//
//	subject_bytes ‖ predicate_bytes ‖ 0xFF ‖ u_subject_len ‖ u_predicate_len ‖ subject_type ‖ predicate_type
func Encode(subject, predicate blob.Blob) []byte {
	sLen, pLen := subject.Len(), predicate.Len()
	out := make([]byte, 0, sLen+pLen+trailerSize)
	out = append(out, subject.Bytes()...)
	out = append(out, predicate.Bytes()...)
	out = append(out, sentinel)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(sLen))
	out = append(out, lenBuf[:]...)
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(pLen))
	out = append(out, lenBuf[:]...)

	out = append(out, byte(subject.Type()), byte(predicate.Type()))
	return out
}

// DecodeCopy decodes an encoded key into owning subject/predicate blobs.
func DecodeCopy(key []byte) (Key, error) {
	return decode(key, true)
}

// DecodeRef decodes an encoded key into subject/predicate blobs that
// reference key directly; the caller must not let key go out of scope
// before these blobs.
func DecodeRef(key []byte) (Key, error) {
	return decode(key, false)
}

func decode(key []byte, copyOut bool) (Key, error) {
	if len(key) < trailerSize {
		return Key{}, truncatedErr("key shorter than fixed trailer")
	}
	trailer := key[len(key)-trailerSize:]
	if trailer[0] != sentinel {
		return Key{}, badSentinelErr("missing 0xFF sentinel at expected offset")
	}
	sLen := binary.LittleEndian.Uint64(trailer[1:9])
	pLen := binary.LittleEndian.Uint64(trailer[9:17])
	sType := blob.Type(trailer[17])
	pType := blob.Type(trailer[18])

	body := key[:len(key)-trailerSize]
	if uint64(len(body)) != sLen+pLen {
		return Key{}, truncatedErr("body length does not match encoded subject+predicate lengths")
	}

	sBytes := body[:sLen]
	pBytes := body[sLen:]

	if copyOut {
		return Key{
			Subject:   blob.NewOwning(sBytes, sType),
			Predicate: blob.NewOwning(pBytes, pType),
		}, nil
	}
	return Key{
		Subject:   blob.NewReferencing(sBytes, sType),
		Predicate: blob.NewReferencing(pBytes, pType),
	}, nil
}

// AppendType appends the object's type tag to its raw bytes, producing
// the stored-value layout of spec.md §3: object_bytes ‖ object_type_byte.
func AppendType(object blob.Blob) []byte {
	out := make([]byte, 0, object.Len()+1)
	out = append(out, object.Bytes()...)
	out = append(out, byte(object.Type()))
	return out
}

// StripType is the inverse of AppendType: it splits a stored value into
// its object bytes and discovered type. The discovered type is whatever
// was actually persisted and may disagree with a caller's expected type;
// per spec.md §9 Open Questions, this implementation surfaces the stored
// type rather than silently coercing it to the caller's request.
func StripType(stored []byte) (objectBytes []byte, discovered blob.Type, err error) {
	if len(stored) < 1 {
		return nil, blob.Invalid, truncatedErr("stored value has no type byte")
	}
	return stored[:len(stored)-1], blob.Type(stored[len(stored)-1]), nil
}
