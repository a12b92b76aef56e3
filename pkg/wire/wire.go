// Package wire implements the bulk request/response framing of spec.md
// §6: a small header followed by count operation-specific slots, with
// little-endian integers and length-prefixed (optionally typed) blobs.
//
// The original C++ wire layout additionally serializes a raw pointer
// value alongside same-process "reference" blobs (pack_ref), an
// optimization meaningful only when sender and receiver share an
// address space. hxhim-go's transport never needs that: the same-rank
// case is short-circuited straight into the local range-server loop
// without going through this package at all (spec.md §4.7), and every
// path that does reach this package is a real, separate-process
// transport for which a raw pointer is meaningless. This package's
// slots therefore carry ordinary length-prefixed blobs (typed where the
// slot layout records a type) and no pointer values; see
// DESIGN.md for this Open Question's resolution.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

// OpKind identifies which client operation a bulk packet carries.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpGet
	OpGetOp
	OpDelete
	OpHistogram
	OpSync
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpGetOp:
		return "getop"
	case OpDelete:
		return "delete"
	case OpHistogram:
		return "histogram"
	case OpSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Direction distinguishes a request packet from its response.
type Direction uint8

const (
	DirRequest Direction = iota
	DirResponse
)

// ScanOp is the ordered-scan seek mode of a GetOp slot, per spec.md
// §4.4's table.
type ScanOp uint8

const (
	ScanEQ ScanOp = iota
	ScanNEXT
	ScanPREV
	ScanFIRST
	ScanLAST
	ScanLOWEST
	ScanHIGHEST
)

// Status mirrors resultset.Status on the wire: SUCCESS=0, ERROR=1,
// UNSET=2 (internal staging only, never sent).
type Status uint8

const (
	StatusSuccess Status = 0
	StatusError   Status = 1
	StatusUnset   Status = 2
)

// Header is the fixed prefix of every bulk packet.
type Header struct {
	Direction Direction
	Op        OpKind
	Src       int32
	Dst       int32
	Count     uint64
}

// PutSlot is one BPut request entry.
type PutSlot struct {
	Subject   blob.Blob
	Predicate blob.Blob
	Object    blob.Blob
}

// PutResult is one BPut response entry.
type PutResult struct {
	Status    Status
	Subject   blob.Blob
	Predicate blob.Blob
}

// GetSlot is one BGet request entry.
type GetSlot struct {
	Subject    blob.Blob
	Predicate  blob.Blob
	ObjectType blob.Type
}

// GetResult is one BGet response entry.
type GetResult struct {
	Status    Status
	Subject   blob.Blob
	Predicate blob.Blob
	Object    blob.Blob // zero value if Status != StatusSuccess
}

// GetOpSlot is one BGetOp request entry.
type GetOpSlot struct {
	Op         ScanOp
	Subject    blob.Blob // absent for ScanFIRST / ScanLAST
	Predicate  blob.Blob
	ObjectType blob.Type
	NumRecs    uint64
}

// GetOpResult is one BGetOp response entry.
type GetOpResult struct {
	Status  Status
	NumRecs uint64
	Rows    []Row
}

// Row is one matched triple inside a GetOpResult.
type Row struct {
	Subject   blob.Blob
	Predicate blob.Blob
	Object    blob.Blob
}

// DeleteSlot is one BDelete request entry.
type DeleteSlot struct {
	Subject   blob.Blob
	Predicate blob.Blob
}

// DeleteResult is one BDelete response entry.
type DeleteResult struct {
	Status    Status
	Subject   blob.Blob
	Predicate blob.Blob
}

// HistogramSlot names a single histogram to read or write.
type HistogramSlot struct {
	Name string
}

// HistogramResult is one BHistogram response entry.
type HistogramResult struct {
	Status  Status
	Name    string
	Buckets []float64
	Counts  []uint64
}

// SyncResult reports the outcome of a Sync against one local datastore.
type SyncResult struct {
	Status      Status
	DatastoreID int64
}

// Request is a homogeneous bulk packet: Header.Op selects exactly one of
// the slices below, matching spec.md §4.4's "operate() dispatch on
// enum".
type Request struct {
	Header     Header
	Puts       []PutSlot
	Gets       []GetSlot
	GetOps     []GetOpSlot
	Deletes    []DeleteSlot
	Histograms []HistogramSlot
}

// Response is the bulk reply matching a Request's Header.Op.
type Response struct {
	Header     Header
	Puts       []PutResult
	Gets       []GetResult
	GetOps     []GetOpResult
	Deletes    []DeleteResult
	Histograms []HistogramResult
	Syncs      []SyncResult
}

// --- marshaling helpers ---

type writer struct{ buf []byte }

func (w *writer) u8(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) i32(v int32) { w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }
func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}
func (w *writer) blobTyped(b blob.Blob)   { w.buf = append(w.buf, b.Pack(true)...) }
func (w *writer) blobUntyped(b blob.Blob) { w.buf = append(w.buf, b.Pack(false)...) }
func (w *writer) str(s string) {
	w.u64(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("wire: truncated u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) i32() (int32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, fmt.Errorf("wire: truncated i32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return int32(v), nil
}

func (r *reader) u64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, fmt.Errorf("wire: truncated u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) f64() (float64, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// blob decodes a length-prefixed (and optionally typed) Blob aliasing
// r.buf directly rather than copying it: UnmarshalRequest/UnmarshalResponse
// callers consume the decoded Request/Response synchronously against the
// same backing array, so there is nothing to gain from an extra copy per
// field the way there would be for a value retained past this call.
func (r *reader) blob(includeType bool) (blob.Blob, error) {
	b, n, err := blob.UnpackRef(r.buf[r.pos:], includeType)
	if err != nil {
		return blob.Blob{}, err
	}
	r.pos += n
	return b, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u64()
	if err != nil {
		return "", err
	}
	if uint64(len(r.buf)-r.pos) < n {
		return "", fmt.Errorf("wire: truncated string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func writeHeader(w *writer, h Header) {
	w.u8(uint8(h.Direction))
	w.u8(uint8(h.Op))
	w.i32(h.Src)
	w.i32(h.Dst)
	w.u64(h.Count)
}

func readHeader(r *reader) (Header, error) {
	dir, err := r.u8()
	if err != nil {
		return Header{}, err
	}
	op, err := r.u8()
	if err != nil {
		return Header{}, err
	}
	src, err := r.i32()
	if err != nil {
		return Header{}, err
	}
	dst, err := r.i32()
	if err != nil {
		return Header{}, err
	}
	count, err := r.u64()
	if err != nil {
		return Header{}, err
	}
	return Header{Direction: Direction(dir), Op: OpKind(op), Src: src, Dst: dst, Count: count}, nil
}

// MarshalRequest serializes a Request per spec.md §6.
func MarshalRequest(req Request) []byte {
	req.Header.Direction = DirRequest
	w := &writer{}
	writeHeader(w, req.Header)
	switch req.Header.Op {
	case OpPut:
		for _, s := range req.Puts {
			w.blobUntyped(s.Subject)
			w.blobUntyped(s.Predicate)
			w.blobTyped(s.Object)
		}
	case OpGet:
		for _, s := range req.Gets {
			w.blobUntyped(s.Subject)
			w.blobUntyped(s.Predicate)
			w.u8(uint8(s.ObjectType))
		}
	case OpGetOp:
		for _, s := range req.GetOps {
			w.u8(uint8(s.Op))
			if s.Op != ScanFIRST && s.Op != ScanLAST {
				w.blobUntyped(s.Subject)
				w.blobUntyped(s.Predicate)
			}
			w.u8(uint8(s.ObjectType))
			w.u64(s.NumRecs)
		}
	case OpDelete:
		for _, s := range req.Deletes {
			w.blobUntyped(s.Subject)
			w.blobUntyped(s.Predicate)
		}
	case OpHistogram:
		for _, s := range req.Histograms {
			w.str(s.Name)
		}
	case OpSync:
		// no per-slot body; the receiving range server syncs every local
		// datastore whatever count says.
	}
	return w.buf
}

// UnmarshalRequest is MarshalRequest's inverse.
func UnmarshalRequest(data []byte) (Request, error) {
	r := &reader{buf: data}
	h, err := readHeader(r)
	if err != nil {
		return Request{}, err
	}
	req := Request{Header: h}
	for i := uint64(0); i < h.Count; i++ {
		switch h.Op {
		case OpPut:
			sub, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			pred, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			obj, err := r.blob(true)
			if err != nil {
				return Request{}, err
			}
			req.Puts = append(req.Puts, PutSlot{Subject: sub, Predicate: pred, Object: obj})
		case OpGet:
			sub, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			pred, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			ot, err := r.u8()
			if err != nil {
				return Request{}, err
			}
			req.Gets = append(req.Gets, GetSlot{Subject: sub, Predicate: pred, ObjectType: blob.Type(ot)})
		case OpGetOp:
			op, err := r.u8()
			if err != nil {
				return Request{}, err
			}
			var sub, pred blob.Blob
			if ScanOp(op) != ScanFIRST && ScanOp(op) != ScanLAST {
				sub, err = r.blob(false)
				if err != nil {
					return Request{}, err
				}
				pred, err = r.blob(false)
				if err != nil {
					return Request{}, err
				}
			}
			ot, err := r.u8()
			if err != nil {
				return Request{}, err
			}
			numRecs, err := r.u64()
			if err != nil {
				return Request{}, err
			}
			req.GetOps = append(req.GetOps, GetOpSlot{
				Op: ScanOp(op), Subject: sub, Predicate: pred,
				ObjectType: blob.Type(ot), NumRecs: numRecs,
			})
		case OpDelete:
			sub, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			pred, err := r.blob(false)
			if err != nil {
				return Request{}, err
			}
			req.Deletes = append(req.Deletes, DeleteSlot{Subject: sub, Predicate: pred})
		case OpHistogram:
			name, err := r.str()
			if err != nil {
				return Request{}, err
			}
			req.Histograms = append(req.Histograms, HistogramSlot{Name: name})
		case OpSync:
			// nothing to read per slot
		}
	}
	return req, nil
}

// MarshalResponse serializes a Response per spec.md §6. Header.Count is
// set from the length of the result slice Header.Op selects.
func MarshalResponse(resp Response) []byte {
	resp.Header.Direction = DirResponse
	switch resp.Header.Op {
	case OpPut:
		resp.Header.Count = uint64(len(resp.Puts))
	case OpGet:
		resp.Header.Count = uint64(len(resp.Gets))
	case OpGetOp:
		resp.Header.Count = uint64(len(resp.GetOps))
	case OpDelete:
		resp.Header.Count = uint64(len(resp.Deletes))
	case OpHistogram:
		resp.Header.Count = uint64(len(resp.Histograms))
	case OpSync:
		resp.Header.Count = uint64(len(resp.Syncs))
	}
	w := &writer{}
	writeHeader(w, resp.Header)
	switch resp.Header.Op {
	case OpPut:
		for _, s := range resp.Puts {
			w.u8(uint8(s.Status))
			w.blobTyped(s.Subject)
			w.blobTyped(s.Predicate)
		}
	case OpGet:
		for _, s := range resp.Gets {
			w.u8(uint8(s.Status))
			w.blobTyped(s.Subject)
			w.blobTyped(s.Predicate)
			if s.Status == StatusSuccess {
				w.blobTyped(s.Object)
			}
		}
	case OpGetOp:
		for _, s := range resp.GetOps {
			w.u8(uint8(s.Status))
			w.u64(s.NumRecs)
			if s.Status == StatusSuccess {
				for _, row := range s.Rows {
					w.blobTyped(row.Subject)
					w.blobTyped(row.Predicate)
					w.blobTyped(row.Object)
				}
			}
		}
	case OpDelete:
		for _, s := range resp.Deletes {
			w.u8(uint8(s.Status))
			w.blobTyped(s.Subject)
			w.blobTyped(s.Predicate)
		}
	case OpHistogram:
		for _, s := range resp.Histograms {
			w.u8(uint8(s.Status))
			w.str(s.Name)
			if s.Status == StatusSuccess {
				w.u64(uint64(len(s.Buckets)))
				for _, b := range s.Buckets {
					w.f64(b)
				}
				w.u64(uint64(len(s.Counts)))
				for _, c := range s.Counts {
					w.u64(c)
				}
			}
		}
	case OpSync:
		for _, s := range resp.Syncs {
			w.u8(uint8(s.Status))
			w.i32(int32(s.DatastoreID))
		}
	}
	return w.buf
}

// UnmarshalResponse is MarshalResponse's inverse.
func UnmarshalResponse(data []byte) (Response, error) {
	r := &reader{buf: data}
	h, err := readHeader(r)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Header: h}
	for i := uint64(0); i < h.Count; i++ {
		switch h.Op {
		case OpPut:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			sub, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			pred, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			resp.Puts = append(resp.Puts, PutResult{Status: Status(st), Subject: sub, Predicate: pred})
		case OpGet:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			sub, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			pred, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			var obj blob.Blob
			if Status(st) == StatusSuccess {
				obj, err = r.blob(true)
				if err != nil {
					return Response{}, err
				}
			}
			resp.Gets = append(resp.Gets, GetResult{Status: Status(st), Subject: sub, Predicate: pred, Object: obj})
		case OpGetOp:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			numRecs, err := r.u64()
			if err != nil {
				return Response{}, err
			}
			var rows []Row
			if Status(st) == StatusSuccess {
				rows = make([]Row, 0, numRecs)
				for j := uint64(0); j < numRecs; j++ {
					sub, err := r.blob(true)
					if err != nil {
						return Response{}, err
					}
					pred, err := r.blob(true)
					if err != nil {
						return Response{}, err
					}
					obj, err := r.blob(true)
					if err != nil {
						return Response{}, err
					}
					rows = append(rows, Row{Subject: sub, Predicate: pred, Object: obj})
				}
			}
			resp.GetOps = append(resp.GetOps, GetOpResult{Status: Status(st), NumRecs: numRecs, Rows: rows})
		case OpDelete:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			sub, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			pred, err := r.blob(true)
			if err != nil {
				return Response{}, err
			}
			resp.Deletes = append(resp.Deletes, DeleteResult{Status: Status(st), Subject: sub, Predicate: pred})
		case OpHistogram:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			name, err := r.str()
			if err != nil {
				return Response{}, err
			}
			hr := HistogramResult{Status: Status(st), Name: name}
			if Status(st) == StatusSuccess {
				bn, err := r.u64()
				if err != nil {
					return Response{}, err
				}
				hr.Buckets = make([]float64, bn)
				for j := range hr.Buckets {
					v, err := r.f64()
					if err != nil {
						return Response{}, err
					}
					hr.Buckets[j] = v
				}
				cn, err := r.u64()
				if err != nil {
					return Response{}, err
				}
				hr.Counts = make([]uint64, cn)
				for j := range hr.Counts {
					v, err := r.u64()
					if err != nil {
						return Response{}, err
					}
					hr.Counts[j] = v
				}
			}
			resp.Histograms = append(resp.Histograms, hr)
		case OpSync:
			st, err := r.u8()
			if err != nil {
				return Response{}, err
			}
			id, err := r.i32()
			if err != nil {
				return Response{}, err
			}
			resp.Syncs = append(resp.Syncs, SyncResult{Status: Status(st), DatastoreID: int64(id)})
		}
	}
	return resp, nil
}
