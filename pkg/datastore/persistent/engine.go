// Package persistent implements the datastore.Engine contract over
// github.com/ledgerwatch/lmdb-go/lmdb, a persistent ordered B+tree. LMDB
// cursors natively support the exact seek modes spec.md §4.4's BGetOp
// table names (MDB_SET, MDB_SET_RANGE, MDB_FIRST, MDB_LAST, MDB_NEXT,
// MDB_PREV), so each ScanOp maps onto one cursor.Get call plus a
// direction to step in.
package persistent

import (
	"bytes"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring"
	"github.com/ledgerwatch/lmdb-go/lmdb"
	"github.com/pkg/errors"

	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

const dbiName = "hxhim"

// Options configures the persistent backend, matching the
// `persistent(prefix, postfix, create_if_missing)` variant of spec.md §6.
type Options struct {
	Prefix          string
	Postfix         string
	CreateIfMissing bool
	MapSize         int64 // bytes; 0 uses lmdb's default
}

// Engine is the LMDB-backed datastore.Engine backend.
type Engine struct {
	opts Options
	env  *lmdb.Env
	dbi  lmdb.DBI

	// inFlightCursors tracks concurrently open scan-cursor slots as a
	// compact bitmap (spec.md §3.2's supplemental cursor accounting),
	// bounding how many simultaneous BGetOp cursors this datastore will
	// open rather than growing without limit under a bursty caller.
	inFlightCursors *roaring.Bitmap
	nextCursorSlot  uint32
	maxCursors      uint32
}

var _ datastore.Engine = (*Engine)(nil)

// New returns an unopened persistent engine.
func New(opts Options) *Engine {
	if opts.MapSize == 0 {
		opts.MapSize = 1 << 30 // 1 GiB default, matches teacher's lmdb defaults order of magnitude
	}
	return &Engine{
		opts:            opts,
		inFlightCursors: roaring.New(),
		maxCursors:      64,
	}
}

func (e *Engine) path(name string) string {
	return e.opts.Prefix + name + e.opts.Postfix
}

func (e *Engine) Open(name string) error {
	env, err := lmdb.NewEnv()
	if err != nil {
		return errors.Wrap(err, "persistent: lmdb.NewEnv")
	}
	if err := env.SetMapSize(e.opts.MapSize); err != nil {
		return errors.Wrap(err, "persistent: SetMapSize")
	}
	if err := env.SetMaxDBs(1); err != nil {
		return errors.Wrap(err, "persistent: SetMaxDBs")
	}

	path := e.path(name)
	if e.opts.CreateIfMissing {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return errors.Wrapf(err, "persistent: mkdir %q", path)
		}
	}

	flags := uint(0)
	if err := env.Open(path, flags, 0o644); err != nil {
		return errors.Wrapf(err, "persistent: open %q", path)
	}

	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) error {
		var cerr error
		createFlags := uint(0)
		if e.opts.CreateIfMissing {
			createFlags = lmdb.Create
		}
		dbi, cerr = txn.OpenDBI(dbiName, createFlags)
		return cerr
	})
	if err != nil {
		_ = env.Close()
		return errors.Wrap(err, "persistent: open dbi")
	}

	e.env = env
	e.dbi = dbi
	return nil
}

func (e *Engine) Close() error {
	if e.env == nil {
		return nil
	}
	err := e.env.Close()
	e.env = nil
	return err
}

func (e *Engine) Usable() bool { return e.env != nil }

func (e *Engine) Sync() error {
	if e.env == nil {
		return fmt.Errorf("persistent: Sync on unopened engine")
	}
	return e.env.Sync(true)
}

func (e *Engine) BatchPut(keys, values [][]byte) error {
	if e.env == nil {
		return fmt.Errorf("persistent: BatchPut on unopened engine")
	}
	return e.env.Update(func(txn *lmdb.Txn) error {
		for i := range keys {
			if err := txn.Put(e.dbi, keys[i], values[i], 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) Get(key []byte) (value []byte, found bool, err error) {
	if e.env == nil {
		return nil, false, fmt.Errorf("persistent: Get on unopened engine")
	}
	err = e.env.View(func(txn *lmdb.Txn) error {
		v, gerr := txn.Get(e.dbi, key)
		if lmdb.IsNotFound(gerr) {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		found = true
		value = append([]byte(nil), v...) // copy out of the txn's memory-mapped page
		return nil
	})
	return value, found, err
}

func (e *Engine) BatchDelete(keys [][]byte) error {
	if e.env == nil {
		return fmt.Errorf("persistent: BatchDelete on unopened engine")
	}
	return e.env.Update(func(txn *lmdb.Txn) error {
		for _, k := range keys {
			if err := txn.Del(e.dbi, k, nil); err != nil && !lmdb.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
}

// acquireCursorSlot returns an error when the datastore already has
// maxCursors scans in flight; Adapter.BGetOp reports that slot as Error
// and does not retry. The bound mirrors the original's
// mdhim-derived bound on simultaneously open LMDB cursors per
// transaction (spec.md §3.2).
func (e *Engine) acquireCursorSlot() (uint32, error) {
	if e.inFlightCursors.GetCardinality() >= uint64(e.maxCursors) {
		return 0, fmt.Errorf("persistent: too many concurrent scan cursors (max %d)", e.maxCursors)
	}
	slot := e.nextCursorSlot
	e.nextCursorSlot++
	e.inFlightCursors.Add(slot)
	return slot, nil
}

func (e *Engine) releaseCursorSlot(slot uint32) {
	e.inFlightCursors.Remove(slot)
}

func (e *Engine) Scan(spec datastore.ScanSpec) ([]datastore.Row, error) {
	if e.env == nil {
		return nil, fmt.Errorf("persistent: Scan on unopened engine")
	}
	slot, err := e.acquireCursorSlot()
	if err != nil {
		return nil, err
	}
	defer e.releaseCursorSlot(slot)

	var rows []datastore.Row
	limit := int(spec.NumRecs)

	err = e.env.View(func(txn *lmdb.Txn) error {
		cur, cerr := txn.OpenCursor(e.dbi)
		if cerr != nil {
			return cerr
		}
		defer cur.Close()

		switch spec.Op {
		case wire.ScanEQ:
			k, v, gerr := cur.Get(spec.Key, nil, lmdb.Set)
			if lmdb.IsNotFound(gerr) {
				return fmt.Errorf("persistent: EQ miss")
			}
			if gerr != nil {
				return gerr
			}
			rows = append(rows, copyRow(k, v))
			return nil
		case wire.ScanNEXT:
			k, v, gerr := cur.Get(spec.Key, nil, lmdb.SetRange)
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Next)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		case wire.ScanPREV:
			// Seek to >= key, then step back onto the largest key <= key.
			k, v, gerr := cur.Get(spec.Key, nil, lmdb.SetRange)
			if lmdb.IsNotFound(gerr) {
				k, v, gerr = cur.Get(nil, nil, lmdb.Last)
			} else if gerr == nil && !bytes.Equal(k, spec.Key) {
				k, v, gerr = cur.Get(nil, nil, lmdb.Prev)
			}
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Prev)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		case wire.ScanFIRST:
			k, v, gerr := cur.Get(nil, nil, lmdb.First)
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Next)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		case wire.ScanLAST:
			k, v, gerr := cur.Get(nil, nil, lmdb.Last)
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Prev)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		case wire.ScanLOWEST:
			k, v, gerr := cur.Get(spec.Prefix, nil, lmdb.SetRange)
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit && bytes.HasPrefix(k, spec.Prefix) {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Next)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		case wire.ScanHIGHEST:
			pivot := append(append([]byte(nil), spec.Prefix...), bytes.Repeat([]byte{0xFF}, 64)...)
			k, v, gerr := cur.Get(pivot, nil, lmdb.SetRange)
			if lmdb.IsNotFound(gerr) {
				k, v, gerr = cur.Get(nil, nil, lmdb.Last)
			} else if gerr == nil {
				k, v, gerr = cur.Get(nil, nil, lmdb.Prev)
			}
			for !lmdb.IsNotFound(gerr) && gerr == nil && len(rows) < limit && bytes.HasPrefix(k, spec.Prefix) {
				rows = append(rows, copyRow(k, v))
				k, v, gerr = cur.Get(nil, nil, lmdb.Prev)
			}
			if gerr != nil && !lmdb.IsNotFound(gerr) {
				return gerr
			}
			return nil
		default:
			return fmt.Errorf("persistent: unknown scan op %v", spec.Op)
		}
	})
	return rows, err
}

func copyRow(k, v []byte) datastore.Row {
	return datastore.Row{
		Key:   append([]byte(nil), k...),
		Value: append([]byte(nil), v...),
	}
}
