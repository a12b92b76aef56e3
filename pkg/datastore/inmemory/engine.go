// Package inmemory implements the datastore.Engine contract over
// github.com/tidwall/buntdb, an in-memory ordered B-tree keyed by plain
// byte strings. buntdb's default index compares keys byte-wise, which is
// exactly the ordering the triple codec's encoded keys rely on, so every
// scan op in spec.md §4.4's table maps directly onto one of buntdb's
// Ascend*/Descend* cursor walks.
package inmemory

import (
	"bytes"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

// maxPad is appended to a scan prefix to build a pivot guaranteed to
// sort after every real key sharing that prefix: the triple codec's
// trailer is fixed-size, so no encoded key can be longer than a handful
// of bytes past the prefix plus the longest reasonable subject/predicate,
// and 64 bytes of 0xFF safely exceeds that in practice for the purpose
// of a descending seek pivot.
var maxPad = bytes.Repeat([]byte{0xFF}, 64)

// Engine is the in-memory datastore.Engine backend.
type Engine struct {
	db *buntdb.DB
}

var _ datastore.Engine = (*Engine)(nil)

// New returns an unopened in-memory engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Open(name string) error {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return fmt.Errorf("inmemory: open %q: %w", name, err)
	}
	e.db = db
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) Usable() bool { return e.db != nil }

func (e *Engine) Sync() error {
	if e.db == nil {
		return fmt.Errorf("inmemory: Sync on unopened engine")
	}
	return e.db.Shrink()
}

func (e *Engine) BatchPut(keys, values [][]byte) error {
	if e.db == nil {
		return fmt.Errorf("inmemory: BatchPut on unopened engine")
	}
	return e.db.Update(func(tx *buntdb.Tx) error {
		for i := range keys {
			if _, _, err := tx.Set(string(keys[i]), string(values[i]), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) Get(key []byte) (value []byte, found bool, err error) {
	if e.db == nil {
		return nil, false, fmt.Errorf("inmemory: Get on unopened engine")
	}
	err = e.db.View(func(tx *buntdb.Tx) error {
		v, gerr := tx.Get(string(key))
		if gerr == buntdb.ErrNotFound {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		found = true
		value = []byte(v)
		return nil
	})
	return value, found, err
}

func (e *Engine) BatchDelete(keys [][]byte) error {
	if e.db == nil {
		return fmt.Errorf("inmemory: BatchDelete on unopened engine")
	}
	return e.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, derr := tx.Delete(string(k)); derr != nil && derr != buntdb.ErrNotFound {
				return derr
			}
		}
		return nil
	})
}

func (e *Engine) Scan(spec datastore.ScanSpec) ([]datastore.Row, error) {
	if e.db == nil {
		return nil, fmt.Errorf("inmemory: Scan on unopened engine")
	}
	var rows []datastore.Row
	limit := int(spec.NumRecs)

	err := e.db.View(func(tx *buntdb.Tx) error {
		switch spec.Op {
		case wire.ScanEQ:
			v, gerr := tx.Get(string(spec.Key))
			if gerr == buntdb.ErrNotFound {
				return fmt.Errorf("inmemory: EQ miss")
			}
			if gerr != nil {
				return gerr
			}
			rows = append(rows, datastore.Row{Key: spec.Key, Value: []byte(v)})
			return nil
		case wire.ScanNEXT:
			tx.AscendGreaterOrEqual("", string(spec.Key), func(k, v string) bool {
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		case wire.ScanPREV:
			tx.DescendLessOrEqual("", string(spec.Key), func(k, v string) bool {
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		case wire.ScanFIRST:
			tx.Ascend("", func(k, v string) bool {
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		case wire.ScanLAST:
			tx.Descend("", func(k, v string) bool {
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		case wire.ScanLOWEST:
			prefix := string(spec.Prefix)
			tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
				if len(k) < len(prefix) || k[:len(prefix)] != prefix {
					return false
				}
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		case wire.ScanHIGHEST:
			prefix := string(spec.Prefix)
			pivot := prefix + string(maxPad)
			tx.DescendLessOrEqual("", pivot, func(k, v string) bool {
				if len(k) < len(prefix) || k[:len(prefix)] != prefix {
					return false
				}
				rows = append(rows, datastore.Row{Key: []byte(k), Value: []byte(v)})
				return len(rows) < limit
			})
			return nil
		default:
			return fmt.Errorf("inmemory: unknown scan op %v", spec.Op)
		}
	})
	return rows, err
}
