// Package migrations implements the on-disk layout migration runner
// named in SPEC_FULL.md's module layout, adapted from the teacher's own
// migrations.Migrator: migrations apply in order, each exactly once,
// skipping ones already recorded as applied. Idempotency is expected
// of each Up function, same as the teacher's convention.
package migrations

import (
	"fmt"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

// migrationsSubject is the reserved literal subject migration records
// are stored under, mirroring the datastore package's own reservation
// of "HISTOGRAM" for packed histograms. A client Put under this subject
// is not rejected by the adapter the way "HISTOGRAM" is — migrations
// run before a datastore is handed to client traffic, so the collision
// the histogram reservation guards against cannot happen here.
const migrationsSubject = "__MIGRATIONS__"

// Migration is one named, idempotent transformation of a datastore's
// on-disk layout.
type Migration struct {
	Name string
	Up   func(a *datastore.Adapter) error
}

// Migrator applies a fixed, ordered list of migrations to a datastore,
// recording each as done so repeated runs are no-ops.
type Migrator struct {
	migrations []Migration
	log        *logutil.Logger
}

// NewMigrator builds a Migrator that applies ms in order.
func NewMigrator(ms ...Migration) *Migrator {
	return &Migrator{migrations: ms, log: logutil.Root().New("component", "migrations")}
}

// histogramEdgesMarker is written by the first migration below so
// downstream tooling reading a datastore directly can tell whether it
// has ever been opened by a schema-aware writer.
const histogramEdgesMarker = "v1-histogram-table"

// Default returns the migration list hxhimctl applies to every
// datastore it opens: currently just the v1 marker recording that the
// histogram table convention of spec.md §4.4 (subject "HISTOGRAM") is
// in effect for this datastore. Future on-disk layout changes append
// here, never replace.
func Default() []Migration {
	return []Migration{
		{
			Name: histogramEdgesMarker,
			Up:   func(a *datastore.Adapter) error { return nil },
		},
	}
}

// Apply runs every migration not yet recorded as applied against a,
// which must already be Usable.
func (m *Migrator) Apply(a *datastore.Adapter) error {
	for _, mig := range m.migrations {
		done, err := m.isApplied(a, mig.Name)
		if err != nil {
			return fmt.Errorf("migrations: check %q: %w", mig.Name, err)
		}
		if done {
			continue
		}

		m.log.Info("apply migration", "name", mig.Name)
		if err := mig.Up(a); err != nil {
			return fmt.Errorf("migrations: apply %q: %w", mig.Name, err)
		}
		if err := m.markApplied(a, mig.Name); err != nil {
			return fmt.Errorf("migrations: record %q: %w", mig.Name, err)
		}
		m.log.Info("applied migration", "name", mig.Name)
	}
	return nil
}

func (m *Migrator) isApplied(a *datastore.Adapter, name string) (bool, error) {
	results := a.BGet([]wire.GetSlot{{
		Subject:    blob.NewOwning([]byte(migrationsSubject), blob.Byte),
		Predicate:  blob.NewOwning([]byte(name), blob.Byte),
		ObjectType: blob.Byte,
	}})
	return results[0].Status == wire.StatusSuccess, nil
}

func (m *Migrator) markApplied(a *datastore.Adapter, name string) error {
	results := a.BPut([]wire.PutSlot{{
		Subject:   blob.NewOwning([]byte(migrationsSubject), blob.Byte),
		Predicate: blob.NewOwning([]byte(name), blob.Byte),
		Object:    blob.NewOwning([]byte{1}, blob.Byte),
	}})
	if results[0].Status != wire.StatusSuccess {
		return fmt.Errorf("migrations: mark %q applied failed", name)
	}
	return nil
}
