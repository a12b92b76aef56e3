package migrations_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/datastore/inmemory"
	"github.com/hxhim/hxhim-go/pkg/histogram"
	"github.com/hxhim/hxhim-go/pkg/wire"

	"github.com/hxhim/hxhim-go/migrations"
)

func newAdapter(t *testing.T) *datastore.Adapter {
	t.Helper()
	gen := histogram.FixedEdgesGenerator([]float64{0, 10})
	a := datastore.New(0, 0, inmemory.New(), gen, nil, 1)
	require.NoError(t, a.Open("test"))
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestMigrationRunsOnce(t *testing.T) {
	a := newAdapter(t)
	runs := 0

	m := migrations.NewMigrator(migrations.Migration{
		Name: "seed-marker",
		Up: func(a *datastore.Adapter) error {
			runs++
			a.BPut([]wire.PutSlot{{
				Subject:   blob.NewOwning([]byte("s1"), blob.Byte),
				Predicate: blob.NewOwning([]byte("p1"), blob.Byte),
				Object:    blob.NewOwning([]byte("o1"), blob.Byte),
			}})
			return nil
		},
	})

	require.NoError(t, m.Apply(a))
	require.NoError(t, m.Apply(a))
	require.Equal(t, 1, runs)
}

func TestMigrationsApplyInOrder(t *testing.T) {
	a := newAdapter(t)
	var order []string

	m := migrations.NewMigrator(
		migrations.Migration{Name: "first", Up: func(*datastore.Adapter) error {
			order = append(order, "first")
			return nil
		}},
		migrations.Migration{Name: "second", Up: func(*datastore.Adapter) error {
			order = append(order, "second")
			return nil
		}},
	)

	require.NoError(t, m.Apply(a))
	require.Equal(t, []string{"first", "second"}, order)
}
