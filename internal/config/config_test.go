package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/internal/config"
	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/hxhim"
)

func sblob(s string) blob.Blob { return blob.NewOwning([]byte(s), blob.Byte) }

const sampleTOML = `
debug_level = 2
client_ratio = 1
server_ratio = 1
datastores_per_server = 2
max_ops_per_send = 64
max_destinations_per_batch = 8
start_async_puts_at = 100

[datastore_backend]
backend = "in_memory"

[hash]
name = "rank_mod_datastores"

[histogram]
first_n = 10
edges = [0.0, 10.0, 20.0]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hxhim.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesTOML(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.DebugLevel)
	require.Equal(t, int64(2), cfg.DatastoresPerServer)
	require.Equal(t, "rank_mod_datastores", cfg.Hash.Name)
	require.Equal(t, []float64{0.0, 10.0, 20.0}, cfg.Histogram.Edges)
}

func TestEnvOverlayOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	t.Setenv("HXHIM_DEBUG_LEVEL", "9")
	t.Setenv("HXHIM_HASH_NAME", "rank_local")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.DebugLevel)
	require.Equal(t, "rank_local", cfg.Hash.Name)
}

func TestOptionsBuildsUsableHxhimOptions(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	opts, err := cfg.Options(0)
	require.NoError(t, err)
	require.Equal(t, 64, opts.MaxOpsPerSend)
	require.Equal(t, hxhim.BackendInMemory, opts.DatastoreBackend.Kind)
	require.NotNil(t, opts.Hash)

	dst := opts.Hash(sblob("s1"), sblob("p1"), opts.HashArgs)
	require.GreaterOrEqual(t, dst, int64(0))
}

func TestUnknownHashNameIsError(t *testing.T) {
	path := writeConfig(t, `
[hash]
name = "not_a_real_hash"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = cfg.Options(0)
	require.Error(t, err)
}

func TestUnknownBackendIsError(t *testing.T) {
	path := writeConfig(t, `
[datastore_backend]
backend = "not_a_real_backend"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = cfg.Options(0)
	require.Error(t, err)
}

func TestMissingFileIsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestAddressResolverResolvesConfiguredPeers(t *testing.T) {
	path := writeConfig(t, `
[transport]
kind = "rpc"
listen_address = "127.0.0.1:9000"
peers = ["127.0.0.1:9000", "127.0.0.1:9001"]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.True(t, cfg.IsRPC())

	resolve := cfg.AddressResolver()
	addr, err := resolve(1)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9001", addr)

	_, err = resolve(5)
	require.Error(t, err)
}

func TestIsRPCFalseByDefault(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.False(t, cfg.IsRPC())
}
