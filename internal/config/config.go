// Package config loads the closed Options bundle of spec.md §6: a TOML
// file on disk, overlaid with HXHIM_* environment variables, converted
// into hxhim.Options plus the datastore/backend parameters Open needs
// but Options itself does not carry (names, per-datastore persistence
// paths). Grounded on the pack's config idioms: go-toml/v2 (erigon)
// parses the file, godotenv (cc-backend) loads a local .env before the
// overlay runs.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/pkg/datastore/persistent"
	"github.com/hxhim/hxhim-go/pkg/histogram"
	"github.com/hxhim/hxhim-go/pkg/hxhim"
	"github.com/hxhim/hxhim-go/pkg/placement"
	"github.com/hxhim/hxhim-go/pkg/transport/grpcrpc"
)

// Config is the on-disk/TOML shape of the Options table in spec.md §6.
// Field names match the table's option names; nested tables group the
// `datastore_backend`, `hash`, and `histogram` compound options.
type Config struct {
	DebugLevel int `toml:"debug_level"`

	ClientRatio int64 `toml:"client_ratio"`
	ServerRatio int64 `toml:"server_ratio"`

	DatastoresPerServer int64  `toml:"datastores_per_server"`
	DatastoreName       string `toml:"datastore_name"`

	Datastore struct {
		Backend         string `toml:"backend"` // "persistent" | "in_memory" | "null"
		Prefix          string `toml:"prefix"`
		Postfix         string `toml:"postfix"`
		CreateIfMissing bool   `toml:"create_if_missing"`
		MapSize         int64  `toml:"map_size"`
	} `toml:"datastore_backend"`

	Transport struct {
		Kind string `toml:"kind"` // "mpi" | "rpc" | "null"

		// ListenAddress is this rank's own grpcrpc listen address, used
		// when Kind is "rpc" and this rank is a server rank.
		ListenAddress string `toml:"listen_address"`

		// Peers maps every rank to its grpcrpc dial address, used when
		// Kind is "rpc" to resolve destinations for outgoing SendBulk
		// calls. Peers[rank] is this process's own address and is never
		// dialed, matching pkg/transport's same-rank short-circuit.
		Peers []string `toml:"peers"`
	} `toml:"transport"`

	EndpointGroup []int64 `toml:"endpoint_group"`

	Hash struct {
		Name string `toml:"name"` // "rank_local" | "rank_mod_datastores" | "sum_of_bytes_mod_datastores" | "left_neighbour" | "right_neighbour"
	} `toml:"hash"`

	MaxOpsPerSend           int `toml:"max_ops_per_send"`
	MaxDestinationsPerBatch int `toml:"max_destinations_per_batch"`

	Histogram struct {
		FirstN int       `toml:"first_n"`
		Edges  []float64 `toml:"edges"` // parametrizes the fixed-edges bucket generator
	} `toml:"histogram"`

	StartAsyncPutsAt int `toml:"start_async_puts_at"`
}

// Load reads path as TOML, loads a .env file from the working directory
// if present, then overlays HXHIM_* environment variables on top of both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logutil.Root().Warn("config: .env load failed", "err", err)
	}
	overlayEnv(cfg)

	return cfg, nil
}

// overlayEnv applies HXHIM_* environment variables on top of whatever
// TOML already set, matching cc-backend's env-overrides-file precedence.
func overlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv("HXHIM_DEBUG_LEVEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebugLevel = n
		}
	}
	if v, ok := os.LookupEnv("HXHIM_CLIENT_RATIO"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ClientRatio = n
		}
	}
	if v, ok := os.LookupEnv("HXHIM_SERVER_RATIO"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ServerRatio = n
		}
	}
	if v, ok := os.LookupEnv("HXHIM_DATASTORES_PER_SERVER"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DatastoresPerServer = n
		}
	}
	if v, ok := os.LookupEnv("HXHIM_DATASTORE_BACKEND"); ok {
		cfg.Datastore.Backend = v
	}
	if v, ok := os.LookupEnv("HXHIM_DATASTORE_PREFIX"); ok {
		cfg.Datastore.Prefix = v
	}
	if v, ok := os.LookupEnv("HXHIM_HASH_NAME"); ok {
		cfg.Hash.Name = v
	}
	if v, ok := os.LookupEnv("HXHIM_START_ASYNC_PUTS_AT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StartAsyncPutsAt = n
		}
	}
}

// BackendConfig resolves the configured datastore backend into the
// hxhim package's closed BackendKind/Options pair.
func (c *Config) BackendConfig() (hxhim.BackendConfig, error) {
	switch c.Datastore.Backend {
	case "", "in_memory":
		return hxhim.BackendConfig{Kind: hxhim.BackendInMemory}, nil
	case "persistent":
		return hxhim.BackendConfig{
			Kind: hxhim.BackendPersistent,
			Persistent: persistent.Options{
				Prefix:          c.Datastore.Prefix,
				Postfix:         c.Datastore.Postfix,
				CreateIfMissing: c.Datastore.CreateIfMissing,
				MapSize:         c.Datastore.MapSize,
			},
		}, nil
	case "null":
		return hxhim.BackendConfig{Kind: hxhim.BackendNull}, nil
	default:
		return hxhim.BackendConfig{}, fmt.Errorf("config: unknown datastore_backend %q", c.Datastore.Backend)
	}
}

// HistogramGenerator resolves the configured bucket edges into a
// histogram.Generator, per spec.md §6's `histogram.bucket_gen` option.
func (c *Config) HistogramGenerator() histogram.Generator {
	if len(c.Histogram.Edges) == 0 {
		return histogram.FixedEdgesGenerator([]float64{0, math.Inf(1)})
	}
	return histogram.FixedEdgesGenerator(c.Histogram.Edges)
}

// PlacementFunc resolves the named hash built-in, along with the args
// value it expects, per spec.md §4.5.
func (c *Config) PlacementFunc(ownRank int64) (placement.Func, interface{}, error) {
	switch c.Hash.Name {
	case "", "rank_local":
		return placement.RankLocal, placement.RankLocalArgs{OwnRank: ownRank, DatastoresPerServer: c.DatastoresPerServer}, nil
	case "rank_mod_datastores":
		return placement.RankModDatastores, placement.ModArgs{TotalDatastores: totalDatastores(c)}, nil
	case "sum_of_bytes_mod_datastores":
		return placement.SumOfBytesModDatastores, placement.ModArgs{TotalDatastores: totalDatastores(c)}, nil
	case "left_neighbour":
		return placement.LeftNeighbour, placement.NeighbourArgs{OwnID: ownRank * c.DatastoresPerServer, TotalDatastores: totalDatastores(c)}, nil
	case "right_neighbour":
		return placement.RightNeighbour, placement.NeighbourArgs{OwnID: ownRank * c.DatastoresPerServer, TotalDatastores: totalDatastores(c)}, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown hash.name %q", c.Hash.Name)
	}
}

// IsRPC reports whether Transport.Kind selects the grpcrpc-backed
// transport, per spec.md §6's transport.kind option.
func (c *Config) IsRPC() bool {
	return c.Transport.Kind == "rpc"
}

// AddressResolver builds the grpcrpc.AddressResolver Transport.Peers
// describes, for use by a grpcrpc.Client. Only meaningful when IsRPC.
func (c *Config) AddressResolver() grpcrpc.AddressResolver {
	peers := append([]string(nil), c.Transport.Peers...)
	return func(rank int32) (string, error) {
		if rank < 0 || int(rank) >= len(peers) {
			return "", fmt.Errorf("config: no transport.peers entry for rank %d", rank)
		}
		addr := peers[rank]
		if addr == "" {
			return "", fmt.Errorf("config: empty transport.peers entry for rank %d", rank)
		}
		return addr, nil
	}
}

func totalDatastores(c *Config) int64 {
	total := c.ClientRatio + c.ServerRatio
	if total <= 0 {
		total = 1
	}
	return total * c.DatastoresPerServer
}

// Options converts the loaded config into hxhim.Options. rank is the
// caller's own MPI-style rank, used by the rank_local, left_neighbour and
// right_neighbour placement functions.
func (c *Config) Options(rank int64) (hxhim.Options, error) {
	fn, args, err := c.PlacementFunc(rank)
	if err != nil {
		return hxhim.Options{}, err
	}
	backend, err := c.BackendConfig()
	if err != nil {
		return hxhim.Options{}, err
	}

	return hxhim.Options{
		DebugLevel:              c.DebugLevel,
		ClientRatio:             c.ClientRatio,
		ServerRatio:             c.ServerRatio,
		DatastoresPerServer:     c.DatastoresPerServer,
		DatastoreBackend:        backend,
		EndpointGroup:           c.EndpointGroup,
		Hash:                    fn,
		HashArgs:                args,
		MaxOpsPerSend:           c.MaxOpsPerSend,
		MaxDestinationsPerBatch: c.MaxDestinationsPerBatch,
		HistogramFirstN:         c.Histogram.FirstN,
		HistogramBucketGen:      c.HistogramGenerator(),
		StartAsyncPutsAt:        c.StartAsyncPutsAt,
	}, nil
}
