// Package commands implements the hxhimctl example CLI driver named in
// SPEC_FULL.md's module layout: a cobra-based client exercising
// pkg/hxhim end to end from this process's rank (other ranks are reached
// over grpcrpc when transport.kind is "rpc"), the way
// cmd/headers/commands wires download.Download in the teacher.
package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/hxhim/hxhim-go/internal/config"
	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/migrations"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/hxhim"
	"github.com/hxhim/hxhim-go/pkg/rangeserver"
	"github.com/hxhim/hxhim-go/pkg/transport"
	"github.com/hxhim/hxhim-go/pkg/transport/grpcrpc"
)

var (
	configPath string
	rank       int64
)

var rootCmd = &cobra.Command{
	Use:   "hxhimctl",
	Short: "Drive a single hxhim-go rank from the command line",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hxhim.toml", "path to the TOML config file")
	rootCmd.PersistentFlags().Int64Var(&rank, "rank", 0, "this process's own rank")
}

// Execute runs the root command; main calls this directly, matching the
// teacher's cmd/rpcdaemon main.go shape.
func Execute() error {
	return rootCmd.Execute()
}

// openHandle loads the configured Options, opens one local datastore per
// datastores_per_server, wraps them in a rangeserver.Server, and returns
// a ready-to-use Handle bound to this process's rank. When
// transport.kind is "rpc", destinations that hash to a different rank
// are sent over a real grpcrpc.Client built from transport.peers, and
// this rank listens for incoming bulk requests on transport.listen_address
// if it is a server rank; otherwise the transport is nil, destinations on
// this rank short-circuit into the local rangeserver.Dispatch path
// (pkg/hxhim's sendBulk), and destinations on any other rank get Error
// results.
func openHandle() (*hxhim.Handle, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	opts, err := cfg.Options(rank)
	if err != nil {
		return nil, nil, err
	}

	backend, err := cfg.BackendConfig()
	if err != nil {
		return nil, nil, err
	}

	dsps := cfg.DatastoresPerServer
	if dsps <= 0 {
		dsps = 1
	}

	log := logutil.NewDevelopment("component", "hxhimctl", "rank", rank)
	localDatastores := make(map[int64]*datastore.Adapter, dsps)
	names := make(map[int64]string, dsps)

	for i := int64(0); i < dsps; i++ {
		id := rank*dsps + i
		name := fmt.Sprintf("%s-%d", cfg.DatastoreName, id)
		if cfg.DatastoreName == "" {
			name = fmt.Sprintf("hxhimctl-%d", id)
		}

		a, err := hxhim.NewLocalAdapter(rank, id, backend, cfg.HistogramGenerator(), nil, cfg.Histogram.FirstN)
		if err != nil {
			return nil, nil, err
		}
		if err := a.Open(name); err != nil {
			return nil, nil, fmt.Errorf("hxhimctl: open datastore %d: %w", id, err)
		}
		if err := migrations.NewMigrator(migrations.Default()...).Apply(a); err != nil {
			return nil, nil, fmt.Errorf("hxhimctl: migrate datastore %d: %w", id, err)
		}
		localDatastores[i] = a
		names[i] = name
	}

	rs := rangeserver.New(rank, dsps, localDatastores)

	var t transport.Transport
	var grpcServer *grpc.Server
	var listener net.Listener
	if cfg.IsRPC() {
		t = grpcrpc.NewClient(cfg.AddressResolver())

		if hxhim.IsServerRank(rank, opts.ClientRatio, opts.ServerRatio) && cfg.Transport.ListenAddress != "" {
			lis, err := net.Listen("tcp", cfg.Transport.ListenAddress)
			if err != nil {
				return nil, nil, fmt.Errorf("hxhimctl: listen on %q: %w", cfg.Transport.ListenAddress, err)
			}
			gs := grpc.NewServer()
			grpcrpc.NewServer(rs.Dispatch).Register(gs)
			go func() {
				if err := gs.Serve(lis); err != nil {
					log.Warn("grpcrpc server stopped", "err", err)
				}
			}()
			grpcServer, listener = gs, lis
			log.Info("grpcrpc server listening", "address", cfg.Transport.ListenAddress)
		}
	}

	h := hxhim.Open(rank, opts, t, localDatastores, names, rs)

	closeFn := func() error {
		err := h.Close()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if listener != nil {
			_ = listener.Close()
		}
		return err
	}

	log.Info("handle opened", "datastores", dsps, "backend", cfg.Datastore.Backend, "transport", cfg.Transport.Kind)
	return h, closeFn, nil
}
