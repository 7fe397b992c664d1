package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"teapotnet/backend"
	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/overlay"
	"teapotnet/transport"
)

// openStore and openNode are shared by every subcommand that needs a
// running overlay node or a bare block store.
func openStore(cacheDir string, capacity int) (*blockstore.Store, error) {
	var opts []blockstore.Option
	if capacity > 0 {
		opts = append(opts, blockstore.WithCapacity(capacity))
	}
	return blockstore.New(cacheDir, nil, nil, opts...)
}

func openNode(cmd *cobra.Command) (*overlay.Node, *blockstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Logging.Level)

	key, err := loadOrCreateKey(cfg.Network.Identity)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg.Storage.CacheDir, cfg.Storage.CacheSizeEntries)
	if err != nil {
		return nil, nil, err
	}

	local := identity.FromPublicKey(&key.PublicKey)
	nodeCfg := overlay.Config{
		Local: local,
		Credential: transport.Credential{
			Kind:     transport.Anonymous,
			LocalKey: key,
		},
	}
	return overlay.NewNode(nodeCfg, store, logger), store, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run an overlay node, accepting peers over TCP and UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			node, _, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer node.Close()

			if cfg.Network.ListenTCP != "" {
				stream, err := backend.NewStreamBackend(cfg.Network.ListenTCP, transport.Credential{Kind: transport.Anonymous}, nil, nil, nil, nil)
				if err != nil {
					return fmt.Errorf("stream backend: %w", err)
				}
				if err := node.Serve(stream); err != nil {
					return err
				}
				fmt.Printf("listening for stream peers on %s\n", cfg.Network.ListenTCP)
			}

			if cfg.Network.ListenUDP != "" {
				datagram, err := backend.NewDatagramBackend(cfg.Network.ListenUDP, transport.Credential{Kind: transport.Anonymous}, nil, nil, nil)
				if err != nil {
					return fmt.Errorf("datagram backend: %w", err)
				}
				if err := node.Serve(datagram); err != nil {
					return err
				}
				fmt.Printf("listening for datagram peers on %s\n", cfg.Network.ListenUDP)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}
