package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"teapotnet/backend"
	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/transport"
	"teapotnet/wire"
)

func pubsubCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pubsub", Short: "publish and subscribe to paths across the overlay"}
	cmd.AddCommand(pubsubPublishCmd())
	cmd.AddCommand(pubsubSubscribeCmd())
	return cmd
}

// staticPublisher answers every Announce under its path with a fixed
// set of digests, the minimal Publisher a CLI invocation can offer.
type staticPublisher struct {
	digests []blockstore.Digest
}

func (p *staticPublisher) Announce(source identity.Identifier, path string) []blockstore.Digest {
	return p.digests
}

func pubsubPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [path] [digest...]",
		Short: "serve a set of digests under path to subscribing peers until interrupted",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			digests := make([]blockstore.Digest, 0, len(args)-1)
			for _, s := range args[1:] {
				d, err := blockstore.ParseDigest(s)
				if err != nil {
					return fmt.Errorf("invalid digest %q: %w", s, err)
				}
				digests = append(digests, d)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Network.ListenTCP == "" {
				return fmt.Errorf("pubsub publish requires network.listen_tcp to be configured")
			}

			node, _, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer node.Close()

			node.RegisterPublisher(path, &staticPublisher{digests: digests})

			stream, err := backend.NewStreamBackend(cfg.Network.ListenTCP, transport.Credential{Kind: transport.Anonymous}, nil, nil, nil, nil)
			if err != nil {
				return err
			}
			if err := node.Serve(stream); err != nil {
				return err
			}
			fmt.Printf("serving %d digests under %s on %s\n", len(digests), path, cfg.Network.ListenTCP)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}

// collectingSubscriber records every digest published to it, for the
// one-shot "pubsub subscribe" CLI command.
type collectingSubscriber struct {
	digests chan blockstore.Digest
}

func (s *collectingSubscriber) Incoming(path string, digest blockstore.Digest) {
	select {
	case s.digests <- digest:
	default:
	}
}

func pubsubSubscribeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "subscribe [address] [path]",
		Short: "ask a direct peer for every digest published under path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, path := args[0], args[1]

			node, _, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer node.Close()

			sub := &collectingSubscriber{digests: make(chan blockstore.Digest, 64)}
			node.RegisterSubscriber(path, sub)

			stream, err := backend.NewStreamBackend("127.0.0.1:0", transport.Credential{Kind: transport.Anonymous}, nil, nil, nil, nil)
			if err != nil {
				return err
			}
			handler, err := node.Dial(stream, backend.Locator{Addresses: []backend.Address{backend.Address(addr)}})
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}

			if err := handler.SendMessage(wire.Message{
				Type:    wire.Forward,
				Content: wire.Subscribe,
				Payload: wire.EncodeSubscribePayload(wire.SubscribePayload{Path: path}),
			}); err != nil {
				return err
			}

			deadline := time.After(timeout)
			for {
				select {
				case d := <-sub.digests:
					fmt.Println(d)
				case <-deadline:
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for replies")
	return cmd
}
