package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"teapotnet/blockstore"
	"teapotnet/resource"
)

func blockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "block", Short: "store and retrieve content-addressed resources"}
	cmd.AddCommand(blockPushCmd())
	cmd.AddCommand(blockPullCmd())
	return cmd
}

func blockPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [file]",
		Short: "chunk a file into the local block store and print its root digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Storage.CacheDir, cfg.Storage.CacheSizeEntries)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			kind := mime.TypeByExtension(filepath.Ext(args[0]))
			if kind == "" {
				kind = "application/octet-stream"
			}
			digest, size, err := resource.Chunk(store, filepath.Base(args[0]), kind, f)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d bytes\n", digest, size)
			return nil
		},
	}
}

func blockPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [digest] [outfile]",
		Short: "reassemble a resource from the local block store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Storage.CacheDir, cfg.Storage.CacheSizeEntries)
			if err != nil {
				return err
			}

			digest, err := blockstore.ParseDigest(args[0])
			if err != nil {
				return fmt.Errorf("invalid digest: %w", err)
			}

			r, err := resource.Open(store, digest)
			if err != nil {
				return err
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()

			if _, err := io.Copy(out, r); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", r.Size(), args[1])
			return nil
		},
	}
}
