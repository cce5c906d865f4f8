package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tablecache/pkg/store"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain cache stores",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			storage, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			infos, err := store.Describe(ctx, storage, cfg.Version)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cache stores.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STORE\tENTRIES\tBYTES\tCURRENT")
			for _, info := range infos {
				current := ""
				if info.Current {
					current = "yes"
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Name, info.Entries, info.Bytes, current)
			}
			return w.Flush()
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict",
		Short: "Delete every store except the current version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteStores(cmd, configPath, false)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all cache stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteStores(cmd, configPath, true)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statsCmd, evictCmd, clearCmd)
	return cmd
}

func deleteStores(cmd *cobra.Command, configPath string, all bool) error {
	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()

	names, err := storage.Names(ctx)
	if err != nil {
		return err
	}
	n := 0
	for _, name := range names {
		if !all && name == cfg.Version {
			continue
		}
		ok, err := storage.Delete(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			n++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cache store(s).\n", n)
	return nil
}
