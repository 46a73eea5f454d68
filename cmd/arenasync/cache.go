package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the item cache",
	}
	cmd.AddCommand(newCacheRefreshCmd(), newCacheInvalidateCmd(), newCacheInspectCmd())
	return cmd
}

func newCacheRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Pull a fresh item snapshot from the PLM into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.cache.Refresh(ctx, application.api); err != nil {
				return fmt.Errorf("cache refresh failed: %w", err)
			}
			fmt.Println("cache refreshed")
			return nil
		},
	}
}

func newCacheInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached item snapshot and its manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.cache.Invalidate(ctx); err != nil {
				return fmt.Errorf("cache invalidate failed: %w", err)
			}
			fmt.Println("cache invalidated")
			return nil
		},
	}
}

func newCacheInspectCmd() *cobra.Command {
	var number string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Look up one item in the cache and report manifest consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			consistent, err := application.cache.ManifestConsistent(ctx)
			if err != nil {
				return fmt.Errorf("checking manifest consistency: %w", err)
			}
			fmt.Printf("manifest consistent: %v\n", consistent)

			if number != "" {
				entry, ok := application.cache.Lookup(number)
				if !ok {
					fmt.Printf("%q not found in cache\n", number)
					return nil
				}
				fmt.Printf("%s: id=%s name=%q revision=%s category=%s\n", entry.Number, entry.ID, entry.Name, entry.Revision, entry.CategoryName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&number, "number", "", "item number to look up (optional)")
	return cmd
}
