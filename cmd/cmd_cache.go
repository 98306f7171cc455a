package main

import (
	"context"

	"github.com/cheograph/cheograph/serv"
	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the query cache",
	}

	c.AddCommand(cacheSub("stats", "Show cache statistics", cobra.NoArgs,
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			return m.Stats(ctx)
		}))

	c.AddCommand(cacheSub("keys [pattern]", "List cached keys matching a glob pattern", cobra.MaximumNArgs(1),
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return m.Keys(ctx, pattern)
		}))

	c.AddCommand(cacheSub("get <key>", "Show a cached value", cobra.ExactArgs(1),
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			return m.GetItem(ctx, args[0])
		}))

	c.AddCommand(cacheSub("delete <key>", "Delete a cached value", cobra.ExactArgs(1),
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			return m.DeleteItem(ctx, args[0])
		}))

	c.AddCommand(cacheSub("clear", "Delete every cached value and reset the counters", cobra.NoArgs,
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			return m.Clear(ctx)
		}))

	c.AddCommand(cacheSub("last-refresh", "Show when the cache was last refreshed", cobra.NoArgs,
		func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response {
			return m.LastRefreshInfo(ctx)
		}))

	return c
}

type cacheAction func(ctx context.Context, m *serv.CacheManager, args []string) serv.Response

func cacheSub(use, short string, args cobra.PositionalArgs, fn cacheAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			s := newService()
			defer s.Close()

			ctx, stop := signalContext()
			defer stop()

			r := fn(ctx, s.Manager(), args)
			s.Close()
			printResponse(r)
		},
	}
}
