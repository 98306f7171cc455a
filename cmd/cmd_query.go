package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/cheograph/cheograph/serv"
	"github.com/spf13/cobra"
)

func queryCmd() *cobra.Command {
	var (
		key string
		ttl time.Duration
	)

	c := &cobra.Command{
		Use:   "query [sparql]",
		Short: "Run a SPARQL query through the cache, reads stdin when no query is given",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)

			q := ""
			if len(args) == 1 {
				q = args[0]
			} else {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					log.Fatalf("failed to read query: %s", err)
				}
				q = string(b)
			}
			if strings.TrimSpace(q) == "" {
				log.Fatal("no query given")
			}

			runLookup(func(ctx context.Context, s *serv.Service) (*core.Result, error) {
				if ttl <= 0 {
					return s.Catalog().Query(ctx, q, key), nil
				}
				return s.CachedQuery().RunCached(ctx, q, key, ttl), nil
			})
		},
	}
	c.Flags().StringVar(&key, "key", "", "Cache key, derived from the query when empty")
	c.Flags().DurationVar(&ttl, "ttl", 0, "Cache lifetime, the configured default when zero")
	return c
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "list <characters|plays|actors|scenes>",
		Short:     "List every entity of a type",
		Args:      cobra.ExactArgs(1),
		ValidArgs: entityNames(),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			e := parseEntity(args[0])
			runLookup(func(ctx context.Context, s *serv.Service) (*core.Result, error) {
				return s.Catalog().List(ctx, e)
			})
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <type> <name|scene uri>",
		Short: "Show the details of one entity",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			e := parseEntity(args[0])
			runLookup(func(ctx context.Context, s *serv.Service) (*core.Result, error) {
				return s.Catalog().Info(ctx, e, args[1])
			})
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <type> <text>",
		Short: "Find entities whose name contains text",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			e := parseEntity(args[0])
			text := strings.Join(args[1:], " ")
			runLookup(func(ctx context.Context, s *serv.Service) (*core.Result, error) {
				return s.Catalog().Search(ctx, e, text)
			})
		},
	}
}

type lookup func(ctx context.Context, s *serv.Service) (*core.Result, error)

func runLookup(fn lookup) {
	s := newService()
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	res, err := fn(ctx, s)
	if err != nil {
		log.Fatalf("%s", err)
	}
	log.Debugw("query answered", "source", res.Source, "rows", len(res.Rows))
	printJSON(res)
}

func parseEntity(s string) core.Entity {
	e, err := core.ParseEntity(s)
	if err != nil {
		log.Fatalf("%s", err)
	}
	return e
}

func entityNames() []string {
	names := make([]string, len(core.Entities))
	for i, e := range core.Entities {
		names[i] = string(e)
	}
	return names
}
