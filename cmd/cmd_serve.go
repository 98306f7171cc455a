package main

import (
	"github.com/cheograph/cheograph/serv"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Warm the cache and keep it refreshed until interrupted",
		Run:   cmdServe,
	}
	return c
}

func cmdServe(cmd *cobra.Command, args []string) {
	setup(cpath)

	s := newService()
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := s.Start(ctx); err != nil {
		log.Fatalf("failed to start: %s", err)
	}
	log.Infof("%s started", conf.AppName)

	<-ctx.Done()
	log.Info("Shutting down...")
}

func warmCmd() *cobra.Command {
	var force bool

	c := &cobra.Command{
		Use:   "warm",
		Short: "Warm the cache now, skipped when it is fresh unless --force",
		Run: func(cmd *cobra.Command, args []string) {
			setup(cpath)
			s := newService()
			defer s.Close()

			ctx, stop := signalContext()
			defer stop()

			var r serv.Response
			if force {
				r = s.Manager().ManualRefresh(ctx)
			} else {
				r = s.Manager().PreWarm(ctx)
			}
			s.Close()
			printResponse(r)
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "Warm even when the cache is fresh")
	return c
}
