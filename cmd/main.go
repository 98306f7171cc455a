// Main package for the cheograph CLI
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cheograph/cheograph/serv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cheograph",
		Short: "Chèo knowledge graph query cache",
		Long: `Cheograph answers queries over the Chèo theatre knowledge graph from an
ontology file or a remote SPARQL endpoint, caching results in Redis
or in memory and keeping the most used queries warm.`,
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(warmCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(searchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup reads the config for the current GO_ENV from cpath. Logs go to
// stderr so stdout only carries command output.
func setup(cpath string) {
	var err error

	cf := filepath.Join(cpath, serv.ConfigName())
	if conf, err = serv.ReadInConfig(cf); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config: %s\n", err)
		os.Exit(1)
	}
	log = serv.NewLogger(conf, os.Stderr).Sugar()
}

// newService builds the service for one command run
func newService() *serv.Service {
	s, err := serv.NewService(conf, serv.OptionSetLogOutput(os.Stderr))
	if err != nil {
		log.Fatalf("failed to initialize: %s", err)
	}
	return s
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("failed to encode output: %s", err)
	}
}

// printResponse writes a management response and exits non-zero on failure
func printResponse(r serv.Response) {
	printJSON(r)
	if !r.Success {
		os.Exit(1)
	}
}
