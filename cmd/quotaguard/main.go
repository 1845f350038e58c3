// quotaguard inspects and serves the state of a quota governor.
//
// Usage:
//
//	quotaguard [global options] <command>
//
// Global options:
//
//	-c, --config   YAML configuration file
//	-s, --store    quota flag database (default: quota.db, or quota.store_path)
//
// Commands:
//
//	status         print the daily quota flag and the configured profiles
//	reset-quota    clear the daily quota flag
//	check-reset    clear the flag if its reset period has passed
//	serve          expose /metrics and /status and run the quota watcher
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/ambiyansyah-risyal/quotaguard"
)

const defaultStorePath = "quota.db"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func createApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "quotaguard",
		Usage:   "inspect and serve quota governor state",
		Version: quotaguard.GetVersion(),
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "store",
				Aliases: []string{"s"},
				Usage:   "quota flag database path",
			},
		},
		Commands: []*cli.Command{
			createStatusCommand(),
			createResetQuotaCommand(),
			createCheckResetCommand(),
			createServeCommand(),
		},
	}
}

func loadConfig(cmd *cli.Command) (*quotaguard.Config, error) {
	path := cmd.String("config")
	if path == "" {
		return &quotaguard.Config{}, nil
	}
	return quotaguard.LoadConfig(path)
}

func openStore(cmd *cli.Command, cfg *quotaguard.Config) (*quotaguard.BoltQuotaStore, error) {
	path := cmd.String("store")
	if path == "" {
		path = cfg.Quota.StorePath
	}
	if path == "" {
		path = defaultStorePath
	}
	return quotaguard.OpenBoltQuotaStore(path)
}

// newGovernor builds a governor from the global flags. The caller closes
// both the governor and the store.
func newGovernor(cmd *cli.Command, extra ...quotaguard.Option) (*quotaguard.Governor, *quotaguard.BoltQuotaStore, *quotaguard.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	opts = append(opts, quotaguard.WithQuotaStore(store))
	opts = append(opts, extra...)
	g := quotaguard.New(opts...)
	if err := g.ValidationError(); err != nil {
		_ = g.Close()
		_ = store.Close()
		return nil, nil, nil, err
	}
	return g, store, cfg, nil
}
