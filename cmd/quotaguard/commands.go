package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ambiyansyah-risyal/quotaguard"
)

const defaultServeAddr = ":9090"

func createStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the daily quota flag and the configured profiles",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, store, _, err := newGovernor(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			defer g.Close()

			return printStatus(ctx, cmd.Root().Writer, g)
		},
	}
}

func createResetQuotaCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset-quota",
		Usage: "clear the daily quota flag",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, "daily quota flag cleared")
			return err
		},
	}
}

func createCheckResetCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-reset",
		Usage: "clear the daily quota flag if its reset period has passed",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, store, _, err := newGovernor(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			defer g.Close()

			if err := g.CheckDailyQuotaReset(ctx); err != nil {
				return err
			}
			flag, err := g.QuotaStatus(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, describeFlag(flag))
			return err
		},
	}
}

func createServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "expose /metrics and /status and run the quota watcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (default: server.addr or " + defaultServeAddr + ")",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			registry := prometheus.NewRegistry()
			g, store, cfg, err := newGovernor(cmd,
				quotaguard.WithMetricsRegistry(registry),
				quotaguard.WithZapLogger(logger),
			)
			if err != nil {
				return err
			}
			defer store.Close()
			defer g.Close()

			watcher := quotaguard.NewQuotaWatcher(g, cfg.Quota.CheckSchedule)
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			addr := cmd.String("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = defaultServeAddr
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newMux(g, registry),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Serving governor status", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newMux(g *quotaguard.Governor, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/status", statusHandler(g))
	return mux
}

type statusResponse struct {
	Quota quotaguard.QuotaFlag         `json:"quota"`
	APIs  map[string]quotaguard.Status `json:"apis"`
}

func collectStatus(ctx context.Context, g *quotaguard.Governor) (statusResponse, error) {
	flag, err := g.QuotaStatus(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	resp := statusResponse{Quota: flag, APIs: make(map[string]quotaguard.Status)}
	for _, api := range g.APIs() {
		s, err := g.Status(api)
		if err != nil {
			return statusResponse{}, err
		}
		resp.APIs[api] = s
	}
	return resp, nil
}

func statusHandler(g *quotaguard.Governor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := collectStatus(r.Context(), g)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func printStatus(ctx context.Context, w io.Writer, g *quotaguard.Governor) error {
	resp, err := collectStatus(ctx, g)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, describeFlag(resp.Quota)); err != nil {
		return err
	}
	for _, api := range g.APIs() {
		s := resp.APIs[api]
		if _, err := fmt.Fprintf(w, "%-10s remaining=%d queued=%d circuit=%s\n",
			api, s.RemainingRequests, s.QueueLength, s.CircuitBreakerState); err != nil {
			return err
		}
	}
	return nil
}

func describeFlag(flag quotaguard.QuotaFlag) string {
	if !flag.Exceeded {
		return "daily quota: ok"
	}
	return "daily quota: exceeded since " + flag.ExceededAt.UTC().Format(time.RFC3339)
}
