package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/attestra/attestra/internal/metrics"
	"github.com/attestra/attestra/internal/mirror"
	"github.com/attestra/attestra/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the integrity monitor daemon",
		Long:  "Watches registered assets in real time, runs the periodic re-verification scheduler, and mirrors every change event into the evidence ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			mon, m, err := buildMonitor(e)
			if err != nil {
				return err
			}
			defer func() { _ = mon.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := metricsAddr
			if addr == "" {
				addr = e.cfg.MetricsAddr
			}
			if addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				srv := &http.Server{Addr: addr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						e.logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() { _ = srv.Shutdown(context.Background()) }()
				e.logger.Info("metrics endpoint up", "addr", addr)
			}

			fmt.Println("Monitoring. Ctrl-C to stop.")
			if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	return cmd
}

// buildMonitor wires the full change pipeline: metrics hooks, the bus
// with the ledger mirror and alert listeners, and the monitor itself.
// Manual verification commands share this so a tamper they discover
// produces the same evidence and alerts as the daemon paths.
func buildMonitor(e *env) (*monitor.Monitor, *metrics.Metrics, error) {
	m := metrics.New()
	e.ledger.OnPrune(func(records int) { m.RecordsPruned.Add(float64(records)) })
	e.ledger.OnAlert(m.AlertsRaised.Inc)

	bus := monitor.NewBus(e.logger, m)
	bus.Subscribe("ledger-mirror", mirror.Listener(e.ledger, e.logger))
	bus.Subscribe("alerts", mirror.AlertListener(e.ledger, e.reg, e.logger))

	mon, err := monitor.New(e.reg, e.hasher, bus, nil, m, monitor.Config{
		Tick:         e.cfg.Monitor.Tick(),
		Debounce:     e.cfg.Monitor.Debounce(),
		Intervals:    intervalsFromConfig(e),
		RecentWindow: time.Duration(e.cfg.Monitor.RecentWindowMin) * time.Minute,
		RecentDepth:  4,
		RecentLimit:  10,
	}, e.logger)
	if err != nil {
		return nil, nil, err
	}
	return mon, m, nil
}

func intervalsFromConfig(e *env) monitor.Intervals {
	iv := monitor.DefaultIntervals()
	if e.cfg.Monitor.Intervals.Critical > 0 {
		iv.Critical = time.Duration(e.cfg.Monitor.Intervals.Critical) * time.Minute
	}
	if e.cfg.Monitor.Intervals.Strict > 0 {
		iv.Strict = time.Duration(e.cfg.Monitor.Intervals.Strict) * time.Minute
	}
	if e.cfg.Monitor.Intervals.Normal > 0 {
		iv.Normal = time.Duration(e.cfg.Monitor.Intervals.Normal) * time.Minute
	}
	return iv
}
