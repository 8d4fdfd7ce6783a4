package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sherine-k/simulated-city/pkg/metrics"
	"github.com/sherine-k/simulated-city/pkg/simulation"
)

var (
	steps         int
	seed          int64
	dryRun        bool
	logFile       string
	strictPublish bool
	metricsAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rubbish-bin simulation",
	Long: `Runs the simulation for --steps timesteps and publishes container status
events to the MQTT broker, or prints them with --dry-run.`,
	RunE: runSimulation,
}

func init() {
	runCmd.Flags().IntVar(&steps, "steps", 0, "Number of timesteps to simulate (required)")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed, overrides the configured seed")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print events instead of publishing to the broker")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Also write every event to this JSONL file (truncated on start)")
	runCmd.Flags().BoolVar(&strictPublish, "strict-publish", false, "Fail the run when the broker rejects an event")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	_ = runCmd.MarkFlagRequired("steps")
	rootCmd.AddCommand(runCmd)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := simulation.Options{
		Steps:         steps,
		DryRun:        dryRun,
		Stdout:        cmd.OutOrStdout(),
		LogFile:       logFile,
		StrictPublish: strictPublish,
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = &seed
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewCollector(reg)
		if err != nil {
			return err
		}
		opts.Metrics = m

		stop, err := serveMetrics(metricsAddr, m)
		if err != nil {
			return err
		}
		defer stop()
	}

	sim := simulation.NewSimulator(cfg, opts)
	if err := sim.Run(cmd.Context()); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	st := sim.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Simulation Summary")
	fmt.Fprintf(out, "  - Timesteps: %d\n", st.Timesteps)
	fmt.Fprintf(out, "  - Deposits: %d\n", st.Deposits)
	fmt.Fprintf(out, "  - Status events: %d (+%d init)\n", st.StatusEvents, st.InitEvents)
	fmt.Fprintf(out, "  - Full containers: %d\n", st.FullContainers)
	if st.PublishErrors > 0 {
		fmt.Fprintf(out, "  - Publish errors: %d\n", st.PublishErrors)
	}
	return nil
}

// serveMetrics exposes m on addr until the returned stop func is called.
func serveMetrics(addr string, m *metrics.Collector) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("metrics server stopped")
		}
	}()
	logrus.WithField("addr", ln.Addr().String()).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
