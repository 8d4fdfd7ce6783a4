package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sherine-k/simulated-city/pkg/config"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "simcity",
	Short: "Simulated city: rubbish-bin fill simulator",
	Long: `A CLI tool that simulates the fill level of rubbish containers across
a set of city locations and publishes their status over MQTT.

Each location has a left, center and right container. Visitors arrive at
random each timestep and drop a bag into one of them; status events are
published whenever a container crosses a fill boundary. Events can also be
written to a JSONL log and watched from a terminal dashboard.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	RunE:              runSummary,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so a running simulation drains its sinks before exiting.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultFile, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(cmd.ErrOrStderr())
	return nil
}

// loadConfig reads the configuration. The default file may be absent, in
// which case defaults apply; a file named explicitly must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(config.ResolvePath(configFile)); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file %s not found", configFile)
		}
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "simulated-city")
	fmt.Fprintln(out, "Rubbish-bin simulation with MQTT status publishing.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "MQTT broker: %s:%d tls=%t\n", cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.TLS)
	fmt.Fprintf(out, "MQTT base topic: %s\n", cfg.MQTT.BaseTopic)
	if sim := cfg.Simulation; sim != nil {
		fmt.Fprintf(out, "Simulation: %d locations, timestep %s, arrival probability %.2f\n",
			len(sim.Locations), sim.Timestep, sim.ArrivalProb)
	} else {
		fmt.Fprintln(out, "Simulation: not configured (add a 'simulation' section)")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next:")
	fmt.Fprintln(out, "- Check the broker: simcity smoke")
	fmt.Fprintln(out, "- Run the simulation: simcity run --steps 200")
	fmt.Fprintln(out, "- Watch a dry run: simcity run --steps 200 --dry-run --log-file sim_status.jsonl && simcity watch --log-file sim_status.jsonl")
	return nil
}
