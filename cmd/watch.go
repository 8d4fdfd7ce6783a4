package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sherine-k/simulated-city/pkg/dashboard"
	"github.com/sherine-k/simulated-city/pkg/mqtt"
)

var (
	watchLogFile   string
	watchMQTT      bool
	watchInterval  time.Duration
	watchThreshold int
	watchTimeline  int
	watchHistory   []string
	watchWindow    time.Duration
	watchOnce      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Terminal dashboard of container fill levels",
	Long: `Shows the latest fill of every container with alerts at the threshold.
Reads the simulator's JSONL log (--log-file), the retained status topics
on the broker (--mqtt), or both.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "JSONL log written by 'simcity run --log-file'")
	watchCmd.Flags().BoolVar(&watchMQTT, "mqtt", false, "Subscribe to status topics on the broker")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", dashboard.DefaultInterval, "Refresh interval")
	watchCmd.Flags().IntVar(&watchThreshold, "threshold", dashboard.DefaultThreshold, "Alert threshold in percent")
	watchCmd.Flags().IntVarP(&watchTimeline, "timeline", "t", 0, "Show the last N events (0 hides the timeline)")
	watchCmd.Flags().StringSliceVar(&watchHistory, "history", nil, "Plot fill history of these series (location.container)")
	watchCmd.Flags().DurationVar(&watchWindow, "window", dashboard.DefaultWindow, "Simulated time kept on the board")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Draw once and exit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchLogFile == "" && !watchMQTT {
		return fmt.Errorf("nothing to watch: pass --log-file, --mqtt or both")
	}
	if watchThreshold < 1 || watchThreshold > 100 {
		return fmt.Errorf("--threshold must be between 1 and 100")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var sources []dashboard.Source
	if watchLogFile != "" {
		sources = append(sources, dashboard.NewLogSource(watchLogFile))
	}
	if watchMQTT {
		filter := fmt.Sprintf("%s/bins/+/+/status", cfg.MQTT.BaseTopic)
		listener, err := mqtt.StartListener(cmd.Context(), cfg.MQTT, filter, mqtt.DefaultQueueSize)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := listener.Stop(ctx); err != nil {
				logrus.WithError(err).Warn("stopping listener")
			}
			if n := listener.Dropped(); n > 0 {
				logrus.WithField("dropped", n).Warn("payloads dropped while the queue was full")
			}
		}()
		sources = append(sources, dashboard.NewQueueSource(listener, mqtt.DefaultQueueSize))
	}

	w := dashboard.NewWatcher(dashboard.NewBoard(watchWindow), dashboard.WatchOptions{
		Interval:  watchInterval,
		Threshold: watchThreshold,
		Timeline:  watchTimeline,
		History:   watchHistory,
		Clear:     !watchOnce,
		Out:       cmd.OutOrStdout(),
	}, sources...)

	if watchOnce {
		return w.Refresh()
	}
	return w.Run(cmd.Context())
}
