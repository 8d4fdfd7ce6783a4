package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sherine-k/simulated-city/pkg/event"
	"github.com/sherine-k/simulated-city/pkg/mqtt"
)

// Fixed smoke-test event values, chosen so they never look like a real run.
const (
	smokeTimestep = -999
	smokeLat      = 55.67597
	smokeLon      = 12.56984
)

var (
	smokeLocationID string
	smokeContainer  string
	smokeFillPct    int
	smokeRetain     bool
	smokeTimeout    time.Duration
	smokeNoEcho     bool
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Publish one status event and wait for the broker to echo it",
	RunE:  runSmoke,
}

func init() {
	smokeCmd.Flags().StringVar(&smokeLocationID, "location-id", "smoke_test", "Location id of the test event")
	smokeCmd.Flags().StringVar(&smokeContainer, "container", string(event.Left), "Container of the test event (left, center, right)")
	smokeCmd.Flags().IntVar(&smokeFillPct, "fill-pct", 42, "Fill percentage of the test event (clamped to 0-100)")
	smokeCmd.Flags().BoolVar(&smokeRetain, "retain", true, "Publish as a retained message")
	smokeCmd.Flags().DurationVar(&smokeTimeout, "timeout", 8*time.Second, "How long to wait for connect and echo")
	smokeCmd.Flags().BoolVar(&smokeNoEcho, "no-echo", false, "Only publish, do not self-subscribe")
	rootCmd.AddCommand(smokeCmd)
}

// smokeEvent builds the test status event published by the smoke command.
func smokeEvent(now time.Time, locationID, container string, fillPct int) (event.StatusEvent, error) {
	c := event.Container(container)
	if !c.Valid() {
		return event.StatusEvent{}, fmt.Errorf("--container must be one of left, center, right (got %q)", container)
	}
	if locationID == "" {
		return event.StatusEvent{}, fmt.Errorf("--location-id must not be empty")
	}
	return event.StatusEvent{
		Timestamp:     now.UTC(),
		LocationID:    locationID,
		Lat:           smokeLat,
		Lon:           smokeLon,
		Container:     c,
		FillPct:       max(0, min(100, fillPct)),
		TimestepIndex: smokeTimestep,
		Kind:          event.KindStatus,
	}, nil
}

func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ev, err := smokeEvent(time.Now(), smokeLocationID, smokeContainer, smokeFillPct)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	topic := ev.Topic(cfg.MQTT.BaseTopic)
	res := mqtt.PublishChecked(cmd.Context(), cfg.MQTT, topic, payload, mqtt.SmokeOptions{
		QoS:           1,
		Retain:        smokeRetain,
		SelfSubscribe: !smokeNoEcho,
		Timeout:       smokeTimeout,
	})

	fmt.Fprintln(cmd.OutOrStdout(), res.String())
	fmt.Fprintf(cmd.OutOrStdout(), "payload=%s\n", payload)
	if res.Err != nil {
		return fmt.Errorf("smoke test failed: %w", res.Err)
	}
	return nil
}
