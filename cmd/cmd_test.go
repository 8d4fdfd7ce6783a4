package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherine-k/simulated-city/pkg/event"
)

const testConfigYAML = `
mqtt:
  host: broker.example
  port: 8883
  tls: true
  base_topic: test-city
simulation:
  timestep_minutes: 10
  arrival_prob: 0.9
  bag_fill_delta_pct: 5
  status_boundary_pct: 10
  start_time: "2025-03-01T08:00:00Z"
  seed: 7
  locations:
    - id: nyhavn_01
      lat: 55.6798
      lon: 12.5912
    - location_id: kongens_nytorv
      lat: 55.6805
      lon: 12.5860
`

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	os.Exit(m.Run())
}

// resetFlags restores every flag to its default so tests do not leak
// state through the package-level flag variables.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				require.NoError(t, sv.Replace(nil))
			} else {
				require.NoError(t, f.Value.Set(f.DefValue))
			}
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, c := range []*cobra.Command{runCmd, watchCmd, smokeCmd} {
		reset(c.Flags())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())

	// setupLogging points logrus at the command's stderr.
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(logrus.WarnLevel)
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))
	return path
}

func TestRoot_PrintsSummary(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "MQTT broker: broker.example:8883 tls=true")
	assert.Contains(t, out, "MQTT base topic: test-city")
	assert.Contains(t, out, "Simulation: 2 locations, timestep 10m0s")
	assert.Contains(t, out, "simcity run --steps 200")
}

func TestRoot_ExplicitMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestRun_RequiresSteps(t *testing.T) {
	_, err := execute(t, "run", "--config", writeConfig(t), "--dry-run")
	assert.Error(t, err)
}

func TestRun_DryRunThenWatchOnce(t *testing.T) {
	cfg := writeConfig(t)
	logPath := filepath.Join(t.TempDir(), "status.jsonl")

	out, err := execute(t, "run", "--config", cfg, "--steps", "40", "--dry-run", "--log-file", logPath)
	require.NoError(t, err)

	var dryRun int
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "[DRY-RUN] topic=test-city/bins/") {
			dryRun++
		}
	}
	assert.GreaterOrEqual(t, dryRun, 6, "at least the init events")
	assert.Contains(t, out, "Simulation Summary")
	assert.Contains(t, out, "  - Timesteps: 40")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, dryRun, strings.Count(string(data), "\n"))

	// Same seed, same output.
	again, err := execute(t, "run", "--config", cfg, "--steps", "40", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, out, again)

	board, err := execute(t, "watch", "--config", cfg, "--log-file", logPath, "--once", "--timeline", "5", "--history", "nyhavn_01.left")
	require.NoError(t, err)
	assert.Contains(t, board, "Container Fill Levels")
	assert.Contains(t, board, "kongens_nytorv.center")
	assert.Contains(t, board, "Fill History: nyhavn_01.left")
	assert.Contains(t, board, "(showing last 5 events)")
	assert.NotContains(t, board, "\033[2J", "--once does not clear the screen")
}

func TestRun_SeedFlagOverridesConfig(t *testing.T) {
	cfg := writeConfig(t)
	a, err := execute(t, "run", "--config", cfg, "--steps", "30", "--dry-run", "--seed", "1")
	require.NoError(t, err)
	b, err := execute(t, "run", "--config", cfg, "--steps", "30", "--dry-run", "--seed", "2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWatch_RequiresSource(t *testing.T) {
	_, err := execute(t, "watch", "--config", writeConfig(t))
	assert.ErrorContains(t, err, "nothing to watch")
}

func TestWatch_ThresholdRange(t *testing.T) {
	_, err := execute(t, "watch", "--config", writeConfig(t), "--log-file", "x.jsonl", "--threshold", "0")
	assert.ErrorContains(t, err, "--threshold")
}

func TestSmokeEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	ev, err := smokeEvent(now, "smoke_test", "left", 420)
	require.NoError(t, err)
	assert.Equal(t, 100, ev.FillPct)
	assert.Equal(t, -999, ev.TimestepIndex)
	assert.Equal(t, event.Left, ev.Container)
	assert.Equal(t, event.KindStatus, ev.Kind)
	assert.Equal(t, 55.67597, ev.Lat)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, "test-city/bins/smoke_test/left/status", ev.Topic("test-city"))

	low, err := smokeEvent(now, "smoke_test", "center", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, low.FillPct)

	_, err = smokeEvent(now, "smoke_test", "middle", 42)
	assert.Error(t, err)
	_, err = smokeEvent(now, "", "left", 42)
	assert.Error(t, err)
}
