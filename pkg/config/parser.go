package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "config.yaml"

// DotenvFile keeps broker credentials out of config.yaml.
const DotenvFile = ".env"

// LoadConfig loads the nearest .env into the environment, then loads and
// parses the configuration file. A file that does not exist yields the
// defaults, so the tool runs without any setup.
func LoadConfig(filename string) (*Config, error) {
	if err := LoadDotenv(); err != nil {
		return nil, err
	}
	path := ResolvePath(filename)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotenv reads KEY=VALUE pairs from the nearest .env file, searching
// parent directories like ResolvePath. Variables already set in the
// environment keep their value. A missing file is not an error.
func LoadDotenv() error {
	path := ResolvePath(DotenvFile)
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Parse decodes YAML bytes, applies defaults, resolves credentials from the
// environment and validates the result.
func Parse(data []byte) (*Config, error) {
	raw := rawConfig{MQTT: DefaultMQTT()}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := &Config{MQTT: raw.MQTT}
	applyMQTTDefaults(&cfg.MQTT)
	if cfg.MQTT.UsernameEnv != "" {
		cfg.MQTT.Username = os.Getenv(cfg.MQTT.UsernameEnv)
	}
	if cfg.MQTT.PasswordEnv != "" {
		cfg.MQTT.Password = os.Getenv(cfg.MQTT.PasswordEnv)
	}

	if raw.Simulation != nil {
		sim, err := convertSimulation(raw.Simulation)
		if err != nil {
			return nil, err
		}
		cfg.Simulation = sim
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds a bare file name (such as config.yaml) in the working
// directory or any of its parents. Absolute paths, paths with a directory
// component and paths that already exist are returned unchanged.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultFile
	}
	if filepath.IsAbs(path) || filepath.Dir(path) != "." {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}

	dir, err := os.Getwd()
	if err != nil {
		return path
	}
	for {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return path
		}
		dir = parent
	}
}

func applyMQTTDefaults(m *MQTTConfig) {
	def := DefaultMQTT()
	if m.Host == "" {
		m.Host = def.Host
	}
	if m.Port == 0 {
		m.Port = def.Port
	}
	if m.ClientIDPrefix == "" {
		m.ClientIDPrefix = def.ClientIDPrefix
	}
	if m.KeepAliveSec == 0 {
		m.KeepAliveSec = def.KeepAliveSec
	}
	if m.BaseTopic == "" {
		m.BaseTopic = def.BaseTopic
	}
}

func convertSimulation(raw *rawSimulation) (*SimulationConfig, error) {
	sim := DefaultSimulation()

	if raw.TimestepMinutes != nil {
		if *raw.TimestepMinutes <= 0 {
			return nil, invalid("simulation.timestep_minutes", "must be greater than 0")
		}
		sim.Timestep = time.Duration(*raw.TimestepMinutes) * time.Minute
	}
	if raw.ArrivalProb != nil {
		sim.ArrivalProb = *raw.ArrivalProb
	}
	if raw.BagFillDeltaPct != nil {
		sim.BagFillDeltaPct = *raw.BagFillDeltaPct
	}
	if raw.StatusBoundaryPct != nil {
		sim.StatusBoundaryPct = *raw.StatusBoundaryPct
	}
	sim.PublishEveryDeposit = raw.PublishEveryDeposit

	delay := raw.StepDelaySec
	if delay == nil {
		delay = raw.StepDelaySeconds
	}
	if delay != nil {
		if *delay < 0 || math.IsNaN(*delay) {
			return nil, invalid("simulation.step_delay_s", "must not be negative")
		}
		sim.StepDelay = time.Duration(*delay * float64(time.Second))
	}

	if raw.StartTime != "" {
		ts, err := ParseUTC(raw.StartTime)
		if err != nil {
			return nil, invalid("simulation.start_time", "must be an ISO-8601 datetime: %v", err)
		}
		sim.StartTime = ts
	}
	sim.Seed = raw.Seed

	for i, loc := range raw.Locations {
		id := strings.TrimSpace(loc.ID)
		if id == "" {
			id = strings.TrimSpace(loc.LocationID)
		}
		if id == "" {
			return nil, invalid(fmt.Sprintf("simulation.locations[%d]", i), "must have an 'id'")
		}
		if loc.Lat == nil || loc.Lon == nil {
			return nil, invalid(fmt.Sprintf("simulation.locations[%d]", i), "location %q must define 'lat' and 'lon'", id)
		}
		sim.Locations = append(sim.Locations, Location{ID: id, Lat: *loc.Lat, Lon: *loc.Lon})
	}

	return &sim, nil
}

var utcLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseUTC parses an ISO-8601 timestamp. Values without a zone are taken to
// be UTC; the result is always in UTC.
func ParseUTC(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	for _, layout := range utcLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.MQTT.Port <= 0 || cfg.MQTT.Port > 65535 {
		return invalid("mqtt.port", "must be between 1 and 65535")
	}
	if cfg.MQTT.KeepAliveSec < 0 || cfg.MQTT.KeepAliveSec > math.MaxUint16 {
		return invalid("mqtt.keepalive_s", "must be between 0 and %d", math.MaxUint16)
	}

	if cfg.Simulation == nil {
		return nil
	}
	if err := cfg.Simulation.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the simulation parameters. An empty location list is
// allowed here; a run refuses to start without locations.
func (s *SimulationConfig) Validate() error {
	if s.Timestep <= 0 {
		return invalid("simulation.timestep_minutes", "must be greater than 0")
	}
	if s.ArrivalProb < 0 || s.ArrivalProb > 1 || math.IsNaN(s.ArrivalProb) {
		return invalid("simulation.arrival_prob", "must be within [0, 1]")
	}
	if s.BagFillDeltaPct <= 0 {
		return invalid("simulation.bag_fill_delta_pct", "must be greater than 0")
	}
	if s.StatusBoundaryPct <= 0 {
		return invalid("simulation.status_boundary_pct", "must be greater than 0")
	}
	if s.StepDelay < 0 {
		return invalid("simulation.step_delay_s", "must not be negative")
	}

	seen := make(map[string]bool, len(s.Locations))
	for i, loc := range s.Locations {
		if loc.ID == "" {
			return invalid(fmt.Sprintf("simulation.locations[%d]", i), "must have an 'id'")
		}
		if seen[loc.ID] {
			return invalid(fmt.Sprintf("simulation.locations[%d]", i), "duplicate id %q", loc.ID)
		}
		seen[loc.ID] = true
	}
	return nil
}
