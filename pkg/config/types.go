package config

import (
	"time"
)

// Config represents the entire configuration for the simulated city
type Config struct {
	MQTT MQTTConfig `yaml:"mqtt"`

	// Simulation is optional: the smoke test and the dashboard work without it.
	Simulation *SimulationConfig `yaml:"simulation,omitempty"`
}

// MQTTConfig describes the broker connection shared by the simulator,
// the dashboard listener and the smoke test.
type MQTTConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	UsernameEnv    string `yaml:"username_env,omitempty"`
	PasswordEnv    string `yaml:"password_env,omitempty"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	KeepAliveSec   int    `yaml:"keepalive_s"`
	BaseTopic      string `yaml:"base_topic"`

	// Resolved from UsernameEnv/PasswordEnv at load time.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// HasCredentials reports whether both username and password were resolved.
func (m MQTTConfig) HasCredentials() bool {
	return m.Username != "" && m.Password != ""
}

// SimulationConfig holds the rubbish-bin simulation parameters
type SimulationConfig struct {
	Timestep            time.Duration
	ArrivalProb         float64
	BagFillDeltaPct     int
	StatusBoundaryPct   int
	PublishEveryDeposit bool
	StepDelay           time.Duration

	// StartTime pins the first timestamp of a run. Zero means wall-clock now.
	StartTime time.Time

	// Seed is nil when runs should not be reproducible.
	Seed *int64

	Locations []Location
}

// Location is a fixed site hosting three containers
type Location struct {
	ID  string
	Lat float64
	Lon float64
}

// rawSimulation mirrors the YAML layout of the simulation section. Pointer
// fields distinguish "absent" from an explicit zero.
type rawSimulation struct {
	TimestepMinutes     *int          `yaml:"timestep_minutes"`
	ArrivalProb         *float64      `yaml:"arrival_prob"`
	BagFillDeltaPct     *int          `yaml:"bag_fill_delta_pct"`
	StatusBoundaryPct   *int          `yaml:"status_boundary_pct"`
	PublishEveryDeposit bool          `yaml:"publish_every_deposit"`
	StepDelaySec        *float64      `yaml:"step_delay_s"`
	StepDelaySeconds    *float64      `yaml:"step_delay_seconds"`
	StartTime           string        `yaml:"start_time"`
	Seed                *int64        `yaml:"seed"`
	Locations           []rawLocation `yaml:"locations"`
}

type rawLocation struct {
	ID         string   `yaml:"id"`
	LocationID string   `yaml:"location_id"`
	Lat        *float64 `yaml:"lat"`
	Lon        *float64 `yaml:"lon"`
}

type rawConfig struct {
	MQTT       MQTTConfig     `yaml:"mqtt"`
	Simulation *rawSimulation `yaml:"simulation"`
}

// Defaults used when a key is absent from the file.
const (
	DefaultHost              = "localhost"
	DefaultPort              = 1883
	DefaultClientIDPrefix    = "simcity"
	DefaultKeepAliveSec      = 60
	DefaultBaseTopic         = "simulated-city"
	DefaultTimestepMinutes   = 15
	DefaultArrivalProb       = 0.25
	DefaultBagFillDeltaPct   = 2
	DefaultStatusBoundaryPct = 10
)

// DefaultMQTT returns the broker settings used when the file has no mqtt section.
func DefaultMQTT() MQTTConfig {
	return MQTTConfig{
		Host:           DefaultHost,
		Port:           DefaultPort,
		ClientIDPrefix: DefaultClientIDPrefix,
		KeepAliveSec:   DefaultKeepAliveSec,
		BaseTopic:      DefaultBaseTopic,
	}
}

// DefaultSimulation returns simulation parameters without any locations.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		Timestep:          DefaultTimestepMinutes * time.Minute,
		ArrivalProb:       DefaultArrivalProb,
		BagFillDeltaPct:   DefaultBagFillDeltaPct,
		StatusBoundaryPct: DefaultStatusBoundaryPct,
	}
}
