package simulation

import (
	"time"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// Phase is the lifecycle state of a Simulator
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseDraining     Phase = "draining"
	PhaseStopped      Phase = "stopped"
)

// Stats summarises what a run produced
type Stats struct {
	Timesteps      int
	Deposits       int
	InitEvents     int
	StatusEvents   int
	PublishErrors  int
	FullContainers int
}

// newStatusEvent builds the event for container c of loc at ts
func newStatusEvent(ts time.Time, loc LocationState, c event.Container, fillPct, timestep int, kind event.Kind) event.StatusEvent {
	return event.StatusEvent{
		Timestamp:     ts,
		LocationID:    loc.LocationID,
		Lat:           loc.Lat,
		Lon:           loc.Lon,
		Container:     c,
		FillPct:       fillPct,
		TimestepIndex: timestep,
		Kind:          kind,
	}
}
