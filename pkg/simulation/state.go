package simulation

import (
	"github.com/sherine-k/simulated-city/pkg/config"
	"github.com/sherine-k/simulated-city/pkg/event"
)

// FullPct is the fill level at which a container accepts no more deposits.
const FullPct = 100

// ContainerState is the fill level of one receptacle
type ContainerState struct {
	FillPct int
}

// IsFull reports whether the container has reached FullPct
func (c ContainerState) IsFull() bool {
	return c.FillPct >= FullPct
}

// LocationState holds the three containers of a location. Values are
// replaced, never mutated, as the simulation advances.
type LocationState struct {
	LocationID string
	Lat        float64
	Lon        float64
	Left       ContainerState
	Center     ContainerState
	Right      ContainerState
}

// NewLocationState returns the run-start state of loc: all containers empty.
func NewLocationState(loc config.Location) LocationState {
	return LocationState{
		LocationID: loc.ID,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
	}
}

// Container returns the state of the named container.
func (l LocationState) Container(c event.Container) ContainerState {
	switch c {
	case event.Left:
		return l.Left
	case event.Center:
		return l.Center
	case event.Right:
		return l.Right
	}
	panic("simulation: unknown container " + string(c))
}

// With returns a copy of l with container c replaced by state.
func (l LocationState) With(c event.Container, state ContainerState) LocationState {
	switch c {
	case event.Left:
		l.Left = state
	case event.Center:
		l.Center = state
	case event.Right:
		l.Right = state
	default:
		panic("simulation: unknown container " + string(c))
	}
	return l
}

// TotalFillPct sums the fill of all three containers.
func (l LocationState) TotalFillPct() int {
	return l.Left.FillPct + l.Center.FillPct + l.Right.FillPct
}

// DepositOutcome describes one timestep attempt at one location. Container,
// OldFillPct and NewFillPct are only meaningful when Deposited is true.
type DepositOutcome struct {
	Deposited  bool
	Container  event.Container
	OldFillPct int
	NewFillPct int
}
