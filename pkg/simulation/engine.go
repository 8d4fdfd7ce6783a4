package simulation

import (
	"github.com/sherine-k/simulated-city/pkg/config"
	"github.com/sherine-k/simulated-city/pkg/event"
)

// Preference thresholds: a quarter of visitors head left, half to the
// center and a quarter right. The asymmetry is intentional.
const (
	leftThreshold   = 0.25
	centerThreshold = 0.75
)

// BoundariesCrossed returns every multiple of boundaryPct passed when the
// fill rises from oldFill to newFill, in increasing order.
//
//	BoundariesCrossed(19, 31, 10) -> [20 30]
//
// Fill is assumed not to decrease; a lower newFill yields no boundaries.
func BoundariesCrossed(oldFill, newFill, boundaryPct int) ([]int, error) {
	if boundaryPct <= 0 {
		return nil, &config.ConfigurationError{Key: "simulation.status_boundary_pct", Reason: "must be greater than 0"}
	}

	oldBucket := oldFill / boundaryPct
	newBucket := newFill / boundaryPct
	if newBucket <= oldBucket {
		return nil, nil
	}

	crossed := make([]int, 0, newBucket-oldBucket)
	for b := oldBucket + 1; b <= newBucket; b++ {
		crossed = append(crossed, b*boundaryPct)
	}
	return crossed, nil
}

func preferredContainer(r Rand) event.Container {
	roll := r.Float64()
	switch {
	case roll < leftThreshold:
		return event.Left
	case roll < centerThreshold:
		return event.Center
	default:
		return event.Right
	}
}

// ChooseContainer picks the container that receives a deposit. The
// preferred container costs one draw; if it is full a second draw picks
// uniformly among the ones that are not. It returns false when all three
// are full.
func ChooseContainer(r Rand, left, center, right ContainerState) (event.Container, bool) {
	loc := LocationState{Left: left, Center: center, Right: right}

	preferred := preferredContainer(r)
	if !loc.Container(preferred).IsFull() {
		return preferred, true
	}

	available := make([]event.Container, 0, len(event.Containers))
	for _, c := range event.Containers {
		if !loc.Container(c).IsFull() {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return "", false
	}
	return available[r.Intn(len(available))], true
}

// StepLocation advances one location by one timestep. It draws once for
// the arrival and once or twice more to choose a container; nothing else
// is touched.
func StepLocation(r Rand, cfg config.SimulationConfig, loc LocationState) (LocationState, DepositOutcome) {
	if r.Float64() >= cfg.ArrivalProb {
		return loc, DepositOutcome{}
	}

	chosen, ok := ChooseContainer(r, loc.Left, loc.Center, loc.Right)
	if !ok {
		return loc, DepositOutcome{}
	}

	oldFill := loc.Container(chosen).FillPct
	newFill := min(FullPct, oldFill+cfg.BagFillDeltaPct)

	return loc.With(chosen, ContainerState{FillPct: newFill}), DepositOutcome{
		Deposited:  true,
		Container:  chosen,
		OldFillPct: oldFill,
		NewFillPct: newFill,
	}
}
