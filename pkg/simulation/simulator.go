package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/config"
	"github.com/sherine-k/simulated-city/pkg/event"
	"github.com/sherine-k/simulated-city/pkg/metrics"
	"github.com/sherine-k/simulated-city/pkg/mqtt"
	"github.com/sherine-k/simulated-city/pkg/publish"
)

// drainTimeout bounds how long closing the sinks may take.
const drainTimeout = 10 * time.Second

// DialFunc opens the broker connection used by the broker sink.
type DialFunc func(ctx context.Context, cfg config.MQTTConfig) (publish.MessageSender, error)

// Options controls a single run
type Options struct {
	// Steps is the number of timesteps to simulate. Must be positive.
	Steps int

	// Seed overrides the configured seed when set.
	Seed *int64

	// DryRun prints events instead of connecting to the broker.
	DryRun bool

	// Stdout receives dry-run output. Defaults to os.Stdout.
	Stdout io.Writer

	// LogFile, when set, receives every event as a JSONL record.
	LogFile string

	// StrictPublish turns non-fatal sink failures into run failures.
	StrictPublish bool

	// Dial opens the broker connection. Defaults to mqtt.Connect.
	Dial DialFunc

	// Metrics is optional.
	Metrics *metrics.Collector

	// Publisher replaces the configured sinks entirely.
	Publisher publish.Publisher

	// Rand replaces the seeded source.
	Rand Rand
}

// Simulator runs the rubbish-bin simulation
type Simulator struct {
	config *config.Config
	opts   Options
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	phase     Phase
	locations []LocationState
	stats     Stats
}

// NewSimulator creates a new simulator
func NewSimulator(cfg *config.Config, opts Options) *Simulator {
	if opts.Dial == nil {
		opts.Dial = dialBroker
	}
	return &Simulator{
		config: cfg,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepContext,
		phase:  PhaseIdle,
	}
}

func dialBroker(ctx context.Context, cfg config.MQTTConfig) (publish.MessageSender, error) {
	return mqtt.Connect(ctx, cfg, "rubbish-sim")
}

// Phase returns the current lifecycle phase
func (s *Simulator) Phase() Phase {
	return s.phase
}

// Locations returns the latest state of every location, in configured order
func (s *Simulator) Locations() []LocationState {
	out := make([]LocationState, len(s.locations))
	copy(out, s.locations)
	return out
}

// Stats returns the counters of the last run
func (s *Simulator) Stats() Stats {
	return s.stats
}

// validate checks everything that must hold before any event is published
func (s *Simulator) validate() (*config.SimulationConfig, error) {
	if s.opts.Steps <= 0 {
		return nil, &config.ConfigurationError{Key: "steps", Reason: "must be greater than 0"}
	}
	if s.config == nil || s.config.Simulation == nil || len(s.config.Simulation.Locations) == 0 {
		return nil, &config.ConfigurationError{
			Key:    "simulation.locations",
			Reason: "must list at least one location",
		}
	}
	sim := s.config.Simulation
	if err := sim.Validate(); err != nil {
		return nil, err
	}
	return sim, nil
}

// Run executes the simulation. Configuration errors are returned before
// anything is published. Once sinks are open they are closed exactly once,
// whether the run completes, fails or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) (err error) {
	if s.phase != PhaseIdle {
		return fmt.Errorf("simulator already used (phase %s)", s.phase)
	}

	sim, err := s.validate()
	if err != nil {
		s.phase = PhaseStopped
		return err
	}

	s.phase = PhaseInitializing
	s.stats = Stats{}

	pub, err := s.buildPublisher(ctx, sim)
	if err != nil {
		s.phase = PhaseStopped
		return err
	}
	defer func() {
		s.phase = PhaseDraining
		if cerr := s.drain(ctx, pub); cerr != nil && err == nil {
			err = cerr
		}
		s.phase = PhaseStopped
	}()

	rng := s.opts.Rand
	if rng == nil {
		seed := sim.Seed
		if s.opts.Seed != nil {
			seed = s.opts.Seed
		}
		rng = NewRand(seed)
	}

	s.locations = make([]LocationState, len(sim.Locations))
	for i, loc := range sim.Locations {
		s.locations[i] = NewLocationState(loc)
	}

	start := sim.StartTime
	if start.IsZero() {
		start = s.now()
	}
	start = start.UTC()

	log := logrus.WithFields(logrus.Fields{
		"steps":     s.opts.Steps,
		"locations": len(s.locations),
		"start":     event.FormatTimestamp(start),
	})
	log.Info("simulation starting")

	// One init event per container so dashboards show every bin at once.
	for _, loc := range s.locations {
		for _, c := range event.Containers {
			fill := loc.Container(c).FillPct
			if err := s.publish(ctx, pub, newStatusEvent(start, loc, c, fill, event.InitTimestep, event.KindInit)); err != nil {
				return err
			}
			s.stats.InitEvents++
			s.opts.Metrics.ObserveFill(loc.LocationID, string(c), fill)
		}
	}

	s.phase = PhaseRunning
	for step := 0; step < s.opts.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation interrupted at timestep %d: %w", step, err)
		}

		ts := start.Add(time.Duration(step) * sim.Timestep)
		for i, loc := range s.locations {
			updated, deposit := StepLocation(rng, *sim, loc)
			s.locations[i] = updated
			if !deposit.Deposited {
				continue
			}
			s.stats.Deposits++
			s.opts.Metrics.ObserveDeposit(updated.LocationID, string(deposit.Container), deposit.NewFillPct)

			if err := s.publishDeposit(ctx, pub, sim, ts, step, updated, deposit); err != nil {
				return err
			}
		}
		s.stats.Timesteps++
		s.opts.Metrics.ObserveTimestep()

		if sim.StepDelay > 0 {
			if err := s.sleep(ctx, sim.StepDelay); err != nil {
				return fmt.Errorf("simulation interrupted after timestep %d: %w", step, err)
			}
		}
	}

	for _, loc := range s.locations {
		for _, c := range event.Containers {
			if loc.Container(c).IsFull() {
				s.stats.FullContainers++
			}
		}
	}
	log.WithFields(logrus.Fields{
		"deposits":        s.stats.Deposits,
		"status_events":   s.stats.StatusEvents,
		"full_containers": s.stats.FullContainers,
	}).Info("simulation complete")
	return nil
}

// publishDeposit emits the status events for one deposit. Without
// publish_every_deposit it emits one event per crossed boundary, and every
// one of them carries the final fill rather than the boundary value.
func (s *Simulator) publishDeposit(ctx context.Context, pub publish.Publisher, sim *config.SimulationConfig, ts time.Time, step int, loc LocationState, deposit DepositOutcome) error {
	ev := newStatusEvent(ts, loc, deposit.Container, deposit.NewFillPct, step, event.KindStatus)

	if sim.PublishEveryDeposit {
		if err := s.publish(ctx, pub, ev); err != nil {
			return err
		}
		s.stats.StatusEvents++
		return nil
	}

	crossed, err := BoundariesCrossed(deposit.OldFillPct, deposit.NewFillPct, sim.StatusBoundaryPct)
	if err != nil {
		return err
	}
	for range crossed {
		if err := s.publish(ctx, pub, ev); err != nil {
			return err
		}
		s.stats.StatusEvents++
	}
	return nil
}

// publish applies the failure policy: fatal transport errors always end
// the run, other failures only under StrictPublish.
func (s *Simulator) publish(ctx context.Context, pub publish.Publisher, ev event.StatusEvent) error {
	err := pub.Publish(ctx, ev)
	if err == nil {
		return nil
	}
	s.stats.PublishErrors++
	if publish.IsFatal(err) || s.opts.StrictPublish {
		return fmt.Errorf("publish %s: %w", ev.Topic(s.config.MQTT.BaseTopic), err)
	}
	logrus.WithFields(logrus.Fields{
		"location_id": ev.LocationID,
		"container":   ev.Container,
		"timestep":    ev.TimestepIndex,
	}).WithError(err).Warn("status event not published, continuing")
	return nil
}

// buildPublisher assembles the configured sinks: the log file first, then
// either the console (dry run) or the broker.
func (s *Simulator) buildPublisher(ctx context.Context, sim *config.SimulationConfig) (publish.Publisher, error) {
	if s.opts.Publisher != nil {
		return s.opts.Publisher, nil
	}

	m := s.opts.Metrics
	base := s.config.MQTT.BaseTopic
	var sinks []publish.Publisher

	if s.opts.LogFile != "" {
		logSink, err := publish.OpenAppendLog(s.opts.LogFile, base)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publish.Instrument(publish.SinkLog, logSink, m))
	}

	if s.opts.DryRun {
		sinks = append(sinks, publish.Instrument(publish.SinkConsole, publish.NewConsole(s.opts.Stdout, base), m))
	} else {
		conn, err := s.opts.Dial(ctx, s.config.MQTT)
		if err != nil {
			closeErr := publish.Chain(sinks...).Close(context.WithoutCancel(ctx))
			return nil, errors.Join(&publish.TransportError{Sink: publish.SinkBroker, Fatal: true, Err: err}, closeErr)
		}
		sinks = append(sinks, publish.Instrument(publish.SinkBroker, publish.NewBroker(conn, base), m))
	}

	logrus.WithField("sinks", len(sinks)).Debug("publisher chain ready")
	return publish.Chain(sinks...), nil
}

// drain closes the sinks. It uses a fresh deadline so a cancelled run
// still flushes the log and disconnects from the broker.
func (s *Simulator) drain(ctx context.Context, pub publish.Publisher) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	err := pub.Close(closeCtx)
	if err == nil {
		return nil
	}
	logrus.WithError(err).Warn("closing sinks failed")
	if publish.IsFatal(err) {
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
