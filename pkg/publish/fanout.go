package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/event"
	"github.com/sherine-k/simulated-city/pkg/metrics"
)

// FanOut forwards every event to each sink in order. A failing sink never
// stops delivery to the sinks after it: failures are logged, and only the
// fatal ones are returned once every sink has been tried.
type FanOut struct {
	sinks []Publisher
}

// NewFanOut returns a FanOut over sinks, in order.
func NewFanOut(sinks ...Publisher) *FanOut {
	return &FanOut{sinks: sinks}
}

// Chain combines sinks: Noop for none, the sink itself for one, a FanOut
// otherwise.
func Chain(sinks ...Publisher) Publisher {
	switch len(sinks) {
	case 0:
		return Noop{}
	case 1:
		return sinks[0]
	default:
		return NewFanOut(sinks...)
	}
}

// Publish delivers ev to every sink.
func (f *FanOut) Publish(ctx context.Context, ev event.StatusEvent) error {
	var fatal []error
	for i, sink := range f.sinks {
		err := sink.Publish(ctx, ev)
		if err == nil {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"sink":        sinkName(sink, err),
			"position":    i,
			"location_id": ev.LocationID,
			"container":   ev.Container,
		}).WithError(err).Warn("status event not delivered to sink")
		if IsFatal(err) {
			fatal = append(fatal, err)
		}
	}
	return errors.Join(fatal...)
}

// Close closes every sink and returns all close errors.
func (f *FanOut) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsFatal reports whether err contains a fatal TransportError.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Fatal
}

func sinkName(p Publisher, err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Sink
	}
	if in, ok := p.(*Instrumented); ok {
		return in.name
	}
	return fmt.Sprintf("%T", p)
}

// Instrumented counts deliveries and failures of the wrapped sink.
type Instrumented struct {
	name    string
	next    Publisher
	metrics *metrics.Collector
}

// Instrument wraps p so each Publish is recorded under sink name. A nil
// collector returns p unchanged.
func Instrument(name string, p Publisher, m *metrics.Collector) Publisher {
	if m == nil {
		return p
	}
	return &Instrumented{name: name, next: p, metrics: m}
}

func (in *Instrumented) Publish(ctx context.Context, ev event.StatusEvent) error {
	err := in.next.Publish(ctx, ev)
	in.metrics.ObservePublish(in.name, string(ev.Kind), err)
	return err
}

func (in *Instrumented) Close(ctx context.Context) error {
	return in.next.Close(ctx)
}
