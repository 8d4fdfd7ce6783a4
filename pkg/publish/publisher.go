// Package publish delivers status events to sinks: a broker, the console,
// an append-only JSONL log, or several of them at once.
package publish

import (
	"context"
	"fmt"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// Publisher sends status events to a sink. Publish is called synchronously
// from the simulation loop; Close releases the sink's resources.
type Publisher interface {
	Publish(ctx context.Context, ev event.StatusEvent) error
	Close(ctx context.Context) error
}

// Sink names, used in logs, errors and metrics labels.
const (
	SinkNoop    = "noop"
	SinkConsole = "console"
	SinkLog     = "log"
	SinkBroker  = "broker"
)

// TransportError reports that a sink's underlying I/O failed. Fatal errors
// must stop a run; non-fatal ones are logged and the run continues.
type TransportError struct {
	Sink  string
	Fatal bool
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s sink: %v", e.Sink, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, event.StatusEvent) error { return nil }
func (Noop) Close(context.Context) error                      { return nil }

// Record is one JSONL log line: the topic an event would be published on
// and its wire payload.
type Record struct {
	Topic   string            `json:"topic"`
	Payload event.StatusEvent `json:"payload"`
}
