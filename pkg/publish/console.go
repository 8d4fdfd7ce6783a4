package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// Console prints what would be sent to the broker. It backs dry runs.
type Console struct {
	out       io.Writer
	baseTopic string
}

// NewConsole returns a Console writing to out, or stdout when out is nil.
func NewConsole(out io.Writer, baseTopic string) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, baseTopic: baseTopic}
}

// Publish writes one "[DRY-RUN] topic=... payload=..." line.
func (c *Console) Publish(_ context.Context, ev event.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return &TransportError{Sink: SinkConsole, Err: err}
	}
	if _, err := fmt.Fprintf(c.out, "[DRY-RUN] topic=%s payload=%s\n", ev.Topic(c.baseTopic), payload); err != nil {
		return &TransportError{Sink: SinkConsole, Err: err}
	}
	return nil
}

// Close is a no-op; the console is not owned by the publisher.
func (c *Console) Close(context.Context) error { return nil }
