package publish

import (
	"context"
	"encoding/json"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// Status events are retained at QoS 1 so a late subscriber immediately
// sees the last known fill of every container.
const (
	BrokerQoS    byte = 1
	BrokerRetain      = true
)

// MessageSender is the part of a broker connection the Broker sink needs.
// *mqtt.Client implements it.
type MessageSender interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Disconnect(ctx context.Context) error
}

// Broker publishes status events to an MQTT broker. It owns the connection
// and disconnects it on Close. Send failures are reported as non-fatal
// TransportErrors; whether they end a run is the caller's decision.
type Broker struct {
	conn      MessageSender
	baseTopic string
}

// NewBroker returns a Broker sending through conn.
func NewBroker(conn MessageSender, baseTopic string) *Broker {
	return &Broker{conn: conn, baseTopic: baseTopic}
}

// Publish sends the event to <base>/bins/<location>/<container>/status.
func (b *Broker) Publish(ctx context.Context, ev event.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return &TransportError{Sink: SinkBroker, Err: err}
	}
	if err := b.conn.Publish(ctx, ev.Topic(b.baseTopic), payload, BrokerQoS, BrokerRetain); err != nil {
		return &TransportError{Sink: SinkBroker, Err: err}
	}
	return nil
}

// Close disconnects from the broker.
func (b *Broker) Close(ctx context.Context) error {
	if err := b.conn.Disconnect(ctx); err != nil {
		return &TransportError{Sink: SinkBroker, Err: err}
	}
	return nil
}
