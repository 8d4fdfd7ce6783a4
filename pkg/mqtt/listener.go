package mqtt

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/config"
)

// DefaultQueueSize is the listener queue capacity used when none is given.
const DefaultQueueSize = 5000

// Listener receives JSON object payloads on a background goroutine and
// buffers them in a bounded FIFO queue for a polling consumer. When the
// queue is full new messages are dropped and counted.
type Listener struct {
	client  *Client
	queue   chan map[string]any
	dropped atomic.Int64
	skipped atomic.Int64
}

func newListener(size int) *Listener {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Listener{queue: make(chan map[string]any, size)}
}

// StartListener connects with the "dashboard" client suffix, subscribes to
// filter with QoS 1 and starts queueing decoded payloads.
func StartListener(ctx context.Context, cfg config.MQTTConfig, filter string, size int) (*Listener, error) {
	client, err := Connect(ctx, cfg, "dashboard")
	if err != nil {
		return nil, err
	}

	l := newListener(size)
	l.client = client
	client.OnMessage(l.handle)

	if err := client.Subscribe(ctx, filter, 1); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return l, nil
}

// handle decodes one message. Payloads that are not JSON objects are
// skipped; the receive loop never stops on bad input.
func (l *Listener) handle(topic string, payload []byte) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		l.skipped.Add(1)
		logrus.WithFields(logrus.Fields{
			"topic":        topic,
			"payload_size": len(payload),
		}).Debug("mqtt listener skipped non-object payload")
		return
	}

	select {
	case l.queue <- obj:
	default:
		if l.dropped.Add(1) == 1 {
			logrus.WithField("capacity", cap(l.queue)).Warn("mqtt listener queue full, dropping messages")
		}
	}
}

// Drain returns up to max queued payloads without blocking.
func (l *Listener) Drain(max int) []map[string]any {
	var items []map[string]any
	for i := 0; i < max; i++ {
		select {
		case obj := <-l.queue:
			items = append(items, obj)
		default:
			return items
		}
	}
	return items
}

// Dropped returns how many messages were discarded because the queue was full.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// Skipped returns how many messages were discarded because they were not JSON objects.
func (l *Listener) Skipped() int64 {
	return l.skipped.Load()
}

// Stop disconnects from the broker. It is safe to call more than once.
func (l *Listener) Stop(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	client := l.client
	l.client = nil
	return client.Disconnect(ctx)
}
