package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sherine-k/simulated-city/pkg/config"
)

// SmokeResult reports the outcome of PublishChecked.
type SmokeResult struct {
	Topic     string
	ClientID  string
	Published bool
	// Received holds the echoed payload when self-subscribe was requested
	// and the broker delivered it in time.
	Received []byte
	Elapsed  time.Duration
	Err      error
}

func (r SmokeResult) String() string {
	status := "ok"
	if r.Err != nil {
		status = r.Err.Error()
	}
	return fmt.Sprintf("topic=%s client_id=%s published=%t received=%t elapsed=%s status=%s",
		r.Topic, r.ClientID, r.Published, r.Received != nil, r.Elapsed.Round(time.Millisecond), status)
}

// SmokeOptions controls PublishChecked.
type SmokeOptions struct {
	QoS           byte
	Retain        bool
	SelfSubscribe bool
	Timeout       time.Duration
}

// PublishChecked connects, optionally subscribes to topic, publishes
// payload and waits for the broker to echo the same bytes back. It checks
// connectivity, credentials and topic ACLs in one go.
func PublishChecked(ctx context.Context, cfg config.MQTTConfig, topic string, payload []byte, opts SmokeOptions) SmokeResult {
	start := time.Now()
	res := SmokeResult{Topic: topic}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := Connect(ctx, cfg, "smoke-test")
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	res.ClientID = client.ID()
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	echo := make(chan []byte, 1)
	if opts.SelfSubscribe {
		client.OnMessage(matchEcho(topic, payload, echo))
		if err := client.Subscribe(ctx, topic, opts.QoS); err != nil {
			res.Err = err
			res.Elapsed = time.Since(start)
			return res
		}
	}

	if err := client.Publish(ctx, topic, payload, opts.QoS, opts.Retain); err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	res.Published = true

	if opts.SelfSubscribe {
		select {
		case got := <-echo:
			res.Received = got
		case <-ctx.Done():
			res.Err = fmt.Errorf("no echo received on %s within %s", topic, opts.Timeout)
		}
	}
	res.Elapsed = time.Since(start)
	return res
}

// matchEcho ignores older retained messages on the same topic and only
// reports the payload this run published.
func matchEcho(topic string, payload []byte, out chan<- []byte) MessageHandler {
	return func(got string, body []byte) {
		if got != topic || !bytes.Equal(body, payload) {
			return
		}
		select {
		case out <- append([]byte(nil), body...):
		default:
		}
	}
}
