package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// AppendLog writes one {"topic":..., "payload":...} JSON object per line
// and flushes after every event so a tailing dashboard sees it at once.
// Any write failure is fatal to the run.
type AppendLog struct {
	mu        sync.Mutex
	w         *bufio.Writer
	closer    io.Closer
	baseTopic string
	closed    bool
}

// NewAppendLog wraps w. If w is also an io.Closer it is closed by Close.
func NewAppendLog(w io.Writer, baseTopic string) *AppendLog {
	l := &AppendLog{w: bufio.NewWriter(w), baseTopic: baseTopic}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// OpenAppendLog creates (or truncates) path so that one file holds exactly
// one run; appended runs would show up as fill decreases on a dashboard.
func OpenAppendLog(path, baseTopic string) (*AppendLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &TransportError{Sink: SinkLog, Fatal: true, Err: fmt.Errorf("open %s: %w", path, err)}
	}
	return NewAppendLog(f, baseTopic), nil
}

// Publish appends the event and flushes.
func (l *AppendLog) Publish(_ context.Context, ev event.StatusEvent) error {
	line, err := json.Marshal(Record{Topic: ev.Topic(l.baseTopic), Payload: ev})
	if err != nil {
		return &TransportError{Sink: SinkLog, Fatal: true, Err: err}
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return &TransportError{Sink: SinkLog, Fatal: true, Err: os.ErrClosed}
	}
	if _, err := l.w.Write(line); err != nil {
		return &TransportError{Sink: SinkLog, Fatal: true, Err: err}
	}
	if err := l.w.Flush(); err != nil {
		return &TransportError{Sink: SinkLog, Fatal: true, Err: err}
	}
	return nil
}

// Close flushes buffered data and closes the underlying file.
func (l *AppendLog) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	err := l.w.Flush()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return &TransportError{Sink: SinkLog, Fatal: true, Err: err}
	}
	return nil
}
