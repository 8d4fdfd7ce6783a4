// Package dashboard turns status events from the simulator's JSONL log or
// the broker into a terminal view of container fill levels and alerts.
package dashboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// logRecord is the subset of a publish.Record the reader needs. The payload
// stays raw so it goes through the same validation as broker messages.
type logRecord struct {
	Payload json.RawMessage `json:"payload"`
}

// ReadResult is what one incremental read of the log produced.
type ReadResult struct {
	Events []event.StatusEvent
	// Offset is where the next read should start.
	Offset int64
	// Skipped counts non-blank lines that were not valid records.
	Skipped int
}

// ReadLogIncremental parses the records appended to path since offset.
// Only newline-terminated lines are consumed, so a record still being
// written is picked up by the next call. A file shorter than offset was
// truncated by a new run and is read again from the start.
func ReadLogIncremental(path string, offset int64) (ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReadResult{Offset: offset}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ReadResult{Offset: offset}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < offset {
		logrus.WithFields(logrus.Fields{"path": path, "offset": offset, "size": info.Size()}).
			Info("log file truncated, reading from the start")
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ReadResult{Offset: offset}, fmt.Errorf("seek %s: %w", path, err)
	}

	res := ReadResult{Offset: offset}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Partial trailing line: leave it for the next read.
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		res.Offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		ev, ok := parseRecord(line)
		if !ok {
			res.Skipped++
			continue
		}
		res.Events = append(res.Events, ev)
	}
}

func parseRecord(line []byte) (event.StatusEvent, bool) {
	var rec logRecord
	if err := json.Unmarshal(line, &rec); err != nil || len(rec.Payload) == 0 {
		return event.StatusEvent{}, false
	}
	ev, err := event.Parse(rec.Payload)
	if err != nil {
		return event.StatusEvent{}, false
	}
	return ev, true
}

// EventsFromPayloads converts decoded broker payloads, dropping the ones
// that are not valid status events. It returns the number dropped.
func EventsFromPayloads(payloads []map[string]any) ([]event.StatusEvent, int) {
	events := make([]event.StatusEvent, 0, len(payloads))
	skipped := 0
	for _, p := range payloads {
		ev, err := event.FromMap(p)
		if err != nil {
			logrus.WithError(err).Debug("skipping malformed payload")
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}
