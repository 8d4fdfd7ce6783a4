package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MalformedEventError is returned when a payload lacks a required field or
// carries one of the wrong type. Consumers skip such records.
type MalformedEventError struct {
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return "malformed status event: " + e.Reason
	}
	return fmt.Sprintf("malformed status event: %s %s", e.Field, e.Reason)
}

func malformed(field, format string, args ...any) *MalformedEventError {
	return &MalformedEventError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a wire-format JSON object into a StatusEvent.
//
// ts, location_id, container and fill_pct are required. lat and lon default
// to 0, event defaults to "status", and a missing or unreadable
// timestep_index is read as 0. The integer fields also accept fractional
// numbers, truncated toward zero, and decimal strings such as "42".
func Parse(data []byte) (StatusEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return StatusEvent{}, malformed("", "not a JSON object: %v", err)
	}
	if fields == nil {
		return StatusEvent{}, malformed("", "not a JSON object")
	}
	return fromFields(fields)
}

// FromMap converts an already-decoded payload, as delivered by a broker
// listener, into a StatusEvent.
func FromMap(payload map[string]any) (StatusEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return StatusEvent{}, malformed("", "cannot re-encode payload: %v", err)
	}
	return Parse(data)
}

func fromFields(fields map[string]json.RawMessage) (StatusEvent, error) {
	var ev StatusEvent

	var ts string
	if err := required(fields, "ts", &ts); err != nil {
		return ev, err
	}
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return ev, malformed("ts", "%v", err)
	}
	ev.Timestamp = parsed

	if err := required(fields, "location_id", &ev.LocationID); err != nil {
		return ev, err
	}
	if ev.LocationID == "" {
		return ev, malformed("location_id", "is empty")
	}

	var container string
	if err := required(fields, "container", &container); err != nil {
		return ev, err
	}
	ev.Container = Container(container)
	if !ev.Container.Valid() {
		return ev, malformed("container", "has unknown value %q", container)
	}

	raw, ok := fields["fill_pct"]
	if !ok || string(raw) == "null" {
		return ev, malformed("fill_pct", "is missing")
	}
	fill, err := asInt(raw)
	if err != nil {
		return ev, malformed("fill_pct", "%v", err)
	}
	ev.FillPct = fill
	if ev.FillPct < 0 || ev.FillPct > 100 {
		return ev, malformed("fill_pct", "out of range: %d", ev.FillPct)
	}

	if err := optional(fields, "lat", &ev.Lat); err != nil {
		return ev, err
	}
	if err := optional(fields, "lon", &ev.Lon); err != nil {
		return ev, err
	}

	if raw, ok := fields["timestep_index"]; ok {
		if n, err := asInt(raw); err == nil {
			ev.TimestepIndex = n
		}
	}

	var kind string
	if err := optional(fields, "event", &kind); err != nil {
		return ev, err
	}
	ev.Kind = Kind(kind)
	if ev.Kind == "" {
		ev.Kind = KindStatus
	}

	return ev, nil
}

// asInt reads a JSON number or a string holding a decimal integer.
func asInt(raw json.RawMessage) (int, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("is not an integer: %q", s)
		}
		return n, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("has the wrong type: %v", err)
	}
	if math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int(f), nil
}

func required(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return malformed(name, "is missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return malformed(name, "has the wrong type: %v", err)
	}
	return nil
}

func optional(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return malformed(name, "has the wrong type: %v", err)
	}
	return nil
}

// ParseTimestamp accepts the Z-suffixed form produced by FormatTimestamp as
// well as explicit offsets, returning UTC.
func ParseTimestamp(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an RFC 3339 timestamp: %q", value)
	}
	return ts.UTC(), nil
}
