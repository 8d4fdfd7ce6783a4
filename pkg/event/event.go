// Package event defines the container status event published by the
// simulator and its JSON wire format.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes start-of-run events from regular status updates.
type Kind string

const (
	KindInit   Kind = "init"
	KindStatus Kind = "status"
)

// Container names one of the three receptacle slots at a location.
type Container string

const (
	Left   Container = "left"
	Center Container = "center"
	Right  Container = "right"
)

// Containers lists the slots in their fixed order.
var Containers = [3]Container{Left, Center, Right}

// Valid reports whether c is one of left, center or right.
func (c Container) Valid() bool {
	return c == Left || c == Center || c == Right
}

// InitTimestep is the timestep index carried by init events.
const InitTimestep = -1

// StatusEvent is the externally observable record of a container's fill
// level at a point in simulated time.
type StatusEvent struct {
	Timestamp     time.Time
	LocationID    string
	Lat           float64
	Lon           float64
	Container     Container
	FillPct       int
	TimestepIndex int
	Kind          Kind
}

// wireEvent is the JSON layout shared with the dashboard and other consumers.
type wireEvent struct {
	TS            string    `json:"ts"`
	LocationID    string    `json:"location_id"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	Container     Container `json:"container"`
	FillPct       int       `json:"fill_pct"`
	TimestepIndex int       `json:"timestep_index"`
	Event         Kind      `json:"event"`
}

// FormatTimestamp renders t in UTC as RFC 3339 with a literal Z suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler using the wire layout.
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		TS:            FormatTimestamp(e.Timestamp),
		LocationID:    e.LocationID,
		Lat:           e.Lat,
		Lon:           e.Lon,
		Container:     e.Container,
		FillPct:       e.FillPct,
		TimestepIndex: e.TimestepIndex,
		Event:         e.Kind,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Errors are *MalformedEventError.
func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	ev, err := Parse(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// Topic returns the broker topic for a container's status:
// <base>/bins/<location_id>/<container>/status.
func Topic(base, locationID string, c Container) string {
	suffix := fmt.Sprintf("bins/%s/%s/status", locationID, c)
	base = strings.TrimRight(base, "/")
	if base == "" {
		return suffix
	}
	return base + "/" + suffix
}

// Topic returns the broker topic for this event under base.
func (e StatusEvent) Topic(base string) string {
	return Topic(base, e.LocationID, e.Container)
}

// SeriesKey identifies a container across events: <location_id>.<container>.
func SeriesKey(locationID string, c Container) string {
	return locationID + "." + string(c)
}
