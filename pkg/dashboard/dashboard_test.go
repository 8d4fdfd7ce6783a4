package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherine-k/simulated-city/pkg/event"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	os.Exit(m.Run())
}

var runStart = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func ev(loc string, c event.Container, fill, step int, kind event.Kind) event.StatusEvent {
	ts := runStart
	if step >= 0 {
		ts = runStart.Add(time.Duration(step) * 15 * time.Minute)
	}
	return event.StatusEvent{
		Timestamp:     ts,
		LocationID:    loc,
		Lat:           55.68,
		Lon:           12.57,
		Container:     c,
		FillPct:       fill,
		TimestepIndex: step,
		Kind:          kind,
	}
}

func initEvents(loc string) []event.StatusEvent {
	var out []event.StatusEvent
	for _, c := range event.Containers {
		out = append(out, ev(loc, c, 0, event.InitTimestep, event.KindInit))
	}
	return out
}

func logLine(t *testing.T, e event.StatusEvent) string {
	t.Helper()
	data, err := json.Marshal(struct {
		Topic   string            `json:"topic"`
		Payload event.StatusEvent `json:"payload"`
	}{e.Topic("simulated-city"), e})
	require.NoError(t, err)
	return string(data) + "\n"
}

func writeFile(t *testing.T, path, content string, flag int) {
	t.Helper()
	f, err := os.OpenFile(path, flag|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestReadLogIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	first := logLine(t, ev("a", event.Left, 0, -1, event.KindInit)) +
		"\n" +
		"not json\n" +
		`{"topic":"x","payload":"string"}` + "\n" +
		`{"topic":"x","payload":{"ts":"2025-03-01T08:00:00Z","location_id":"a","container":"bottom","fill_pct":1}}` + "\n" +
		logLine(t, ev("a", event.Left, 10, 4, event.KindStatus))
	writeFile(t, path, first, os.O_TRUNC)

	res, err := ReadLogIncremental(path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, event.KindInit, res.Events[0].Kind)
	assert.Equal(t, 10, res.Events[1].FillPct)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, int64(len(first)), res.Offset)

	again, err := ReadLogIncremental(path, res.Offset)
	require.NoError(t, err)
	assert.Empty(t, again.Events)
	assert.Equal(t, res.Offset, again.Offset)

	// A partial line is left for the next read.
	line := logLine(t, ev("a", event.Right, 20, 9, event.KindStatus))
	writeFile(t, path, line[:10], os.O_APPEND)
	partial, err := ReadLogIncremental(path, res.Offset)
	require.NoError(t, err)
	assert.Empty(t, partial.Events)
	assert.Equal(t, res.Offset, partial.Offset)

	writeFile(t, path, line[10:], os.O_APPEND)
	rest, err := ReadLogIncremental(path, partial.Offset)
	require.NoError(t, err)
	require.Len(t, rest.Events, 1)
	assert.Equal(t, event.Right, rest.Events[0].Container)
}

func TestReadLogIncremental_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeFile(t, path, logLine(t, ev("a", event.Left, 0, -1, event.KindInit)), os.O_TRUNC)

	res, err := ReadLogIncremental(path, 10_000)
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}

func TestReadLogIncremental_Missing(t *testing.T) {
	_, err := ReadLogIncremental(filepath.Join(t.TempDir(), "nope.jsonl"), 0)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEventsFromPayloads(t *testing.T) {
	payloads := []map[string]any{
		{"ts": "2025-03-01T08:00:00Z", "location_id": "a", "container": "left", "fill_pct": 30.0, "timestep_index": "x"},
		{"ts": "2025-03-01T08:00:00Z", "location_id": "a", "container": "left"},
		{"location_id": "a", "container": "left", "fill_pct": 30.0},
	}
	events, skipped := EventsFromPayloads(payloads)
	require.Len(t, events, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, 30, events[0].FillPct)
	assert.Equal(t, 0, events[0].TimestepIndex)
	assert.Equal(t, event.KindStatus, events[0].Kind)
}

func TestBoard_LatestAndAlerts(t *testing.T) {
	b := NewBoard(DefaultWindow)
	b.Apply(initEvents("b")...)
	b.Apply(initEvents("a")...)
	b.Apply(
		ev("a", event.Center, 50, 3, event.KindStatus),
		ev("a", event.Center, 90, 20, event.KindStatus),
		ev("b", event.Left, 80, 25, event.KindStatus),
	)

	latest := b.Latest()
	require.Len(t, latest, 6)
	assert.Equal(t, "a.center", latest[0].Series)
	assert.Equal(t, 90, latest[0].FillPct)
	assert.Equal(t, "b.right", latest[5].Series)

	alerts := b.Alerts(DefaultThreshold)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a.center", alerts[0].Series)
	assert.Equal(t, "b.left", alerts[1].Series)
	assert.Len(t, b.Alerts(95), 0)

	hist := b.History("a.center")
	require.Len(t, hist, 3)
	assert.Equal(t, []int{0, 50, 90}, []int{hist[0].FillPct, hist[1].FillPct, hist[2].FillPct})
	assert.Nil(t, b.History("zzz.left"))
}

func TestBoard_Deduplicates(t *testing.T) {
	b := NewBoard(0)
	status := ev("a", event.Left, 20, 5, event.KindStatus)
	added := b.Apply(append(initEvents("a"), status, status)...)
	assert.Len(t, added, 4)
	assert.Empty(t, b.Apply(status))
	assert.Len(t, b.History("a.left"), 2)
}

func TestBoard_OutOfOrderEventsAreSorted(t *testing.T) {
	b := NewBoard(0)
	b.Apply(initEvents("a")...)
	b.Apply(ev("a", event.Left, 30, 9, event.KindStatus), ev("a", event.Left, 10, 2, event.KindStatus))

	hist := b.History("a.left")
	require.Len(t, hist, 3)
	assert.Equal(t, 10, hist[1].FillPct)
	assert.Equal(t, 30, hist[2].FillPct)
	assert.Equal(t, 30, b.Latest()[1].FillPct)
}

func TestBoard_NewRunReplacesOld(t *testing.T) {
	b := NewBoard(0)
	b.Apply(initEvents("old")...)
	b.Apply(ev("old", event.Left, 60, 3, event.KindStatus))

	next := runStart.Add(24 * time.Hour)
	var fresh []event.StatusEvent
	for _, e := range initEvents("new") {
		e.Timestamp = next
		fresh = append(fresh, e)
	}
	b.Apply(fresh...)

	assert.Equal(t, next, b.RunStart())
	for _, r := range b.Latest() {
		assert.Equal(t, "new", r.LocationID)
	}

	// A straggler from the previous run is ignored.
	assert.Empty(t, b.Apply(ev("old", event.Left, 70, 4, event.KindStatus)))
}

func TestBoard_FillDropStartsNewRun(t *testing.T) {
	b := NewBoard(0)
	b.Apply(ev("a", event.Left, 40, 1, event.KindStatus), ev("a", event.Right, 40, 1, event.KindStatus))
	b.Apply(ev("a", event.Left, 10, 2, event.KindStatus))

	latest := b.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, 10, latest[0].FillPct)
}

func TestBoard_WindowKeepsBaseline(t *testing.T) {
	b := NewBoard(time.Hour)
	b.Apply(initEvents("a")...)
	for step := 1; step <= 12; step++ {
		b.Apply(ev("a", event.Left, step*2, step, event.KindStatus))
	}

	hist := b.History("a.left")
	// Latest is step 12 (3h after start): the window covers steps 8..12
	// plus the step-7 baseline.
	require.Len(t, hist, 6)
	assert.Equal(t, 7, hist[0].TimestepIndex)
	assert.Equal(t, 12, hist[len(hist)-1].TimestepIndex)

	// Untouched series keep their single init point.
	assert.Len(t, b.History("a.right"), 1)
}

func TestGenerator_FillChart(t *testing.T) {
	g := NewGenerator()
	assert.Contains(t, g.GenerateFillChart(nil, 80), "No status events yet")

	out := g.GenerateFillChart([]Reading{
		{Series: "a.left", FillPct: 85},
		{Series: "a.right", FillPct: 10},
	}, 80)
	lines := strings.Split(out, "\n")

	var left, right string
	for _, l := range lines {
		if strings.HasPrefix(l, "a.left") {
			left = l
		}
		if strings.HasPrefix(l, "a.right") {
			right = l
		}
	}
	require.NotEmpty(t, left)
	require.NotEmpty(t, right)
	assert.True(t, strings.HasSuffix(left, " 85% !"), left)
	assert.True(t, strings.HasSuffix(right, " 10%  "), right)
	assert.Contains(t, right, "|", "threshold marker visible on an unfilled bar")
	assert.NotContains(t, left, "|")
}

func TestGenerator_HistoryChart(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t, "No data to display", g.GenerateHistoryChart("a.left", nil))

	out := g.GenerateHistoryChart("a.left", []Point{
		{Timestamp: runStart, FillPct: 0},
		{Timestamp: runStart.Add(time.Hour), FillPct: 50},
		{Timestamp: runStart.Add(2 * time.Hour), FillPct: 100},
	})
	assert.Contains(t, out, "Fill History: a.left")
	assert.Contains(t, out, "100 |")
	assert.Contains(t, out, " 10 |")
	assert.Contains(t, out, "+2h0m")

	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(l, "100 |") {
			assert.True(t, strings.HasSuffix(l, "█"), "full at the end")
			assert.Equal(t, ' ', []rune(l)[5], "empty at the start")
		}
	}
}

func TestGenerator_AlertsSummaryTimeline(t *testing.T) {
	g := NewGenerator()
	assert.Contains(t, g.GenerateAlerts(nil, 80), "All containers are below the alert threshold.")

	alerts := g.GenerateAlerts([]Reading{{Series: "a.left", FillPct: 90, Timestamp: runStart}}, 80)
	assert.Contains(t, alerts, "ALERT: Containers at or above 80%: a.left=90%")
	assert.Contains(t, alerts, "Total Alerts: 1")

	events := append(initEvents("a"), ev("a", event.Left, 10, 4, event.KindStatus))
	summary := g.GenerateEventSummary(events)
	assert.Contains(t, summary, "Total Events: 4")
	assert.Contains(t, summary, "  - Init: 3")
	assert.Contains(t, summary, "  - Status: 1")
	assert.Contains(t, summary, "  - Containers: 3")

	timeline := g.GenerateDetailedTimeline(events, 2)
	assert.Contains(t, timeline, "(showing last 2 events)")
	assert.Contains(t, timeline, "... 2 earlier events")
	assert.Contains(t, timeline, "S t=4      a.left 10%")
	assert.NotContains(t, timeline, "a.left 0%")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "15m", FormatDuration(15*time.Minute))
	assert.Equal(t, "2h30m", FormatDuration(150*time.Minute))
	assert.Equal(t, "3d4h", FormatDuration(76*time.Hour))
}

type fakeQueue struct{ batches [][]map[string]any }

func (f *fakeQueue) Drain(max int) []map[string]any {
	if len(f.batches) == 0 {
		return nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	if len(b) > max {
		b = b[:max]
	}
	return b
}

func payload(e event.StatusEvent) map[string]any {
	data, _ := json.Marshal(e)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func TestWatcher_RefreshFromLogAndQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	var out bytes.Buffer

	q := &fakeQueue{batches: [][]map[string]any{{
		payload(ev("q", event.Right, 0, -1, event.KindInit)),
		{"garbage": true},
	}}}

	board := NewBoard(DefaultWindow)
	w := NewWatcher(board, WatchOptions{Timeline: 10, History: []string{"a.left"}, Out: &out},
		NewLogSource(path), NewQueueSource(q, 0))

	// Missing file is not an error.
	require.NoError(t, w.Refresh())
	assert.Contains(t, out.String(), "q.right")

	var content string
	for _, e := range initEvents("a") {
		content += logLine(t, e)
	}
	content += logLine(t, ev("a", event.Left, 84, 30, event.KindStatus))
	writeFile(t, path, content, os.O_TRUNC)

	out.Reset()
	require.NoError(t, w.Refresh())
	text := out.String()
	assert.Contains(t, text, "a.left")
	assert.Contains(t, text, "ALERT: Containers at or above 80%: a.left=84%")
	assert.Contains(t, text, "Fill History: a.left")
	assert.Contains(t, text, "Detailed Timeline")

	// Nothing new: same board.
	out.Reset()
	require.NoError(t, w.Refresh())
	assert.Len(t, board.History("a.left"), 2)
}

type failingSource struct{}

func (failingSource) Poll() ([]event.StatusEvent, error) { return nil, errors.New("boom") }

type staticSource struct{ events []event.StatusEvent }

func (s *staticSource) Poll() ([]event.StatusEvent, error) {
	out := s.events
	s.events = nil
	return out, nil
}

func TestWatcher_FailingSourceDoesNotBlockOthers(t *testing.T) {
	var out bytes.Buffer
	board := NewBoard(0)
	w := NewWatcher(board, WatchOptions{Out: &out}, failingSource{}, &staticSource{events: initEvents("a")})

	err := w.Refresh()
	assert.ErrorContains(t, err, "boom")
	assert.Len(t, board.Latest(), 3)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	var out bytes.Buffer
	board := NewBoard(0)
	w := NewWatcher(board, WatchOptions{Interval: time.Second, Out: &out}, &staticSource{events: initEvents("a")})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Contains(t, out.String(), "a.center")
}
