package dashboard

import (
	"sort"
	"sync"
	"time"

	"github.com/sherine-k/simulated-city/pkg/event"
)

const (
	// DefaultThreshold is the fill level that raises an alert.
	DefaultThreshold = 80
	// DefaultWindow is how much simulated time the board keeps.
	DefaultWindow = 7 * 24 * time.Hour
)

// Point is one observed fill level of a series
type Point struct {
	Timestamp     time.Time
	FillPct       int
	TimestepIndex int
	Kind          event.Kind
}

// Reading is the latest known state of one container
type Reading struct {
	Series     string
	LocationID string
	Container  event.Container
	FillPct    int
	Timestamp  time.Time
}

type series struct {
	locationID string
	container  event.Container
	points     []Point
}

type pointKey struct {
	series string
	ts     int64
	fill   int
	kind   event.Kind
}

// Board keeps the fill history of every container seen during the latest
// run. It is safe for concurrent use.
//
// A run starts with init events. An init event newer than the current run
// start, or a fill level that drops, discards everything older: the log may
// span several runs and fill levels only rise within one.
type Board struct {
	mu       sync.RWMutex
	window   time.Duration
	runStart time.Time
	latest   time.Time
	series   map[string]*series
	seen     map[pointKey]struct{}
}

// NewBoard returns an empty board keeping window of simulated time, anchored
// at the newest event. A non-positive window keeps everything.
func NewBoard(window time.Duration) *Board {
	b := &Board{window: window}
	b.reset(time.Time{})
	return b
}

func (b *Board) reset(runStart time.Time) {
	b.runStart = runStart
	b.latest = time.Time{}
	b.series = make(map[string]*series)
	b.seen = make(map[pointKey]struct{})
}

// Apply records events and returns the ones that were new. Duplicates and
// events from an earlier run are ignored.
func (b *Board) Apply(events ...event.StatusEvent) []event.StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []event.StatusEvent
	for _, ev := range events {
		if b.apply(ev) {
			added = append(added, ev)
		}
	}
	b.prune()
	return added
}

func (b *Board) apply(ev event.StatusEvent) bool {
	ts := ev.Timestamp.UTC()
	if ev.Kind == event.KindInit && ts.After(b.runStart) {
		b.reset(ts)
	}
	if ts.Before(b.runStart) {
		return false
	}

	key := event.SeriesKey(ev.LocationID, ev.Container)
	pk := pointKey{series: key, ts: ts.UnixNano(), fill: ev.FillPct, kind: ev.Kind}
	if _, dup := b.seen[pk]; dup {
		return false
	}

	s, ok := b.series[key]
	if ok && ev.Kind != event.KindInit {
		if last := s.points[len(s.points)-1]; !ts.Before(last.Timestamp) && ev.FillPct < last.FillPct {
			// Emptied bins without an init marker mean a new run.
			b.reset(ts)
			ok = false
		}
	}
	if !ok {
		s = &series{locationID: ev.LocationID, container: ev.Container}
		b.series[key] = s
	}

	p := Point{Timestamp: ts, FillPct: ev.FillPct, TimestepIndex: ev.TimestepIndex, Kind: ev.Kind}
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp.After(ts) })
	s.points = append(s.points, Point{})
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = p

	b.seen[pk] = struct{}{}
	if ts.After(b.latest) {
		b.latest = ts
	}
	return true
}

// prune drops points older than the window but keeps the last one before
// the cutoff so each series still has a starting value.
func (b *Board) prune() {
	if b.window <= 0 || b.latest.IsZero() {
		return
	}
	cutoff := b.latest.Add(-b.window)
	for _, s := range b.series {
		i := sort.Search(len(s.points), func(i int) bool { return !s.points[i].Timestamp.Before(cutoff) })
		if i > 1 {
			s.points = append(s.points[:0], s.points[i-1:]...)
		}
	}
}

// Latest returns the newest reading of every series, sorted by series key.
func (b *Board) Latest() []Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Reading, 0, len(b.series))
	for key, s := range b.series {
		last := s.points[len(s.points)-1]
		out = append(out, Reading{
			Series:     key,
			LocationID: s.locationID,
			Container:  s.container,
			FillPct:    last.FillPct,
			Timestamp:  last.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Series < out[j].Series })
	return out
}

// Alerts returns the latest readings at or above threshold percent.
func (b *Board) Alerts(threshold int) []Reading {
	var out []Reading
	for _, r := range b.Latest() {
		if r.FillPct >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// History returns a copy of the points of one series, oldest first.
func (b *Board) History(key string) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.series[key]
	if !ok {
		return nil
	}
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// RunStart is the timestamp of the init events of the run being shown.
func (b *Board) RunStart() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runStart
}
