package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/event"
)

// DefaultInterval is how often the watcher refreshes.
const DefaultInterval = time.Second

// maxRecent bounds the events kept for the summary and timeline.
const maxRecent = 5000

// Source yields the status events that arrived since the last poll
type Source interface {
	Poll() ([]event.StatusEvent, error)
}

// LogSource tails the JSONL log written by the simulator.
type LogSource struct {
	path    string
	offset  int64
	missing bool
}

// NewLogSource returns a source reading path from the beginning.
func NewLogSource(path string) *LogSource {
	return &LogSource{path: path}
}

// Poll reads the records appended since the previous call. A missing file
// is reported once and yields no events until it appears.
func (s *LogSource) Poll() ([]event.StatusEvent, error) {
	res, err := ReadLogIncremental(s.path, s.offset)
	if errors.Is(err, fs.ErrNotExist) {
		if !s.missing {
			logrus.WithField("path", s.path).Warn("log file not found, waiting for it")
			s.missing = true
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.missing = false
	s.offset = res.Offset
	if res.Skipped > 0 {
		logrus.WithFields(logrus.Fields{"path": s.path, "skipped": res.Skipped}).Debug("skipped malformed log lines")
	}
	return res.Events, nil
}

// Drainer hands out queued broker payloads; *mqtt.Listener implements it.
type Drainer interface {
	Drain(max int) []map[string]any
}

// QueueSource converts the payloads queued by a broker listener.
type QueueSource struct {
	queue Drainer
	max   int
}

// NewQueueSource drains at most max payloads per poll.
func NewQueueSource(q Drainer, max int) *QueueSource {
	if max <= 0 {
		max = maxRecent
	}
	return &QueueSource{queue: q, max: max}
}

func (s *QueueSource) Poll() ([]event.StatusEvent, error) {
	events, _ := EventsFromPayloads(s.queue.Drain(s.max))
	return events, nil
}

// WatchOptions configures a Watcher
type WatchOptions struct {
	Interval  time.Duration
	Threshold int
	// Timeline is the number of recent events listed; 0 hides the timeline.
	Timeline int
	// History selects series whose fill history is plotted.
	History []string
	// Clear redraws in place using ANSI escapes.
	Clear bool
	Out   io.Writer
}

// Watcher periodically polls its sources into a Board and redraws.
type Watcher struct {
	board   *Board
	sources []Source
	gen     *Generator
	opts    WatchOptions

	mu     sync.Mutex
	recent []event.StatusEvent
}

// NewWatcher creates a watcher drawing board from sources
func NewWatcher(board *Board, opts WatchOptions, sources ...Source) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Watcher{
		board:   board,
		sources: sources,
		gen:     NewGenerator(),
		opts:    opts,
	}
}

// Refresh polls every source once and redraws. A failing source is logged
// and does not stop the others.
func (w *Watcher) Refresh() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, src := range w.sources {
		events, err := src.Poll()
		if err != nil {
			logrus.WithError(err).Warn("dashboard source failed")
			errs = append(errs, err)
			continue
		}
		if len(events) == 0 {
			continue
		}
		w.remember(w.board.Apply(events...))
	}

	_, err := io.WriteString(w.opts.Out, w.render())
	errs = append(errs, err)
	return errors.Join(errs...)
}

func (w *Watcher) remember(events []event.StatusEvent) {
	// Events from before the board's run start belong to a previous run.
	start := w.board.RunStart()
	kept := w.recent[:0]
	for _, ev := range append(w.recent, events...) {
		if !ev.Timestamp.Before(start) {
			kept = append(kept, ev)
		}
	}
	w.recent = kept
	if over := len(w.recent) - maxRecent; over > 0 {
		w.recent = append(w.recent[:0], w.recent[over:]...)
	}
}

func (w *Watcher) render() string {
	var sb strings.Builder
	if w.opts.Clear {
		sb.WriteString("\033[H\033[2J")
	}

	sb.WriteString(w.gen.GenerateFillChart(w.board.Latest(), w.opts.Threshold))
	for _, key := range w.opts.History {
		sb.WriteString(w.gen.GenerateHistoryChart(key, w.board.History(key)))
	}
	sb.WriteString(w.gen.GenerateAlerts(w.board.Alerts(w.opts.Threshold), w.opts.Threshold))
	if w.opts.Timeline > 0 {
		sb.WriteString(w.gen.GenerateEventSummary(w.recent))
		sb.WriteString(w.gen.GenerateDetailedTimeline(w.recent, w.opts.Timeline))
	}
	return sb.String()
}

// Run refreshes immediately and then on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", w.opts.Interval)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if err := w.Refresh(); err != nil {
			logrus.WithError(err).Debug("refresh incomplete")
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh interval %q: %w", w.opts.Interval, err)
	}

	if err := w.Refresh(); err != nil {
		logrus.WithError(err).Debug("refresh incomplete")
	}

	logrus.WithField("interval", w.opts.Interval).Info("dashboard running")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
