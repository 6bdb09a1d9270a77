package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Observer receives manager activity. Calls come from the submitting
// goroutine (OnSubmitted, OnDropped) and from the worker (OnProcessed, OnFailed),
// so implementations must be safe for concurrent use.
type Observer interface {
	// OnSubmitted is called for every Submit, accepted or not.
	OnSubmitted(frameID uint64)

	// OnDropped is called when a frame is rejected because inference is busy.
	OnDropped(frameID uint64)

	// OnProcessed is called when a frame finished with results.
	OnProcessed(frameID uint64, plates int, d time.Duration)

	// OnFailed is called when a frame failed as a whole.
	OnFailed(frameID uint64, err error, d time.Duration)
}

// NoOpObserver implements Observer but does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnSubmitted(uint64)                     {}
func (NoOpObserver) OnDropped(uint64)                       {}
func (NoOpObserver) OnProcessed(uint64, int, time.Duration) {}
func (NoOpObserver) OnFailed(uint64, error, time.Duration)  {}

// LogObserver logs a summary every interval processed frames and every failure.
type LogObserver struct {
	logger   *slog.Logger
	level    slog.Level
	interval int64

	mu        sync.Mutex
	processed int64
	dropped   int64
	plates    int64
	startTime time.Time
}

// NewLogObserver creates a log-based observer.
func NewLogObserver(logger *slog.Logger, level slog.Level) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{
		logger:    logger,
		level:     level,
		interval:  25,
		startTime: time.Now(),
	}
}

// WithInterval sets how often to log (every n processed frames).
func (l *LogObserver) WithInterval(n int) *LogObserver {
	if n > 0 {
		l.interval = int64(n)
	}
	return l
}

func (l *LogObserver) OnSubmitted(uint64) {}

func (l *LogObserver) OnDropped(uint64) {
	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
}

func (l *LogObserver) OnProcessed(frameID uint64, plates int, d time.Duration) {
	l.mu.Lock()
	l.processed++
	l.plates += int64(plates)
	processed, dropped, total := l.processed, l.dropped, l.plates
	elapsed := time.Since(l.startTime)
	l.mu.Unlock()

	if processed%l.interval != 0 {
		return
	}
	l.logger.Log(context.Background(), l.level, "Stream progress",
		"frame_id", frameID,
		"processed", processed,
		"dropped", dropped,
		"plates", total,
		"fps", fmt.Sprintf("%.1f", float64(processed)/elapsed.Seconds()),
		"last_ms", d.Milliseconds(),
	)
}

func (l *LogObserver) OnFailed(frameID uint64, err error, d time.Duration) {
	l.logger.Log(context.Background(), slog.LevelError, "Frame failed",
		"frame_id", frameID, "error", err, "duration_ms", d.Milliseconds())
}

// ConsoleObserver prints a one-line status that is redrawn at most every
// updateInterval.
type ConsoleObserver struct {
	writer         io.Writer
	prefix         string
	updateInterval time.Duration

	mu         sync.Mutex
	lastUpdate time.Time
	startTime  time.Time
	submitted  int64
	processed  int64
	dropped    int64
	failed     int64
	plates     int64
}

// NewConsoleObserver creates a console status reporter.
func NewConsoleObserver(writer io.Writer, prefix string) *ConsoleObserver {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleObserver{
		writer:         writer,
		prefix:         prefix,
		updateInterval: 250 * time.Millisecond,
		startTime:      time.Now(),
	}
}

// WithUpdateInterval sets how frequently the status line is redrawn.
func (c *ConsoleObserver) WithUpdateInterval(interval time.Duration) *ConsoleObserver {
	c.updateInterval = interval
	return c
}

func (c *ConsoleObserver) OnSubmitted(uint64) {
	c.mu.Lock()
	c.submitted++
	c.mu.Unlock()
}

func (c *ConsoleObserver) OnDropped(uint64) {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

func (c *ConsoleObserver) OnProcessed(_ uint64, plates int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++
	c.plates += int64(plates)
	c.draw(time.Now())
}

func (c *ConsoleObserver) OnFailed(frameID uint64, err error, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	_, _ = fmt.Fprintf(c.writer, "\n%sFrame %d failed: %v\n", c.prefix, frameID, err)
}

// Finish prints the final status line.
func (c *ConsoleObserver) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = time.Time{}
	c.draw(time.Now())
	_, _ = fmt.Fprintf(c.writer, "\n%sDone in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleObserver) draw(now time.Time) {
	if !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) < c.updateInterval {
		return
	}
	c.lastUpdate = now

	status := fmt.Sprintf("\r%sframes %d processed %d dropped %d failed %d plates %d",
		c.prefix, c.submitted, c.processed, c.dropped, c.failed, c.plates)
	if elapsed := now.Sub(c.startTime); elapsed > 0 && c.processed > 0 {
		status += fmt.Sprintf(" %.1f fps", float64(c.processed)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.writer, status)
}

// MultiObserver fans out to several observers.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that reports to all of observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

// Add adds another observer. It must not be called while the manager runs.
func (m *MultiObserver) Add(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *MultiObserver) OnSubmitted(id uint64) {
	for _, o := range m.observers {
		o.OnSubmitted(id)
	}
}

func (m *MultiObserver) OnDropped(id uint64) {
	for _, o := range m.observers {
		o.OnDropped(id)
	}
}

func (m *MultiObserver) OnProcessed(id uint64, plates int, d time.Duration) {
	for _, o := range m.observers {
		o.OnProcessed(id, plates, d)
	}
}

func (m *MultiObserver) OnFailed(id uint64, err error, d time.Duration) {
	for _, o := range m.observers {
		o.OnFailed(id, err, d)
	}
}
