package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressCallback reports batch progress. Calls are serialized by the batch runner.
type ProgressCallback interface {
	// OnStart is called once with the number of targets.
	OnStart(total int)
	// OnProgress is called after each target finishes, successfully or not.
	OnProgress(current, total int)
	// OnComplete is called once when the batch ends.
	OnComplete()
	// OnError is called for every failed target with its input index.
	OnError(index int, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(_, _ int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// BarProgressCallback renders a terminal progress bar.
type BarProgressCallback struct {
	writer      io.Writer
	description string
	mu          sync.Mutex
	bar         *progressbar.ProgressBar
}

// NewBarProgressCallback draws to writer, or stderr when writer is nil.
func NewBarProgressCallback(writer io.Writer, description string) *BarProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &BarProgressCallback{writer: writer, description: description}
}

func (b *BarProgressCallback) OnStart(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(b.description),
		progressbar.OptionSetWriter(b.writer),
		progressbar.OptionShowCount(),
	)
}

func (b *BarProgressCallback) OnProgress(current, _ int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Set(current)
	}
}

func (b *BarProgressCallback) OnComplete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		_, _ = io.WriteString(b.writer, "\n")
	}
}

func (b *BarProgressCallback) OnError(int, error) {}

// LogProgressCallback logs progress updates using slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs at level every interval targets (and at the last one).
func NewLogProgressCallback(logger *slog.Logger, level slog.Level, interval int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: max(1, interval)}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "batch started", "targets", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(context.Background(), l.level, "batch progress",
		"current", current,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "batch completed", "elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(index int, err error) {
	l.logger.Warn("target failed", "index", index, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback skips nil callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	m := &MultiProgressCallback{}
	for _, cb := range callbacks {
		m.Add(cb)
	}
	return m
}

// Add adds another progress callback.
func (m *MultiProgressCallback) Add(callback ProgressCallback) {
	if callback != nil {
		m.callbacks = append(m.callbacks, callback)
	}
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnProgress(current, total int) {
	for _, cb := range m.callbacks {
		cb.OnProgress(current, total)
	}
}

func (m *MultiProgressCallback) OnComplete() {
	for _, cb := range m.callbacks {
		cb.OnComplete()
	}
}

func (m *MultiProgressCallback) OnError(index int, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(index, err)
	}
}
