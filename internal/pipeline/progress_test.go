package pipeline

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	callback := NoOpProgressCallback{}
	callback.OnStart(10)
	callback.OnProgress(5, 10)
	callback.OnComplete()
	callback.OnError(3, assert.AnError)
}

func TestBarProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	callback := NewBarProgressCallback(&buf, "registering")

	callback.OnProgress(1, 2) // before start is ignored
	callback.OnStart(4)
	callback.OnProgress(4, 4)
	callback.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "registering")
	assert.Contains(t, out, "4/4")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	callback := NewLogProgressCallback(logger, slog.LevelInfo, 2)

	callback.OnStart(3)
	callback.OnProgress(1, 3)
	assert.NotContains(t, buf.String(), "batch progress")
	callback.OnProgress(2, 3)
	assert.Contains(t, buf.String(), "current=2")
	callback.OnProgress(3, 3)
	callback.OnError(1, assert.AnError)
	callback.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "batch started")
	assert.Contains(t, out, "targets=3")
	assert.Contains(t, out, "current=3")
	assert.Contains(t, out, "target failed")
	assert.Contains(t, out, "batch completed")
}

type recordingCallback struct {
	starts, progress, completes, errors int
	lastCurrent                         int
}

func (r *recordingCallback) OnStart(int) { r.starts++ }
func (r *recordingCallback) OnProgress(current, _ int) {
	r.progress++
	r.lastCurrent = current
}
func (r *recordingCallback) OnComplete()        { r.completes++ }
func (r *recordingCallback) OnError(int, error) { r.errors++ }

func TestMultiProgressCallback(t *testing.T) {
	a, b := &recordingCallback{}, &recordingCallback{}
	multi := NewMultiProgressCallback(a, nil)
	multi.Add(b)
	multi.Add(nil)

	multi.OnStart(2)
	multi.OnProgress(1, 2)
	multi.OnError(0, assert.AnError)
	multi.OnProgress(2, 2)
	multi.OnComplete()

	for _, r := range []*recordingCallback{a, b} {
		assert.Equal(t, 1, r.starts)
		assert.Equal(t, 2, r.progress)
		assert.Equal(t, 2, r.lastCurrent)
		assert.Equal(t, 1, r.errors)
		assert.Equal(t, 1, r.completes)
	}
}
