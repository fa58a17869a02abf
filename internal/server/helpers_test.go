package server

import (
	"bytes"
	"context"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/logging"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

type fakeRecorder struct {
	mu    sync.Mutex
	runs  int
	pairs []batch.TargetInfo
	final *batch.Info
}

func (f *fakeRecorder) BeginRun(context.Context, *batch.Info) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return int64(f.runs), nil
}

func (f *fakeRecorder) RecordPair(_ context.Context, _ int64, t batch.TargetInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, t)
	return nil
}

func (f *fakeRecorder) FinishRun(_ context.Context, _ int64, info *batch.Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.final = info
	return nil
}

func testConfig() Config {
	pc := pipeline.DefaultConfig()
	pc.Homography.Seed = 1
	pc.Parallel.MaxWorkers = 2
	return Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  30,
		Pipeline:    pc,
		Logger:      logging.Discard(),
	}
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func encodePNG(t *testing.T, img *imagebuf.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img.ToImage()))
	return buf.Bytes()
}

func shifted(t *testing.T, src *imagebuf.Image, dx, dy float64) *imagebuf.Image {
	t.Helper()
	w, err := warp.New(warp.DefaultOptions(), nil)
	require.NoError(t, err)
	out, err := w.Warp(src, homography.Matrix{1, 0, dx, 0, 1, dy, 0, 0, 1}, src.Width, src.Height)
	require.NoError(t, err)
	return out
}

// scenePair returns an encoded reference and a target shifted by (6, 4).
func scenePair(t *testing.T) (ref, target []byte) {
	t.Helper()
	scene := testutil.TexturedScene(testutil.MediumSize.Width, testutil.MediumSize.Height, 3)
	return encodePNG(t, scene), encodePNG(t, shifted(t, scene, 6, 4))
}

type upload struct {
	field    string
	filename string
	data     []byte
}

// newMultipartRequest builds a POST /register request with the given files and fields.
func newMultipartRequest(t *testing.T, uploads []upload, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, u := range uploads {
		part, err := writer.CreateFormFile(u.field, u.filename)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/register", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
