package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/version"
	"github.com/blacksoil/HomographyAnalyzer/internal/visualize"
)

const (
	formatJSON = "json"
	formatPNG  = "png"

	artifactWarped         = "warped"
	artifactKeypoints      = "keypoints"
	artifactCorrespondence = "correspondence"
)

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// healthHandler reports liveness, the build version and the effective pipeline setup.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.String(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.registrar != nil {
		response.Config = s.registrar.Info()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// registerHandler aligns the multipart "target" image onto the "reference" image.
// format=json (default) answers with the pair summary; format=png answers with the
// artifact named by artifact=warped|keypoints|correspondence.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", common.KindInvalidInput, http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", common.KindInvalidInput, http.StatusBadRequest)
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	format := formValue(r, "format", formatJSON)
	if format != formatJSON && format != formatPNG {
		s.writeErrorResponse(w, "unsupported format "+format, common.KindInvalidInput, http.StatusBadRequest)
		return
	}
	artifact := formValue(r, "artifact", artifactWarped)
	switch artifact {
	case artifactWarped, artifactKeypoints, artifactCorrespondence:
	default:
		s.writeErrorResponse(w, "unsupported artifact "+artifact, common.KindInvalidInput, http.StatusBadRequest)
		return
	}

	if s.registrar == nil {
		s.writeErrorResponse(w, "registration pipeline not initialized", common.KindInternal, http.StatusInternalServerError)
		return
	}

	refImg, refName, err := readImage(r, "reference")
	if err != nil {
		s.writeErrorResponse(w, err.Error(), common.KindInvalidInput, http.StatusBadRequest)
		return
	}
	tgtImg, tgtName, err := readImage(r, "target")
	if err != nil {
		s.writeErrorResponse(w, err.Error(), common.KindInvalidInput, http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	start := time.Now()

	ref, err := s.registrar.Prepare(ctx, refImg)
	if err != nil {
		registrationsTotal.WithLabelValues(sourceHTTP, common.ErrorKind(err)).Inc()
		s.writeErrorResponse(w, err.Error(), common.ErrorKind(err), statusForError(err))
		return
	}
	keypointsDetected.WithLabelValues("reference").Observe(float64(len(ref.Keypoints)))

	res, err := s.registrar.Register(ctx, ref, tgtImg, tgtName)
	o := pipeline.Outcome{Name: tgtName, Result: res, Err: err}
	observeOutcome(sourceHTTP, o)

	ti := batch.NewTargetInfo(o, tgtName)
	info := batch.NewInfo(s.registrar, ref, refName, 1)
	info.Workspace = sourceHTTP
	info.Targets[0] = ti
	info.Duration = time.Since(start)
	info.Tally()
	s.record(context.WithoutCancel(ctx), info)

	summary := &ReferenceSummary{Name: refName, Width: ref.Image.Width, Height: ref.Image.Height, Keypoints: len(ref.Keypoints)}
	if err != nil {
		s.writeJSON(w, statusForError(err), RegisterResponse{
			Success:   false,
			Reference: summary,
			Result:    &ti,
			Error:     err.Error(),
			ErrorKind: ti.ErrorKind,
		})
		return
	}

	if format == formatPNG {
		img, err := renderArtifact(artifact, ref, res)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), common.ErrorKind(err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, img); err != nil {
			s.log().Error("failed to encode artifact", "artifact", artifact, "error", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, RegisterResponse{Success: true, Reference: summary, Result: &ti})
}

// formValue reads key from the form, then the query, falling back to def.
func formValue(r *http.Request, key, def string) string {
	v := r.FormValue(key)
	if v == "" {
		v = r.URL.Query().Get(key)
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

// readImage decodes the multipart file field. The name is the upload's base name
// without extension, or the field name.
func readImage(r *http.Request, field string) (*imagebuf.Image, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", common.NewInvalidInput("server", "no %s image provided", field)
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	img, _, err := utils.DecodeImage(file)
	if err != nil {
		return nil, "", common.NewInvalidInput("server", "decode %s image: %v", field, err)
	}

	name := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	if name == "" || name == "." {
		name = field
	}
	return imagebuf.FromImage(img), name, nil
}

// requestContext bounds a registration by the configured timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec > 0 {
		return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	}
	return context.WithCancel(r.Context())
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch common.ErrorKind(err) {
	case common.KindInvalidInput:
		return http.StatusBadRequest
	case common.KindInsufficientData, common.KindInsufficientCorrespondences,
		common.KindEstimationFailure, common.KindInvalidTransform:
		return http.StatusUnprocessableEntity
	case common.KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// renderArtifact draws one of the pair images. res must hold an estimate.
func renderArtifact(artifact string, ref *pipeline.Reference, res *pipeline.PairResult) (image.Image, error) {
	switch artifact {
	case artifactKeypoints:
		return visualize.Keypoints(res.Target, res.Keypoints)
	case artifactCorrespondence:
		return visualize.Correspondences(ref.Image, res.Target, ref.Keypoints, res.Keypoints,
			res.Correspondences, res.InlierMask())
	default:
		return res.Warped.ToImage(), nil
	}
}

// record persists info through the recorder. Failures are logged only.
func (s *Server) record(ctx context.Context, info *batch.Info) {
	if s.recorder == nil {
		return
	}
	runID, err := s.recorder.BeginRun(ctx, info)
	if err != nil {
		s.log().Warn("recording run failed", "error", err)
		return
	}
	for _, t := range info.Targets {
		if err := s.recorder.RecordPair(ctx, runID, t); err != nil {
			s.log().Warn("recording pair failed", "target", t.Name, "error", err)
		}
	}
	if err := s.recorder.FinishRun(ctx, runID, info); err != nil {
		s.log().Warn("finishing run record failed", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, kind string, statusCode int) {
	s.writeJSON(w, statusCode, RegisterResponse{Success: false, Error: message, ErrorKind: kind})
}
