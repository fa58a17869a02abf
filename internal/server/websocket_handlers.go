package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message types and statuses of the websocket protocol.
const (
	wsTypeRegister = "register"
	wsTypeBatch    = "batch"
	wsTypeOutcome  = "outcome"
	wsTypeError    = "error"

	wsStatusProcessing = "processing"
	wsStatusCompleted  = "completed"
	wsStatusFailed     = "failed"
	wsStatusError      = "error"
)

// WebSocketImage is one encoded image of a request.
type WebSocketImage struct {
	Name  string `json:"name"`
	Image []byte `json:"image"`
}

// WebSocketRegisterRequest registers every target against the reference.
type WebSocketRegisterRequest struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Reference WebSocketImage   `json:"reference"`
	Targets   []WebSocketImage `json:"targets"`
}

// WebSocketResponse is sent once when a batch starts, once per target as it completes,
// and once when the batch is done.
type WebSocketResponse struct {
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id,omitempty"`
	Index     *int              `json:"index,omitempty"`
	Progress  float64           `json:"progress"`
	Total     int               `json:"total,omitempty"`
	Reference *ReferenceSummary `json:"reference,omitempty"`
	Result    *batch.TargetInfo `json:"result,omitempty"`
	Summary   *BatchSummary     `json:"summary,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorType string            `json:"error_type,omitempty"`
}

// BatchSummary closes a websocket batch.
type BatchSummary struct {
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

// WebSocketConnWriter is the part of *websocket.Conn used to send messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// registerWebSocketHandler upgrades the connection and serves register requests until
// the client closes it.
func (s *Server) registerWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("failed to upgrade connection to websocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.log().Info("websocket connection established", "remote_addr", r.RemoteAddr)
	conn.SetReadLimit(s.maxUploadMB * 1024 * 1024)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log().Warn("websocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleWebSocketMessage parses one request and streams its outcomes.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketRegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", common.KindInvalidInput, fmt.Sprintf("failed to parse request: %v", err))
		return
	}
	if req.Type != wsTypeRegister {
		s.sendWebSocketError(conn, req.RequestID, common.KindInvalidInput, "unsupported request type: "+req.Type)
		return
	}
	if req.RequestID == "" {
		req.RequestID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if len(req.Targets) == 0 {
		s.sendWebSocketError(conn, req.RequestID, common.KindInvalidInput, "no targets provided")
		return
	}
	s.processWebSocketBatch(ctx, conn, req)
}

// processWebSocketBatch prepares the reference once and sends one outcome message per
// target. Targets that fail to decode are reported as invalid input in their slot.
func (s *Server) processWebSocketBatch(ctx context.Context, conn WebSocketConnWriter, req WebSocketRegisterRequest) {
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}
	start := time.Now()

	refImg, err := decodeWebSocketImage(req.Reference, "reference")
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, common.ErrorKind(err), err.Error())
		return
	}
	ref, err := s.registrar.Prepare(ctx, refImg)
	if err != nil {
		registrationsTotal.WithLabelValues(sourceWebSocket, common.ErrorKind(err)).Inc()
		s.sendWebSocketError(conn, req.RequestID, common.ErrorKind(err), err.Error())
		return
	}
	keypointsDetected.WithLabelValues("reference").Observe(float64(len(ref.Keypoints)))

	targets := make([]pipeline.Target, len(req.Targets))
	decodeErrs := make([]error, len(req.Targets))
	for i, t := range req.Targets {
		name := t.Name
		if name == "" {
			name = strconv.Itoa(i + 1)
		}
		targets[i].Name = name
		targets[i].Image, decodeErrs[i] = decodeWebSocketImage(t, name)
	}

	refName := req.Reference.Name
	if refName == "" {
		refName = "reference"
	}
	info := batch.NewInfo(s.registrar, ref, refName, len(targets))
	info.Workspace = sourceWebSocket
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      wsTypeBatch,
		Status:    wsStatusProcessing,
		RequestID: req.RequestID,
		Total:     len(targets),
		Reference: &ReferenceSummary{Name: refName, Width: ref.Image.Width, Height: ref.Image.Height, Keypoints: len(ref.Keypoints)},
	})

	done := 0
	s.registrar.RegisterBatch(ctx, ref, targets, func(o pipeline.Outcome) {
		if decodeErrs[o.Index] != nil {
			o.Err, o.Result = decodeErrs[o.Index], nil
		}
		observeOutcome(sourceWebSocket, o)
		ti := batch.NewTargetInfo(o, o.Name)
		info.Targets[o.Index] = ti
		done++

		index := o.Index
		msg := WebSocketResponse{
			Type:      wsTypeOutcome,
			Status:    wsStatusCompleted,
			RequestID: req.RequestID,
			Index:     &index,
			Progress:  float64(done) / float64(len(targets)),
			Total:     len(targets),
			Result:    &ti,
		}
		if o.Err != nil {
			msg.Status = wsStatusFailed
			msg.Error = o.Err.Error()
			msg.ErrorType = ti.ErrorKind
		}
		s.sendWebSocketResponse(conn, msg)
	})

	info.Duration = time.Since(start)
	info.Tally()
	s.record(context.WithoutCancel(ctx), info)

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      wsTypeBatch,
		Status:    wsStatusCompleted,
		RequestID: req.RequestID,
		Progress:  1,
		Total:     len(targets),
		Summary: &BatchSummary{
			Succeeded:  info.Succeeded,
			Failed:     info.Failed,
			DurationMS: info.Duration.Milliseconds(),
		},
	})
}

func decodeWebSocketImage(in WebSocketImage, label string) (*imagebuf.Image, error) {
	if len(in.Image) == 0 {
		return nil, common.NewInvalidInput("server", "no image data for %s", label)
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(in.Image))
	if err != nil {
		return nil, common.NewInvalidInput("server", "decode %s: %v", label, err)
	}
	return imagebuf.FromImage(img), nil
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.log().Error("failed to marshal websocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log().Warn("failed to send websocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      wsTypeError,
		Status:    wsStatusError,
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
