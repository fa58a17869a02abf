package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/common"
)

// mockWebSocketConn records the messages written to it.
type mockWebSocketConn struct {
	sent []WebSocketResponse
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	var resp WebSocketResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	m.sent = append(m.sent, resp)
	return nil
}

func TestServer_HandleWebSocketMessage_Errors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "invalid json", payload: "{", wantErr: "failed to parse request"},
		{name: "unsupported type", payload: `{"type":"ocr"}`, wantErr: "unsupported request type: ocr"},
		{name: "no targets", payload: `{"type":"register","request_id":"r1"}`, wantErr: "no targets provided"},
		{name: "missing reference", payload: `{"type":"register","targets":[{"name":"a","image":"AAAA"}]}`, wantErr: "no image data for reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			server.handleWebSocketMessage(context.Background(), conn, []byte(tt.payload))

			require.Len(t, conn.sent, 1)
			msg := conn.sent[0]
			assert.Equal(t, wsTypeError, msg.Type)
			assert.Equal(t, wsStatusError, msg.Status)
			assert.Equal(t, common.KindInvalidInput, msg.ErrorType)
			assert.Contains(t, msg.Error, tt.wantErr)
		})
	}
}

func TestServer_HandleWebSocketMessage_Batch(t *testing.T) {
	recorder := &fakeRecorder{}
	server := newTestServer(t, func(c *Config) { c.Recorder = recorder })
	ref, target := scenePair(t)

	req := WebSocketRegisterRequest{
		Type:      wsTypeRegister,
		RequestID: "req-1",
		Reference: WebSocketImage{Name: "REFERENCE", Image: ref},
		Targets: []WebSocketImage{
			{Name: "shifted", Image: target},
			{Name: "corrupt", Image: []byte("garbage")},
		},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	conn := &mockWebSocketConn{}
	server.handleWebSocketMessage(context.Background(), conn, data)

	// start + one per target + done
	require.Len(t, conn.sent, 4)
	start, done := conn.sent[0], conn.sent[3]
	assert.Equal(t, wsTypeBatch, start.Type)
	assert.Equal(t, wsStatusProcessing, start.Status)
	assert.Equal(t, 2, start.Total)
	require.NotNil(t, start.Reference)
	assert.Positive(t, start.Reference.Keypoints)

	outcomes := map[string]WebSocketResponse{}
	for _, msg := range conn.sent[1:3] {
		assert.Equal(t, wsTypeOutcome, msg.Type)
		assert.Equal(t, "req-1", msg.RequestID)
		require.NotNil(t, msg.Index)
		require.NotNil(t, msg.Result)
		outcomes[msg.Result.Name] = msg
	}
	require.Len(t, outcomes, 2)

	ok := outcomes["shifted"]
	assert.Equal(t, wsStatusCompleted, ok.Status)
	assert.Equal(t, 0, *ok.Index)
	assert.Equal(t, batch.StatusOK, ok.Result.Status)
	assert.InDelta(t, -6, ok.Result.Homography[0][2], 0.5)

	bad := outcomes["corrupt"]
	assert.Equal(t, wsStatusFailed, bad.Status)
	assert.Equal(t, 1, *bad.Index)
	assert.Equal(t, common.KindInvalidInput, bad.ErrorType)

	assert.InDelta(t, 1.0, conn.sent[2].Progress, 1e-9)
	assert.Equal(t, wsTypeBatch, done.Type)
	assert.Equal(t, wsStatusCompleted, done.Status)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 1, done.Summary.Succeeded)
	assert.Equal(t, 1, done.Summary.Failed)

	require.NotNil(t, recorder.final)
	assert.Equal(t, sourceWebSocket, recorder.final.Workspace)
	assert.Len(t, recorder.pairs, 2)
}

func TestServer_WebSocketEndToEnd(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/register"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	ref, target := scenePair(t)
	require.NoError(t, conn.WriteJSON(WebSocketRegisterRequest{
		Type:      wsTypeRegister,
		Reference: WebSocketImage{Image: ref},
		Targets:   []WebSocketImage{{Image: target}},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Minute)))
	var messages []WebSocketResponse
	for {
		var msg WebSocketResponse
		require.NoError(t, conn.ReadJSON(&msg))
		messages = append(messages, msg)
		if msg.Type == wsTypeBatch && msg.Status == wsStatusCompleted {
			break
		}
	}

	require.Len(t, messages, 3)
	assert.NotEmpty(t, messages[0].RequestID)
	assert.Equal(t, "1", messages[1].Result.Name)
	assert.Equal(t, batch.StatusOK, messages[1].Result.Status)
}
