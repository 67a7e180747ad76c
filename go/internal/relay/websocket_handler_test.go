package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, retention Retention) (*Service, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClockAt(testEpoch)
	svc := NewService(cfg, retention)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server, channel string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channel=" + channel
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame transport.ClientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func receive(t *testing.T, conn *websocket.Conn) transport.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame transport.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestRelay_PublishBroadcastsToChannelIncludingSender(t *testing.T) {
	svc, srv := newTestServer(t, nil)
	a := dial(t, srv, "room")
	b := dial(t, srv, "room")
	require.Eventually(t, func() bool { return svc.GetStats().TotalConnections == 2 }, 2*time.Second, 5*time.Millisecond)

	send(t, a, transport.ClientFrame{Op: transport.OpPublish, Topic: "state", Data: json.RawMessage(`{"speakers":[]}`)})

	for _, conn := range []*websocket.Conn{a, b} {
		frame := receive(t, conn)
		assert.Equal(t, transport.FrameMessage, frame.Type)
		assert.Equal(t, "state", frame.Topic)
		assert.JSONEq(t, `{"speakers":[]}`, string(frame.Data))
		require.NotNil(t, frame.PublishedAt)
		assert.True(t, testEpoch.Equal(*frame.PublishedAt))
	}

	stats := svc.GetStats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, map[string]int{"room": 2}, stats.ChannelConnections)
}

func TestRelay_LastFrame(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv, "room")

	send(t, conn, transport.ClientFrame{Op: transport.OpLast, ID: "q1", Topic: "notes"})
	frame := receive(t, conn)
	assert.Equal(t, transport.FrameLast, frame.Type)
	assert.Equal(t, "q1", frame.ID)
	assert.False(t, frame.Found)

	send(t, conn, transport.ClientFrame{Op: transport.OpPublish, Topic: "notes", Data: json.RawMessage(`"hi"`)})
	assert.Equal(t, transport.FrameMessage, receive(t, conn).Type)

	send(t, conn, transport.ClientFrame{Op: transport.OpLast, ID: "q2", Topic: "notes"})
	frame = receive(t, conn)
	assert.Equal(t, "q2", frame.ID)
	assert.True(t, frame.Found)
	assert.Equal(t, `"hi"`, string(frame.Data))
}

func TestRelay_ErrorFrames(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv, "room")

	tests := []struct {
		name    string
		payload string
		wantID  string
		wantErr string
	}{
		{"malformed frame", `{not json`, "", "malformed frame"},
		{"unknown op", `{"op":"shout","id":"x1"}`, "x1", "unknown op"},
		{"missing topic", `{"op":"publish","id":"x2","data":{}}`, "x2", ErrMissingTopic.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
			frame := receive(t, conn)
			assert.Equal(t, transport.FrameError, frame.Type)
			assert.Equal(t, tt.wantID, frame.ID)
			assert.Equal(t, tt.wantErr, frame.Error)
		})
	}
}

func TestRelay_RejectsBadChannel(t *testing.T) {
	_, srv := newTestServer(t, nil)

	for _, query := range []string{"", "?channel=", "?channel=a.b"} {
		resp, err := http.Get(srv.URL + "/ws" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestRelay_LastMessageEndpoint(t *testing.T) {
	svc, srv := newTestServer(t, nil)
	ctx := context.Background()

	resp, err := http.Get(srv.URL + "/api/channels/room/topics/state/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, svc.connectionManager.Publish(ctx, "room", "state", []byte(`{"speakers":[]}`)))

	resp, err = http.Get(srv.URL + "/api/channels/room/topics/state/last")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Retained
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.JSONEq(t, `{"speakers":[]}`, string(got.Data))
	assert.True(t, testEpoch.Equal(got.PublishedAt))

	resp, err = http.Get(srv.URL + "/api/channels/a.b/topics/state/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelay_PublishValidation(t *testing.T) {
	svc, _ := newTestServer(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.connectionManager.Publish(ctx, "room", "", []byte(`{}`)), ErrMissingTopic)
	assert.ErrorIs(t, svc.connectionManager.Publish(ctx, "room", "state", []byte(`{`)), ErrInvalidPayload)
}

func TestRelay_ListChannelsNeedsDurableRetention(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/channels")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRelay_StatsEndpoint(t *testing.T) {
	svc, srv := newTestServer(t, nil)
	dial(t, srv, "room")
	require.Eventually(t, func() bool { return svc.GetStats().TotalConnections == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveChannels)
}
