package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamviz/internal/foxglove"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Logger = slog.New(slog.DiscardHandler)
	if opts.Name == "" {
		opts.Name = "test bridge"
	}
	s := NewServer(opts)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial("ws://"+s.Addr().String()+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestServer_WebSocketHandshakeAdvertisesChannels(t *testing.T) {
	s := newTestServer(t, Options{Metadata: map[string]string{"version": "test"}})
	_, err := s.CreateChannel("/slam/pose", foxglove.PoseInFrameSchema())
	require.NoError(t, err)

	conn := dialWS(t, s)

	var info ServerInfo
	readJSON(t, conn, &info)
	assert.Equal(t, "serverInfo", info.Op)
	assert.Equal(t, "test bridge", info.Name)
	assert.Equal(t, "test", info.Metadata["version"])
	assert.NotEmpty(t, info.SessionID)

	var adv Advertise
	readJSON(t, conn, &adv)
	assert.Equal(t, "advertise", adv.Op)
	require.Len(t, adv.Channels, 1)
	assert.Equal(t, "/slam/pose", adv.Channels[0].Topic)
	assert.Equal(t, foxglove.PoseInFrameSchemaName, adv.Channels[0].SchemaName)
	assert.Equal(t, "protobuf", adv.Channels[0].Encoding)
	assert.NotEmpty(t, adv.Channels[0].Schema)
}

func TestServer_SubscribeAndReceiveMessageData(t *testing.T) {
	s := newTestServer(t, Options{})
	id, err := s.CreateChannel("/tf", foxglove.FrameTransformSchema())
	require.NoError(t, err)

	conn := dialWS(t, s)
	var info ServerInfo
	readJSON(t, conn, &info)
	var adv Advertise
	readJSON(t, conn, &adv)

	sub := ClientMessage{Op: "subscribe", Subscriptions: []ClientSubscription{{ID: 5, ChannelID: id}}}
	require.NoError(t, conn.WriteJSON(sub))

	payload := []byte{0xde, 0xad}
	require.Eventually(t, func() bool {
		n, err := s.Hub().Publish(id, 99, payload)
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)

	msgType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	subID, logTime, got, err := ParseMessageData(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), subID)
	assert.Equal(t, uint64(99), logTime)
	assert.Equal(t, payload, got)
}

func TestServer_LateChannelAndBadSubscription(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := dialWS(t, s)

	var info ServerInfo
	readJSON(t, conn, &info)

	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := s.CreateChannel("/slam/pointcloud", foxglove.PointCloudSchema())
	require.NoError(t, err)

	var adv Advertise
	readJSON(t, conn, &adv)
	require.Len(t, adv.Channels, 1)
	assert.Equal(t, "/slam/pointcloud", adv.Channels[0].Topic)

	require.NoError(t, conn.WriteJSON(ClientMessage{Op: "subscribe", Subscriptions: []ClientSubscription{{ID: 1, ChannelID: 77}}}))
	var st Status
	readJSON(t, conn, &st)
	assert.Equal(t, "status", st.Op)
	assert.Equal(t, StatusWarning, st.Level)
	assert.Contains(t, st.Message, "unknown channel")
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	s := newTestServer(t, Options{})
	id, _ := s.CreateChannel("/slam/pose", foxglove.PoseInFrameSchema())
	conn := dialWS(t, s)
	var info ServerInfo
	readJSON(t, conn, &info)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")

	// Drain until the close frame arrives.
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}

	assert.ErrorIs(t, s.Publish(id, 0, nil), ErrClosed)
	_, err := s.CreateChannel("/late", foxglove.PoseInFrameSchema())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Listen("127.0.0.1:0"), ErrClosed)
}

func TestServer_ListenErrors(t *testing.T) {
	s := newTestServer(t, Options{})
	assert.Error(t, s.Listen("127.0.0.1:0"), "already listening")

	other := NewServer(Options{Logger: slog.New(slog.DiscardHandler)})
	err := other.Listen(s.Addr().String())
	assert.Error(t, err, "port in use")
	assert.Nil(t, other.Addr())
}

func TestServer_HTTPEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	_, err := s.CreateChannel("/slam/pose", foxglove.PoseInFrameSchema())
	require.NoError(t, err)
	base := "http://" + s.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["channels"])

	resp, err = http.Get(base + "/channels")
	require.NoError(t, err)
	var channels []ChannelInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&channels))
	resp.Body.Close()
	assert.Equal(t, []ChannelInfo{{ID: 1, Topic: "/slam/pose", SchemaName: foxglove.PoseInFrameSchemaName, Encoding: "protobuf"}}, channels)

	resp, err = http.Post(base+"/channels", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "slamviz_transport_dropped_messages_total")

	resp, err = http.Get(base + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_GRPCFrontEnd(t *testing.T) {
	s := newTestServer(t, Options{GRPCAddr: "127.0.0.1:0"})
	require.NotNil(t, s.GRPCAddr())

	_, err := s.CreateChannel("/slam/pose", foxglove.PoseInFrameSchema())
	require.NoError(t, err)

	conn := dialGRPC(t, s.GRPCAddr().String())
	out, err := NewTelemetryClient(conn).ListChannels(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["channels"].GetListValue().GetValues(), 1)
}
