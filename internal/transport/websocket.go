package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	frontendWebSocket = "websocket"

	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second

	maxClientMessage = 64 * 1024
)

// wsFrontend serves the Foxglove WebSocket protocol on top of a Hub.
type wsFrontend struct {
	hub      *Hub
	name     string
	metadata map[string]string
	clock    clockwork.Clock
	log      *slog.Logger
	upgrader websocket.Upgrader

	sessions sync.WaitGroup
}

func newWSFrontend(hub *Hub, name string, metadata map[string]string, clock clockwork.Clock, log *slog.Logger) *wsFrontend {
	return &wsFrontend{
		hub:      hub,
		name:     name,
		metadata: metadata,
		clock:    clock,
		log:      log,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			// Foxglove Studio connects from its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (f *wsFrontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		f.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client, channels, err := f.hub.Register(frontendWebSocket)
	if err != nil {
		f.log.Warn("rejecting websocket client", "remote", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		_ = conn.Close()
		return
	}

	f.sessions.Add(1)
	defer f.sessions.Done()

	s := &wsSession{
		frontend: f,
		conn:     conn,
		client:   client,
		log:      f.log.With("client_id", client.ID, "remote", r.RemoteAddr),
	}
	s.serve(channels)
}

// wait blocks until every session handler has returned.
func (f *wsFrontend) wait() {
	f.sessions.Wait()
}

// wsSession is one connected WebSocket client. The read loop runs on the
// HTTP handler goroutine; a writer goroutine owns every write to conn.
type wsSession struct {
	frontend *wsFrontend
	conn     *websocket.Conn
	client   *Client
	log      *slog.Logger
}

func (s *wsSession) serve(channels []Channel) {
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writeLoop(channels)
	}()

	s.readLoop()

	s.frontend.hub.Unregister(s.client)
	writer.Wait()
	_ = s.conn.Close()
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(maxClientMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))

		if msgType != websocket.TextMessage {
			s.frontend.hub.Notify(s.client, StatusWarning, "binary client messages are not supported")
			continue
		}
		s.handleClientMessage(data)
	}
}

func (s *wsSession) handleClientMessage(data []byte) {
	hub := s.frontend.hub

	msg, err := ParseClientMessage(data)
	if err != nil {
		hub.Notify(s.client, StatusError, err.Error())
		return
	}

	switch msg.Op {
	case "subscribe":
		for _, sub := range msg.Subscriptions {
			if err := hub.Subscribe(s.client, sub.ID, sub.ChannelID); err != nil {
				hub.Notify(s.client, StatusWarning, err.Error())
				continue
			}
			s.log.Debug("subscribed", "subscription_id", sub.ID, "channel_id", sub.ChannelID)
		}
	case "unsubscribe":
		for _, id := range msg.SubscriptionIDs {
			_ = hub.Unsubscribe(s.client, id)
		}
	default:
		hub.Notify(s.client, StatusWarning, "unsupported op "+msg.Op)
	}
}

func (s *wsSession) writeLoop(channels []Channel) {
	// Closing the connection unblocks the read loop when the writer fails.
	defer s.conn.Close()

	info := NewServerInfo(s.frontend.name, s.client.ID.String(), s.frontend.metadata)
	if err := s.writeJSON(info); err != nil {
		return
	}
	if len(channels) > 0 {
		if err := s.writeJSON(NewAdvertise(channels)); err != nil {
			return
		}
	}

	ping := s.frontend.clock.NewTicker(pingInterval)
	defer ping.Stop()

	var frame []byte
	for {
		select {
		case <-s.client.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
			return

		case ev := <-s.client.Events():
			var err error
			switch ev.Kind {
			case EventData:
				frame = AppendMessageData(frame[:0], ev.SubscriptionID, ev.LogTime, ev.Payload)
				err = s.write(websocket.BinaryMessage, frame)
			case EventAdvertise:
				err = s.writeJSON(NewAdvertise([]Channel{ev.Channel}))
			case EventStatus:
				err = s.writeJSON(NewStatus(ev.StatusLevel, ev.StatusMessage))
			}
			if err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}

		case <-ping.Chan():
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *wsSession) write(msgType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(msgType, data)
}
