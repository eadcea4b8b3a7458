package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/banshee-data/slamviz/internal/foxglove"
	"github.com/banshee-data/slamviz/internal/httputil"
	"github.com/banshee-data/slamviz/internal/monitoring"
)

// maxGRPCMsgSize leaves headroom for large point clouds.
const maxGRPCMsgSize = 16 * 1024 * 1024

// Options configures a Server.
type Options struct {
	// Name is reported to WebSocket clients in serverInfo.
	Name string

	// Metadata is reported to WebSocket clients in serverInfo.
	Metadata map[string]string

	// GRPCAddr enables the gRPC front-end when non-empty.
	GRPCAddr string

	SendBuffer int
	MaxClients int

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Server is the bundled transport: one HTTP listener serving the Foxglove
// WebSocket protocol at "/" plus /metrics, /healthz and /channels, and an
// optional gRPC listener.
type Server struct {
	opts Options
	hub  *Hub
	ws   *wsFrontend
	log  *slog.Logger

	mu           sync.Mutex
	listener     net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	closed       bool

	serving sync.WaitGroup
}

// NewServer creates a server that is not yet listening.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Component("transport")
	}
	if opts.Name == "" {
		opts.Name = "slamviz"
	}

	hub := NewHub(HubOptions{
		SendBuffer: opts.SendBuffer,
		MaxClients: opts.MaxClients,
		Logger:     opts.Logger,
	})
	return &Server{
		opts: opts,
		hub:  hub,
		ws:   newWSFrontend(hub, opts.Name, opts.Metadata, opts.Clock, opts.Logger),
		log:  opts.Logger,
	}
}

// Hub exposes the channel and client registry.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes served on the main listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/channels", s.handleChannels)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			httputil.NotFound(w, "connect with a Foxglove WebSocket client ("+Subprotocol+")")
			return
		}
		s.ws.ServeHTTP(w, r)
	})
	return mux
}

// Listen binds addr and starts serving. When Options.GRPCAddr is set the
// gRPC front-end is bound too. A bind failure is returned and leaves the
// server not listening.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return fmt.Errorf("already listening on %s", s.listener.Addr())
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	var grpcLis net.Listener
	if s.opts.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", s.opts.GRPCAddr)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("failed to listen on grpc address %s: %w", s.opts.GRPCAddr, err)
		}
	}

	s.listener = lis
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	s.log.Info("websocket server listening", "addr", lis.Addr().String(), "subprotocol", Subprotocol)

	if grpcLis != nil {
		s.grpcListener = grpcLis
		s.grpcServer = grpc.NewServer(
			grpc.MaxRecvMsgSize(maxGRPCMsgSize),
			grpc.MaxSendMsgSize(maxGRPCMsgSize),
		)
		RegisterTelemetryServer(s.grpcServer, &telemetryService{hub: s.hub, log: s.log})
		s.serving.Add(1)
		go func() {
			defer s.serving.Done()
			if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.log.Error("grpc server error", "error", err)
			}
		}()
		s.log.Info("grpc server listening", "addr", grpcLis.Addr().String(), "service", TelemetryServiceName)
	}
	return nil
}

// Addr is the bound WebSocket address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GRPCAddr is the bound gRPC address, or nil when gRPC is disabled.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcListener == nil {
		return nil
	}
	return s.grpcListener.Addr()
}

// CreateChannel registers a topic and advertises it to connected clients.
func (s *Server) CreateChannel(topic string, schema foxglove.Schema) (ChannelID, error) {
	ch, err := s.hub.AddChannel(topic, schema)
	if err != nil {
		return 0, err
	}
	return ch.ID, nil
}

// Publish queues payload for every subscriber of id. It never blocks; slow
// subscribers miss messages instead.
func (s *Server) Publish(id ChannelID, logTime uint64, payload []byte) error {
	_, err := s.hub.Publish(id, logTime, payload)
	return err
}

// Shutdown disconnects every client and stops both listeners. It waits for
// in-flight sessions until ctx is done. Calling it again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpServer, grpcServer := s.httpServer, s.grpcServer
	s.mu.Unlock()

	// Closing the hub ends every WebSocket session and gRPC stream.
	s.hub.Close()

	var errs []error
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcServer.Stop()
			errs = append(errs, fmt.Errorf("grpc shutdown: %w", ctx.Err()))
		}
	}

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := waitContext(ctx, s.ws.wait); err != nil {
		errs = append(errs, fmt.Errorf("websocket sessions: %w", err))
	}
	if err := waitContext(ctx, s.serving.Wait); err != nil {
		errs = append(errs, fmt.Errorf("serve loops: %w", err))
	}

	s.log.Info("transport stopped")
	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"status":   "ok",
		"clients":  s.hub.ClientCount(),
		"channels": len(s.hub.Channels()),
	})
}

// ChannelInfo is the /channels JSON entry.
type ChannelInfo struct {
	ID         ChannelID `json:"id"`
	Topic      string    `json:"topic"`
	SchemaName string    `json:"schemaName"`
	Encoding   string    `json:"encoding"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	channels := s.hub.Channels()
	out := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ChannelInfo{ID: ch.ID, Topic: ch.Topic, SchemaName: ch.Schema.Name, Encoding: ch.Schema.Encoding})
	}
	httputil.WriteJSONOK(w, out)
}

func waitContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
