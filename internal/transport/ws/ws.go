// Package ws carries hub events over WebSocket text frames. Each connection
// gets one read loop, which hands frames to the hub in arrival order, and
// one write loop, which drains the hub's outbox for that connection.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/huntsync/internal/hub"
	"github.com/signalsfoundry/huntsync/internal/logging"
)

// Options tunes socket keepalive and limits. Zero values take defaults.
type Options struct {
	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
	Logger         logging.Logger
}

func (o *Options) setDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
}

// Server upgrades HTTP requests to event channels served by a hub.
type Server struct {
	hub      *hub.Hub
	opts     Options
	log      logging.Logger
	upgrader websocket.Upgrader
}

// NewServer returns an http.Handler for the event channel endpoint.
func NewServer(h *hub.Hub, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		hub:  h,
		opts: opts,
		log:  opts.Logger.With(logging.String("component", "ws")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until either
// side goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Debug(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	defer sock.Close()

	conn := s.hub.Connect(ctx)
	log := s.log.With(logging.String("conn_id", conn.ID()))
	log.Info(ctx, "client connected", logging.String("remote_addr", r.RemoteAddr))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, sock, conn, log)
	}()

	s.readLoop(ctx, sock, conn, log)
	s.hub.Disconnect(ctx, conn)
	<-writerDone
	log.Info(ctx, "client disconnected")
}

func (s *Server) readLoop(ctx context.Context, sock *websocket.Conn, conn *hub.Conn, log logging.Logger) {
	sock.SetReadLimit(s.opts.ReadLimit)
	_ = sock.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug(ctx, "read failed", logging.Err(err))
			}
			return
		}
		// Any inbound frame proves liveness.
		_ = sock.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.hub.Receive(ctx, conn, frame)

		select {
		case <-conn.Done():
			return
		default:
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, sock *websocket.Conn, conn *hub.Conn, log logging.Logger) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = sock.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug(ctx, "write failed", logging.Err(err))
				sock.Close()
				return
			}
		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				sock.Close()
				return
			}
		case <-conn.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
			// Unblocks the read loop when the hub dropped us first.
			sock.Close()
			return
		}
	}
}
