package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

type Options struct {
	// EventRate and EventBurst bound inbound events per connection.
	EventRate  float64
	EventBurst int
}

// Server upgrades HTTP requests to websocket connections and runs their
// pumps until ctx is cancelled or the peer goes away.
type Server struct {
	ctx        context.Context
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	log        *slog.Logger
}

// NewServer accepts browser origins allowed by c. Requests without an Origin
// header are not from a browser and are accepted.
func NewServer(ctx context.Context, hub *Hub, d *Dispatcher, c *cors.Cors, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		ctx:        ctx,
		hub:        hub,
		dispatcher: d,
		opts:       opts,
		log:        log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{ProtocolMsgpack, ProtocolJSON},
		CheckOrigin: func(r *http.Request) bool {
			if r.Header.Get("Origin") == "" || c == nil {
				return true
			}
			return c.OriginAllowed(r)
		},
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	var limiter *rate.Limiter
	if s.opts.EventRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.EventRate), s.opts.EventBurst)
	}

	c := newClient(uuid.NewString(), codecFor(conn.Subprotocol()), conn, limiter)
	if err := s.hub.register(c); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	s.log.Debug("websocket connected", "conn_id", c.id, "codec", c.codec.Name())

	go c.writePump()
	go c.readPump(s.ctx, s.dispatcher)
}
