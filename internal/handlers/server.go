// Package handlers mounts the relays, the health report and the metrics
// endpoint on a gin engine.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/mossy-p/stream-relay/config"
	"github.com/mossy-p/stream-relay/internal/chat"
	"github.com/mossy-p/stream-relay/internal/metrics"
	"github.com/mossy-p/stream-relay/internal/signaling"
	"github.com/mossy-p/stream-relay/internal/transport"
)

// Deps are the collaborators a Server is built from. Gatherer and Failures
// are optional.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Signaling *signaling.Router
	Chat      *chat.Router
	Gatherer  prometheus.Gatherer
	Version   string
	Started   time.Time

	// Failures receives panics recovered from connection handlers so the
	// process can shut down.
	Failures chan<- error
}

type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	signaling *signaling.Router
	chat      *chat.Router
	gatherer  prometheus.Gatherer
	version   string
	started   time.Time
	failures  chan<- error

	cors     *cors.Cors
	upgrader websocket.Upgrader

	mu     sync.Mutex
	live   map[string]*transport.Conn
	active sync.WaitGroup
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		log:       d.Logger,
		signaling: d.Signaling,
		chat:      d.Chat,
		gatherer:  d.Gatherer,
		version:   d.Version,
		started:   d.Started,
		failures:  d.Failures,
		live:      make(map[string]*transport.Conn),
		cors: cors.New(cors.Options{
			AllowedOrigins:   d.Config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: d.Config.Transport.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler builds the gin engine with every route mounted.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(Recovery(s.log), RequestLogger(s.log), CORS(s.cors))

	router.GET("/health", s.health)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	}

	router.GET("/ws", s.handleSignaling)
	router.GET("/ws/:streamId", s.handleSignaling)
	router.GET("/chat", s.handleChat)
	router.GET("/chat/:streamId", s.handleChat)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Not found"})
	})
	return router
}

// checkOrigin accepts clients that send no Origin (native apps, tools) and
// browsers whose origin passes the CORS policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	if r.Header.Get("Origin") == "" {
		return true
	}
	return s.cors.OriginAllowed(r)
}

// Shutdown closes every live connection with reason, including chat
// connections that never joined a room, and waits for their handlers to
// return. Hijacked connections are invisible to http.Server.Shutdown.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	conns := make([]*transport.Conn, 0, len(s.live))
	for _, c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(websocket.CloseNormalClosure, reason); err != nil {
			s.log.Warn("ws.shutdown_close_failed", "conn_id", c.ID(), "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *transport.Conn) func() {
	s.mu.Lock()
	s.live[c.ID()] = c
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.live, c.ID())
		s.mu.Unlock()
	}
}

func (s *Server) fail(err error) {
	if s.failures == nil {
		return
	}
	select {
	case s.failures <- err:
	default:
	}
}
