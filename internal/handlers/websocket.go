package handlers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/stream-relay/internal/metrics"
	"github.com/mossy-p/stream-relay/internal/registry"
	"github.com/mossy-p/stream-relay/internal/transport"
)

const (
	closeReasonNoStream = "No stream ID provided"
	closeReasonInternal = "Internal server error"
)

// relay is what both routers offer a connection.
type relay interface {
	Join(peer transport.Peer, streamID string) (registry.Identity, error)
	HandleMessage(peer transport.Peer, raw []byte)
	Leave(peer transport.Peer)
}

// handleSignaling serves /ws and /ws/:streamId. The streamId query parameter
// takes precedence over the path.
func (s *Server) handleSignaling(c *gin.Context) {
	streamID := c.Query("streamId")
	if streamID == "" {
		streamID = c.Param("streamId")
	}
	s.serve(c, s.signaling, metrics.RelaySignaling, cleanStreamID(streamID))
}

// handleChat serves /chat/:streamId.
func (s *Server) handleChat(c *gin.Context) {
	s.serve(c, s.chat, metrics.RelayChat, c.Param("streamId"))
}

// cleanStreamID strips the "ws?" residue some clients leave when they build
// the URL by hand.
func cleanStreamID(id string) string {
	if id == "ws" {
		return ""
	}
	return strings.TrimPrefix(id, "ws?")
}

// serve upgrades the request and runs the connection until it closes. The
// upgrade happens before the stream id check so the client learns why it was
// refused from the close frame.
func (s *Server) serve(c *gin.Context, r relay, name, streamID string) {
	log := s.log.With("relay", name, "stream_id", streamID)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("ws.upgrade_failed", "remote", c.ClientIP(), "err", err)
		return
	}
	s.active.Add(1)
	defer s.active.Done()

	writeTimeout := s.cfg.Transport.WriteTimeout
	if streamID == "" {
		log.Error("ws.no_stream_id", "remote", c.ClientIP())
		transport.Reject(ws, websocket.CloseProtocolError, closeReasonNoStream, writeTimeout)
		return
	}

	conn := transport.NewConn(ws, transport.Options{
		PingInterval: s.cfg.Transport.PingInterval,
		PongTimeout:  s.cfg.Transport.PongTimeout,
		WriteTimeout: writeTimeout,
		SendBuffer:   s.cfg.Transport.SendBuffer,
	}, log)
	defer s.track(conn)()

	id, err := r.Join(conn, streamID)
	if err != nil {
		log.Error("ws.join_failed", "conn_id", conn.ID(), "err", err)
		transport.Reject(ws, websocket.CloseInternalServerErr, closeReasonInternal, writeTimeout)
		return
	}
	log.Debug("ws.connected", "conn_id", conn.ID(), "role", id.Role, "participant_id", id.ParticipantID)

	defer s.guard(log, name, "leave", func() { r.Leave(conn) })

	err = conn.Serve(func(msg []byte) {
		s.guard(log, name, "message", func() { r.HandleMessage(conn, msg) })
	})
	if transport.IsUnexpectedClose(err) {
		log.Warn("ws.read_error", "conn_id", conn.ID(), "err", err)
	} else {
		log.Debug("ws.closed", "conn_id", conn.ID(), "err", err)
	}
}

// guard runs fn and turns a panic into a reported failure.
func (s *Server) guard(log *slog.Logger, name, stage string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%s %s handler panicked: %v", name, stage, p)
			log.Error("ws.panic", "stage", stage, "panic", p)
			s.fail(err)
		}
	}()
	fn()
}
