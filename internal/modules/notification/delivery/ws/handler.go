// Package ws is the websocket transport for live notification delivery.
package ws

import (
	"net/http"
	"slices"
	"strings"
	"time"

	notifService "anoa.com/notifyhub/internal/modules/notification/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Options struct {
	// AllowedOrigins restricts browser handshakes; "*" allows any origin.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"*"},
		SendBuffer:     64,
		PingInterval:   25 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// pongWait is how long a connection may stay silent before it is dropped.
// It must exceed PingInterval so a healthy peer always answers in time.
func (o Options) pongWait() time.Duration {
	return o.PingInterval + o.WriteWait
}

type Handler struct {
	service  notifService.NotificationService
	upgrader websocket.Upgrader
	opts     Options
	logger   zerolog.Logger
}

func NewHandler(service notifService.NotificationService, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		opts:   opts,
		logger: logger,
	}
}

// ServeWS upgrades the request and runs the session until the peer leaves.
// Optional userId and channels (comma separated) query parameters subscribe
// the connection right after the welcome message.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	cl := newClient(conn, h.opts, h.logger)
	go cl.writePump()

	s := &session{
		client:  cl,
		service: h.service,
		opts:    h.opts,
		logger:  cl.logger,
	}

	if err := s.onConnect(c.Request.Context(), c.Query("userId"), splitList(c.Query("channels"))); err != nil {
		s.logger.Error().Err(err).Msg("connect failed")
		_ = cl.Close()
		return
	}

	cl.readPump(s.onFrame)
	s.onDisconnect()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := slices.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		if origin == "" || allowAll {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
