package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vokal-ai/livebridge/pkg/relay/session"
	"github.com/vokal-ai/livebridge/pkg/relay/sessions"
	"github.com/vokal-ai/livebridge/pkg/relay/tools"
)

// LiveHandler terminates /v1/session websockets and runs one relay session
// per connection.
type LiveHandler struct {
	Logger     *slog.Logger
	Sessions   *sessions.Tracker
	Executor   *tools.Executor
	Defaults   session.Defaults
	NewAdapter session.Factory

	AllowedOrigins  []string
	MaxMessageBytes int64
	WriteTimeout    time.Duration

	GoAwayReconnectDelay time.Duration
	ResumeReconnectDelay time.Duration
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return originAllowed(r, h.AllowedOrigins) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.MaxMessageBytes)
	}

	sessionID := "s_" + uuid.NewString()
	s := session.New(session.Options{
		ID:                   sessionID,
		Logger:               h.Logger,
		Conn:                 &deadlineConn{conn: conn, timeout: h.WriteTimeout},
		Executor:             h.Executor,
		NewAdapter:           h.NewAdapter,
		Defaults:             h.Defaults,
		GoAwayReconnectDelay: h.GoAwayReconnectDelay,
		ResumeReconnectDelay: h.ResumeReconnectDelay,
	})

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Add(sessionID, sessions.Handle{
			Stop: func() {
				s.Close()
				_ = conn.Close()
			},
			Notify: s.Notify,
		})
	}
	defer unregister()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
		// The dispatch loop is gone; nothing will answer the client anymore.
		_ = conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.HandleFrame(data)
	}

	s.Close()
	<-done

	if h.Logger != nil {
		h.Logger.Info("relay session closed", "session", sessionID)
	}
}

func originAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// deadlineConn bounds each client write so one stalled mobile socket cannot
// wedge its session's dispatch loop.
type deadlineConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *deadlineConn) WriteJSON(v any) error {
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.WriteJSON(v)
}
