package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stellar-ide/lsp-gateway/internal/config"
	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// upgrader configures the WebSocket upgrade for the gateway's single
// endpoint. The gateway sits behind a reverse proxy that already terminates
// TLS and enforces the editor's origin, so CheckOrigin is permissive here;
// the container ID itself is the access-control boundary.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener accepts WebSocket upgrade requests and spawns one Session per
// connection. It tracks live sessions so a shutdown signal can tear all of
// them down.
type Listener struct {
	attacher ContainerAttacher
	cfg      *config.Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewListener constructs a Listener that attaches sessions through attacher
// using cfg for per-session defaults and limits.
func NewListener(attacher ContainerAttacher, cfg *config.Config) *Listener {
	return &Listener{
		attacher: attacher,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Handler returns the gin.HandlerFunc for the gateway's upgrade endpoint.
func (l *Listener) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.handleUpgrade(c.Writer, c.Request)
	}
}

// handleUpgrade reads the query parameters, completes the upgrade, and
// launches the session. A missing containerId closes the socket with 1008
// only after the upgrade succeeds — the connection parameters are a
// post-upgrade concern, not an HTTP-level one.
func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	log := logger.Listener()

	containerID := strings.TrimSpace(r.URL.Query().Get("containerId"))
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))
	if workspace == "" {
		workspace = config.DefaultWorkspacePath
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if containerID == "" {
		log.Warn().Msg("upgrade missing containerId parameter")
		deadline := time.Now().Add(5 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Missing containerId parameter"), deadline)
		_ = conn.Close()
		return
	}

	session := NewSession(conn, l.attacher, containerID, workspace, l.cfg.LanguageServerBin, l.cfg.PendingBufferCap, l.cfg.AttachTimeout)

	l.mu.Lock()
	l.sessions[session.ID] = session
	l.mu.Unlock()

	log.Info().Str("session_id", session.ID).Str("container_id", containerID).Str("workspace", workspace).Msg("websocket upgraded, starting session")

	go func() {
		session.Run(context.Background())
		l.mu.Lock()
		delete(l.sessions, session.ID)
		l.mu.Unlock()
	}()
}

// Shutdown tears down every live session. It does not wait for sessions to
// finish closing; callers that need to block for a clean drain should poll
// SessionCount or rely on the shutdown timeout.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// SessionCount reports the number of sessions currently tracked, for
// shutdown draining and /healthz reporting.
func (l *Listener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// WaitForDrain blocks until every tracked session has finished, or the
// timeout elapses, whichever comes first.
func (l *Listener) WaitForDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l.SessionCount() == 0 {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return l.SessionCount() == 0
}
