package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stellar-ide/lsp-gateway/internal/container"
	"github.com/stellar-ide/lsp-gateway/internal/gwerr"
	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// State is one of the session's four lifecycle states.
type State int32

const (
	StateAccepted State = iota
	StateBuffering
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "Accepted"
	case StateBuffering:
		return "Buffering"
	case StateReady:
		return "Ready"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ContainerAttacher is the subset of container.Client a Session depends on,
// so sessions can be tested against a fake.
type ContainerAttacher interface {
	Verify(ctx context.Context, id string) error
	Attach(ctx context.Context, cfg container.AttachConfig) (container.Stream, error)
}

// ClientConn is the subset of *websocket.Conn a Session depends on, so
// sessions can be tested against a fake WebSocket.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session owns one accepted WebSocket and its dedicated language-server
// attachment, and runs its full lifecycle from accept through teardown.
type Session struct {
	ID            string
	ContainerID   string
	WorkspacePath string
	LanguageServerBin string

	conn     ClientConn
	attacher ContainerAttacher

	pendingBufferCap int
	attachTimeout    time.Duration

	active atomic.Bool
	state  atomic.Int32

	nextMessageLogID atomic.Uint64

	// stateMu guards the handoff between attach() completing and teardown()
	// running concurrently: assigning stream and reading it during teardown
	// must be atomic with the active flag, or a session torn down while
	// attach was in flight can have its freshly attached stream assigned
	// after teardown already ran, leaking the exec.
	stateMu sync.Mutex
	stream  container.Stream
	router  *Router

	writeMu sync.Mutex

	clientMsgCh chan []byte
	readySignal chan struct{}
	done        chan struct{}
	teardownOnce sync.Once
}

// NewSession constructs a Session for an accepted WebSocket upgrade. The
// session is active and not yet ready from construction.
func NewSession(conn ClientConn, attacher ContainerAttacher, containerID, workspacePath, languageServerBin string, pendingBufferCap int, attachTimeout time.Duration) *Session {
	s := &Session{
		ID:                uuid.NewString(),
		ContainerID:       containerID,
		WorkspacePath:     workspacePath,
		LanguageServerBin: languageServerBin,
		conn:              conn,
		attacher:          attacher,
		pendingBufferCap:  pendingBufferCap,
		attachTimeout:     attachTimeout,
		clientMsgCh:       make(chan []byte),
		readySignal:       make(chan struct{}),
		done:              make(chan struct{}),
	}
	s.active.Store(true)
	s.state.Store(int32(StateAccepted))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsActive reports whether the session is still accepting I/O: while active
// is false, no message may be forwarded in either direction.
func (s *Session) IsActive() bool {
	return s.active.Load()
}

// Run executes the full session lifecycle: install the client-message
// handler, attach to the container, drain the buffer, and bridge traffic
// until either endpoint disappears. It blocks until the session terminates.
func (s *Session) Run(ctx context.Context) {
	log := logger.Session()
	log.Info().Str("session_id", s.ID).Str("container_id", s.ContainerID).Msg("session accepted")

	s.state.Store(int32(StateBuffering))

	// Install the client-message handler before any attachment work begins.
	// The reader goroutine pushes raw messages onto clientMsgCh in receive
	// order; the dispatcher goroutine is the sole owner of the pending
	// buffer and the ready transition, so neither needs its own lock.
	go s.readClientMessages()
	go s.dispatchClientMessages()

	// Attach to the container. While this runs, the dispatcher goroutine
	// may be accumulating buffered messages.
	attachCtx, cancel := context.WithTimeout(ctx, s.attachTimeout)
	defer cancel()

	stream, err := s.attach(attachCtx)
	if err != nil {
		if attachCtx.Err() == context.DeadlineExceeded {
			err = gwerr.Wrap(gwerr.KindAttachFailed, "attach timeout", err)
		}
		s.handleAttachFailure(err)
		return
	}

	// The dispatcher may have already torn the session down (e.g. pending
	// buffer overflow) while attach was in flight. stateMu makes the
	// active check and the stream assignment atomic with teardown's own
	// active-flag flip and stream read, so whichever side loses the race
	// is the one that ends up closing the stream.
	s.stateMu.Lock()
	if !s.active.Load() {
		s.stateMu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.stateMu.Unlock()

	router := NewRouter(s)
	s.router = router

	// Start the server-read side (demuxer -> codec -> router) so it is
	// listening before flipping ready, then drain the pending buffer.
	stdoutReader, stdoutWriter := io.Pipe()
	demuxer := NewDemuxer(stream, func(chunk []byte) error {
		_, err := stdoutWriter.Write(chunk)
		return err
	}, func(chunk []byte) {
		logger.Demux().Debug().
			Str("session_id", s.ID).
			Int("len", len(chunk)).
			Msg("language server stderr")
	})

	serverDone := make(chan error, 1)
	go func() {
		codec := NewCodec(stdoutReader)
		err := RunDecoder(codec, func(payload []byte) error {
			if !s.IsActive() {
				return nil
			}
			return router.HandleServerMessage(payload)
		})
		serverDone <- err
	}()

	go func() {
		err := demuxer.Run()
		_ = stdoutWriter.CloseWithError(err)
	}()

	// Mark ready and drain the pending buffer in FIFO order. The dispatcher
	// is the only other reader of readySignal, so this is race-free without
	// a lock.
	close(s.readySignal)
	s.state.Store(int32(StateReady))

	select {
	case err := <-serverDone:
		if err != nil {
			ge := gwerr.Wrap(gwerr.KindStreamError, "language server stream error", err)
			s.teardown(ge, gwerr.CloseInternalError, closeReason(ge, "language server stream error"))
		} else {
			s.teardown(nil, websocket.CloseNormalClosure, "language server exited")
		}
	case <-s.done:
		// Teardown was triggered by the client side; nothing more to do.
	}
}

// attach runs Verify then Attach, translating failures into the
// appropriate gwerr.Kind.
func (s *Session) attach(ctx context.Context) (container.Stream, error) {
	if err := s.attacher.Verify(ctx, s.ContainerID); err != nil {
		return nil, err
	}

	stream, err := s.attacher.Attach(ctx, container.AttachConfig{
		ContainerID: s.ContainerID,
		Command:     s.LanguageServerBin,
		WorkingDir:  s.WorkspacePath,
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// handleAttachFailure closes the client with the code appropriate to the
// failure kind and tears down.
func (s *Session) handleAttachFailure(err error) {
	kind := gwerr.KindAttachFailed
	ge, ok := gwerr.As(err)
	if !ok {
		ge = gwerr.Wrap(kind, "attachment failed", err)
	}
	kind = ge.Kind
	s.teardown(ge, kind.CloseCode(), closeReason(ge, "attachment failed"))
}

// readClientMessages is the WebSocket read loop: one goroutine owns the
// client-read side. It never classifies or buffers messages itself; it
// only hands raw bytes to the dispatcher in receive order.
func (s *Session) readClientMessages() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.teardown(nil, 0, "client closed connection")
			} else {
				ge := gwerr.Wrap(gwerr.KindStreamError, "client websocket error", err)
				s.teardown(ge, gwerr.CloseInternalError, closeReason(ge, "client websocket error"))
			}
			return
		}

		select {
		case s.clientMsgCh <- data:
		case <-s.done:
			return
		}
	}
}

// dispatchClientMessages is the sole owner of the pending buffer and the
// ready transition. Before readySignal fires, messages are buffered; the
// signal fire drains them in order before processing any message that
// arrived afterward, preserving receive order.
func (s *Session) dispatchClientMessages() {
	var pendingBuffer [][]byte
	ready := false
	readySignal := s.readySignal

	routeOrTeardown := func(payload []byte) bool {
		if err := s.router.HandleClientMessage(payload); err != nil {
			ge := gwerr.Wrap(gwerr.KindStreamError, "failed forwarding client message", err)
			s.teardown(ge, gwerr.CloseInternalError, closeReason(ge, "failed forwarding client message"))
			return false
		}
		return true
	}

	for {
		select {
		case msg, ok := <-s.clientMsgCh:
			if !ok {
				return
			}
			if !ready {
				if len(pendingBuffer) >= s.pendingBufferCap {
					s.teardown(gwerr.New(gwerr.KindBadRequest, "pending buffer overflow"), gwerr.ClosePolicyViolation, "pending buffer overflow")
					return
				}
				pendingBuffer = append(pendingBuffer, msg)
				continue
			}
			if !routeOrTeardown(msg) {
				return
			}

		case <-readySignal:
			ready = true
			readySignal = nil // consume once; select won't fire on a nil channel again
			drained := pendingBuffer
			pendingBuffer = nil
			for _, m := range drained {
				if !routeOrTeardown(m) {
					return
				}
			}

		case <-s.done:
			return
		}
	}
}

// ForwardToServer implements Forwarder by writing an LSP-framed message to
// the exec's stdin.
func (s *Session) ForwardToServer(payload []byte) error {
	if !s.IsActive() {
		return fmt.Errorf("session inactive")
	}
	return Encode(s.stream, payload)
}

// ForwardToClient implements Forwarder by writing one WebSocket text frame
// carrying the whole JSON message.
func (s *Session) ForwardToClient(payload []byte) error {
	if !s.IsActive() {
		return fmt.Errorf("session inactive")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	id := s.nextMessageLogID.Add(1)
	logger.Session().Debug().Str("session_id", s.ID).Uint64("message_log_id", id).Msg("forwarding to client")
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// teardown runs the session's idempotent teardown sequence. cause may be
// nil for a clean peer-initiated close. closeCode of 0 means "use the
// implicit normal closure"; reason is the close frame's reason text.
func (s *Session) teardown(cause *gwerr.Error, closeCode int, reason string) {
	s.teardownOnce.Do(func() {
		log := logger.Session()

		// active = false. All subsequent I/O callbacks observe this and
		// return without work. The stream read happens under the same lock
		// Run holds while assigning it, so whichever of the two runs last
		// sees the other's update rather than a half-finished handoff.
		s.stateMu.Lock()
		s.active.Store(false)
		stream := s.stream
		s.stateMu.Unlock()
		close(s.done)

		if cause != nil {
			log.Warn().Str("session_id", s.ID).Str("container_id", s.ContainerID).Str("kind", cause.Kind.String()).Msg(reason)
		} else {
			log.Info().Str("session_id", s.ID).Str("container_id", s.ContainerID).Msg(reason)
		}

		// If the server stream is writable, end it; then destroy it. The
		// exec handle is released as part of Close() below, since the
		// hijacked connection owns the exec's lifetime.
		if stream != nil {
			if err := stream.CloseWrite(); err != nil {
				log.Debug().Str("session_id", s.ID).Err(err).Msg("stream CloseWrite failed during teardown")
			}
			if err := stream.Close(); err != nil {
				log.Debug().Str("session_id", s.ID).Err(err).Msg("stream Close failed during teardown")
			}
		}

		// If the WebSocket is still open, close it with the appropriate
		// code and reason.
		code := closeCode
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		deadline := time.Now().Add(5 * time.Second)
		if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
			log.Debug().Str("session_id", s.ID).Err(err).Msg("failed writing close frame during teardown")
		}
		if err := s.conn.Close(); err != nil {
			log.Debug().Str("session_id", s.ID).Err(err).Msg("conn Close failed during teardown")
		}

		s.state.Store(int32(StateTerminated))
	})
}

// Close tears down the session for an external trigger (e.g. process
// shutdown). It is safe to call more than once and concurrently with an
// in-progress teardown from I/O.
func (s *Session) Close() {
	s.teardown(nil, websocket.CloseGoingAway, "server shutting down")
}

// maxCloseReasonBytes is the largest reason string that fits in a WebSocket
// close control frame alongside its 2-byte status code (the control frame
// payload limit is 125 bytes).
const maxCloseReasonBytes = 123

// closeReason picks the text to send on a close frame: the gateway error's
// own Reason field when available, since the full wrapped cause can be long
// enough that WriteControl itself fails and the client gets no reason at
// all. Falls back to fallback, and always truncates to fit the frame.
func closeReason(err error, fallback string) string {
	reason := fallback
	if ge, ok := gwerr.As(err); ok && ge.Reason != "" {
		reason = ge.Reason
	}
	if len(reason) > maxCloseReasonBytes {
		reason = reason[:maxCloseReasonBytes]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	return reason
}
