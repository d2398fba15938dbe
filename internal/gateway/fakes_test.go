package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stellar-ide/lsp-gateway/internal/container"
	"github.com/stellar-ide/lsp-gateway/internal/gwerr"
)

// errContainerNotRunningFake is returned by fakeAttacher.Verify to exercise
// the container-not-running teardown path without a real container engine.
var errContainerNotRunningFake = gwerr.New(gwerr.KindContainerNotRunning, "container not running")

// fakeAttacher implements ContainerAttacher against an in-memory stream, so
// Session/Listener tests never touch a real container engine. If stream is
// left nil, Attach mints a fresh fakeStream per call (as a real container
// engine would for each new exec) rather than sharing one across sessions;
// each one is recorded in created for tests that attach more than once.
type fakeAttacher struct {
	verifyErr   error
	attachErr   error
	attachDelay time.Duration
	stream      *fakeStream

	mu      sync.Mutex
	created []*fakeStream
}

func (f *fakeAttacher) Verify(ctx context.Context, id string) error {
	return f.verifyErr
}

func (f *fakeAttacher) Attach(ctx context.Context, cfg container.AttachConfig) (container.Stream, error) {
	if f.attachDelay > 0 {
		select {
		case <-time.After(f.attachDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	stream := f.stream
	if stream == nil {
		stream = newFakeStream()
	}
	f.mu.Lock()
	f.created = append(f.created, stream)
	f.mu.Unlock()
	return stream, nil
}

// createdStreams snapshots every stream Attach has handed out so far.
func (f *fakeAttacher) createdStreams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeStream, len(f.created))
	copy(out, f.created)
	return out
}

// errAttachFailedFake is returned by fakeAttacher.Attach to exercise the
// attach-failure teardown path.
var errAttachFailedFake = gwerr.New(gwerr.KindAttachFailed, "exec start failed")

// fakeStream is an in-memory container.Stream: writes from the gateway land
// in toServer for assertions, and fromServer bytes are fed back as Read
// output, simulating the language server's stdout.
type fakeStream struct {
	mu         sync.Mutex
	toServer   []byte
	fromServer *io.PipeReader
	fromWriter *io.PipeWriter
	closed     bool
	closeWrite bool
	writeErr   error
}

func newFakeStream() *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{fromServer: r, fromWriter: w}
}

func (f *fakeStream) Read(p []byte) (int, error) {
	return f.fromServer.Read(p)
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.toServer = append(f.toServer, p...)
	return len(p), nil
}

func (f *fakeStream) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeWrite = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.fromWriter.CloseWithError(io.EOF)
}

// isClosed reports whether Close has been called.
func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// pushFromServer writes b (already LSP-framed) wrapped in a stdout
// multiplex header, as if the container engine emitted it on the hijacked
// stream's stdout channel.
func (f *fakeStream) pushFromServer(b []byte) {
	header := make([]byte, 8)
	header[0] = 1 // stdout
	binary.BigEndian.PutUint32(header[4:8], uint32(len(b)))
	go func() {
		_, _ = f.fromWriter.Write(append(header, b...))
	}()
}

// writtenToServer snapshots bytes written to the stream's stdin so far.
func (f *fakeStream) writtenToServer() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.toServer))
	copy(out, f.toServer)
	return out
}

// fakeConn implements ClientConn against in-memory channels, standing in for
// a real *websocket.Conn in Session tests.
type fakeConn struct {
	mu           sync.Mutex
	incoming     chan []byte
	closeErr     error
	sent         [][]byte
	controlSent  [][]byte
	closed       bool
	readAfterEOF error
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (c *fakeConn) pushClientMessage(b []byte) {
	c.incoming <- b
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-c.incoming
	if !ok {
		if c.readAfterEOF != nil {
			return 0, nil, c.readAfterEOF
		}
		return 0, nil, errors.New("fake conn closed")
	}
	return 1, b, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.controlSent = append(c.controlSent, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
