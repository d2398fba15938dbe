package gateway

import (
	"fmt"
	"sync"

	"github.com/stellar-ide/lsp-gateway/internal/jsonrpc"
	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// Forwarder abstracts "write these bytes to the language server's stdin"
// and "write this JSON message to the client's WebSocket", so Router can be
// tested without a real Session.
type Forwarder interface {
	ForwardToServer(payload []byte) error
	ForwardToClient(payload []byte) error
}

// Router classifies each decoded JSON-RPC message and implements the
// direction-specific forwarding rules between client and language server. A
// single Router instance is owned by one Session; it is not safe for use
// across sessions.
type Router struct {
	fwd Forwarder

	mu      sync.Mutex
	pending map[string]struct{} // outstanding client request IDs, keyed by raw JSON id
}

// NewRouter constructs a Router forwarding through fwd.
func NewRouter(fwd Forwarder) *Router {
	return &Router{
		fwd:     fwd,
		pending: make(map[string]struct{}),
	}
}

// HandleClientMessage processes one message received from the client
// (browser editor) and forwards it toward the language server.
func (r *Router) HandleClientMessage(raw []byte) error {
	log := logger.Router()

	msg, err := jsonrpc.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("unparseable client message, skipping")
		return nil
	}

	switch msg.Kind {
	case jsonrpc.KindRequest:
		r.mu.Lock()
		r.pending[string(msg.ID)] = struct{}{}
		r.mu.Unlock()

		if err := r.fwd.ForwardToServer(raw); err != nil {
			r.mu.Lock()
			delete(r.pending, string(msg.ID))
			r.mu.Unlock()

			resp, buildErr := jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InternalErrorCode, err.Error())
			if buildErr != nil {
				return fmt.Errorf("build forwarding-error response: %w", buildErr)
			}
			log.Warn().Err(err).Msg("request forward failed, synthesizing error response")
			return r.fwd.ForwardToClient(resp)
		}
		return nil

	case jsonrpc.KindNotification:
		if err := r.fwd.ForwardToServer(raw); err != nil {
			// Notifications have no reply channel; swallow the error.
			log.Warn().Err(err).Str("method", msg.Method).Msg("notification forward failed, swallowing")
		}
		return nil

	case jsonrpc.KindResponse:
		// Rare: only occurs if the server issued a request and the client
		// replied. Forward as-is.
		return r.fwd.ForwardToServer(raw)

	default:
		log.Warn().Msg("unclassifiable client message, skipping")
		return nil
	}
}

// HandleServerMessage processes one message received from the language
// server (decoded by the frame codec) and forwards it toward the client.
func (r *Router) HandleServerMessage(raw []byte) error {
	log := logger.Router()

	msg, err := jsonrpc.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("unparseable server message, skipping")
		return nil
	}

	switch msg.Kind {
	case jsonrpc.KindNotification:
		if msg.Method == "textDocument/publishDiagnostics" {
			log.Debug().Msg("forwarding publishDiagnostics")
		}
		return r.fwd.ForwardToClient(raw)

	case jsonrpc.KindRequest:
		// The gateway implements no client capabilities; reply immediately
		// with result: null so the language server does not hang waiting.
		resp, err := jsonrpc.NewNullResultResponse(msg.ID)
		if err != nil {
			return fmt.Errorf("build null-result response: %w", err)
		}
		return r.fwd.ForwardToServer(resp)

	case jsonrpc.KindResponse:
		r.mu.Lock()
		_, ok := r.pending[string(msg.ID)]
		if ok {
			delete(r.pending, string(msg.ID))
		}
		r.mu.Unlock()

		if !ok {
			log.Warn().Str("id", string(msg.ID)).Msg("response with no matching outstanding request")
		}
		return r.fwd.ForwardToClient(raw)

	default:
		log.Warn().Msg("unclassifiable server message, skipping")
		return nil
	}
}
