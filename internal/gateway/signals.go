package gateway

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// RunUntilSignal blocks until SIGINT or SIGTERM, then performs a graceful
// shutdown: stop accepting new upgrades, tear down every live session, and
// wait up to drainTimeout for them to finish. A second signal received
// during drain forces an immediate return.
func RunUntilSignal(srv *http.Server, listener *Listener, drainTimeout time.Duration) {
	log := logger.GetLogger()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info().Msg("shutdown signal received, draining sessions")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	go func() {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown error")
		}
	}()

	listener.Shutdown()

	drained := make(chan struct{})
	go func() {
		listener.WaitForDrain(drainTimeout)
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("all sessions drained, exiting")
	case <-sigCh:
		log.Warn().Msg("second signal received, forcing exit")
	case <-time.After(drainTimeout):
		log.Warn().Int("remaining", listener.SessionCount()).Msg("drain timeout exceeded, forcing exit")
	}
}
