// Command gateway runs the language-server gateway: a WebSocket front end
// that bridges browser editors to a per-user rust-analyzer process attached
// via the container engine's exec API.
package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stellar-ide/lsp-gateway/internal/config"
	"github.com/stellar-ide/lsp-gateway/internal/container"
	"github.com/stellar-ide/lsp-gateway/internal/gateway"
	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	dockerClient, err := container.NewClient(cfg.DockerHost)
	if err != nil {
		log.Fatalf("connect to container engine: %v", err)
	}
	defer dockerClient.Close()

	listener := gateway.NewListener(dockerClient, cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"live_sessions": listener.SessionCount(),
		})
	})
	router.GET("/ws", listener.Handler())

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.GetLogger().Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server error: %v", err)
		}
	}()

	gateway.RunUntilSignal(srv, listener, cfg.ShutdownDrainTimeout)
}
