package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/mikepea/tabletop/pkg/tabletop/config"
	"github.com/mikepea/tabletop/pkg/tabletop/database"
	"github.com/mikepea/tabletop/pkg/tabletop/logging"
	"github.com/mikepea/tabletop/pkg/tabletop/server"
	"github.com/mikepea/tabletop/pkg/tabletop/startup"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	slog.Info("Starting tabletop server", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No traffic is served until the save file is at the current version
	db, meta, err := startup.Open(ctx, cfg.SaveFile, cfg.DBLogLevel)
	if err != nil {
		slog.Error("Save file is not usable", "path", cfg.SaveFile, "error", err)
		os.Exit(startup.ExitStoreFailure)
	}
	defer database.Close(db)

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = meta.SecretToken
	}
	auth.Configure(secret, cfg.TokenDuration)

	gin.SetMode(cfg.GinMode)
	s := server.New(db, meta, cfg.SessionBuffer)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Engine,
	}
	// Event streams never finish on their own
	srv.RegisterOnShutdown(s.Sessions.Close)

	go func() {
		slog.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown did not complete", "error", err)
	}
}
