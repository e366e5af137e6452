// Package app wires configuration, logging, persistence, and the hub
// into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"flagfall/server"
	"flagfall/server/internal/httpapi"
	"flagfall/server/internal/moderation"
	"flagfall/server/internal/net/ws"
	"flagfall/server/internal/reputation"
	"flagfall/server/internal/store"
	"flagfall/server/internal/telemetry"
	"flagfall/server/logging"
	loggingSinks "flagfall/server/logging/sinks"
)

// Config carries process-level options. Everything else comes from
// the environment.
type Config struct {
	Logger telemetry.Logger
}

// Run builds the full server and blocks until ctx is cancelled or the
// HTTP listener fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	production := envBool("PRODUCTION")
	adminTokens := splitTokens(os.Getenv("ADMIN_TOKENS"))
	if production && len(adminTokens) == 0 {
		return errors.New("ADMIN_TOKENS must be set in production")
	}

	logConfig := logging.DefaultConfig()
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console),
	}
	if path := os.Getenv("LOG_JSON_PATH"); path != "" {
		logConfig.JSON.FilePath = path
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		jsonSink, err := loggingSinks.NewJSONSink(logConfig.JSON)
		if err != nil {
			return fmt.Errorf("open json log sink: %w", err)
		}
		sinks["json"] = jsonSink
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, log.Default(), sinks)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			telemetryLogger.Printf("close logging router: %v", cerr)
		}
	}()

	var persistence store.Store
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		pg, err := store.NewPostgres(ctx, databaseURL)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer pg.Close()
		persistence = pg
	} else {
		telemetryLogger.Printf("DATABASE_URL not set, using in-memory store")
		persistence = store.NewMemory()
	}

	var moderator moderation.Filter = moderation.Passthrough()
	if base := os.Getenv("MODERATION_URL"); base != "" {
		moderator = moderation.NewHTTPClient(base, 5*time.Second)
	} else {
		telemetryLogger.Printf("MODERATION_URL not set, chat passes through unfiltered")
	}

	var reputationChecker reputation.Checker = reputation.AllowAll()
	if base := os.Getenv("REPUTATION_URL"); base != "" {
		reputationChecker = reputation.NewHTTPClient(base, os.Getenv("REPUTATION_API_KEY"), 5*time.Second)
	} else if production {
		telemetryLogger.Printf("REPUTATION_URL not set, all addresses allowed")
	}

	metrics := telemetry.NewCounters()
	hub := server.NewHub(server.Config{
		AdminTokens: adminTokens,
		Production:  production,
		Domain:      os.Getenv("DOMAIN"),
	}, server.Deps{
		Store:      persistence,
		Moderator:  moderator,
		Reputation: reputationChecker,
		Logger:     telemetryLogger,
		Metrics:    metrics,
		Publisher:  router,
		Clock:      router.Clock(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(runCtx)

	mux := httpapi.NewMux(hub, telemetryLogger)
	mux.Handle("/ws", ws.NewHandler(hub, telemetryLogger, metrics, router))

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetryLogger.Printf("listening on %s (production=%v)", addr, production)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			telemetryLogger.Printf("http shutdown: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func splitTokens(raw string) []string {
	var tokens []string
	for _, token := range strings.Split(raw, ":") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
