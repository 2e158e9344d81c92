package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/waxworks/discograph/pkg/config"
	"github.com/waxworks/discograph/pkg/eventstore"
	"github.com/waxworks/discograph/pkg/graph/neo"
	"github.com/waxworks/discograph/pkg/intake"
	"github.com/waxworks/discograph/pkg/observability"
	"github.com/waxworks/discograph/pkg/roles"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion server",
	Long: `serve accepts anchored events over HTTP (POST /v1/events) and
projects them into the configured graph store through the intake
worker pool.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8077", "HTTP listen address")
}

func runServe() error {
	cfg := config.Load()
	log := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.IngestMode
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shCtx)
	}()

	gs, err := neo.Open(ctx, neo.Config{
		URI:      cfg.GraphURI,
		User:     cfg.GraphUser,
		Password: cfg.GraphPassword,
	})
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = gs.Close(context.Background()) }()
	if err := gs.EnsureConstraints(ctx); err != nil {
		return fmt.Errorf("ensure graph constraints: %w", err)
	}

	es, err := openEventStore(cfg)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer func() { _ = es.Close() }()

	rn, err := newRoles(cfg)
	if err != nil {
		return err
	}

	ik, err := intake.New(gs, es, rn, obs, log)
	if err != nil {
		return fmt.Errorf("build intake: %w", err)
	}
	pool := intake.NewPool(ik, cfg.IntakeWorkers, log)

	events := make(chan intake.AnchoredEvent, 256)
	poolDone := make(chan error, 1)
	go func() {
		// Background context: the pool drains the channel after the
		// HTTP listener stops accepting events.
		poolDone <- pool.Run(context.Background(), events)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var ev intake.AnchoredEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "invalid event JSON", http.StatusBadRequest)
			return
		}
		if ev.ContentHash == "" {
			http.Error(w, "content_hash is required", http.StatusBadRequest)
			return
		}
		if ev.Signature == "" && !cfg.AllowUnsignedEvents {
			http.Error(w, "signature is required", http.StatusBadRequest)
			return
		}
		select {
		case events <- ev:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "queued",
				"content_hash": ev.ContentHash,
			})
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()
	log.InfoContext(ctx, "ingestion server started",
		"addr", serveAddr, "mode", cfg.IngestMode, "workers", cfg.IntakeWorkers)

	select {
	case err := <-srvErr:
		close(events)
		<-poolDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	close(events)
	if err := <-poolDone; err != nil {
		return fmt.Errorf("intake pool: %w", err)
	}
	return nil
}

// openEventStore selects the event store by DSN scheme and wraps it in
// the redis cache when configured.
func openEventStore(cfg *config.Config) (eventstore.Store, error) {
	var (
		es  eventstore.Store
		err error
	)
	if strings.HasPrefix(cfg.EventStoreDSN, "postgres://") || strings.HasPrefix(cfg.EventStoreDSN, "postgresql://") {
		es, err = eventstore.OpenPostgres(cfg.EventStoreDSN)
	} else {
		es, err = eventstore.OpenSQLite(cfg.EventStoreDSN)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr != "" {
		es = eventstore.NewRedisCache(es, cfg.RedisAddr, "", 0, 0)
	}
	return es, nil
}

func newRoles(cfg *config.Config) (*roles.Normalizer, error) {
	rn := roles.NewNormalizer()
	if cfg.RolesFile != "" {
		if err := rn.LoadTable(cfg.RolesFile); err != nil {
			return nil, err
		}
	}
	return rn, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := observability.NewLogger(level)
	slog.SetDefault(log)
	return log
}
