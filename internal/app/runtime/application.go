// Package runtime assembles the escrow service: configuration, storage,
// the operation layer, event fanout, background services, and the HTTP
// server, all under one lifecycle manager.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/httpapi"
	"github.com/R3E-Network/escrow_service/internal/app/metrics"
	escrowsvc "github.com/R3E-Network/escrow_service/internal/app/services/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/services/feesweep"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/app/storage/memory"
	"github.com/R3E-Network/escrow_service/internal/app/storage/postgres"
	"github.com/R3E-Network/escrow_service/internal/app/system"
	"github.com/R3E-Network/escrow_service/internal/config"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
	"github.com/R3E-Network/escrow_service/internal/middleware"
	"github.com/R3E-Network/escrow_service/internal/platform/migrations"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// Application wires core dependencies and manages their lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager
	server  *http.Server
	db      *sql.DB

	Escrow *escrowsvc.Service
	Ring   *events.RingBuffer
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs the application from an explicit
// configuration. Tests use it to inject the memory backend.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	store, db, err := buildStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	ring := events.NewRingBuffer(cfg.Events.BufferSize)
	svc := escrowsvc.New(store, log, escrowsvc.WithEventLogger(ring))

	manager := system.NewManager()

	if cfg.Events.RedisAddr != "" {
		publisher := events.NewRedisPublisher(ring, events.RedisOptions{
			Addr:    cfg.Events.RedisAddr,
			Channel: cfg.Events.RedisChannel,
		}, log)
		if err := manager.Register(publisher); err != nil {
			return nil, err
		}
	}

	if cfg.Monitor.Enabled {
		monitor := system.NewMonitor(time.Duration(cfg.Monitor.IntervalSecs)*time.Second, log)
		if err := manager.Register(monitor); err != nil {
			return nil, err
		}
	}

	if cfg.Sweeper.Enabled {
		authority, err := escrow.ParseIdentity(cfg.Sweeper.Authority)
		if err != nil {
			return nil, fmt.Errorf("sweeper authority: %w", err)
		}
		sweeper, err := feesweep.New(svc, authority, cfg.Sweeper.FeeAmount, cfg.Sweeper.Schedule, log)
		if err != nil {
			return nil, err
		}
		if err := manager.Register(sweeper); err != nil {
			return nil, err
		}
	}

	handler := buildHandler(cfg, svc, ring, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		manager: manager,
		server:  server,
		db:      db,
		Escrow:  svc,
		Ring:    ring,
	}, nil
}

// buildHandler layers the middleware chain over the REST API. Order is
// outermost first: logging, metrics, rate limit, auth.
func buildHandler(cfg *config.Config, svc *escrowsvc.Service, ring *events.RingBuffer, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(svc, ring, log))

	auth := middleware.NewAuth(cfg.Auth.Secret, cfg.Auth.Enabled, log, []string{
		"/healthz", "/metrics", "/ws/events",
	})
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, log)

	var handler http.Handler = mux
	handler = auth.Handler(handler)
	handler = limiter.Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.RequestLogger(log)(handler)
	return handler
}

func buildStore(cfg config.DatabaseConfig) (storage.Store, *sql.DB, error) {
	// Empty driver selects the in-memory backend.
	if cfg.Driver == "" {
		return memory.New(), nil, nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(migrateCtx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return postgres.New(db), db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the background services, and the database
// connection, in that order.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.manager.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping background services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}
