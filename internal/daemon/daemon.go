package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/gymsub/gymsub/internal/api"
	"github.com/gymsub/gymsub/internal/app/roster"
	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/memory"
	"github.com/gymsub/gymsub/internal/infra/observability"
	"github.com/gymsub/gymsub/internal/infra/postgres"
	"github.com/gymsub/gymsub/internal/infra/sqlite"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns the process-lifetime resources.
type Daemon struct {
	Config Config
	Store  domain.Store
	Roster *roster.Service
	Log    *zap.Logger
}

// New builds the logger, opens the configured store and creates the service.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		return nil, err
	}
	return NewWithLogger(ctx, cfg, logger)
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(ctx context.Context, cfg Config, logger *zap.Logger) (*Daemon, error) {
	rc, err := cfg.RosterConfig()
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("driver", cfg.Storage.Driver)}
	if db, ok := store.(*sqlite.DB); ok {
		fields = append(fields, zap.String("path", db.Path()))
	}
	logger.Debug("store opened", fields...)
	return &Daemon{
		Config: cfg,
		Store:  store,
		Roster: roster.New(rc, store, logger),
		Log:    logger,
	}, nil
}

// OpenStore opens the backend named by cfg.Storage.Driver.
func OpenStore(ctx context.Context, cfg Config) (domain.Store, error) {
	switch cfg.Storage.Driver {
	case DriverMemory:
		if cfg.Storage.Snapshot == "" {
			return memory.New(), nil
		}
		return memory.Open(cfg.Storage.Snapshot)
	case DriverSQLite, "":
		path := cfg.SQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.OpenPath(path)
	case DriverPostgres:
		return postgres.Open(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Close releases the store and flushes the logger.
func (d *Daemon) Close() error {
	err := d.Store.Close()
	_ = d.Log.Sync()
	return err
}

// Handler returns the HTTP API for this daemon.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Roster, d.Log)
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

// Serve listens on the configured address until ctx is canceled, then
// drains in-flight requests.
func (d *Daemon) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.Config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.Config.Addr(), err)
	}
	return d.serve(ctx, ln)
}

func (d *Daemon) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Log.Info("listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("storage", d.Config.Storage.Driver),
			zap.Bool("metrics", d.Config.Metrics.Enabled),
		)
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	d.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
