package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gymsub/gymsub/internal/infra/memory"
	"github.com/gymsub/gymsub/internal/infra/sqlite"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(*Config)
		check func(t *testing.T, store any)
	}{
		{"memory", func(c *Config) { c.Storage.Driver = DriverMemory }, func(t *testing.T, s any) {
			if _, ok := s.(*memory.Store); !ok {
				t.Errorf("got %T, want *memory.Store", s)
			}
		}},
		{"memory snapshot", func(c *Config) {
			c.Storage.Driver = DriverMemory
			c.Storage.Snapshot = filepath.Join(dir, "snap.json")
		}, func(t *testing.T, s any) {
			if _, ok := s.(*memory.Store); !ok {
				t.Errorf("got %T, want *memory.Store", s)
			}
		}},
		{"sqlite", func(c *Config) { c.Storage.Path = filepath.Join(dir, "nested", "gymsub.db") }, func(t *testing.T, s any) {
			db, ok := s.(*sqlite.DB)
			if !ok {
				t.Fatalf("got %T, want *sqlite.DB", s)
			}
			if db.Path() != filepath.Join(dir, "nested", "gymsub.db") {
				t.Errorf("Path() = %q", db.Path())
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(&cfg)
			store, err := OpenStore(ctx, cfg)
			if err != nil {
				t.Fatalf("OpenStore() error: %v", err)
			}
			defer store.Close()
			tt.check(t, store)
		})
	}

	cfg := DefaultConfig()
	cfg.Storage.Driver = "mysql"
	if _, err := OpenStore(ctx, cfg); err == nil {
		t.Error("OpenStore() should reject an unknown driver")
	}
}

func TestNewWithLogger_LogsSQLitePath(t *testing.T) {
	t.Setenv("GYMSUB_HOME", t.TempDir())
	core, logs := observer.New(zapcore.DebugLevel)

	cfg := DefaultConfig()
	cfg.Home = t.TempDir()
	d, err := NewWithLogger(context.Background(), cfg, zap.New(core))
	if err != nil {
		t.Fatalf("NewWithLogger() error: %v", err)
	}
	defer d.Close()

	entries := logs.FilterMessage("store opened").All()
	if len(entries) != 1 {
		t.Fatalf("got %d store opened entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["path"]; got != filepath.Join(cfg.Home, "gymsub.db") {
		t.Errorf("path = %v, want the sqlite file in %s", got, cfg.Home)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = DriverMemory

	d, err := NewWithLogger(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}
