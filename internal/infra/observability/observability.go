// Package observability holds the process-wide Prometheus metrics and the
// zap logger constructor.
package observability

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ═══════════════════════════════════════════════════════════════════════════
// Logging
// ═══════════════════════════════════════════════════════════════════════════

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// NewLogger builds a zap logger for the given config.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Ledger ─────────────────────────────────────────────────────────────────

// SubstitutionsRecorded counts substitutions committed together with their balance effect.
var SubstitutionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gymsub",
	Subsystem: "ledger",
	Name:      "substitutions_recorded_total",
	Help:      "Substitutions recorded and applied to the ledger.",
})

// SubstitutionsReverted counts deleted substitutions.
var SubstitutionsReverted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gymsub",
	Subsystem: "ledger",
	Name:      "substitutions_reverted_total",
	Help:      "Substitutions deleted and reverted from the ledger.",
})

// BalanceTransitions counts ledger steps by direction (apply, revert) and outcome.
var BalanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gymsub",
	Subsystem: "ledger",
	Name:      "balance_transitions_total",
	Help:      "Balance changes by operation and outcome.",
}, []string{"operation", "outcome"})

// ─── Roster ─────────────────────────────────────────────────────────────────

// TrainersRemoved counts cascaded trainer removals.
var TrainersRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gymsub",
	Subsystem: "roster",
	Name:      "trainers_removed_total",
	Help:      "Trainers removed together with their substitutions and balances.",
})

// StorageRetries counts operations re-run after a storage failure.
var StorageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gymsub",
	Subsystem: "roster",
	Name:      "storage_retries_total",
	Help:      "Whole-operation retries after a storage failure.",
}, []string{"operation"})

// OperationDuration tracks end-to-end roster operation latency.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "gymsub",
	Subsystem: "roster",
	Name:      "operation_duration_seconds",
	Help:      "Roster operation latency including retries.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{"operation", "result"})

// ObserveOperation records one operation's latency and result kind.
func ObserveOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
