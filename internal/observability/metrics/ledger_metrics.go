package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	"gorm.io/gorm"
)

const (
	LedgerReasonLockConflict         = "lock_conflict"
	LedgerReasonRollbackExpired      = "rollback_expired"
	LedgerReasonRollbackConflict     = "rollback_conflict"
	LedgerReasonNotFound             = "not_found"
	LedgerReasonInvalidMutation      = "invalid_mutation"
	LedgerReasonDeadlineExceeded     = "deadline_exceeded"
	LedgerReasonDBLockTimeout        = "db_lock_timeout"
	LedgerReasonSerializationFailure = "serialization_failure"
	LedgerReasonUniqueViolation      = "unique_violation"
	LedgerReasonUnknown              = "unknown"
)

const (
	LedgerOperationApply    = "apply"
	LedgerOperationRollback = "rollback"
)

// LedgerMetrics captures recalculation ledger health signals.
type LedgerMetrics struct {
	duration       *prometheus.HistogramVec
	batches        *prometheus.CounterVec
	affectedEvents *prometheus.CounterVec
	errors         *prometheus.CounterVec
	lockWait       prometheus.Observer
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// NewLedgerMetrics returns the singleton ledger metrics registry using config labels.
func NewLedgerMetrics(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// ResetLedgerMetricsForTest resets the ledger metrics singleton for tests.
func ResetLedgerMetricsForTest() {
	ledgerMetricsOnce = sync.Once{}
	ledgerMetrics = nil
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "kwhtracker"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "kwhtracker_recalculation_duration_seconds",
		Help:        "Time spent applying a recalculation batch, lock to commit.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"trigger_type"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "kwhtracker_recalculation_batches_total",
		Help:        "Recalculation batches committed by trigger type.",
		ConstLabels: constLabels,
	}, []string{"trigger_type"})
	affectedEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "kwhtracker_recalculation_affected_events_total",
		Help:        "Daily usage changes recorded by recalculation batches.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "kwhtracker_recalculation_errors_total",
		Help:        "Recalculation failures by operation and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "kwhtracker_recalculation_lock_wait_seconds",
		Help:        "Time spent acquiring the per-user recalculation lock.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(duration, batches, affectedEvents, errorsVec, lockWait)

	return &LedgerMetrics{
		duration:       duration,
		batches:        batches,
		affectedEvents: affectedEvents,
		errors:         errorsVec,
		lockWait:       lockWait,
	}
}

// ObserveBatch records a committed batch and its affected events.
func (m *LedgerMetrics) ObserveBatch(triggerType string, eventTypes []string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(triggerType).Observe(elapsed.Seconds())
	m.batches.WithLabelValues(triggerType).Inc()
	for _, eventType := range eventTypes {
		m.affectedEvents.WithLabelValues(eventType).Inc()
	}
}

// ObserveLockWait records lock acquisition latency.
func (m *LedgerMetrics) ObserveLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(elapsed.Seconds())
}

// IncError counts a failed ledger operation.
func (m *LedgerMetrics) IncError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(operation, ClassifyLedgerReason(err)).Inc()
}

// ClassifyLedgerReason maps ledger errors to low-cardinality reasons.
func ClassifyLedgerReason(err error) string {
	switch {
	case err == nil:
		return LedgerReasonUnknown
	case errors.Is(err, recalculationdomain.ErrConcurrentRecalculation):
		return LedgerReasonLockConflict
	case errors.Is(err, recalculationdomain.ErrRollbackExpired):
		return LedgerReasonRollbackExpired
	case errors.Is(err, recalculationdomain.ErrRollbackConflict):
		return LedgerReasonRollbackConflict
	case errors.Is(err, recalculationdomain.ErrRollbackNotFound):
		return LedgerReasonNotFound
	case errors.Is(err, recalculationdomain.ErrInvalidMutation):
		return LedgerReasonInvalidMutation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return LedgerReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return LedgerReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return LedgerReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return LedgerReasonUniqueViolation
	}
	return LedgerReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
