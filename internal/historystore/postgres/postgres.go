// Package postgres implements plm.HistoryRecorder over PostgreSQL: an
// optional durable Change History Log backend for hosts that want
// query-able history outside the workbook (SPEC_FULL.md §3), grounded on
// the teacher's internal/infrastructure/repository.PostgresHistoryRepository
// shape (pool, logger, Prometheus query metrics) but writing through the
// push_events/rack_summary tables created by this package's embedded
// sql/*.sql migrations (applied by Migrate) instead of querying alert rows.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

// Metrics mirrors the teacher's HistoryMetrics shape, scoped to the two
// write paths this store exposes.
type Metrics struct {
	WriteDuration *prometheus.HistogramVec
	WriteErrors   *prometheus.CounterVec
}

// NewMetrics registers the store's Prometheus metrics. reg may be nil in
// tests that don't care about metrics output.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arenasync", Subsystem: "history_postgres", Name: "write_duration_seconds",
			Help:    "Duration of writes to the durable history backend.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
		WriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arenasync", Subsystem: "history_postgres", Name: "write_errors_total",
			Help: "Errors writing to the durable history backend.",
		}, []string{"operation"}),
	}
}

// Store implements plm.HistoryRecorder over a pgx connection pool.
type Store struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
}

// New wraps an already-connected pool. Schema setup is handled separately
// by Migrate, the way the teacher keeps migration execution out of the
// repository constructor.
func New(pool *pgxpool.Pool, logger *slog.Logger, metrics *Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Store{pool: pool, logger: logger, metrics: metrics}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.WriteDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.WriteErrors.WithLabelValues(operation).Inc()
	}
}

// AppendEvent inserts one detail-section event row into push_events.
func (s *Store) AppendEvent(ctx context.Context, e plm.HistoryEvent) (err error) {
	start := time.Now()
	defer func() { s.observe("append_event", start, err) }()

	occurred := e.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO push_events
			(rack_number, kind, actor, status_before, status_after, summary, details, sheet_link, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.RackNumber, string(e.Kind), e.Actor, string(e.StatusBefore), string(e.StatusAfter),
		e.Summary, e.Details, e.SheetLink, occurred,
	)
	if err != nil {
		s.logger.Error("postgres history: append event failed", "rack", e.RackNumber, "kind", e.Kind, "error", err)
	}
	return err
}

// UpsertSummary writes or updates a rack's summary row by primary key,
// the query-able counterpart to HistoryLog.UpsertSummary's row scan.
func (s *Store) UpsertSummary(ctx context.Context, row plm.SummaryRow) (err error) {
	start := time.Now()
	defer func() { s.observe("upsert_summary", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rack_summary
			(rack_number, name, status, parent_id, created_at, last_refresh, last_sync, last_push, checksum)
		VALUES ($1, $2, $3, $4, NULLIF($5, TIMESTAMPTZ '0001-01-01'), NULLIF($6, TIMESTAMPTZ '0001-01-01'),
		        NULLIF($7, TIMESTAMPTZ '0001-01-01'), NULLIF($8, TIMESTAMPTZ '0001-01-01'), $9)
		ON CONFLICT (rack_number) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			parent_id = EXCLUDED.parent_id,
			last_refresh = COALESCE(EXCLUDED.last_refresh, rack_summary.last_refresh),
			last_sync = COALESCE(EXCLUDED.last_sync, rack_summary.last_sync),
			last_push = COALESCE(EXCLUDED.last_push, rack_summary.last_push),
			checksum = EXCLUDED.checksum`,
		row.RackNumber, row.Name, string(row.Status), row.ParentID,
		row.CreatedAt, row.LastRefresh, row.LastSync, row.LastPush, row.Checksum,
	)
	if err != nil {
		s.logger.Error("postgres history: upsert summary failed", "rack", row.RackNumber, "error", err)
	}
	return err
}

// RecentEvents returns the most recent events for a rack, newest first.
// This is the query-able capability a sheet-backed log can't offer
// cheaply: a host can page through history without opening the workbook.
func (s *Store) RecentEvents(ctx context.Context, rackNumber string, limit int) ([]plm.HistoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT kind, actor, status_before, status_after, summary, details, sheet_link, occurred_at
		FROM push_events WHERE rack_number = $1 ORDER BY occurred_at DESC LIMIT $2`,
		rackNumber, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plm.HistoryEvent
	for rows.Next() {
		var e plm.HistoryEvent
		var kind, statusBefore, statusAfter string
		if err := rows.Scan(&kind, &e.Actor, &statusBefore, &statusAfter, &e.Summary, &e.Details, &e.SheetLink, &e.Timestamp); err != nil {
			return nil, err
		}
		e.RackNumber = rackNumber
		e.Kind = plm.EventKind(kind)
		e.StatusBefore = plm.SyncStatus(statusBefore)
		e.StatusAfter = plm.SyncStatus(statusAfter)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }
