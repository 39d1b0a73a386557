package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// Client writes search analytics to ClickHouse: per-query performance
// events from the slow query detector, per-search usage events from the
// API layer, and the catalog changelog from the indexing pipeline.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// WriteQueryPerformance records one slow query event.
func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	query := `
		INSERT INTO query_performance (
			event_type, query_hash, query_type, duration_ms,
			total_hits, timed_out, timestamp, trace_id, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.EventType,
		event.QueryHash,
		event.QueryType,
		event.DurationMs,
		event.TotalHits,
		event.TimedOut,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
}

// WriteSearchEvent records one finished search for usage analytics. Only a
// hash of the query text is stored.
func (c *Client) WriteSearchEvent(ctx context.Context, queryHash, path, source string, resultCount int64, tookMs int64) error {
	start := time.Now()

	query := `
		INSERT INTO search_events (
			query_hash, path, source, result_count, took_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	err := c.conn.Exec(ctx, query, queryHash, path, source, resultCount, tookMs, time.Now().UTC())
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CHQueryDuration.WithLabelValues("search_event", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("ch search event insert: %w", err)
	}
	return nil
}

// InsertChangeEvent appends one catalog change to the changelog.
func (c *Client) InsertChangeEvent(ctx context.Context, event *models.ChangeEvent) error {
	query := `
		INSERT INTO catalog_changelog (
			product_id, operation, timestamp, version
		) VALUES (?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.ProductID,
		event.Type,
		event.Timestamp,
		event.Version,
	)
}

// TopProblems returns the most frequent intent search paths over the last
// N days, fueling the admin analytics endpoint.
func (c *Client) TopProblems(ctx context.Context, days, limit int) (map[string]int64, error) {
	ctx, span := observability.StartSpan(ctx, "ch.top_problems",
		attribute.Int("days", days),
	)
	defer span.End()

	start := time.Now()

	query := `
		SELECT query_hash, count() AS cnt
		FROM search_events
		WHERE path = 'intent' AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY query_hash
		ORDER BY cnt DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, days, limit)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("top_problems", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch top problems query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var hash string
		var count uint64
		if err := rows.Scan(&hash, &count); err != nil {
			return nil, fmt.Errorf("scanning top problems row: %w", err)
		}
		counts[hash] = int64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top problems rows: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("top_problems", "success").Observe(time.Since(start).Seconds())
	return counts, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			query_type String,
			duration_ms Float64,
			total_hits Int64,
			timed_out Bool,
			timestamp DateTime,
			trace_id String,
			source String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,

		`CREATE TABLE IF NOT EXISTS search_events (
			query_hash String,
			path String,
			source String,
			result_count Int64,
			took_ms Int64,
			timestamp DateTime
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, path)`,

		`CREATE TABLE IF NOT EXISTS catalog_changelog (
			product_id String,
			operation String,
			timestamp DateTime,
			version Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, product_id)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
