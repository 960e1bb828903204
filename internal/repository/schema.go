package repository

import "fmt"

// Dialect selects the SQL flavour a SQLStore speaks.
type Dialect string

const (
	DialectSQLite     Dialect = "sqlite"
	DialectClickHouse Dialect = "clickhouse"
)

// Timestamps are stored as unix milliseconds in both dialects; JSON payloads as text.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		run_date INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		metrics TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		triggered_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		current_step_name TEXT NOT NULL DEFAULT '',
		total_steps INTEGER NOT NULL DEFAULT 0,
		completed_steps INTEGER NOT NULL DEFAULT 0,
		steps TEXT NOT NULL DEFAULT '[]',
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		previous_value TEXT NOT NULL DEFAULT '',
		current_value TEXT NOT NULL DEFAULT '',
		threshold TEXT NOT NULL DEFAULT '',
		instrument TEXT NOT NULL DEFAULT '',
		feature TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		is_read INTEGER NOT NULL DEFAULT 0,
		is_dismissed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_snapshot ON alerts(snapshot_id)`,
	`CREATE TABLE IF NOT EXISTS changelog (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		version TEXT NOT NULL,
		run_date INTEGER NOT NULL,
		headline TEXT NOT NULL,
		changes TEXT NOT NULL,
		metrics TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS portfolios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		weights TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

func clickhouseSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.snapshots (
			id String,
			schema_version UInt16,
			run_date Int64,
			created_at Int64,
			metrics String
		) ENGINE = MergeTree ORDER BY (created_at, id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.pipeline_runs (
			id String,
			trigger_type LowCardinality(String),
			triggered_by String,
			status LowCardinality(String),
			current_step_name String,
			total_steps Int32,
			completed_steps Int32,
			steps String,
			started_at Int64,
			completed_at Int64,
			duration_ms Int64,
			summary String,
			error_message String
		) ENGINE = MergeTree ORDER BY (started_at, id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.alerts (
			id String,
			snapshot_id String,
			kind LowCardinality(String),
			severity LowCardinality(String),
			title String,
			message String,
			previous_value String,
			current_value String,
			threshold String,
			instrument String,
			feature String,
			details String,
			is_read UInt8,
			is_dismissed UInt8,
			created_at Int64
		) ENGINE = MergeTree ORDER BY (created_at, id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.changelog (
			id String,
			snapshot_id String,
			version String,
			run_date Int64,
			headline String,
			changes String,
			metrics String,
			created_at Int64
		) ENGINE = MergeTree ORDER BY (created_at, id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.portfolios (
			id String,
			name String,
			active UInt8,
			weights String,
			updated_at Int64
		) ENGINE = MergeTree ORDER BY id`, db),
	}
}
