package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	pkgch "FinPilot/pkg/clickhouse"
	pkgsqlite "FinPilot/pkg/sqlite"
)

// SQLStore implements domrepo.Store over database/sql for SQLite and ClickHouse.
// ClickHouse rows are changed through mutations, so the connection must run
// with mutations_sync=1 for reads to observe writes.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
	closer  func() error
	now     func() time.Time
}

var _ domrepo.Store = (*SQLStore)(nil)

// NewSQLiteStore creates the schema on the given client and returns a store over it.
func NewSQLiteStore(ctx context.Context, c *pkgsqlite.Client) (*SQLStore, error) {
	if err := c.InitSchema(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return &SQLStore{db: c.DB(), dialect: DialectSQLite, closer: c.Close, now: time.Now}, nil
}

// NewClickHouseStore creates the schema in database and returns a store over it.
func NewClickHouseStore(ctx context.Context, c *pkgch.Client, database string) (*SQLStore, error) {
	if err := c.InitSchema(ctx, clickhouseSchema(database)); err != nil {
		return nil, fmt.Errorf("clickhouse store: %w", err)
	}
	return &SQLStore{db: c.DB(), dialect: DialectClickHouse, prefix: database + ".", closer: c.Close, now: time.Now}, nil
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func (s *SQLStore) table(name string) string {
	return s.prefix + name
}

func (s *SQLStore) updateQuery(table string, sets []string, where string) string {
	if s.dialect == DialectClickHouse {
		return fmt.Sprintf("ALTER TABLE %s UPDATE %s WHERE %s SETTINGS mutations_sync = 1", s.table(table), strings.Join(sets, ", "), where)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table(table), strings.Join(sets, ", "), where)
}

func (s *SQLStore) deleteQuery(table, where string) string {
	if s.dialect == DialectClickHouse {
		return fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s SETTINGS mutations_sync = 1", s.table(table), where)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", s.table(table), where)
}

// --- snapshots ---

func (s *SQLStore) InsertSnapshot(ctx context.Context, snap *models.Snapshot) (string, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = models.CurrentSchemaVersion
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot metrics: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO %s (id, schema_version, run_date, created_at, metrics) VALUES (?, ?, ?, ?, ?)", s.table("snapshots"))
	if _, err := s.db.ExecContext(ctx, q, snap.ID, snap.SchemaVersion, toMillis(snap.RunDate), toMillis(snap.CreatedAt), string(metrics)); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return snap.ID, nil
}

func (s *SQLStore) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snaps, err := s.RecentSnapshots(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0], nil
}

// RecentSnapshots returns up to n snapshots, newest first.
func (s *SQLStore) RecentSnapshots(ctx context.Context, n int) ([]*models.Snapshot, error) {
	if n <= 0 {
		return []*models.Snapshot{}, nil
	}
	q := fmt.Sprintf("SELECT id, schema_version, run_date, created_at, metrics FROM %s ORDER BY created_at DESC, run_date DESC LIMIT ?", s.table("snapshots"))
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Snapshot, 0, n)
	for rows.Next() {
		var (
			snap             models.Snapshot
			runDate, created int64
			payload          string
		)
		if err := rows.Scan(&snap.ID, &snap.SchemaVersion, &runDate, &created, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.RunDate = fromMillis(runDate)
		snap.CreatedAt = fromMillis(created)
		snap.Metrics, err = models.DecodeMetrics(snap.SchemaVersion, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// --- pipeline runs ---

const runColumns = "id, trigger_type, triggered_by, status, current_step_name, total_steps, completed_steps, steps, started_at, completed_at, duration_ms, summary, error_message"

func (s *SQLStore) InsertPipelineRun(ctx context.Context, run *models.PipelineRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	steps, err := marshalJSON(run.Steps, "[]")
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	summary, err := marshalJSON(run.Summary, "{}")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table("pipeline_runs"), runColumns)
	_, err = s.db.ExecContext(ctx, q,
		run.ID,
		string(run.TriggerType),
		run.TriggeredBy,
		string(run.Status),
		run.CurrentStepName,
		run.TotalSteps,
		run.CompletedSteps,
		steps,
		toMillis(run.StartedAt),
		optMillis(run.CompletedAt),
		run.DurationMs,
		summary,
		run.ErrorMessage,
	)
	if err != nil {
		return "", fmt.Errorf("insert pipeline run: %w", err)
	}
	return run.ID, nil
}

func (s *SQLStore) UpdatePipelineRun(ctx context.Context, id string, upd models.PipelineRunUpdate) error {
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.CurrentStepName != nil {
		set("current_step_name", *upd.CurrentStepName)
	}
	if upd.CompletedSteps != nil {
		set("completed_steps", *upd.CompletedSteps)
	}
	if upd.Steps != nil {
		b, err := json.Marshal(upd.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		set("steps", string(b))
	}
	if upd.CompletedAt != nil {
		set("completed_at", toMillis(*upd.CompletedAt))
	}
	if upd.DurationMs != nil {
		set("duration_ms", *upd.DurationMs)
	}
	if upd.Summary != nil {
		b, err := json.Marshal(upd.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		set("summary", string(b))
	}
	if upd.ErrorMessage != nil {
		set("error_message", *upd.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, s.updateQuery("pipeline_runs", sets, "id = ?"), args...)
	if err != nil {
		return fmt.Errorf("update pipeline run %s: %w", id, err)
	}
	// ClickHouse mutations do not report affected rows.
	if s.dialect == DialectSQLite {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update pipeline run %s: %w", id, domrepo.ErrNotFound)
		}
	}
	return nil
}

func (s *SQLStore) GetPipelineRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", runColumns, s.table("pipeline_runs"))
	runs, err := s.queryRuns(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("pipeline run %s: %w", id, domrepo.ErrNotFound)
	}
	return runs[0], nil
}

// ListPipelineRuns returns the most recent runs first.
func (s *SQLStore) ListPipelineRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY started_at DESC LIMIT ?", runColumns, s.table("pipeline_runs"))
	return s.queryRuns(ctx, q, limit)
}

func (s *SQLStore) ListStuckRuns(ctx context.Context) ([]*models.PipelineRun, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE status = ? ORDER BY started_at ASC", runColumns, s.table("pipeline_runs"))
	return s.queryRuns(ctx, q, string(models.RunRunning))
}

func (s *SQLStore) queryRuns(ctx context.Context, q string, args ...interface{}) ([]*models.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline runs: %w", err)
	}
	defer rows.Close()

	out := []*models.PipelineRun{}
	for rows.Next() {
		var (
			r                  models.PipelineRun
			trigger, status    string
			steps, summary     string
			started, completed int64
		)
		if err := rows.Scan(&r.ID, &trigger, &r.TriggeredBy, &status, &r.CurrentStepName, &r.TotalSteps,
			&r.CompletedSteps, &steps, &started, &completed, &r.DurationMs, &summary, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		r.TriggerType = models.TriggerType(trigger)
		r.Status = models.RunStatus(status)
		r.StartedAt = fromMillis(started)
		if completed > 0 {
			t := fromMillis(completed)
			r.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of run %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of run %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- alerts ---

const alertColumns = "id, snapshot_id, kind, severity, title, message, previous_value, current_value, threshold, instrument, feature, details, is_read, is_dismissed, created_at"

func (s *SQLStore) InsertAlerts(ctx context.Context, snapshotID string, candidates []models.AlertCandidate) ([]models.Alert, error) {
	if len(candidates) == 0 {
		return []models.Alert{}, nil
	}
	now := s.now().UTC()
	alerts := make([]models.Alert, 0, len(candidates))
	values := make([]string, 0, len(candidates))
	args := make([]interface{}, 0, len(candidates)*15)
	for _, c := range candidates {
		a := models.Alert{AlertCandidate: c, ID: uuid.NewString(), SnapshotID: snapshotID, CreatedAt: now}
		details, err := marshalJSON(c.Details, "{}")
		if err != nil {
			return nil, fmt.Errorf("marshal alert details: %w", err)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, a.ID, snapshotID, string(c.Kind), string(c.Severity), c.Title, c.Message,
			c.PreviousValue, c.CurrentValue, c.Threshold, c.Instrument, c.Feature, details, 0, 0, toMillis(now))
		alerts = append(alerts, a)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table("alerts"), alertColumns, strings.Join(values, ", "))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("insert alerts: %w", err)
	}
	return alerts, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if !f.IncludeDismissed {
		where = append(where, "is_dismissed = 0")
	}
	if f.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	if f.SnapshotID != "" {
		where = append(where, "snapshot_id = ?")
		args = append(args, f.SnapshotID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := fmt.Sprintf("SELECT %s FROM %s", alertColumns, s.table("alerts"))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := []models.Alert{}
	for rows.Next() {
		var (
			a                   models.Alert
			kind, sev, details  string
			isRead, isDismissed int64
			created             int64
		)
		if err := rows.Scan(&a.ID, &a.SnapshotID, &kind, &sev, &a.Title, &a.Message, &a.PreviousValue, &a.CurrentValue,
			&a.Threshold, &a.Instrument, &a.Feature, &details, &isRead, &isDismissed, &created); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = models.AlertKind(kind)
		a.Severity = models.Severity(sev)
		a.IsRead = isRead != 0
		a.IsDismissed = isDismissed != 0
		a.CreatedAt = fromMillis(created)
		if details != "" && details != "{}" && details != "null" {
			if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
				return nil, fmt.Errorf("decode alert details %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountAlertsBySnapshot(ctx context.Context, snapshotID string) (int, error) {
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE snapshot_id = ?", s.table("alerts"))
	var n int64
	if err := s.db.QueryRowContext(ctx, q, snapshotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) MarkAlertRead(ctx context.Context, id string) error {
	return s.setAlertFlag(ctx, id, "is_read")
}

func (s *SQLStore) DismissAlert(ctx context.Context, id string) error {
	return s.setAlertFlag(ctx, id, "is_dismissed")
}

func (s *SQLStore) setAlertFlag(ctx context.Context, id, column string) error {
	var exists int64
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE id = ?", s.table("alerts"))
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&exists); err != nil {
		return fmt.Errorf("lookup alert: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("alert %s: %w", id, domrepo.ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, s.updateQuery("alerts", []string{column + " = 1"}, "id = ?"), id); err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	return nil
}

// --- changelog ---

func (s *SQLStore) InsertChangelog(ctx context.Context, e *models.ChangelogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	headline, err := json.Marshal(e.Headline)
	if err != nil {
		return "", fmt.Errorf("marshal headline: %w", err)
	}
	changes, err := marshalJSON(e.Changes, "[]")
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	metrics, err := marshalJSON(e.Metrics, "{}")
	if err != nil {
		return "", fmt.Errorf("marshal changelog metrics: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO %s (id, snapshot_id, version, run_date, headline, changes, metrics, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.table("changelog"))
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.SnapshotID, e.Version, toMillis(e.RunDate), string(headline), changes, metrics, toMillis(e.CreatedAt)); err != nil {
		return "", fmt.Errorf("insert changelog: %w", err)
	}
	return e.ID, nil
}

func (s *SQLStore) ListChangelog(ctx context.Context, limit int) ([]models.ChangelogEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	q := fmt.Sprintf("SELECT id, snapshot_id, version, run_date, headline, changes, metrics, created_at FROM %s ORDER BY created_at DESC LIMIT ?", s.table("changelog"))
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query changelog: %w", err)
	}
	defer rows.Close()

	out := []models.ChangelogEntry{}
	for rows.Next() {
		var (
			e                          models.ChangelogEntry
			runDate, created           int64
			headline, changes, metrics string
		)
		if err := rows.Scan(&e.ID, &e.SnapshotID, &e.Version, &runDate, &headline, &changes, &metrics, &created); err != nil {
			return nil, fmt.Errorf("scan changelog: %w", err)
		}
		e.RunDate = fromMillis(runDate)
		e.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(headline), &e.Headline); err != nil {
			return nil, fmt.Errorf("decode headline %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("decode changes %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
			return nil, fmt.Errorf("decode changelog metrics %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- portfolio ---

func (s *SQLStore) ActivePortfolio(ctx context.Context) (*models.PortfolioConfig, error) {
	q := fmt.Sprintf("SELECT id, name, weights, updated_at FROM %s WHERE active = 1 ORDER BY updated_at DESC LIMIT 1", s.table("portfolios"))
	var (
		p       models.PortfolioConfig
		weights string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, q).Scan(&p.ID, &p.Name, &weights, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active portfolio: %w", err)
	}
	p.Active = true
	p.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(weights), &p.Weights); err != nil {
		return nil, fmt.Errorf("decode portfolio weights: %w", err)
	}
	return &p, nil
}

// SavePortfolio replaces the portfolio with the same id. Saving an active
// portfolio deactivates every other one.
func (s *SQLStore) SavePortfolio(ctx context.Context, p *models.PortfolioConfig) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = s.now().UTC()
	weights, err := marshalJSON(p.Weights, "{}")
	if err != nil {
		return fmt.Errorf("marshal portfolio weights: %w", err)
	}

	if p.Active {
		if _, err := s.db.ExecContext(ctx, s.updateQuery("portfolios", []string{"active = 0"}, "id != ?"), p.ID); err != nil {
			return fmt.Errorf("deactivate portfolios: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.deleteQuery("portfolios", "id = ?"), p.ID); err != nil {
		return fmt.Errorf("replace portfolio: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (id, name, active, weights, updated_at) VALUES (?, ?, ?, ?, ?)", s.table("portfolios"))
	if _, err := s.db.ExecContext(ctx, q, p.ID, p.Name, boolInt(p.Active), weights, toMillis(p.UpdatedAt)); err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// --- helpers ---

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func optMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return toMillis(*t)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func marshalJSON(v interface{}, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
