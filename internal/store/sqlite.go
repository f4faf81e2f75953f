package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobtick/internal/job"
	logx "jobtick/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./jobtick.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- jobs ----

const jobColumns = `id, name, job_type, cron_expr, interval_ns, config, status,
	timeout_ns, retry_count, retry_delay_ns, last_execution, next_execution,
	retry_attempt, retry_of, created_at, updated_at`

func (s *sqliteStore) CreateJob(ctx context.Context, j *job.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.UpdatedAt = j.CreatedAt

	cfgJSON, err := marshalMap(j.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.Type, nullStr(j.Schedule.Cron), int64(j.Schedule.Interval),
		nullStr(cfgJSON), string(j.Status), int64(j.Timeout), j.RetryCount, int64(j.RetryDelay),
		nullTime(j.LastExecution), nullTime(j.NextExecution),
		j.RetryAttempt, nullStr(j.RetryOf),
		j.CreatedAt.Format(time.RFC3339Nano), j.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: %q", ErrDuplicateName, j.Name)
	}
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *sqliteStore) GetJobByName(ctx context.Context, name string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
	return scanJob(row)
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at`)
}

func (s *sqliteStore) ListActiveJobs(ctx context.Context) ([]job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at`, string(job.StatusActive))
}

func (s *sqliteStore) queryJobs(ctx context.Context, q string, args ...any) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateJob(ctx context.Context, j job.Job) error {
	j.UpdatedAt = time.Now()
	cfgJSON, err := marshalMap(j.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name=?, job_type=?, cron_expr=?, interval_ns=?, config=?, status=?,
			timeout_ns=?, retry_count=?, retry_delay_ns=?, last_execution=?, next_execution=?,
			retry_attempt=?, retry_of=?, updated_at=?
		 WHERE id=?`,
		j.Name, j.Type, nullStr(j.Schedule.Cron), int64(j.Schedule.Interval),
		nullStr(cfgJSON), string(j.Status), int64(j.Timeout), j.RetryCount, int64(j.RetryDelay),
		nullTime(j.LastExecution), nullTime(j.NextExecution),
		j.RetryAttempt, nullStr(j.RetryOf),
		j.UpdatedAt.Format(time.RFC3339Nano), j.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateJobScheduling(ctx context.Context, id string, last time.Time, next *time.Time, retryAttempt int, retryOf string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var nextRaw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT next_execution FROM jobs WHERE id = ?`, id).Scan(&nextRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	existing, err := parseNullTime(nextRaw)
	if err != nil {
		return err
	}
	next = effectiveNext(existing, next, last)

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET last_execution=?, next_execution=?, retry_attempt=?, retry_of=?, updated_at=?
		 WHERE id=?`,
		last.Format(time.RFC3339Nano), nullTime(next),
		retryAttempt, nullStr(retryOf),
		time.Now().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_executions WHERE job_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- executions ----

const execColumns = `id, job_id, status, retry_attempt, triggered_by,
	started_at, completed_at, result, error, created_at`

func (s *sqliteStore) CreateExecution(ctx context.Context, e *job.Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	resJSON, err := marshalMap(e.Result)
	if err != nil {
		return fmt.Errorf("encode execution result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_executions(`+execColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.JobID, string(e.Status), e.RetryAttempt, nullStr(e.TriggeredBy),
		nullTimeV(e.StartedAt), nullTime(e.CompletedAt), nullStr(resJSON), nullStr(e.Error),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) UpdateExecution(ctx context.Context, e job.Execution) error {
	resJSON, err := marshalMap(e.Result)
	if err != nil {
		return fmt.Errorf("encode execution result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET status=?, retry_attempt=?, triggered_by=?,
			started_at=?, completed_at=?, result=?, error=?
		 WHERE id=?`,
		string(e.Status), e.RetryAttempt, nullStr(e.TriggeredBy),
		nullTimeV(e.StartedAt), nullTime(e.CompletedAt), nullStr(resJSON), nullStr(e.Error),
		e.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListExecutions(ctx context.Context, jobID string, limit int) ([]job.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+execColumns+` FROM job_executions WHERE job_id = ?
		 ORDER BY created_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountExecutions(ctx context.Context, jobID string) (int64, error) {
	q := `SELECT COUNT(*) FROM job_executions`
	var args []any
	if jobID != "" {
		q += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) FailAbandoned(ctx context.Context, msg string) (int64, error) {
	now := time.Now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET status=?, error=?, completed_at=?
		 WHERE status IN (?,?)`,
		string(job.RunFailed), msg, now,
		string(job.RunPending), string(job.RunRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PruneExecutions(ctx context.Context, jobID string, cutoff time.Time) (int64, error) {
	q := `DELETE FROM job_executions WHERE status IN (?,?) AND completed_at < ?`
	args := []any{string(job.RunSuccess), string(job.RunFailed), cutoff.Format(time.RFC3339Nano)}
	if jobID != "" {
		q += ` AND job_id = ?`
		args = append(args, jobID)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (job.Job, error) {
	var (
		j                        job.Job
		cronExpr, cfgJSON        sql.NullString
		lastExec, nextExec       sql.NullString
		retryOf                  sql.NullString
		intervalNS, timeoutNS    int64
		retryDelayNS             int64
		statusRaw, createdAtRaw  string
		updatedAtRaw             string
	)
	err := r.Scan(&j.ID, &j.Name, &j.Type, &cronExpr, &intervalNS, &cfgJSON, &statusRaw,
		&timeoutNS, &j.RetryCount, &retryDelayNS, &lastExec, &nextExec,
		&j.RetryAttempt, &retryOf, &createdAtRaw, &updatedAtRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}

	j.Schedule = job.Schedule{Cron: cronExpr.String, Interval: time.Duration(intervalNS)}
	j.Status = job.Status(statusRaw)
	j.Timeout = time.Duration(timeoutNS)
	j.RetryDelay = time.Duration(retryDelayNS)
	j.RetryOf = retryOf.String
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &j.Config); err != nil {
			return job.Job{}, fmt.Errorf("decode job config: %w", err)
		}
	}
	if j.LastExecution, err = parseNullTime(lastExec); err != nil {
		return job.Job{}, err
	}
	if j.NextExecution, err = parseNullTime(nextExec); err != nil {
		return job.Job{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtRaw); err != nil {
		return job.Job{}, err
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtRaw); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func scanExecution(r rowScanner) (job.Execution, error) {
	var (
		e                      job.Execution
		triggeredBy            sql.NullString
		startedAt, completedAt sql.NullString
		resJSON, errMsg        sql.NullString
		statusRaw, createdRaw  string
	)
	err := r.Scan(&e.ID, &e.JobID, &statusRaw, &e.RetryAttempt, &triggeredBy,
		&startedAt, &completedAt, &resJSON, &errMsg, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Execution{}, ErrNotFound
	}
	if err != nil {
		return job.Execution{}, err
	}

	e.Status = job.RunStatus(statusRaw)
	e.TriggeredBy = triggeredBy.String
	e.Error = errMsg.String
	if resJSON.Valid && resJSON.String != "" {
		if err := json.Unmarshal([]byte(resJSON.String), &e.Result); err != nil {
			return job.Execution{}, fmt.Errorf("decode execution result: %w", err)
		}
	}
	if startedAt.Valid && startedAt.String != "" {
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt.String); err != nil {
			return job.Execution{}, err
		}
	}
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return job.Execution{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return job.Execution{}, err
	}
	return e, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullTimeV(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
