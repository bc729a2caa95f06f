package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scrapeease/scrapeease/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Job history
// survives process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	max_pages   INTEGER NOT NULL,
	strategy    TEXT,
	state       TEXT NOT NULL DEFAULT 'pending',
	fail_reason TEXT,
	error       TEXT,
	warnings    TEXT,
	dataset     TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_state ON scrape_jobs(state);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created_at ON scrape_jobs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.ScrapeJob) error {
	var stratJSON sql.NullString
	if job.Strategy != nil {
		data, err := json.Marshal(job.Strategy)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal strategy")
		}
		stratJSON = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, url, max_pages, strategy, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, job.MaxPages, stratJSON, string(job.State), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) UpdateState(ctx context.Context, jobID string, state model.JobState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET state = ?, updated_at = ? WHERE id = ? AND state IN `+sourceSet(state),
		string(state), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update state %s", jobID)
	}
	return s.checkStateWrite(ctx, res, jobID)
}

func (s *SQLiteStore) SetStrategy(ctx context.Context, jobID string, strat model.Strategy) error {
	stratJSON, err := json.Marshal(strat)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal strategy")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET strategy = ?, updated_at = ? WHERE id = ?`,
		string(stratJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set strategy %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) SetResult(ctx context.Context, jobID string, dataset *model.NormalizedDataset, warnings []string) error {
	datasetJSON, err := json.Marshal(dataset)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dataset")
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET state = ?, dataset = ?, warnings = ?, updated_at = ? WHERE id = ? AND state IN `+sourceSet(model.JobStateCompleted),
		string(model.JobStateCompleted), string(datasetJSON), string(warningsJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set result %s", jobID)
	}
	return s.checkStateWrite(ctx, res, jobID)
}

func (s *SQLiteStore) SetFailure(ctx context.Context, jobID string, reason model.FailReason, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET state = ?, fail_reason = ?, error = ?, updated_at = ? WHERE id = ? AND state IN `+sourceSet(model.JobStateFailed),
		string(model.JobStateFailed), string(reason), msg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set failure %s", jobID)
	}
	return s.checkStateWrite(ctx, res, jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (model.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, max_pages, strategy, state, fail_reason, error, warnings, dataset, created_at, updated_at
		 FROM scrape_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT id, url, max_pages, strategy, state, fail_reason, error, warnings, dataset, created_at, updated_at
		 FROM scrape_jobs`
	var args []any
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrape_jobs WHERE id = ?`, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.ScrapeJob, error) {
	var (
		job                 model.ScrapeJob
		state               string
		strategyJSON        sql.NullString
		failReason, errText sql.NullString
		warningsJSON        sql.NullString
		datasetJSON         sql.NullString
	)
	err := row.Scan(&job.ID, &job.URL, &job.MaxPages, &strategyJSON, &state,
		&failReason, &errText, &warningsJSON, &datasetJSON, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return model.ScrapeJob{}, ErrNotFound
		}
		return model.ScrapeJob{}, eris.Wrap(err, "sqlite: scan job")
	}

	job.State = model.JobState(state)
	job.FailReason = model.FailReason(failReason.String)
	job.Error = errText.String
	if strategyJSON.Valid && strategyJSON.String != "" {
		var strat model.Strategy
		if err := json.Unmarshal([]byte(strategyJSON.String), &strat); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "sqlite: unmarshal strategy")
		}
		job.Strategy = &strat
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &job.Warnings); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
	}
	if datasetJSON.Valid && datasetJSON.String != "" {
		var ds model.NormalizedDataset
		if err := json.Unmarshal([]byte(datasetJSON.String), &ds); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "sqlite: unmarshal dataset")
		}
		job.Dataset = &ds
	}
	return job, nil
}

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// sourceSet renders the legal source states for a transition as a SQL IN
// list. State names are compile-time constants.
func sourceSet(to model.JobState) string {
	sources := transitionSources(to)
	quoted := make([]string, len(sources))
	for i, s := range sources {
		quoted[i] = "'" + string(s) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// checkStateWrite resolves a zero-row state UPDATE: the job either does not
// exist or sits in a state the transition guard excluded.
func (s *SQLiteStore) checkStateWrite(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM scrape_jobs WHERE id = ?`, jobID).Scan(&one)
	if eris.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check job %s", jobID)
	}
	return ErrInvalidTransition
}
