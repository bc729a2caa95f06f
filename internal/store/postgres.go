package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scrapeease/scrapeease/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; satisfied by pgxmock
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments sharing job
// history across processes.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	max_pages   INTEGER NOT NULL,
	strategy    JSONB,
	state       TEXT NOT NULL DEFAULT 'pending',
	fail_reason TEXT,
	error       TEXT,
	warnings    JSONB,
	dataset     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_state ON scrape_jobs(state);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created_at ON scrape_jobs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.ScrapeJob) error {
	var stratJSON []byte
	if job.Strategy != nil {
		var err error
		stratJSON, err = json.Marshal(job.Strategy)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal strategy")
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, url, max_pages, strategy, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.URL, job.MaxPages, stratJSON, string(job.State), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) UpdateState(ctx context.Context, jobID string, state model.JobState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET state = $1, updated_at = $2 WHERE id = $3 AND state = ANY($4)`,
		string(state), time.Now().UTC(), jobID, sourceStates(state),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update state %s", jobID)
	}
	return s.checkStateWrite(ctx, tag, jobID)
}

func (s *PostgresStore) SetStrategy(ctx context.Context, jobID string, strat model.Strategy) error {
	stratJSON, err := json.Marshal(strat)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal strategy")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET strategy = $1, updated_at = $2 WHERE id = $3`,
		stratJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set strategy %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetResult(ctx context.Context, jobID string, dataset *model.NormalizedDataset, warnings []string) error {
	datasetJSON, err := json.Marshal(dataset)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dataset")
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET state = $1, dataset = $2, warnings = $3, updated_at = $4 WHERE id = $5 AND state = ANY($6)`,
		string(model.JobStateCompleted), datasetJSON, warningsJSON, time.Now().UTC(), jobID, sourceStates(model.JobStateCompleted),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set result %s", jobID)
	}
	return s.checkStateWrite(ctx, tag, jobID)
}

func (s *PostgresStore) SetFailure(ctx context.Context, jobID string, reason model.FailReason, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET state = $1, fail_reason = $2, error = $3, updated_at = $4 WHERE id = $5 AND state = ANY($6)`,
		string(model.JobStateFailed), string(reason), msg, time.Now().UTC(), jobID, sourceStates(model.JobStateFailed),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set failure %s", jobID)
	}
	return s.checkStateWrite(ctx, tag, jobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (model.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, url, max_pages, strategy, state, fail_reason, error, warnings, dataset, created_at, updated_at
		 FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanPgJob(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return model.ScrapeJob{}, ErrNotFound
		}
		return model.ScrapeJob{}, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT id, url, max_pages, strategy, state, fail_reason, error, warnings, dataset, created_at, updated_at
		 FROM scrape_jobs`
	var args []any
	if filter.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(filter.State))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC`
	if filter.State != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_jobs WHERE id = $1`, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// sourceStates renders the legal source states for a transition as a text
// array argument for `state = ANY($n)`.
func sourceStates(to model.JobState) []string {
	sources := transitionSources(to)
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// checkStateWrite resolves a zero-row state UPDATE: the job either does not
// exist or sits in a state the transition guard excluded.
func (s *PostgresStore) checkStateWrite(ctx context.Context, tag pgconn.CommandTag, jobID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM scrape_jobs WHERE id = $1`, jobID).Scan(&one)
	if eris.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check job %s", jobID)
	}
	return ErrInvalidTransition
}

func scanPgJob(row pgx.Row) (model.ScrapeJob, error) {
	var (
		job                 model.ScrapeJob
		state               string
		strategyJSON        []byte
		failReason, errText *string
		warningsJSON        []byte
		datasetJSON         []byte
	)
	err := row.Scan(&job.ID, &job.URL, &job.MaxPages, &strategyJSON, &state,
		&failReason, &errText, &warningsJSON, &datasetJSON, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return model.ScrapeJob{}, err
	}

	job.State = model.JobState(state)
	if failReason != nil {
		job.FailReason = model.FailReason(*failReason)
	}
	if errText != nil {
		job.Error = *errText
	}
	if len(strategyJSON) > 0 {
		var strat model.Strategy
		if err := json.Unmarshal(strategyJSON, &strat); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "postgres: unmarshal strategy")
		}
		job.Strategy = &strat
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &job.Warnings); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "postgres: unmarshal warnings")
		}
	}
	if len(datasetJSON) > 0 {
		var ds model.NormalizedDataset
		if err := json.Unmarshal(datasetJSON, &ds); err != nil {
			return model.ScrapeJob{}, eris.Wrap(err, "postgres: unmarshal dataset")
		}
		job.Dataset = &ds
	}
	return job, nil
}
