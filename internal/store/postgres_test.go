package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeease/scrapeease/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("j1", "http://example.com", 5, []byte(nil), "pending", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.CreateJob(context.Background(), model.ScrapeJob{
		ID:        "j1",
		URL:       "http://example.com",
		MaxPages:  5,
		State:     model.JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateState(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET state").
		WithArgs("crawling", pgxmock.AnyArg(), "j1",
			[]string{"pending", "validating", "detecting_structure"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.UpdateState(context.Background(), "j1", model.JobStateCrawling))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateState_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET state").
		WithArgs("crawling", pgxmock.AnyArg(), "missing", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM scrape_jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := st.UpdateState(context.Background(), "missing", model.JobStateCrawling)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateState_InvalidTransition(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET state").
		WithArgs("crawling", pgxmock.AnyArg(), "j1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM scrape_jobs").
		WithArgs("j1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := st.UpdateState(context.Background(), "j1", model.JobStateCrawling)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStrategy(t *testing.T) {
	st, mock := newMockStore(t)
	strat := model.Strategy{Kind: model.KindTable, Selector: "table:nth-of-type(1)", Confidence: 0.9}
	mock.ExpectExec("UPDATE scrape_jobs SET strategy").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.SetStrategy(context.Background(), "j1", strat))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetResult(t *testing.T) {
	st, mock := newMockStore(t)
	ds := &model.NormalizedDataset{
		Columns:      []string{"name"},
		Rows:         []map[string]string{{"name": "A"}},
		TotalRecords: 1,
	}
	mock.ExpectExec("UPDATE scrape_jobs SET state").
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "j1",
			[]string{"pending", "validating", "detecting_structure", "crawling", "normalizing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.SetResult(context.Background(), "j1", ds, []string{"partial"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET state").
		WithArgs("failed", "fetch_error", "status 500", pgxmock.AnyArg(), "j1",
			[]string{"pending", "validating", "detecting_structure", "crawling", "normalizing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.SetFailure(context.Background(), "j1", model.FailFetch, "status 500"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	failReason := "fetch_error"
	errText := "status 500"
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("j1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "max_pages", "strategy", "state", "fail_reason",
			"error", "warnings", "dataset", "created_at", "updated_at",
		}).AddRow(
			"j1", "http://example.com", 5,
			[]byte(`{"type":"table","selector":"table:nth-of-type(1)","estimated_rows":3,"estimated_cols":2,"confidence":0.9}`),
			"failed", &failReason, &errText,
			[]byte(`["slow page"]`), []byte(nil), now, now,
		))

	job, err := st.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, job.State)
	assert.Equal(t, model.FailFetch, job.FailReason)
	assert.Equal(t, "status 500", job.Error)
	require.NotNil(t, job.Strategy)
	assert.Equal(t, model.KindTable, job.Strategy.Kind)
	assert.Equal(t, []string{"slow page"}, job.Warnings)
	assert.Nil(t, job.Dataset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE state").
		WithArgs("completed", 2, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "max_pages", "strategy", "state", "fail_reason",
			"error", "warnings", "dataset", "created_at", "updated_at",
		}).AddRow(
			"j2", "http://example.com/2", 5, []byte(nil), "completed",
			(*string)(nil), (*string)(nil), []byte(nil), []byte(nil), now, now,
		).AddRow(
			"j1", "http://example.com/1", 5, []byte(nil), "completed",
			(*string)(nil), (*string)(nil), []byte(nil), []byte(nil), now.Add(-time.Minute), now,
		))

	jobs, err := st.ListJobs(context.Background(), JobFilter{State: model.JobStateCompleted, Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, "j1", jobs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteJob(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM scrape_jobs").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM scrape_jobs").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, st.DeleteJob(context.Background(), "j1"))
	assert.ErrorIs(t, st.DeleteJob(context.Background(), "j1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
