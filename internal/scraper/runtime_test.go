package scraper_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/database"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/ingest"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/scraper"
)

// stubModule scripts a module run for the runtime under test.
type stubModule struct {
	key    string
	result *domain.ScrapeResult
	err    error
	run    func(ctx context.Context, rctx *scraper.RunContext) (*domain.ScrapeResult, error)
}

func (m *stubModule) Key() string { return m.key }

func (m *stubModule) Run(ctx context.Context, rctx *scraper.RunContext) (*domain.ScrapeResult, error) {
	if m.run != nil {
		return m.run(ctx, rctx)
	}
	return m.result, m.err
}

// fakeIngestor records batches and reports every event as inserted.
type fakeIngestor struct {
	mu       sync.Mutex
	batches  [][]domain.RawEventInput
	itemErrs []domain.RunError
	err      error
	onBatch  func()
}

func (f *fakeIngestor) IngestBatch(
	_ context.Context, _ *domain.Source, _ string, events []domain.RawEventInput,
) (ingest.Result, []domain.RunError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ingest.Result{}, nil, f.err
	}
	f.batches = append(f.batches, events)
	if f.onBatch != nil {
		f.onBatch()
	}
	return ingest.Result{Inserted: len(events)}, f.itemErrs, nil
}

func (f *fakeIngestor) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type runtimeFixture struct {
	rt       *scraper.Runtime
	mock     sqlmock.Sqlmock
	flags    *runs.CancelFlags
	ingestor *fakeIngestor
}

func newRuntimeFixture(t *testing.T, modules ...scraper.Module) *runtimeFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	client := queue.NewClientFromRedis(rdb)
	queues := queue.NewQueues(client, "scrape-queue", "instagram-scrape-queue", "match-queue", "schedule-queue")
	flags := runs.NewCancelFlags(rdb)

	sdb := sqlx.NewDb(db, "sqlmock")
	runSvc := runs.NewService(database.NewRunRepository(sdb), queues, flags, logger.NewNop())

	registry := scraper.NewRegistry()
	for _, m := range modules {
		require.NoError(t, registry.Register(m))
	}

	pool := scraper.NewPool(scraper.EngineConfig{PoolSize: 1}, logger.NewNop())
	t.Cleanup(pool.Close)

	ingestor := &fakeIngestor{}
	rt := scraper.NewRuntime(
		registry, pool, database.NewSourceRepository(sdb), runSvc, ingestor,
		logstream.NewStream(rdb), logger.NewNop(),
		scraper.RuntimeConfig{BatchSize: 2, CancelPoll: 10 * time.Millisecond},
	)

	return &runtimeFixture{rt: rt, mock: mock, flags: flags, ingestor: ingestor}
}

var runCols = []string{
	"id", "source_id", "status", "started_at", "finished_at",
	"pages_crawled", "events_found", "errors", "parent_run_id",
	"metadata", "created_at",
}

func runRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(runCols).
		AddRow("run-1", "source-1", status, nil, nil, 0, 0, []byte(`[]`), nil,
			[]byte(`{"job_id":"job-1"}`), time.Now())
}

var sourceCols = []string{
	"id", "name", "base_url", "module_key", "active", "default_timezone",
	"rate_limit_per_min", "source_type", "config", "instagram_username",
	"classification_mode", "instagram_scraper_type", "last_checked",
	"created_at", "updated_at",
}

func sourceRow() *sqlmock.Rows {
	return sqlmock.NewRows(sourceCols).
		AddRow("source-1", "Test Source", "https://example.com", "stub", true,
			"America/Vancouver", 0, "website", []byte(`{}`), nil, nil, nil, nil,
			time.Now(), time.Now())
}

func scrapeJob(t *testing.T, attempts int) *queue.Job {
	t.Helper()

	payload, err := json.Marshal(domain.ScrapeJobPayload{
		SourceID:   "source-1",
		RunID:      "run-1",
		ModuleKey:  "stub",
		SourceName: "Test Source",
	})
	require.NoError(t, err)

	return &queue.Job{
		ID:           "job-1",
		Queue:        "scrape-queue",
		Name:         "scrape",
		Payload:      payload,
		AttemptsMade: attempts,
		MaxAttempts:  3,
	}
}

func rawEvents(n int) []domain.RawEventInput {
	events := make([]domain.RawEventInput, n)
	for i := range events {
		events[i] = domain.RawEventInput{
			Title: "Event",
			Start: "2026-09-01 19:00",
			URL:   "https://example.com/events/1",
		}
	}
	return events
}

func expectStart(fx *runtimeFixture) {
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(sourceRow())
}

func TestHandleScrapeSuccess(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(3),
		PagesCrawled: 4,
	}}
	fx := newRuntimeFixture(t, module)

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("success", 4, 3, []byte(`[]`), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, fx.ingestor.batchSizes())
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapePartialOnItemErrors(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(2),
		PagesCrawled: 1,
	}}
	fx := newRuntimeFixture(t, module)
	fx.ingestor.itemErrs = []domain.RunError{{
		Timestamp: time.Now().UTC(),
		Message:   "event has no parsable start date",
	}}

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 1, 2, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	require.NoError(t, err)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeModuleFailureLeavesRunForRetry(t *testing.T) {
	module := &stubModule{key: "stub", err: errors.New("selector matched nothing")}
	fx := newRuntimeFixture(t, module)

	// No finish expectation: the run stays running so the next delivery
	// can resume it.
	expectStart(fx)

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scraper module failed")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeModuleFailureFinalAttemptFinalizes(t *testing.T) {
	module := &stubModule{key: "stub", err: errors.New("selector matched nothing")}
	fx := newRuntimeFixture(t, module)

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("error", 0, 0, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 3))
	require.Error(t, err)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeModuleFailureKeepsPartialHarvest(t *testing.T) {
	module := &stubModule{
		key:    "stub",
		result: &domain.ScrapeResult{Events: rawEvents(2), PagesCrawled: 1},
		err:    errors.New("page 2 timed out"),
	}
	fx := newRuntimeFixture(t, module)

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 1, 2, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	require.NoError(t, err, "collected events complete the job despite the module error")

	assert.Equal(t, []int{2}, fx.ingestor.batchSizes())
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeIngestionFailureRetries(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(1),
		PagesCrawled: 1,
	}}
	fx := newRuntimeFixture(t, module)
	fx.ingestor.err = errors.New("connection refused")

	expectStart(fx)

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion failed")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeDropsFinalizedRun(t *testing.T) {
	fx := newRuntimeFixture(t, &stubModule{key: "stub", result: &domain.ScrapeResult{}})

	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("success"))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 2))
	require.NoError(t, err)

	assert.Empty(t, fx.ingestor.batchSizes())
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeResumesRunningRun(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(1),
		PagesCrawled: 1,
	}}
	fx := newRuntimeFixture(t, module)

	// Redelivery after a worker crash: the row is already running.
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(sourceRow())
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("success", 1, 1, []byte(`[]`), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 2))
	require.NoError(t, err)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeCancelRequestedSkipsIngestion(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(2),
		PagesCrawled: 2,
	}}
	fx := newRuntimeFixture(t, module)
	ctx := context.Background()

	require.NoError(t, fx.flags.Request(ctx, "job-1"))

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 2, 0, []byte(`[]`), []byte(`{"cancelled":true,"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(ctx, scrapeJob(t, 1))
	require.NoError(t, err)

	assert.Empty(t, fx.ingestor.batchSizes(), "cancelled runs discard uningested events")
	flag, err := fx.flags.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, runs.FlagCancelled, flag)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeCancelBetweenBatches(t *testing.T) {
	module := &stubModule{key: "stub", result: &domain.ScrapeResult{
		Events:       rawEvents(4),
		PagesCrawled: 1,
	}}
	fx := newRuntimeFixture(t, module)
	ctx := context.Background()

	// The cancel request lands while the first batch is in flight.
	fx.ingestor.onBatch = func() {
		require.NoError(t, fx.flags.Request(ctx, "job-1"))
	}

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 1, 2, []byte(`[]`), []byte(`{"cancelled":true,"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(ctx, scrapeJob(t, 1))
	require.NoError(t, err)

	assert.Equal(t, []int{2}, fx.ingestor.batchSizes(), "the second batch never runs")
	flag, err := fx.flags.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, runs.FlagCancelled, flag)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeCancelUnblocksModule(t *testing.T) {
	module := &stubModule{key: "stub"}
	fx := newRuntimeFixture(t, module)
	ctx := context.Background()

	// The module hangs until the cancel watcher tears down its context.
	module.run = func(runCtx context.Context, _ *scraper.RunContext) (*domain.ScrapeResult, error) {
		if err := fx.flags.Request(ctx, "job-1"); err != nil {
			return nil, err
		}
		<-runCtx.Done()
		return nil, runCtx.Err()
	}

	expectStart(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 0, 0, []byte(`[]`), []byte(`{"cancelled":true,"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleScrape(ctx, scrapeJob(t, 1))
	require.NoError(t, err)

	flag, err := fx.flags.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, runs.FlagCancelled, flag)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeUnknownModule(t *testing.T) {
	fx := newRuntimeFixture(t)

	expectStart(fx)

	err := fx.rt.HandleScrape(context.Background(), scrapeJob(t, 1))
	assert.ErrorIs(t, err, scraper.ErrUnknownModule)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleScrapeBadPayload(t *testing.T) {
	fx := newRuntimeFixture(t)

	job := &queue.Job{ID: "job-1", Payload: []byte(`{`), AttemptsMade: 1, MaxAttempts: 3}
	err := fx.rt.HandleScrape(context.Background(), job)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode scrape payload")
}
