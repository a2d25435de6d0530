package instagram_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
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
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/instagram"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logstream"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/queue"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/runs"
)

func strPtr(s string) *string { return &s }

// stubBackend scripts a post pull for the runtime under test.
type stubBackend struct {
	posts []instagram.Post
	err   error
}

func (b *stubBackend) FetchPosts(_ context.Context, _ string, _ int) ([]instagram.Post, error) {
	return b.posts, b.err
}

// stubClassifier scripts per-caption classifications.
type stubClassifier struct {
	classify func(caption string) (*instagram.Classification, error)
}

func (c *stubClassifier) Classify(_ context.Context, caption string) (*instagram.Classification, error) {
	return c.classify(caption)
}

// fakeIngestor records batches and reports every event as inserted.
type fakeIngestor struct {
	mu      sync.Mutex
	batches [][]domain.RawEventInput
	err     error
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
	return ingest.Result{Inserted: len(events)}, nil, nil
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

func (f *fakeIngestor) allEvents() []domain.RawEventInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []domain.RawEventInput
	for _, b := range f.batches {
		events = append(events, b...)
	}
	return events
}

type instagramFixture struct {
	rt       *instagram.Runtime
	mock     sqlmock.Sqlmock
	flags    *runs.CancelFlags
	ingestor *fakeIngestor

	classifier *stubClassifier

	// What the factories were handed, in call order.
	backendTypes   []domain.InstagramScraperType
	backendConfigs []instagram.BackendConfig
	classifierKeys []string
}

func newInstagramFixture(t *testing.T, backend instagram.Backend) *instagramFixture {
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

	fx := &instagramFixture{mock: mock, flags: flags, ingestor: &fakeIngestor{}}

	fx.rt = instagram.NewRuntime(
		database.NewSourceRepository(sdb),
		database.NewSettingsRepository(sdb),
		runSvc,
		fx.ingestor,
		instagram.NewImageStore(t.TempDir()),
		logstream.NewStream(rdb),
		logger.NewNop(),
		instagram.RuntimeConfig{
			PostLimit:  10,
			BatchSize:  2,
			CancelPoll: 10 * time.Millisecond,
			NewBackend: func(st domain.InstagramScraperType, cfg instagram.BackendConfig, _ logger.Logger) (instagram.Backend, error) {
				fx.backendTypes = append(fx.backendTypes, st)
				fx.backendConfigs = append(fx.backendConfigs, cfg)
				return backend, nil
			},
			NewClassifier: func(apiKey string) instagram.Classifier {
				fx.classifierKeys = append(fx.classifierKeys, apiKey)
				return fx.classifier
			},
		},
	)
	return fx
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

func accountRow(mode domain.ClassificationMode) *sqlmock.Rows {
	return sqlmock.NewRows(sourceCols).
		AddRow("source-1", "Venue PG", "https://www.instagram.com/venuepg/",
			"instagram", true, "America/Vancouver", 0, "instagram",
			[]byte(`{"token":"apify-token"}`), "venuepg", string(mode), nil, nil,
			time.Now(), time.Now())
}

var settingsCols = []string{
	"id", "ai_provider", "ai_api_key", "instagram_scraper_type",
	"instagram_allow_override", "feature_flags", "updated_at",
}

// settingsRow builds the system settings singleton; apiKey is a string or
// nil.
func settingsRow(apiKey any) *sqlmock.Rows {
	return sqlmock.NewRows(settingsCols).
		AddRow(1, "anthropic", apiKey, "apify", false, []byte(`{}`), time.Now())
}

func instagramJob(t *testing.T, runID *string, attempts int) *queue.Job {
	t.Helper()

	payload, err := json.Marshal(domain.InstagramScrapeJobPayload{
		AccountID: "source-1",
		RunID:     runID,
	})
	require.NoError(t, err)

	return &queue.Job{
		ID:           "job-1",
		Queue:        "instagram-scrape-queue",
		Name:         "instagram-scrape",
		Payload:      payload,
		AttemptsMade: attempts,
		MaxAttempts:  3,
	}
}

func posts(n int) []instagram.Post {
	out := make([]instagram.Post, n)
	for i := 0; i < n; i++ {
		out[i] = instagram.Post{
			ID:      fmt.Sprintf("p%d", i+1),
			Caption: fmt.Sprintf("Show number %d\nDoors at 7pm", i+1),
			URL:     fmt.Sprintf("https://www.instagram.com/p/p%d/", i+1),
			TakenAt: time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC),
		}
	}
	return out
}

// expectAccount covers the start of a normal pull: run start, account
// load, settings load.
func expectAccount(fx *instagramFixture, mode domain.ClassificationMode, apiKey any) {
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(accountRow(mode))
	fx.mock.ExpectQuery("INSERT INTO system_settings").
		WillReturnRows(settingsRow(apiKey))
}

func expectTouch(fx *instagramFixture) {
	fx.mock.ExpectExec("UPDATE sources").
		WithArgs("source-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestHandleInstagramScrapeManualPull(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer imgSrv.Close()

	pulled := posts(3)
	pulled[0].ImageURL = imgSrv.URL + "/p1.jpg"
	fx := newInstagramFixture(t, &stubBackend{posts: pulled})

	expectAccount(fx, domain.ClassificationManual, nil)
	expectTouch(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("success", 3, 3, []byte(`[]`), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 1))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, fx.ingestor.batchSizes())
	assert.Equal(t, []domain.InstagramScraperType{domain.InstagramScraperApify}, fx.backendTypes)
	assert.Equal(t, "apify-token", fx.backendConfigs[0].Token)
	assert.Empty(t, fx.classifierKeys, "manual accounts never build a classifier")

	events := fx.ingestor.allEvents()
	require.Len(t, events, 3)
	assert.Equal(t, "Show number 1", events[0].Title)
	assert.Equal(t, "2026-08-20T18:00:00Z", events[0].Start)
	assert.Equal(t, "https://www.instagram.com/p/p1/", events[0].URL)
	require.NotNil(t, events[0].SourceEventID)
	assert.Equal(t, "p1", *events[0].SourceEventID)
	require.NotNil(t, events[0].InstagramCaption)
	assert.Equal(t, "Show number 1\nDoors at 7pm", *events[0].InstagramCaption)
	require.NotNil(t, events[0].LocalImagePath)
	assert.Equal(t, filepath.Join("venuepg", "p1.jpg"), *events[0].LocalImagePath)
	assert.Nil(t, events[0].IsEventPoster, "manual posts await human review")
	assert.Nil(t, events[1].LocalImagePath)

	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeAutoClassification(t *testing.T) {
	pulled := posts(3)
	pulled[0].Caption = "JAZZ NIGHT at the Blue Room\nFriday 7pm"
	pulled[1].Caption = "sunset from the patio"
	pulled[2].Caption = "glitch"

	fx := newInstagramFixture(t, &stubBackend{posts: pulled})
	fx.classifier = &stubClassifier{classify: func(caption string) (*instagram.Classification, error) {
		switch caption {
		case "sunset from the patio":
			return &instagram.Classification{IsEventPoster: false, Confidence: 0.9}, nil
		case "glitch":
			return nil, errors.New("model overloaded")
		default:
			return &instagram.Classification{
				IsEventPoster: true,
				Confidence:    0.93,
				Title:         "Jazz Night at the Blue Room",
				Start:         "2026-08-28T19:00:00-07:00",
				VenueName:     "Blue Room",
				Price:         "$15",
			}, nil
		}
	}}

	expectAccount(fx, domain.ClassificationAuto, "sk-test")
	expectTouch(fx)
	// Partial: the classification failure is a run error. The non-event
	// post is dropped, the failed one lands unclassified.
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 3, 2, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"sk-test"}, fx.classifierKeys)

	events := fx.ingestor.allEvents()
	require.Len(t, events, 2)

	require.NotNil(t, events[0].IsEventPoster)
	assert.True(t, *events[0].IsEventPoster)
	require.NotNil(t, events[0].ClassificationConfidence)
	assert.InDelta(t, 0.93, *events[0].ClassificationConfidence, 0.001)
	assert.Equal(t, "Jazz Night at the Blue Room", events[0].Title)
	assert.Equal(t, "2026-08-28T19:00:00-07:00", events[0].Start)
	require.NotNil(t, events[0].VenueName)
	assert.Equal(t, "Blue Room", *events[0].VenueName)
	require.NotNil(t, events[0].Price)
	assert.Equal(t, "$15", *events[0].Price)

	assert.Nil(t, events[1].IsEventPoster, "failed classifications land unclassified")
	assert.Equal(t, "glitch", events[1].Title)

	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeAutoWithoutKeyFallsBackToManual(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{posts: posts(1)})

	expectAccount(fx, domain.ClassificationAuto, nil)
	expectTouch(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 1, 1, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 1))
	require.NoError(t, err)

	assert.Empty(t, fx.classifierKeys)
	events := fx.ingestor.allEvents()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].IsEventPoster)

	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeCreatesRunWhenPayloadHasNone(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{posts: posts(1)})

	fx.mock.ExpectQuery("INSERT INTO runs").
		WithArgs(sqlmock.AnyArg(), "source-1", "queued", nil, []byte(`{"job_id":"job-1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", sqlmock.AnyArg(), "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(accountRow(domain.ClassificationManual))
	fx.mock.ExpectQuery("INSERT INTO system_settings").
		WillReturnRows(settingsRow(nil))
	expectTouch(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("success", 1, 1, []byte(`[]`), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, nil, 1))
	require.NoError(t, err)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeCreatedRunFailureFinalizes(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{err: errors.New("account is private")})

	fx.mock.ExpectQuery("INSERT INTO runs").
		WithArgs(sqlmock.AnyArg(), "source-1", "queued", nil, []byte(`{"job_id":"job-1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", sqlmock.AnyArg(), "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(accountRow(domain.ClassificationManual))
	fx.mock.ExpectQuery("INSERT INTO system_settings").
		WillReturnRows(settingsRow(nil))
	// A redelivery cannot resume a run the worker created itself, so even
	// a first-attempt failure finalizes it.
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("error", 0, 0, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, nil, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch posts")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeBackendFailureRetries(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{err: errors.New("account is private")})

	// No finish expectation: the run stays running so the next delivery
	// can resume it.
	expectAccount(fx, domain.ClassificationManual, nil)

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch posts")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeRejectsWebsiteSource(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{posts: posts(1)})

	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("running"))
	fx.mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("source-1").
		WillReturnRows(sqlmock.NewRows(sourceCols).
			AddRow("source-1", "Downtown Site", "https://example.com", "website", true,
				"America/Vancouver", 0, "website", []byte(`{}`), nil, nil, nil, nil,
				time.Now(), time.Now()))
	// Final attempt, so the run finalizes as errored.
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("error", 0, 0, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an instagram account")
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeCancelSkipsIngestion(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{posts: posts(3)})
	ctx := context.Background()

	require.NoError(t, fx.flags.Request(ctx, "job-1"))

	expectAccount(fx, domain.ClassificationManual, nil)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 3, 0, []byte(`[]`), []byte(`{"cancelled":true,"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(ctx, instagramJob(t, strPtr("run-1"), 1))
	require.NoError(t, err)

	assert.Empty(t, fx.ingestor.batchSizes(), "cancelled pulls discard collected posts")
	flag, err := fx.flags.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, runs.FlagCancelled, flag)
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeImageFailureIsRecorded(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer imgSrv.Close()

	pulled := posts(1)
	pulled[0].ImageURL = imgSrv.URL + "/gone.jpg"
	fx := newInstagramFixture(t, &stubBackend{posts: pulled})

	expectAccount(fx, domain.ClassificationManual, nil)
	expectTouch(fx)
	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("partial", 1, 1, sqlmock.AnyArg(), []byte(`{"job_id":"job-1"}`),
			"run-1", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 1))
	require.NoError(t, err)

	// The post still lands, without a local image.
	events := fx.ingestor.allEvents()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].LocalImagePath)
	require.NotNil(t, events[0].ImageURL)

	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeDropsFinalizedRun(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{posts: posts(1)})

	fx.mock.ExpectExec("UPDATE runs").
		WithArgs("running", "run-1", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	fx.mock.ExpectQuery("FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("success"))

	err := fx.rt.HandleInstagramScrape(context.Background(), instagramJob(t, strPtr("run-1"), 2))
	require.NoError(t, err)

	assert.Empty(t, fx.ingestor.batchSizes())
	require.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleInstagramScrapeBadPayload(t *testing.T) {
	fx := newInstagramFixture(t, &stubBackend{})

	job := &queue.Job{ID: "job-1", Payload: []byte(`{`), AttemptsMade: 1, MaxAttempts: 3}
	err := fx.rt.HandleInstagramScrape(context.Background(), job)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode instagram scrape payload")
}
