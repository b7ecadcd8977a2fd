package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessons-serverless/internal/auth"
	"lessons-serverless/internal/maintenance"
	"lessons-serverless/internal/observability"
	"lessons-serverless/internal/progress"
)

// fakeLog mimics the store contract: per-user partitions, passedAt
// descending on reads.
type fakeLog struct {
	records map[string][]progress.CompletionRecord
	lists   int
	appends int
}

func newFakeLog() *fakeLog {
	return &fakeLog{records: make(map[string][]progress.CompletionRecord)}
}

func (f *fakeLog) Append(ctx context.Context, userID, lessonID string, passedAt time.Time) error {
	f.appends++
	f.records[userID] = append(f.records[userID], progress.CompletionRecord{
		LessonID: lessonID,
		PassedAt: progress.NewTimestamp(passedAt),
	})
	return nil
}

func (f *fakeLog) List(ctx context.Context, userID string) ([]progress.CompletionRecord, error) {
	f.lists++
	out := append([]progress.CompletionRecord{}, f.records[userID]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].PassedAt.After(out[j].PassedAt.Time)
	})
	return out, nil
}

func (f *fakeLog) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var deleted int64
	for userID, records := range f.records {
		kept := records[:0]
		for _, record := range records {
			if record.PassedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, record)
		}
		f.records[userID] = kept
	}
	return deleted, nil
}

func newTestRouter(t *testing.T, log *fakeLog) (http.Handler, *auth.TokenService) {
	t.Helper()

	tokens := auth.NewTokenService("super-secret", time.Hour)
	router := newRouter(routerConfig{
		credentials:  auth.NewMemoryStore(),
		tokens:       tokens,
		loginLimiter: auth.NewLoginRateLimiter(100, time.Minute),
		progressLog:  log,
		cleanup:      maintenance.NewCleanupHandler(log, observability.NewLogger("test"), "cron-secret", 30*24*time.Hour, 500),
	})
	return router, tokens
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, newFakeLog())

	apitest.New().
		Handler(router).
		Get("/").
		Expect(t).
		Status(http.StatusOK).
		Body("lesson progress service is up").
		End()
}

func TestFullScenario(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	router, tokens := newTestRouter(t, log)

	apitest.New().
		Handler(router).
		Post("/api/register").
		JSON(`{"email":"a@x.com","password":"secret"}`).
		Expect(t).
		Status(http.StatusCreated).
		End()

	apitest.New().
		Handler(router).
		Post("/api/register").
		JSON(`{"email":"a@x.com","password":"secret"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	apitest.New().
		Handler(router).
		Post("/api/login").
		JSON(`{"email":"a@x.com","password":"secret"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Present("$.token")).
		End()

	apitest.New().
		Handler(router).
		Post("/api/login").
		JSON(`{"email":"a@x.com","password":"wrong"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(router).
		Post("/api/login").
		JSON(`{"email":"nobody@x.com","password":"secret"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	token, err := tokens.Issue("a@x.com")
	require.NoError(t, err)
	bearer := "Bearer " + token

	apitest.New().
		Handler(router).
		Get("/api/profile").
		Header("Authorization", bearer).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.user", "a@x.com")).
		End()

	apitest.New().
		Handler(router).
		Get("/api/progress").
		Header("Authorization", bearer).
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()

	apitest.New().
		Handler(router).
		Post("/api/progress").
		Header("Authorization", bearer).
		JSON(`{"lessonId":"L1","passedAt":"2024-05-01T10:30:00Z"}`).
		Expect(t).
		Status(http.StatusCreated).
		End()

	apitest.New().
		Handler(router).
		Get("/api/progress").
		Header("Authorization", bearer).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$[0].lessonId", "L1")).
		End()
}

func TestProtectedRoutesRejectWithoutStoreAccess(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	router, _ := newTestRouter(t, log)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/profile"},
		{http.MethodGet, "/api/progress"},
		{http.MethodPost, "/api/progress"},
	} {
		req := apitest.New().Handler(router)
		var request *apitest.Request
		if route.method == http.MethodGet {
			request = req.Get(route.path)
		} else {
			request = req.Post(route.path).JSON(`{"lessonId":"L1","passedAt":"2024-05-01T10:30:00Z"}`)
		}
		request.
			Expect(t).
			Status(http.StatusUnauthorized).
			End()
	}

	assert.Zero(t, log.lists)
	assert.Zero(t, log.appends)
}

func TestListOrderedByPassedAtDescending(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	router, tokens := newTestRouter(t, log)

	token, err := tokens.Issue("a@x.com")
	require.NoError(t, err)
	bearer := "Bearer " + token

	// written out of order on purpose
	for _, body := range []string{
		`{"lessonId":"L1","passedAt":"2024-05-01T10:00:00Z"}`,
		`{"lessonId":"L3","passedAt":"2024-05-03T10:00:00Z"}`,
		`{"lessonId":"L2","passedAt":"2024-05-02T10:00:00Z"}`,
	} {
		apitest.New().
			Handler(router).
			Post("/api/progress").
			Header("Authorization", bearer).
			JSON(body).
			Expect(t).
			Status(http.StatusCreated).
			End()
	}

	result := apitest.New().
		Handler(router).
		Get("/api/progress").
		Header("Authorization", bearer).
		Expect(t).
		Status(http.StatusOK).
		End()

	var records []progress.CompletionRecord
	require.NoError(t, json.NewDecoder(result.Response.Body).Decode(&records))
	require.Len(t, records, 3)
	assert.Equal(t, "L3", records[0].LessonID)
	assert.Equal(t, "L2", records[1].LessonID)
	assert.Equal(t, "L1", records[2].LessonID)
}

func TestProgressIsolationBetweenUsers(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	router, tokens := newTestRouter(t, log)

	tokenA, err := tokens.Issue("a@x.com")
	require.NoError(t, err)
	tokenB, err := tokens.Issue("b@x.com")
	require.NoError(t, err)

	apitest.New().
		Handler(router).
		Post("/api/progress").
		Header("Authorization", "Bearer "+tokenA).
		JSON(`{"lessonId":"L1","passedAt":"2024-05-01T10:30:00Z"}`).
		Expect(t).
		Status(http.StatusCreated).
		End()

	apitest.New().
		Handler(router).
		Get("/api/progress").
		Header("Authorization", "Bearer "+tokenB).
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()
}

func TestMaintenanceCleanupRoute(t *testing.T) {
	t.Parallel()

	log := newFakeLog()
	router, _ := newTestRouter(t, log)
	require.NoError(t, log.Append(context.Background(), "a@x.com", "L1", time.Now().UTC().Add(-90*24*time.Hour)))

	apitest.New().
		Handler(router).
		Post("/internal/maintenance/cleanup").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(router).
		Post("/internal/maintenance/cleanup").
		Header("Authorization", "Bearer cron-secret").
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.deleted_records", float64(1))).
		End()
}
