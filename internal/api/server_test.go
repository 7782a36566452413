package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/crawl"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress/sinks"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(zap.NewNop(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(zap.NewNop(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressFeed(t *testing.T) {
	mem := sinks.NewMemorySink(8)
	require.NoError(t, mem.Consume(context.Background(), []progress.Event{{
		RunID:   progress.UUIDToBytes(uuid.New()),
		TS:      time.Now().UTC(),
		Stage:   progress.StageVisitDone,
		Role:    "shop",
		Ordinal: 1,
		Key:     "link:/",
		Status:  200,
	}}))

	srv := NewServer(zap.NewNop(), mem, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []progressEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "VISIT_DONE", entries[0].Stage)
	require.Equal(t, "link:/", entries[0].Key)
}

func TestProgressDisabled(t *testing.T) {
	srv := NewServer(zap.NewNop(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummary(t *testing.T) {
	result := crawl.NewResult("shop", "run-1")
	require.NoError(t, result.Add(&crawl.Record{
		Ordinal: 1, Key: "link:/", Outcome: crawl.OutcomePass, Status: 200,
	}))

	srv := NewServer(zap.NewNop(), nil, func() *crawl.Result { return result })
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawl.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "shop", got.Role)
	require.Equal(t, 1, got.Visited)
}

func TestSummaryBeforeFirstRun(t *testing.T) {
	srv := NewServer(zap.NewNop(), nil, func() *crawl.Result { return nil })
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
