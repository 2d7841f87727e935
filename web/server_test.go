package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "graph-ingest/errors"
	"graph-ingest/graph"
	"graph-ingest/pipeline"
	"graph-ingest/web/handlers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeImporter struct {
	report *pipeline.Report
	err    error
	got    pipeline.Params
}

func (f *fakeImporter) Run(_ context.Context, params pipeline.Params, _ pipeline.Progress) (*pipeline.Report, error) {
	f.got = params
	return f.report, f.err
}

func newTestServer(importer handlers.Importer, stats handlers.StatsReader) http.Handler {
	if stats == nil {
		stats = handlers.StatsFunc(func(context.Context) (graph.Stats, error) {
			return graph.Stats{Nodes: map[string]int64{"Question": 2}}, nil
		})
	}
	return NewServer(importer, stats, pipeline.NewMetrics("graph_ingest_web_test"), "memory", zap.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestImportStatusCodes(t *testing.T) {
	runID := uuid.New()
	tests := []struct {
		name       string
		path       string
		body       string
		report     *pipeline.Report
		err        error
		wantStatus int
		wantParams pipeline.Params
	}{
		{
			name:       "forum_success",
			path:       "/api/import/forum",
			body:       `{"tag": "neo4j", "num_pages": 2, "start_page": 3}`,
			report:     &pipeline.Report{RunID: runID, Success: true},
			wantStatus: http.StatusOK,
			wantParams: pipeline.Params{Source: pipeline.SourceForum, Tag: "neo4j", NumPages: 2, StartPage: 3},
		},
		{
			name:       "forum_partial_failure",
			path:       "/api/import/forum",
			report:     &pipeline.Report{RunID: runID, Units: 2, Failed: 1},
			wantStatus: http.StatusMultiStatus,
			wantParams: pipeline.Params{Source: pipeline.SourceForum},
		},
		{
			name:       "top_without_body",
			path:       "/api/import/top",
			report:     &pipeline.Report{RunID: runID, Success: true},
			wantStatus: http.StatusOK,
			wantParams: pipeline.Params{Source: pipeline.SourceTop},
		},
		{
			name:       "laws_range",
			path:       "/api/import/laws",
			body:       `{"from": 2000001, "to": 2000003}`,
			report:     &pipeline.Report{RunID: runID, Success: true},
			wantStatus: http.StatusOK,
			wantParams: pipeline.Params{Source: pipeline.SourceLaws, LawFrom: 2000001, LawTo: 2000003},
		},
		{
			name:       "invalid_params",
			path:       "/api/import/laws",
			body:       `{"from": 9, "to": 1}`,
			err:        fmt.Errorf("%w: to must be >= from", apperrors.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantParams: pipeline.Params{Source: pipeline.SourceLaws, LawFrom: 9, LawTo: 1},
		},
		{
			name:       "configuration_error",
			path:       "/api/import/forum",
			report:     &pipeline.Report{RunID: runID, Error: "dimension mismatch"},
			err:        fmt.Errorf("%w: dimension mismatch", apperrors.ErrConfiguration),
			wantStatus: http.StatusInternalServerError,
			wantParams: pipeline.Params{Source: pipeline.SourceForum},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			importer := &fakeImporter{report: tt.report, err: tt.err}
			rec := do(t, newTestServer(importer, nil), http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantParams, importer.got)
			if tt.report != nil && tt.wantStatus != http.StatusBadRequest {
				var got pipeline.Report
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, runID, got.RunID)
			}
		})
	}
}

func TestImportRejectsMalformedBody(t *testing.T) {
	importer := &fakeImporter{}
	rec := do(t, newTestServer(importer, nil), http.MethodPost, "/api/import/forum", `{"num_pages": "many"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, importer.got.Source)
}

func TestStatsAndHealth(t *testing.T) {
	h := newTestServer(&fakeImporter{}, nil)

	rec := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats graph.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Nodes["Question"])

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	stats := handlers.StatsFunc(func(context.Context) (graph.Stats, error) {
		return graph.Stats{}, errors.New("connection refused")
	})
	h := newTestServer(&fakeImporter{}, stats)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/stats", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(&fakeImporter{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDHeader(t *testing.T) {
	rec := do(t, newTestServer(&fakeImporter{}, nil), http.MethodGet, "/api/stats", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}
