package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "graph-ingest/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
}

func TestForumQueryValues(t *testing.T) {
	a := NewForumAdapter(ForumConfig{Site: "stackoverflow", Filter: "f1", TopFilter: "f2", TopFromDate: 1664150400}, testFetcher(), zap.NewNop())

	tagged := a.TaggedQuery("neo4j", 3).Values()
	assert.Equal(t, "100", tagged.Get("pagesize"))
	assert.Equal(t, "3", tagged.Get("page"))
	assert.Equal(t, "desc", tagged.Get("order"))
	assert.Equal(t, "creation", tagged.Get("sort"))
	assert.Equal(t, "1", tagged.Get("answers"))
	assert.Equal(t, "neo4j", tagged.Get("tagged"))
	assert.Equal(t, "stackoverflow", tagged.Get("site"))
	assert.Equal(t, "f1", tagged.Get("filter"))
	assert.False(t, tagged.Has("fromdate"))

	top := a.TopQuery().Values()
	assert.Equal(t, "votes", top.Get("sort"))
	assert.Equal(t, "1664150400", top.Get("fromdate"))
	assert.Equal(t, "f2", top.Get("filter"))
	assert.False(t, top.Has("tagged"))
}

const forumPageJSON = `{
  "items": [{
    "question_id": 11, "title": "How?", "body_markdown": "body", "link": "https://so/q/11",
    "score": 4, "creation_date": 1700000000, "tags": ["neo4j", "cypher"],
    "owner": {"user_id": 1, "display_name": "asker", "reputation": 100},
    "answers": [
      {"answer_id": 21, "is_accepted": true, "score": 2, "creation_date": 1700000100, "body_markdown": "a1", "owner": {"user_id": 2, "display_name": "x"}},
      {"answer_id": 22, "is_accepted": false, "score": 0, "creation_date": 1700000200, "body_markdown": "a2", "owner": {"user_type": "does_not_exist", "display_name": "gone"}}
    ]
  }],
  "has_more": %s,
  "quota_remaining": 290
}`

func TestForumAdapterFetchDecodesOptionals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/advanced", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Write([]byte(strings.Replace(forumPageJSON, "%s", "false", 1)))
	}))
	defer srv.Close()

	a := NewForumAdapter(ForumConfig{BaseURL: srv.URL, APIKey: "secret"}, testFetcher(), zap.NewNop())
	page, err := a.Fetch(context.Background(), a.TaggedQuery("neo4j", 1))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	q := page.Items[0]
	assert.Nil(t, q.FavoriteCount)
	require.NotNil(t, q.Owner.UserID)
	assert.Equal(t, int64(1), *q.Owner.UserID)
	require.Len(t, q.Answers, 2)
	assert.Nil(t, q.Answers[1].Owner.UserID)
	assert.Equal(t, 1, page.Page)
}

func TestForumAdapterPagesStopsWhenExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		more := "true"
		if r.URL.Query().Get("page") == "3" {
			more = "false"
		}
		w.Write([]byte(strings.Replace(forumPageJSON, "%s", more, 1)))
	}))
	defer srv.Close()

	a := NewForumAdapter(ForumConfig{BaseURL: srv.URL}, testFetcher(), zap.NewNop())
	var pages []int
	for page, err := range a.Pages(context.Background(), a.TaggedQuery("neo4j", 2), 10) {
		require.NoError(t, err)
		pages = append(pages, page.Page)
	}
	assert.Equal(t, []int{2, 3}, pages)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcherErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		check     func(error) bool
		wantCalls int32
	}{
		{name: "not_found", status: http.StatusNotFound, check: apperrors.IsNotFound, wantCalls: 1},
		{name: "server_error_retried", status: http.StatusBadGateway, check: apperrors.IsSourceUnavailable, wantCalls: 3},
		{name: "bad_request_not_retried", status: http.StatusBadRequest, body: `{"error_id":400}`, check: apperrors.IsSourceUnavailable, wantCalls: 1},
		{name: "malformed_payload", status: http.StatusOK, body: `{"items": [`, check: apperrors.IsSourceUnavailable, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out map[string]any
			err := testFetcher().GetJSON(context.Background(), srv.URL+"/x", &out)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error category: %v", err)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestFetcherRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	require.NoError(t, testFetcher().GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
}

func TestFetcherRefusesOversizedBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := testFetcher().GetBytes(context.Background(), srv.URL, 10)
	assert.True(t, apperrors.IsSourceUnavailable(err))
}

func TestTokenBucketWaitHonoursPause(t *testing.T) {
	tb := NewTokenBucket(1, 1000)
	tb.Pause(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tb.Pause(time.Hour)
	assert.ErrorIs(t, tb.Wait(ctx), context.Canceled)
}

// odataServer serves one law with two bindings. Binding 301 has a bill and a
// PDF; binding 302 has only a law entity and no documents.
func odataServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		path := r.URL.Path
		filter := r.URL.Query().Get("$filter")
		switch {
		case path == "/KNS_IsraelLaw(2000001)":
			assert.Contains(t, r.URL.Query().Get("$expand"), "KNS_LawBindings")
			w.Write([]byte(`{"IsraelLawID": 2000001, "PublicationDate": "1999-01-01T00:00:00",
				"LatestPublicationDate": "2020-01-01T00:00:00", "LawValidityDesc": "valid",
				"KNS_IsraelLawNames": [{"Name": "Law A"}, {"Name": "Law A (old)"}],
				"KNS_IsraelLawClassificiations": [{"ClassificiationDesc": "tax"}],
				"KNS_LawBindings": [{"LawID": 301, "BindingTypeDesc": "amendment"}, {"LawID": 302, "BindingTypeDesc": "repeal"}]}`))
		case path == "/KNS_Bill(301)":
			w.Write([]byte(`{"Name": "Bill 301", "PublicationDate": "2005-05-05T00:00:00"}`))
		case path == "/KNS_Law(302)":
			w.Write([]byte(`{"Name": "Law 302", "PublicationDate": "2006-06-06T00:00:00"}`))
		case path == "/KNS_DocumentBill" && filter == "BillID eq 301":
			w.Write([]byte(`{"value": [{"ApplicationDesc": "DOC", "FilePath": "x.doc"}, {"ApplicationDesc": "PDF", "FilePath": "http://docs/301.pdf"}]}`))
		case path == "/KNS_DocumentBill", path == "/KNS_DocumentLaw":
			w.Write([]byte(`{"value": []}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestLegislativeAdapterFetchLaw(t *testing.T) {
	srv := odataServer(t, nil)
	defer srv.Close()

	a, err := NewLegislativeAdapter(LegislativeConfig{BaseURL: srv.URL}, testFetcher(), zap.NewNop())
	require.NoError(t, err)

	law, err := a.FetchLaw(context.Background(), 2000001)
	require.NoError(t, err)
	assert.Equal(t, int64(2000001), law.ID)
	require.Len(t, law.Names, 2)
	require.Len(t, law.Bindings, 2)

	first := law.Bindings[0]
	require.NotNil(t, first.Detail)
	assert.Equal(t, "Bill 301", *first.Detail.Name)
	assert.True(t, first.Document.Present())
	assert.Equal(t, "http://docs/301.pdf", first.Document.Path())

	second := law.Bindings[1]
	require.NotNil(t, second.Detail)
	assert.Equal(t, "Law 302", *second.Detail.Name)
	assert.False(t, second.Document.Present())
}

func TestLegislativeAdapterMissingLaw(t *testing.T) {
	srv := odataServer(t, nil)
	defer srv.Close()

	a, err := NewLegislativeAdapter(LegislativeConfig{BaseURL: srv.URL}, testFetcher(), zap.NewNop())
	require.NoError(t, err)

	_, err = a.FetchLaw(context.Background(), 42)
	assert.True(t, apperrors.IsSourceUnavailable(err))

	detail, err := a.Detail(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestLegislativeAdapterCachesLookups(t *testing.T) {
	var hits atomic.Int32
	srv := odataServer(t, &hits)
	defer srv.Close()

	a, err := NewLegislativeAdapter(LegislativeConfig{BaseURL: srv.URL, CacheSize: 16}, testFetcher(), zap.NewNop())
	require.NoError(t, err)

	_, err = a.FetchLaw(context.Background(), 2000001)
	require.NoError(t, err)
	first := hits.Load()

	_, err = a.FetchLaw(context.Background(), 2000001)
	require.NoError(t, err)
	assert.Equal(t, first+1, hits.Load(), "only the law record is fetched again")
}
