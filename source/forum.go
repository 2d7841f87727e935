package source

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Owner is the author of a question or answer. UserID is absent for
// deleted accounts.
type Owner struct {
	UserID      *int64  `json:"user_id"`
	DisplayName *string `json:"display_name"`
	Reputation  *int64  `json:"reputation"`
}

type Answer struct {
	AnswerID     int64  `json:"answer_id"`
	IsAccepted   bool   `json:"is_accepted"`
	Score        int64  `json:"score"`
	CreationDate int64  `json:"creation_date"`
	BodyMarkdown string `json:"body_markdown"`
	Owner        *Owner `json:"owner"`
}

type Question struct {
	QuestionID    int64    `json:"question_id"`
	Title         string   `json:"title"`
	BodyMarkdown  string   `json:"body_markdown"`
	Link          string   `json:"link"`
	Score         int64    `json:"score"`
	FavoriteCount *int64   `json:"favorite_count"`
	CreationDate  int64    `json:"creation_date"`
	Tags          []string `json:"tags"`
	Owner         *Owner   `json:"owner"`
	Answers       []Answer `json:"answers"`
}

// ForumPage is one page of /search/advanced results.
type ForumPage struct {
	Items          []Question `json:"items"`
	HasMore        bool       `json:"has_more"`
	Backoff        int        `json:"backoff"`
	QuotaRemaining int        `json:"quota_remaining"`

	Page int `json:"-"`
}

// ForumQuery holds the recognized /search/advanced parameters. Zero values
// are left out of the request.
type ForumQuery struct {
	Tag        string
	Page       int
	PageSize   int
	Order      string
	Sort       string
	FromDate   int64
	Site       string
	Filter     string
	MinAnswers int
}

// Values encodes the non-zero fields as request parameters.
func (q ForumQuery) Values() url.Values {
	v := url.Values{}
	if q.PageSize > 0 {
		v.Set("pagesize", strconv.Itoa(q.PageSize))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.FromDate > 0 {
		v.Set("fromdate", strconv.FormatInt(q.FromDate, 10))
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.MinAnswers > 0 {
		v.Set("answers", strconv.Itoa(q.MinAnswers))
	}
	if q.Tag != "" {
		v.Set("tagged", q.Tag)
	}
	if q.Site != "" {
		v.Set("site", q.Site)
	}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	return v
}

// ForumConfig configures the Stack Exchange adapter.
type ForumConfig struct {
	BaseURL     string
	Site        string
	Filter      string
	TopFilter   string
	TopFromDate int64
	APIKey      string
}

// ForumAdapter reads questions with their answers from the Stack Exchange API.
type ForumAdapter struct {
	cfg     ForumConfig
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewForumAdapter(cfg ForumConfig, fetcher *Fetcher, logger *zap.Logger) *ForumAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ForumAdapter{cfg: cfg, fetcher: fetcher, logger: logger}
}

// TaggedQuery is the newest-first, answered-only query for one tag.
func (a *ForumAdapter) TaggedQuery(tag string, page int) ForumQuery {
	return ForumQuery{
		Tag:        tag,
		Page:       page,
		PageSize:   100,
		Order:      "desc",
		Sort:       "creation",
		MinAnswers: 1,
		Site:       a.cfg.Site,
		Filter:     a.cfg.Filter,
	}
}

// TopQuery is the votes-sorted query for highly ranked questions.
func (a *ForumAdapter) TopQuery() ForumQuery {
	return ForumQuery{
		FromDate: a.cfg.TopFromDate,
		Order:    "desc",
		Sort:     "votes",
		Site:     a.cfg.Site,
		Filter:   a.cfg.TopFilter,
	}
}

// Fetch requests one page. The same query always names the same page.
func (a *ForumAdapter) Fetch(ctx context.Context, q ForumQuery) (*ForumPage, error) {
	values := q.Values()
	if a.cfg.APIKey != "" {
		values.Set("key", a.cfg.APIKey)
	}
	rawURL := a.cfg.BaseURL + "/search/advanced?" + values.Encode()

	var page ForumPage
	if err := a.fetcher.GetJSON(ctx, rawURL, &page); err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", describe(q), q.Page, err)
	}
	page.Page = q.Page

	if page.Backoff > 0 {
		a.logger.Warn("Forum API requested backoff", zap.Int("seconds", page.Backoff))
		a.fetcher.Pause(time.Duration(page.Backoff) * time.Second)
	}
	a.logger.Debug("Fetched forum page",
		zap.String("query", describe(q)),
		zap.Int("page", q.Page),
		zap.Int("items", len(page.Items)),
		zap.Int("quota_remaining", page.QuotaRemaining))
	return &page, nil
}

// Pages walks q.Page through q.Page+n-1 lazily. A failed page is yielded
// with its error and the walk continues; it ends early once the API reports
// there are no more results.
func (a *ForumAdapter) Pages(ctx context.Context, q ForumQuery, n int) iter.Seq2[*ForumPage, error] {
	return func(yield func(*ForumPage, error) bool) {
		start := max(q.Page, 1)
		for i := range n {
			if ctx.Err() != nil {
				return
			}
			pq := q
			pq.Page = start + i
			page, err := a.Fetch(ctx, pq)
			if !yield(page, err) {
				return
			}
			if err == nil && !page.HasMore {
				return
			}
		}
	}
}

func describe(q ForumQuery) string {
	if q.Tag != "" {
		return "tag " + q.Tag
	}
	return "sort " + q.Sort
}
