package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	apperrors "graph-ingest/errors"
	"graph-ingest/extract"
	"graph-ingest/graph"
	"graph-ingest/normalize"
	"graph-ingest/source"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// ForumSource pages through forum search results.
type ForumSource interface {
	TaggedQuery(tag string, page int) source.ForumQuery
	TopQuery() source.ForumQuery
	Pages(ctx context.Context, q source.ForumQuery, n int) iter.Seq2[*source.ForumPage, error]
}

// LawSource resolves one law with its bindings.
type LawSource interface {
	FetchLaw(ctx context.Context, id int64) (*source.LawRecord, error)
}

// TextExtractor turns a document link into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, link source.DocumentLink) (extract.Document, error)
}

// Embedder produces fixed-length vectors.
type Embedder interface {
	Probe(ctx context.Context) (int, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// UnitResult is the outcome of one unit: one forum page or one law id.
type UnitResult struct {
	Unit     string        `json:"unit"`
	Counts   graph.Counts  `json:"counts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	err   error
	index int
}

// Err returns the unit's failure, or nil.
func (u UnitResult) Err() error { return u.err }

// Report aggregates a run. Success is false whenever a unit failed, the run
// was cancelled or a fatal error stopped it.
type Report struct {
	RunID         uuid.UUID    `json:"run_id"`
	Source        Source       `json:"source"`
	Units         int          `json:"units"`
	Failed        int          `json:"failed"`
	Created       int          `json:"created"`
	Updated       int          `json:"updated"`
	Relationships int          `json:"relationships"`
	Omitted       int          `json:"omitted"`
	Success       bool         `json:"success"`
	Cancelled     bool         `json:"cancelled"`
	Error         string       `json:"error,omitempty"`
	Results       []UnitResult `json:"results"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// Progress receives each unit result as it completes. Calls are serialized.
type Progress func(UnitResult)

// Runner drives ingestion runs against one store.
type Runner struct {
	store     graph.Store
	forum     ForumSource
	laws      LawSource
	extractor TextExtractor
	embedder  Embedder

	workers  int
	metrics  *Metrics
	defaults Defaults
	linkBase string
	validate *validator.Validate
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds how many units run at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithDefaults(d Defaults) Option {
	return func(r *Runner) { r.defaults = d }
}

// WithLawLinkBase sets the page the Law link attribute points at.
func WithLawLinkBase(base string) Option {
	return func(r *Runner) { r.linkBase = base }
}

func NewRunner(store graph.Store, forum ForumSource, laws LawSource, extractor TextExtractor, embedder Embedder, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		forum:     forum,
		laws:      laws,
		extractor: extractor,
		embedder:  embedder,
		workers:   4,
		defaults:  Defaults{Tag: "neo4j", LawFrom: 2000001, LawTo: 2000010},
		linkBase:  normalize.DefaultLawLinkBase,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate applies defaults to p and checks the result.
func (r *Runner) Validate(p Params) (Params, error) {
	p = p.withDefaults(r.defaults)
	if err := p.validate(r.validate); err != nil {
		return p, err
	}
	return p, nil
}

// Run imports one source. Invalid params return ErrInvalidInput before any
// work starts. A configuration error (probe, schema or embedding dimension)
// stops the run and is returned together with the partial report. Unit
// failures are only recorded in the report.
func (r *Runner) Run(ctx context.Context, params Params, progress Progress) (*Report, error) {
	p, err := r.Validate(params)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New(),
		Source:    p.Source,
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With(zap.String("run_id", report.RunID.String()), zap.String("source", string(p.Source)))
	logger.Info("Ingestion run started", zap.Int("planned_units", p.plannedUnits()))

	g, err := r.prepare(ctx, logger)
	if err != nil {
		return r.finish(report, logger, err), err
	}

	pool, err := ants.NewPool(r.workers)
	if err != nil {
		err = fmt.Errorf("%w: create worker pool: %w", apperrors.ErrConfiguration, err)
		return r.finish(report, logger, err), err
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(res UnitResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, res)
		if progress != nil {
			progress(res)
		}
	}

	submit := func(index int, unit string, work func(ctx context.Context) (graph.Batch, error)) {
		if runCtx.Err() != nil {
			return
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			// Units that were queued before a cancellation never start.
			if runCtx.Err() != nil {
				return
			}
			res := r.runUnit(runCtx, g, p.Source, unit, work)
			res.index = index
			if errors.Is(res.err, apperrors.ErrConfiguration) {
				cancel(res.err)
			}
			record(res)
		})
		if err != nil {
			wg.Done()
			record(UnitResult{Unit: unit, index: index, err: err, Error: err.Error()})
		}
	}

	r.plan(runCtx, p, submit, record)
	wg.Wait()

	var fatal error
	if cause := context.Cause(runCtx); errors.Is(cause, apperrors.ErrConfiguration) {
		fatal = cause
	} else if ctx.Err() != nil {
		report.Cancelled = true
	}
	return r.finish(report, logger, fatal), fatal
}

// prepare fixes the embedding dimension and makes sure the schema matches it.
func (r *Runner) prepare(ctx context.Context, logger *zap.Logger) (*graph.Graph, error) {
	dim, err := r.embedder.Probe(ctx)
	if err != nil {
		if !apperrors.IsConfiguration(err) {
			err = fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
		}
		return nil, err
	}
	if err := graph.NewSchema(r.store, logger).Ensure(ctx, dim); err != nil {
		return nil, err
	}
	return graph.New(r.store, dim, logger), nil
}

type submitFunc func(index int, unit string, work func(ctx context.Context) (graph.Batch, error))

// plan enumerates units in order. Forum pages are fetched here, one at a
// time, so pagination state stays in a single goroutine; law units fetch
// their own record inside the worker.
func (r *Runner) plan(ctx context.Context, p Params, submit submitFunc, record func(UnitResult)) {
	switch p.Source {
	case SourceForum, SourceTop:
		q, n := r.forum.TaggedQuery(p.Tag, p.StartPage), p.NumPages
		if p.Source == SourceTop {
			q, n = r.forum.TopQuery(), 1
		}
		i := 0
		for page, err := range r.forum.Pages(ctx, q, n) {
			unit := fmt.Sprintf("page %d", max(q.Page, 1)+i)
			if err != nil {
				record(UnitResult{Unit: unit, index: i, err: err, Error: err.Error()})
			} else {
				items := page.Items
				submit(i, unit, func(context.Context) (graph.Batch, error) {
					return r.forumBatch(items)
				})
			}
			i++
		}

	case SourceLaws:
		for id := p.LawFrom; id <= p.LawTo; id++ {
			if ctx.Err() != nil {
				return
			}
			submit(int(id-p.LawFrom), fmt.Sprintf("law %d", id), func(ctx context.Context) (graph.Batch, error) {
				law, err := r.laws.FetchLaw(ctx, id)
				if err != nil {
					return graph.Batch{}, err
				}
				return normalize.Law(*law, r.linkBase)
			})
		}
	}
}

func (r *Runner) forumBatch(items []source.Question) (graph.Batch, error) {
	var batch graph.Batch
	for _, q := range items {
		b, err := normalize.ForumQuestion(q)
		if err != nil {
			r.logger.Warn("Skipping malformed question", zap.Int64("question_id", q.QuestionID), zap.Error(err))
			continue
		}
		batch.Merge(b)
	}
	return batch, nil
}

func (r *Runner) runUnit(ctx context.Context, g *graph.Graph, src Source, unit string, work func(ctx context.Context) (graph.Batch, error)) UnitResult {
	start := time.Now()
	res := UnitResult{Unit: unit}

	counts, err := r.processUnit(ctx, g, work)
	res.Duration = time.Since(start)
	res.Counts = counts

	status := "success"
	if err != nil {
		status = "failure"
		res.err = err
		res.Error = err.Error()
		r.logger.Error("Unit failed", zap.String("unit", unit), zap.Error(err))
	} else {
		r.logger.Info("Unit written",
			zap.String("unit", unit),
			zap.Int("created", counts.Created),
			zap.Int("updated", counts.Updated),
			zap.Int("relationships", counts.Relationships),
			zap.Int("omitted", counts.Omitted),
			zap.Duration("elapsed", res.Duration))
	}
	r.metrics.observeUnit(src, status, res.Duration, counts)
	return res
}

func (r *Runner) processUnit(ctx context.Context, g *graph.Graph, work func(ctx context.Context) (graph.Batch, error)) (graph.Counts, error) {
	batch, err := work(ctx)
	if err != nil {
		return graph.Counts{}, err
	}
	if batch.Empty() {
		return graph.Counts{}, nil
	}
	if err := r.enrich(ctx, &batch); err != nil {
		return graph.Counts{}, err
	}
	// Once enrichment is done the write is allowed to finish even if the run
	// is cancelled.
	return g.Apply(context.WithoutCancel(ctx), batch)
}

// enrich fills document slots and embeddings. Extraction failures degrade to
// the no-text sentinel; embedding failures and cancellation fail the unit.
func (r *Runner) enrich(ctx context.Context, batch *graph.Batch) error {
	for _, n := range batch.Nodes {
		if slot := n.Document; slot != nil {
			text := normalize.NoText
			doc, err := r.extractor.ExtractText(ctx, source.NewDocumentLink(slot.Link))
			switch {
			case err != nil && interrupted(ctx, err):
				// The sentinel would overwrite text stored by an earlier run.
				return fmt.Errorf("extract %s: %w", n.Ref(), err)
			case err != nil:
				r.logger.Warn("Document text unavailable", zap.Stringer("node", n.Ref()), zap.Error(err))
			case doc.Found():
				text = doc.Text
			}
			n.SetRefresh(slot.Attr, text)
		}
		if n.EmbedText != "" {
			vec, err := r.embedder.Embed(ctx, n.EmbedText)
			if err != nil {
				return fmt.Errorf("embed %s: %w", n.Ref(), err)
			}
			n.Embedding = vec
		}
	}
	return nil
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Runner) finish(report *Report, logger *zap.Logger, fatal error) *Report {
	slices.SortStableFunc(report.Results, func(a, b UnitResult) int { return a.index - b.index })

	var total graph.Counts
	for _, res := range report.Results {
		if res.err != nil {
			report.Failed++
			continue
		}
		total.Add(res.Counts)
	}
	report.Units = len(report.Results)
	report.Created = total.Created
	report.Updated = total.Updated
	report.Relationships = total.Relationships
	report.Omitted = total.Omitted
	if fatal != nil {
		report.Error = fatal.Error()
	}
	report.Success = fatal == nil && !report.Cancelled && report.Failed == 0
	report.FinishedAt = time.Now().UTC()

	r.metrics.observeRun(report.Source, report.Success)
	fields := []zap.Field{
		zap.Int("units", report.Units),
		zap.Int("failed", report.Failed),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("relationships", report.Relationships),
		zap.Int("omitted", report.Omitted),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	}
	if fatal != nil {
		logger.Error("Ingestion run aborted", append(fields, zap.Error(fatal))...)
	} else {
		logger.Info("Ingestion run finished", fields...)
	}
	return report
}
