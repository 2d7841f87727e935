package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	apperrors "graph-ingest/errors"
	"graph-ingest/llmclient"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"
)

const probeText = "dimension probe"

// Config controls an Enricher. A zero Dimension is learned by Probe.
type Config struct {
	Dimension int
	MaxChars  int
	CacheSize int
}

// Enricher turns text into vectors of one fixed dimension.
type Enricher struct {
	embedder llmclient.Embedder
	maxChars int
	cache    *lru.Cache
	logger   *zap.Logger

	mu        sync.RWMutex
	dimension int
}

func New(embedder llmclient.Embedder, cfg Config, logger *zap.Logger) (*Enricher, error) {
	e := &Enricher{
		embedder:  embedder,
		maxChars:  cfg.MaxChars,
		dimension: cfg.Dimension,
		logger:    logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Dimension returns the vector length every Embed result must have, or 0
// before Probe has run.
func (e *Enricher) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// Probe embeds a fixed string once to learn or confirm the model's
// dimension. A configured dimension the model does not produce is
// ErrConfiguration.
func (e *Enricher) Probe(ctx context.Context) (int, error) {
	vec, err := e.embedder.Embed(ctx, probeText)
	if err != nil {
		return 0, fmt.Errorf("%w: probe embedding model: %w", apperrors.ErrSourceUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimension != 0 && e.dimension != len(vec) {
		return 0, fmt.Errorf("%w: configured embedding dimension %d but model produces %d",
			apperrors.ErrConfiguration, e.dimension, len(vec))
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: embedding model returned an empty vector", apperrors.ErrConfiguration)
	}
	e.dimension = len(vec)

	e.logger.Info("Embedding model probed", zap.Int("dimension", e.dimension))
	return e.dimension, nil
}

// Embed returns the vector for text. Text longer than the configured limit
// is cut at a sentence boundary first. A vector of the wrong length is
// ErrConfiguration.
func (e *Enricher) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := e.Dimension()
	if dim == 0 {
		return nil, fmt.Errorf("%w: embedding dimension unknown, Probe must run first", apperrors.ErrConfiguration)
	}

	text = e.Truncate(text)
	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v.([]float32), nil
		}
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed text: %w", apperrors.ErrSourceUnavailable, err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d",
			apperrors.ErrConfiguration, len(vec), dim)
	}

	if e.cache != nil {
		e.cache.Add(text, vec)
	}
	return vec, nil
}

// Truncate cuts text to the character limit, preferring the last complete
// sentence that fits.
func (e *Enricher) Truncate(text string) string {
	if e.maxChars <= 0 || utf8.RuneCountInString(text) <= e.maxChars {
		return text
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err != nil {
		e.logger.Warn("Failed to create prose document for sentence detection, truncating at character boundary", zap.Error(err))
		return cutRunes(text, e.maxChars)
	}

	var b strings.Builder
	count := 0
	for i, sent := range doc.Sentences() {
		n := utf8.RuneCountInString(sent.Text)
		if i > 0 {
			n++
		}
		if count+n > e.maxChars {
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sent.Text)
		count += n
	}
	if b.Len() == 0 {
		return cutRunes(text, e.maxChars)
	}
	return b.String()
}

func cutRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
