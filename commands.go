package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"graph-ingest/config"
	"graph-ingest/database"
	"graph-ingest/embedding"
	apperrors "graph-ingest/errors"
	"graph-ingest/extract"
	"graph-ingest/graph"
	"graph-ingest/llmclient"
	"graph-ingest/pipeline"
	"graph-ingest/source"
	"graph-ingest/web"
	"graph-ingest/web/handlers"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// env is the per-process wiring shared by every command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  graph.Store
}

func setup(c *cli.Context) error {
	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info", "console")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	cfg := config.Load(tempLogger)

	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format := c.String("log-format"); format != "" {
		cfg.LogFormat = format
	}
	if backend := c.String("store"); backend != "" {
		cfg.StoreBackend = strings.ToLower(backend)
	}
	if c.Bool("dry-run") {
		cfg.StoreBackend = "memory"
	}

	logger, err := config.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("re-initialize logger with configured level: %w", err)
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata["env"] = &env{cfg: cfg, logger: logger}
	return nil
}

func teardown(c *cli.Context) error {
	if e, ok := c.App.Metadata["env"].(*env); ok && e.store != nil {
		if err := e.store.Close(context.Background()); err != nil {
			e.logger.Warn("Failed to close graph store", zap.Error(err))
		}
	}
	config.Cleanup()
	return nil
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata["env"].(*env)
}

// openStore connects to the configured backend once per process.
func (e *env) openStore(ctx context.Context) (graph.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	store, err := newStore(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (graph.Store, error) {
	switch cfg.StoreBackend {
	case "neo4j":
		store, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := database.NewPostgresStore(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Warn("Using the in-memory graph store, nothing will be persisted")
		return graph.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown STORE_BACKEND %q", apperrors.ErrConfiguration, cfg.StoreBackend)
	}
}

func (e *env) newEnricher() (*embedding.Enricher, error) {
	embedder, err := llmclient.NewEmbedder(e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	return embedding.New(embedder, embedding.Config{
		Dimension: e.cfg.EmbeddingDimension,
		MaxChars:  e.cfg.MaxEmbeddingChars,
		CacheSize: e.cfg.EmbeddingCacheSize,
	}, e.logger)
}

func (e *env) newFetcher() *source.Fetcher {
	return source.NewFetcher(source.FetcherConfig{
		Timeout:           e.cfg.SourceTimeout,
		MaxRetries:        e.cfg.MaxRetries,
		RetryDelay:        e.cfg.RetryDelaySeconds,
		RequestsPerSecond: e.cfg.SourceRequestsPerSecond,
	}, e.logger)
}

func (e *env) newRunner(ctx context.Context, metrics *pipeline.Metrics) (*pipeline.Runner, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	enricher, err := e.newEnricher()
	if err != nil {
		return nil, err
	}

	// Each upstream gets its own fetcher so their quotas are tracked apart.
	forum := source.NewForumAdapter(source.ForumConfig{
		BaseURL:     e.cfg.ForumAPIBaseURL,
		Site:        e.cfg.ForumSite,
		Filter:      e.cfg.ForumFilter,
		TopFilter:   e.cfg.ForumTopFilter,
		TopFromDate: e.cfg.ForumTopFromDate,
		APIKey:      e.cfg.ForumAPIKey,
	}, e.newFetcher(), e.logger)

	legislativeFetcher := e.newFetcher()
	laws, err := source.NewLegislativeAdapter(source.LegislativeConfig{
		BaseURL:   e.cfg.LegislativeAPIBaseURL,
		CacheSize: e.cfg.LookupCacheSize,
	}, legislativeFetcher, e.logger)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewExtractor(legislativeFetcher, e.cfg.MaxDocumentBytes, e.logger)

	return pipeline.NewRunner(store, forum, laws, extractor, enricher, e.logger,
		pipeline.WithWorkers(e.cfg.Workers),
		pipeline.WithMetrics(metrics),
		pipeline.WithDefaults(pipeline.Defaults{
			Tag:     e.cfg.DefaultTag,
			LawFrom: e.cfg.DefaultLawFrom,
			LawTo:   e.cfg.DefaultLawTo,
		}),
		pipeline.WithLawLinkBase(e.cfg.LawLinkBaseURL),
	), nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func importForumCommand(c *cli.Context) error {
	return runImport(c, pipeline.Params{
		Source:    pipeline.SourceForum,
		Tag:       c.String("tag"),
		NumPages:  c.Int("pages"),
		StartPage: c.Int("start-page"),
	})
}

func importTopCommand(c *cli.Context) error {
	return runImport(c, pipeline.Params{Source: pipeline.SourceTop})
}

func importLawsCommand(c *cli.Context) error {
	return runImport(c, pipeline.Params{
		Source:  pipeline.SourceLaws,
		LawFrom: c.Int64("from"),
		LawTo:   c.Int64("to"),
	})
}

func runImport(c *cli.Context, params pipeline.Params) error {
	e := envFrom(c)
	ctx, cancel := signalContext(c)
	defer cancel()

	runner, err := e.newRunner(ctx, nil)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, params, func(res pipeline.UnitResult) {
		if res.Error != "" {
			fmt.Fprintf(c.App.ErrWriter, "%s: failed: %s\n", res.Unit, res.Error)
			return
		}
		fmt.Fprintf(c.App.ErrWriter, "%s: %d created, %d updated, %d relationships\n",
			res.Unit, res.Counts.Created, res.Counts.Updated, res.Counts.Relationships)
	})
	if report != nil {
		if perr := printJSON(c, report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return cli.Exit(fmt.Sprintf("%d of %d units failed", report.Failed, report.Units), 2)
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	e := envFrom(c)
	ctx, cancel := signalContext(c)
	defer cancel()

	metrics := pipeline.NewMetrics("graph_ingest")
	runner, err := e.newRunner(ctx, metrics)
	if err != nil {
		return err
	}

	port := e.cfg.WebPort
	if p := c.Int("port"); p > 0 {
		port = p
	}
	server := web.NewServer(runner, handlers.StatsFunc(e.stats), metrics, e.cfg.StoreBackend, e.logger)
	return server.Start(ctx, fmt.Sprintf(":%d", port))
}

func (e *env) stats(ctx context.Context) (graph.Stats, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return graph.Stats{}, err
	}
	g, err := graph.Open(ctx, store, e.logger)
	if err != nil {
		return graph.Stats{}, err
	}
	return g.Stats(ctx)
}

func statsCommand(c *cli.Context) error {
	e := envFrom(c)
	ctx, cancel := signalContext(c)
	defer cancel()

	stats, err := e.stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(c, stats)
}

func searchCommand(c *cli.Context) error {
	e := envFrom(c)
	ctx, cancel := signalContext(c)
	defer cancel()

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	g, err := graph.Open(ctx, store, e.logger)
	if err != nil {
		return err
	}
	if g.Dimension() == 0 {
		return fmt.Errorf("%w: no vector index exists yet, run an import first", apperrors.ErrConfiguration)
	}

	enricher, err := e.newEnricher()
	if err != nil {
		return err
	}
	if _, err := enricher.Probe(ctx); err != nil {
		return err
	}
	vec, err := enricher.Embed(ctx, c.String("query"))
	if err != nil {
		return err
	}

	hits, err := g.Similar(ctx, c.String("index"), vec, c.Int("k"))
	if err != nil {
		return err
	}
	return printJSON(c, hits)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
