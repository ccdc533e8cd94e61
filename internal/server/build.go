package server

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/api"
	"github.com/usyd/webcrawler-rag/internal/auth"
	"github.com/usyd/webcrawler-rag/internal/cache"
	"github.com/usyd/webcrawler-rag/internal/chat"
	"github.com/usyd/webcrawler-rag/internal/chunk"
	"github.com/usyd/webcrawler-rag/internal/clock/system"
	"github.com/usyd/webcrawler-rag/internal/config"
	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/dispatcher"
	"github.com/usyd/webcrawler-rag/internal/documents"
	"github.com/usyd/webcrawler-rag/internal/embeddings"
	"github.com/usyd/webcrawler-rag/internal/extract"
	collyfetcher "github.com/usyd/webcrawler-rag/internal/fetcher/colly"
	headlessfetcher "github.com/usyd/webcrawler-rag/internal/fetcher/headless"
	"github.com/usyd/webcrawler-rag/internal/hash/sha256"
	"github.com/usyd/webcrawler-rag/internal/headless/detector"
	"github.com/usyd/webcrawler-rag/internal/id/uuid"
	"github.com/usyd/webcrawler-rag/internal/llm"
	"github.com/usyd/webcrawler-rag/internal/logging"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/policy/ratelimit"
	"github.com/usyd/webcrawler-rag/internal/progress"
	progresssinks "github.com/usyd/webcrawler-rag/internal/progress/sinks"
	memorypublisher "github.com/usyd/webcrawler-rag/internal/publisher/memory"
	gcppublisher "github.com/usyd/webcrawler-rag/internal/publisher/pubsub"
	"github.com/usyd/webcrawler-rag/internal/publisher/rabbitmq"
	queuememory "github.com/usyd/webcrawler-rag/internal/queue/memory"
	gcsstorage "github.com/usyd/webcrawler-rag/internal/storage/gcs"
	localstorage "github.com/usyd/webcrawler-rag/internal/storage/local"
	memorystorage "github.com/usyd/webcrawler-rag/internal/storage/memory"
	pgstore "github.com/usyd/webcrawler-rag/internal/storage/postgres"
	"github.com/usyd/webcrawler-rag/internal/telemetry"
	"github.com/usyd/webcrawler-rag/internal/vectordb"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
	azuresearch "github.com/usyd/webcrawler-rag/internal/vectorstore/azure"
	memoryindex "github.com/usyd/webcrawler-rag/internal/vectorstore/memory"
	"github.com/usyd/webcrawler-rag/internal/vectorstore/pgvector"
	"github.com/usyd/webcrawler-rag/internal/worker"
)

// shared holds the collaborators every component receives.
type shared struct {
	ids    crawler.IDGenerator
	clock  crawler.Clock
	hasher crawler.Hasher
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

//nolint:funlen // composition root
func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: logging.Service,
		Version:     cfg.Server.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracer = tp
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("vector", cfg.Vector.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)
	deps := shared{ids: uuid.New(), clock: system.New(), hasher: sha256.New()}

	fail := func(err error) (*App, error) {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return fail(err)
	}
	if err = setupDatabase(ctx, app); err != nil {
		return fail(err)
	}
	if err = reconcile(ctx, app.repos, deps.clock, logger); err != nil {
		return fail(err)
	}
	if err = setupRedis(ctx, app); err != nil {
		return fail(err)
	}
	publisher, err := setupPublisher(ctx, app, deps)
	if err != nil {
		return fail(err)
	}
	emitter, err := setupProgress(app, reg)
	if err != nil {
		return fail(err)
	}

	authSvc, err := setupAuth(ctx, app, deps)
	if err != nil {
		return fail(err)
	}
	app.auth = authSvc

	chunker, err := chunk.New(cfg.Vector.Encoding, cfg.Vector.ChunkSize, cfg.Vector.ChunkOverlap)
	if err != nil {
		return fail(fmt.Errorf("chunker init failed: %w", err))
	}
	embedder, err := embeddings.NewAzure(embeddings.Config{
		Endpoint:   cfg.OpenAI.Endpoint,
		APIKey:     cfg.OpenAI.APIKey,
		APIVersion: cfg.OpenAI.EmbeddingAPIVersion,
		Deployment: cfg.OpenAI.EmbeddingDeployment,
		Model:      cfg.OpenAI.EmbeddingModel,
		Dimensions: cfg.OpenAI.EmbeddingDimensions,
		BatchSize:  cfg.OpenAI.EmbeddingBatchSize,
	})
	if err != nil {
		return fail(fmt.Errorf("embedder init failed: %w", err))
	}
	index, err := setupIndex(app)
	if err != nil {
		return fail(err)
	}

	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)

	vectorDBs, err := vectordb.New(vectordb.Deps{
		Databases: app.repos.VectorDBs,
		Jobs:      app.repos.Jobs,
		Documents: app.repos.Documents,
		Blobs:     blobs,
		Index:     index,
		Embedder:  embedder,
		Chunker:   chunker,
		Queue:     app.queue,
		IDs:       deps.ids,
		Clock:     deps.clock,
		Logger:    logger.Named("vectordb"),
	})
	if err != nil {
		return fail(fmt.Errorf("vectordb service init failed: %w", err))
	}

	chatSvc, err := setupChat(app, vectorDBs, deps)
	if err != nil {
		return fail(err)
	}

	docs, err := documents.New(documents.Deps{
		Documents:   app.repos.Documents,
		Blobs:       blobs,
		Queue:       app.queue,
		Hasher:      deps.hasher,
		Chunker:     chunker,
		IDs:         deps.ids,
		Clock:       deps.clock,
		MaxFileSize: cfg.MaxUploadBytes(),
		Logger:      logger.Named("documents"),
	})
	if err != nil {
		return fail(fmt.Errorf("documents service init failed: %w", err))
	}

	scraper, err := setupScraper(app)
	if err != nil {
		return fail(err)
	}

	scrapeHandler := worker.NewScrapeHandler(
		app.repos.Jobs, scraper, blobs, emitter, publisher, deps.hasher, deps.clock, logger.Named("scrape"))
	handlers := map[crawler.TaskKind]worker.Handler{
		crawler.TaskScrape:   scrapeHandler,
		crawler.TaskIndex:    worker.NewIndexHandler(vectorDBs, publisher, logger.Named("index")),
		crawler.TaskDocument: worker.NewDocumentHandler(docs, publisher, logger.Named("document")),
	}
	aborter := worker.StoreAborter{
		Jobs:      app.repos.Jobs,
		VectorDBs: app.repos.VectorDBs,
		Documents: app.repos.Documents,
		Clock:     deps.clock,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := range cfg.Crawler.Concurrency {
		runners = append(runners, worker.New(i, app.queue, handlers,
			worker.Config{JobTimeout: cfg.Crawler.JobTimeout, Aborter: aborter}, logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, runners...)
	logger.Info("dispatcher configured",
		zap.Int("workers", cfg.Crawler.Concurrency),
		zap.Int("queue_depth", cfg.Crawler.QueueDepth),
		zap.Duration("job_timeout", cfg.Crawler.JobTimeout),
	)

	app.apiServer, err = api.NewServer(api.Deps{
		Auth:      authSvc,
		Jobs:      app.repos.Jobs,
		Queue:     app.queue,
		Blobs:     blobs,
		VectorDBs: vectorDBs,
		Chat:      chatSvc,
		Documents: docs,
		IDs:       deps.ids,
		Clock:     deps.clock,
		Config: api.Config{
			Version:        cfg.Server.Version,
			RequestTimeout: cfg.Server.RequestTimeout,
			CookieName:     cfg.Auth.CookieName,
			SecureCookie:   cfg.Auth.SecureCookie,
		},
		Logger: logger.Named("api"),
	})
	if err != nil {
		return fail(fmt.Errorf("api server init failed: %w", err))
	}
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcs = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.URL == "" {
		app.logger.Warn("no database url configured, using in-memory repositories")
		app.repos = memorystorage.NewRepositories()
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	app.repos = pgstore.NewRepositories(pool)
	app.logger.Info("postgres repositories initialized",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)
	return nil
}

func setupRedis(ctx context.Context, app *App) error {
	if app.cfg.Redis.URL == "" {
		app.logger.Info("no redis url configured, using in-process revocations and no history cache")
		return nil
	}
	client, err := cache.Open(ctx, app.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	app.redis = client
	app.logger.Info("redis connected")
	return nil
}

func setupPublisher(ctx context.Context, app *App, deps shared) (crawler.Publisher, error) {
	switch app.cfg.Publisher.Backend {
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		pub := gcppublisher.New(client, app.cfg.PubSub.TopicPrefix)
		app.publisher = pub
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic_prefix", app.cfg.PubSub.TopicPrefix),
		)
		return pub, nil
	case config.BackendRabbitMQ:
		conn, err := rabbitmq.Dial(ctx, app.cfg.RabbitMQ.URL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
		}
		app.amqpConn = conn
		pub, err := rabbitmq.New(conn, app.cfg.RabbitMQ.Exchange, deps.ids, deps.clock)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq publisher init failed: %w", err)
		}
		app.publisher = pub
		app.logger.Info("RabbitMQ publisher initialized", zap.String("exchange", app.cfg.RabbitMQ.Exchange))
		return pub, nil
	default:
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	}
}

func setupProgress(app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := app.cfg.Progress
	if !cfg.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.repos.Jobs, app.logger.Named("progress_store")),
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		SinkTimeout:    cfg.SinkTimeout,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupAuth(ctx context.Context, app *App, deps shared) (*auth.Service, error) {
	var revoked auth.RevocationStore = auth.NewMemoryRevocations(deps.clock)
	if app.redis != nil {
		revoked = auth.NewRedisRevocations(app.redis)
	}
	svc, err := auth.NewService(app.repos.Users, revoked, auth.Config{
		SecretKey: app.cfg.Auth.SecretKey,
		TokenTTL:  app.cfg.Auth.TokenTTL,
		Issuer:    app.cfg.Auth.Issuer,
	}, deps.clock, deps.ids, app.logger.Named("auth"))
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}
	if app.cfg.Auth.SeedAdmin {
		if _, err := svc.EnsureDefaultAdmin(ctx); err != nil {
			return nil, fmt.Errorf("seed admin failed: %w", err)
		}
	}
	return svc, nil
}

func setupIndex(app *App) (vectorstore.Index, error) {
	switch app.cfg.Vector.Backend {
	case config.BackendPgvector:
		if app.pool == nil {
			return nil, errors.New("pgvector backend requires a database")
		}
		app.logger.Info("using pgvector index")
		return pgvector.New(app.pool, app.cfg.OpenAI.EmbeddingDimensions), nil
	case config.BackendMemory:
		app.logger.Warn("using in-memory vector index; indexes are lost on restart")
		return memoryindex.New(), nil
	default:
		client, err := azuresearch.New(azuresearch.Config{
			Endpoint:   app.cfg.Search.Endpoint,
			APIKey:     app.cfg.Search.APIKey,
			APIVersion: app.cfg.Search.APIVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("azure search init failed: %w", err)
		}
		app.logger.Info("using Azure AI Search index", zap.String("endpoint", app.cfg.Search.Endpoint))
		return client, nil
	}
}

func setupChat(app *App, retriever chat.Retriever, deps shared) (*chat.Service, error) {
	registry := llm.NewRegistry(app.cfg.OpenAI.GPT4oDeployment, app.cfg.OpenAI.O3MiniDeployment)
	completer, err := llm.NewAzure(llm.Config{
		Endpoint:   app.cfg.OpenAI.Endpoint,
		APIKey:     app.cfg.OpenAI.APIKey,
		APIVersion: app.cfg.OpenAI.APIVersion,
	}, registry)
	if err != nil {
		return nil, fmt.Errorf("llm init failed: %w", err)
	}
	chatDeps := chat.Deps{
		Sessions:     app.repos.Chats,
		Retriever:    retriever,
		LLM:          completer,
		Registry:     registry,
		IDs:          deps.ids,
		Clock:        deps.clock,
		HistoryLimit: app.cfg.Chat.HistoryLimit,
		DefaultModel: app.cfg.Chat.DefaultModel,
		Logger:       app.logger.Named("chat"),
	}
	if app.redis != nil {
		chatDeps.Cache = cache.NewHistoryCache(app.redis, app.cfg.Chat.HistoryTTL)
	}
	svc, err := chat.New(chatDeps)
	if err != nil {
		return nil, fmt.Errorf("chat service init failed: %w", err)
	}
	return svc, nil
}

func setupScraper(app *App) (*crawler.Scraper, error) {
	cfg := app.cfg
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	})
	app.logger.Info("using colly page fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	var headless crawler.Fetcher
	if cfg.Headless.Enabled {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SettleDelay:       cfg.Headless.SettleDelay,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.headless = fetcher
		headless = fetcher
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
		HostRPS:      cfg.RateLimit.HostRPS(),
	})
	return crawler.NewScraper(
		plain,
		headless,
		detector.NewHeuristic(cfg.Headless.PromotionThreshold, cfg.Headless.Markers...),
		limiter,
		extract.New(),
		crawler.ScraperConfig{
			DeepMaxDepth:    cfg.Crawler.DeepMaxDepth,
			DeepMaxPages:    cfg.Crawler.DeepMaxPages,
			SitemapMaxPages: cfg.Crawler.SitemapMaxPages,
			SitemapTimeout:  cfg.Crawler.SitemapTimeout,
			RespectRobots:   cfg.Crawler.RespectRobots,
			HeadlessEnabled: cfg.Headless.Enabled,
			BlockedDomains:  cfg.Crawler.BlockedDomains,
			MaxAttempts:     cfg.Crawler.MaxAttempts,
		},
		app.logger.Named("scraper"),
	), nil
}
