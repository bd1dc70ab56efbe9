package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/cache"
	"leadscore-backend/internal/checks"
	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/leads"
	"leadscore-backend/internal/orchestrator"
	"leadscore-backend/internal/progress"
	"leadscore-backend/internal/queue"
	"leadscore-backend/internal/runs"
	"leadscore-backend/internal/scoring"
	"leadscore-backend/internal/scoring/openaiscore"
	"leadscore-backend/internal/shared/config"
	"leadscore-backend/internal/shared/server"
	"leadscore-backend/internal/shared/storage/db"
	"leadscore-backend/internal/shared/storage/object"
	localstore "leadscore-backend/internal/shared/storage/object/local"
	miniostore "leadscore-backend/internal/shared/storage/object/miniostore"
	s3store "leadscore-backend/internal/shared/storage/object/s3"
	"leadscore-backend/internal/subject"
)

// App holds shared dependencies for both the API and the worker.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	RunsRepo     runs.Repo
	ContextsRepo bizctx.Repo
	LeadsRepo    leads.Repo
	Ledger       *credits.Ledger
	Cache        *cache.Strategy
	Checks       *checks.Chain
	Hub          *progress.Hub
	Fetcher      subject.Fetcher
	Scorer       scoring.Scorer

	RunsService  *runs.Service
	Orchestrator *orchestrator.Orchestrator
	RunProcessor RunProcessor

	RunsHandler     *runs.Handler
	ProgressHandler *progress.Handler
}

// RunProcessor allows callers to override run processing for tests.
type RunProcessor interface {
	ProcessRun(ctx context.Context, msg queue.Message) error
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}
	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		DB:              app.DB,
		RunsHandler:     app.RunsHandler,
		ProgressHandler: app.ProgressHandler,
		Cache:           app.Cache,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	case "minio":
		return miniostore.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	cfg := app.Config

	if app.DB != nil {
		app.RunsRepo = &runs.PGRepo{DB: app.DB}
		app.ContextsRepo = &bizctx.PGRepo{DB: app.DB}
		app.LeadsRepo = &leads.PGRepo{DB: app.DB}
		app.Ledger = credits.NewPostgresLedger(credits.NewPGStore(app.DB))
	} else {
		app.RunsRepo = runs.NewMemoryRepo()
		app.ContextsRepo = bizctx.NewMemoryRepo()
		app.LeadsRepo = leads.NewMemoryRepo()
		app.Ledger = credits.NewLedger()
	}

	tiers, err := config.LoadTiers(cfg.TiersFile)
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}
	app.Cache = cache.NewStrategy(app.Store, tiers)
	app.Checks = checks.NewChain()
	app.Hub = progress.NewHub()
	app.Fetcher = subject.PlaceholderFetcher{}

	scorer := scoring.Scorer(scoring.PlaceholderScorer{})
	if cfg.ScoreProvider == "openai" {
		openaiScorer, err := openaiscore.NewClient(cfg.ScoreAPIKey, cfg.ScoreModel, cfg.ScoreCostPer1K)
		if err != nil {
			return err
		}
		scorer = openaiScorer
	}
	app.Scorer = scorer

	app.RunsService = &runs.Service{
		Repo:        app.RunsRepo,
		Contexts:    app.ContextsRepo,
		Ledger:      app.Ledger,
		Queue:       app.Queue,
		Tiers:       tiers,
		CreditsCost: cfg.RunCreditsCost,
	}
	app.Orchestrator = &orchestrator.Orchestrator{
		Runs:        app.RunsRepo,
		Contexts:    app.ContextsRepo,
		Leads:       app.LeadsRepo,
		Ledger:      app.Ledger,
		Cache:       app.Cache,
		Fetcher:     app.Fetcher,
		Scorer:      app.Scorer,
		Checks:      app.Checks,
		Hub:         app.Hub,
		CreditsCost: int64(cfg.RunCreditsCost),
	}
	app.RunProcessor = app.Orchestrator

	app.RunsHandler = runs.NewHandler(app.RunsService)
	app.ProgressHandler = progress.NewHandler(app.Hub)
	return nil
}
