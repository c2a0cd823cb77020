// Package bootstrap wires configuration into the running application.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	googleauth "brandpost-backend/internal/auth"
	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/critique"
	"brandpost-backend/internal/export"
	"brandpost-backend/internal/imagegen"
	imageopenai "brandpost-backend/internal/imagegen/openai"
	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/llm/mock"
	llmopenai "brandpost-backend/internal/llm/openai"
	"brandpost-backend/internal/services/health"
	"brandpost-backend/internal/sessions"
	"brandpost-backend/internal/shared/auth"
	"brandpost-backend/internal/shared/config"
	"brandpost-backend/internal/shared/server"
	"brandpost-backend/internal/shared/storage/db"
	"brandpost-backend/internal/shared/storage/object"
	localstore "brandpost-backend/internal/shared/storage/object/local"
	s3store "brandpost-backend/internal/shared/storage/object/s3"
	"brandpost-backend/internal/shared/telemetry"
	"brandpost-backend/internal/variations"
)

// App holds shared dependencies.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Store    object.ObjectStore
	Catalog  *catalog.Catalog
	Signer   *auth.Signer
	Sessions *sessions.Manager
	Health   *health.Service

	closers []func() error
}

// Build prepares dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if strings.TrimSpace(cfg.SessionStore) == "" {
		cfg.SessionStore = "memory"
	}
	ctx := context.Background()

	app := &App{Config: cfg, Health: health.NewService()}

	cat, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	app.Catalog = cat

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}
	app.Signer = signer

	if app.DB, err = buildDB(ctx, cfg); err != nil {
		return nil, err
	}
	if app.DB != nil {
		app.closers = append(app.closers, app.DB.Close)
		app.Health.Register("database", app.DB.PingContext)
	}

	if app.Store, err = buildStore(ctx, cfg); err != nil {
		return nil, err
	}

	textGen, err := buildTextGateway(cfg)
	if err != nil {
		return nil, err
	}
	images, err := buildImageGateway(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepo(ctx, app)
	if err != nil {
		return nil, err
	}

	var ledger export.Ledger
	if app.DB != nil && cfg.SessionStore == "postgres" {
		// exports references sessions, so the ledger needs the postgres session store.
		ledger = &export.PGLedger{DB: app.DB}
	}

	app.Sessions = sessions.NewManager(sessions.Deps{
		Repo: repo,
		Analyzer: brand.NewAnalyzer(textGen,
			brand.WithBackoff(cfg.RetryBackoff),
			brand.WithDefaultFallback(cfg.BrandFallback),
		),
		Variations: variations.NewGenerator(textGen, cat,
			variations.WithBackoff(cfg.RetryBackoff),
			variations.WithConcurrency(cfg.VariationWorkers),
			variations.WithDuplicateThreshold(cfg.DuplicateSimilar),
		),
		Images:   images,
		Store:    app.Store,
		Exporter: export.NewObjectSink(app.Store, ledger),
		Loop: critique.Deps{
			Generator:     textGen,
			Catalog:       cat,
			MaxIterations: cfg.RefineMaxIters,
			Backoff:       cfg.RetryBackoff,
		},
	})

	googleAuth := googleauth.NewGoogleService(googleauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		UIRedirect:   cfg.UIRedirectURL,
	}, signer)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:     cfg,
		Signer:     signer,
		Sessions:   sessions.NewHandler(app.Sessions, app.Store, cat),
		GoogleAuth: googleAuth,
		Health:     app.Health,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":            cfg.Env,
		"llm_provider":   cfg.LLMProvider,
		"image_provider": cfg.ImageProvider,
		"session_store":  cfg.SessionStore,
		"object_store":   cfg.ObjectStoreType,
	})
	return app, nil
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errsOut []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errors.Join(errsOut...)
}

func buildCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.CatalogPath, err)
	}
	return cat, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.SessionStore == "postgres" && !isDevLike(cfg.Env) {
			return nil, fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
		return nil, nil
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.db_unavailable", map[string]any{"error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	if isDevLike(cfg.Env) {
		// Dev databases migrate on start; deployed ones run cmd/migrate.
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildTextGateway(cfg config.Config) (llm.Generator, error) {
	if cfg.LLMProvider != "openai" {
		return llm.NewGateway(mock.Capability{}), nil
	}
	client, err := llmopenai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL, cfg.OpenAITimeout)
	if err != nil {
		return nil, err
	}
	return llm.NewGateway(client, llm.WithTimeout(cfg.OpenAITimeout)), nil
}

func buildImageGateway(cfg config.Config) (*imagegen.Gateway, error) {
	if cfg.ImageProvider != "openai" {
		return imagegen.NewGateway(nil), nil
	}
	client, err := imageopenai.NewClient(cfg.OpenAIAPIKey, cfg.ImageModel, cfg.OpenAIBaseURL, cfg.OpenAITimeout)
	if err != nil {
		return nil, err
	}
	return imagegen.NewGateway(client), nil
}

func buildRepo(ctx context.Context, app *App) (sessions.Repo, error) {
	cfg := app.Config
	switch cfg.SessionStore {
	case "postgres":
		if app.DB == nil {
			telemetry.Warn("bootstrap.session_store_fallback", map[string]any{"wanted": "postgres", "using": "memory"})
			return sessions.NewMemoryRepo(), nil
		}
		return &sessions.PGRepo{DB: app.DB, TTL: cfg.SessionTTL}, nil
	case "redis":
		repo, err := sessions.NewRedisRepo(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			if isDevLike(cfg.Env) {
				telemetry.Warn("bootstrap.session_store_fallback", map[string]any{"wanted": "redis", "using": "memory", "error": err.Error()})
				return sessions.NewMemoryRepo(), nil
			}
			return nil, err
		}
		app.closers = append(app.closers, repo.Close)
		app.Health.Register("sessions", repo.Ping)
		return repo, nil
	default:
		return sessions.NewMemoryRepo(), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
