package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postsmith/app/internal/app/scheduler"
	"postsmith/app/internal/data/catalog"
	"postsmith/app/internal/data/database"
	leasedata "postsmith/app/internal/data/lease"
	"postsmith/app/internal/data/migrations"
	"postsmith/app/internal/domain/content"
	"postsmith/app/internal/domain/pipeline"
	"postsmith/app/internal/domain/publish"
	"postsmith/app/internal/infrastructure/llm/openai"
	"postsmith/app/internal/infrastructure/xapi"
	"postsmith/app/internal/platform/config"
	presentationhttp "postsmith/app/internal/presentation/http"
)

type Dependencies struct {
	Config    config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type Result struct {
	Pipeline   pipeline.Service
	Scheduler  *scheduler.Scheduler
	HTTPServer *presentationhttp.Server
	Database   *gorm.DB
	Cleanup    func() error
}

// Build composes the posting bot layers and returns the constructed components.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	cfg := deps.Config

	contentCatalog, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return Result{}, eris.Wrap(err, "loading content catalog")
	}

	if len(cfg.LLMModels) == 0 {
		return Result{}, eris.New("LLM_MODELS must include at least one model name")
	}

	client, err := openai.NewClient(openai.ClientOptions{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMEndpoint,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "creating llm client")
	}

	textGenerator, err := openai.NewTextGenerator(openai.TextGeneratorOptions{
		Client:       client,
		Model:        cfg.LLMModels[0],
		Temperature:  cfg.LLMTemperature,
		MaxTokens:    cfg.LLMMaxTokens,
		SystemPrompt: cfg.LLMSystemPrompt,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "initialising text generator")
	}

	generator, err := content.NewGenerator(content.GeneratorOptions{
		Catalog:    contentCatalog,
		Client:     textGenerator,
		MaxLength:  cfg.PostMaxLength,
		MaxRetries: cfg.PostMaxRetries,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "creating content generator")
	}

	var publisher publish.Publisher
	if !cfg.DryRun {
		publisher, err = xapi.NewPublisher(xapi.Options{
			Credentials: xapi.Credentials{
				ConsumerKey:    cfg.XAPIKey,
				ConsumerSecret: cfg.XAPISecret,
				AccessToken:    cfg.XAccessToken,
				AccessSecret:   cfg.XAccessSecret,
			},
			Endpoint: cfg.XEndpoint,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Result{}, eris.Wrap(err, "creating publisher")
		}
	}

	// One connection serialises lease writes against the shared SQLite file.
	db, err := database.Open(database.Options{
		Path:         cfg.DBPath,
		Logger:       deps.Logger,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := database.Close(db); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithField("error", closeErr.Error()).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	if err := migrations.MigrateLeases(ctx, db, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "running lease migrations"))
	}

	locker, err := leasedata.NewRepository(db, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating lease repository"))
	}

	service, err := pipeline.NewService(pipeline.Options{
		Generator: generator,
		Publisher: publisher,
		Locker:    locker,
		LeaseTTL:  cfg.LeaseTTL,
		DryRun:    cfg.DryRun,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating pipeline service"))
	}

	var sched *scheduler.Scheduler
	if cfg.RunMode == config.RunModeSchedule {
		location, err := cfg.Location()
		if err != nil {
			return closeOnError(err)
		}

		sched, err = scheduler.New(scheduler.Options{
			Entries:  scheduleEntries(cfg.PostTimes, service, deps.Logger),
			Location: location,
			Logger:   deps.Logger,
		})
		if err != nil {
			return closeOnError(eris.Wrap(err, "creating scheduler"))
		}
	}

	serverOpts := presentationhttp.Options{
		Pipeline:   service,
		AdminToken: cfg.AdminToken,
		TrustProxy: cfg.TrustProxyHeaders,
		Database: func(ctx context.Context) error {
			return database.Ping(ctx, db)
		},
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		RateLimiter: presentationhttp.RateLimiterSettings{
			Burst:             cfg.RateLimitBurst,
			RequestsPerSecond: cfg.RateLimitRPS,
			ClientTTL:         cfg.RateLimitClientTTL,
		},
	}
	if sched != nil {
		serverOpts.Schedule = sched
	}

	httpServer, err := presentationhttp.NewServer(serverOpts)
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	cleanup := func() error {
		httpServer.Close()
		return database.Close(db)
	}

	return Result{
		Pipeline:   service,
		Scheduler:  sched,
		HTTPServer: httpServer,
		Database:   db,
		Cleanup:    cleanup,
	}, nil
}

// scheduleEntries runs the pipeline at each configured time. A run skipped because another
// one holds the lease is not treated as a failure.
func scheduleEntries(times []string, service pipeline.Service, logger *logrus.Logger) []scheduler.Entry {
	entries := make([]scheduler.Entry, 0, len(times))
	for _, at := range times {
		entries = append(entries, scheduler.Entry{
			At: at,
			Task: func(ctx context.Context) error {
				report, err := service.Run(ctx)
				if eris.Is(err, pipeline.ErrRunInProgress) {
					return nil
				}
				if err != nil {
					return err
				}
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"run_id":    report.RunID,
						"post_id":   string(report.PostID),
						"published": report.Published,
					}).Info("scheduled run complete")
				}
				return nil
			},
		})
	}
	return entries
}
