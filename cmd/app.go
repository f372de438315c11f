package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/ai"
	"github.com/spigell/job-autopilot/internal/ai/gemini"
	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/automation"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/filtering"
	"github.com/spigell/job-autopilot/internal/headhunter"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/metrics"
	"github.com/spigell/job-autopilot/internal/secrets"
	"github.com/spigell/job-autopilot/internal/service"
	"github.com/spigell/job-autopilot/internal/storage"
)

// store is everything the commands need from a storage backend.
type store interface {
	service.Store
	application.Store
	SaveJobs(ctx context.Context, jobs []catalog.JobListing) error
	Close()
}

// runtime holds the wired components of one command invocation.
type runtime struct {
	config       *Config
	logger       *zap.Logger
	store        store
	hh           *headhunter.Client
	orchestrator *application.Orchestrator
	service      *service.Service
	metrics      *metrics.Recorder
	closers      []func()
}

// setup builds the logger and the config, the way every command starts.
func setup() (*Config, *zap.Logger) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), zap.String("app", app))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return config, logger
}

// build wires storage, catalog, evaluation, automation and the orchestrator into a service.
func build(ctx context.Context, config *Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{
		config:  config,
		logger:  log,
		metrics: metrics.NewRecorder(),
	}

	st, err := openStore(ctx, config.Storage, log)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	provider, err := rt.catalogProvider(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	jobs := catalog.New(provider, log.Named("catalog"))

	evaluator, err := evaluation.New(log.Named("evaluation"),
		evaluation.WithWeights(config.Evaluation.Weights),
		evaluation.WithMinScore(config.Evaluation.MinScore),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("evaluator: %w", err)
	}

	automator, err := rt.automator(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("automator: %w", err)
	}

	rt.orchestrator, err = application.New(config.Orchestrator, automator, st, jobs,
		application.WithLogger(log.Named("orchestrator")),
		application.WithStore(st),
		application.WithRecorder(rt.metrics),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	rt.service = service.New(st, jobs, evaluator, rt.orchestrator,
		service.WithLogger(log.Named("service")),
		service.WithFilters(rt.filters()...),
	)

	if err := rt.service.RefreshCatalog(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	// Attempts and tickets are only read here. Taking over stale claims is left
	// to the workers, so listing commands never write.
	if err := rt.orchestrator.Load(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

// Close releases every resource in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
	_ = rt.logger.Sync()
}

func openStore(ctx context.Context, cfg StorageConfig, log *zap.Logger) (store, error) {
	switch cfg.Driver {
	case "", "memory":
		log.Debug("using in-memory storage")
		return storage.NewMemory(), nil
	case "postgres":
		dsn, err := secrets.Load(secrets.Source{
			Name:  "database url",
			Value: cfg.DSN,
			File:  cfg.DSNFile,
			Env:   "DATABASE_URL",
		})
		if err != nil {
			return nil, err
		}

		db, err := storage.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}

		log.Info("connected to postgres")
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// headhunter returns the shared hh.ru client, creating it on first use.
func (rt *runtime) headhunter(tokenFile string) (*headhunter.Client, error) {
	if rt.hh != nil {
		return rt.hh, nil
	}

	token, err := secrets.Load(secrets.Source{
		Name: "headhunter token",
		File: tokenFile,
		Env:  "HH_TOKEN",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set catalog.token-file or HH_TOKEN)", err)
	}

	rt.hh = headhunter.New(rt.logger.Named("headhunter"), token)
	if rt.config.UserAgent != "" {
		rt.hh.UserAgent = rt.config.UserAgent
	}
	return rt.hh, nil
}

// catalogProvider picks the listing source. A static catalog reads the file once
// and keeps serving that snapshot on every refresh.
func (rt *runtime) catalogProvider(ctx context.Context) (catalog.Provider, error) {
	cfg := rt.config.Catalog

	switch cfg.Source {
	case "", "file":
		return catalog.FileProvider{Path: cfg.File}, nil
	case "static":
		jobs, err := catalog.FileProvider{Path: cfg.File}.Load(ctx)
		if err != nil {
			return nil, err
		}
		return catalog.StaticProvider(jobs), nil
	case "headhunter":
		client, err := rt.headhunter(cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		return catalog.HeadhunterProvider{Client: client, Params: cfg.Search}, nil
	default:
		return nil, fmt.Errorf("unsupported catalog source: %s", cfg.Source)
	}
}

func (rt *runtime) automator(ctx context.Context) (application.Automator, error) {
	cfg := rt.config.Automation

	switch cfg.Driver {
	case "", "browser":
		browser := automation.NewBrowser(ctx, automation.BrowserConfig{
			Headless:       cfg.Headless,
			SubmitSelector: cfg.SubmitSelector,
			SettleDelay:    cfg.SettleDelay,
		}, rt.logger.Named("browser"))
		rt.closers = append(rt.closers, browser.Close)
		return browser, nil
	case "headhunter":
		tokenFile := cfg.TokenFile
		if tokenFile == "" {
			tokenFile = rt.config.Catalog.TokenFile
		}
		client, err := rt.headhunter(tokenFile)
		if err != nil {
			return nil, err
		}

		writer, err := rt.letterWriter(ctx)
		if err != nil {
			rt.logger.Warn("skipping ai cover letters", zap.Error(err))
		}
		return automation.NewHeadhunter(client, cfg.ResumeID, cfg.Message, writer, rt.logger.Named("headhunter")), nil
	case "scripted":
		rt.logger.Warn("scripted automator submits nothing, every attempt succeeds")
		return automation.NewScripted(application.Success()), nil
	default:
		return nil, fmt.Errorf("unsupported automation driver: %s", cfg.Driver)
	}
}

// letterWriter returns nil when AI is disabled.
func (rt *runtime) letterWriter(ctx context.Context) (ai.Writer, error) {
	cfg := rt.config.AI
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	gcfg := cfg.Gemini
	if gcfg == nil {
		gcfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: gcfg.APIKey,
		File:  gcfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	log := rt.logger.Named("ai").With(zap.Int("ai_retry_attempts", gcfg.MaxRetries))

	generator, err := gemini.NewGenerator(ctx, apiKey, gcfg.Model, gcfg.MaxRetries, log)
	if err != nil {
		return nil, err
	}

	return gemini.NewCoverLetterWriter(generator, log, gcfg.MaxLogLength), nil
}

// filters builds the pre-evaluation pipeline from the config.
func (rt *runtime) filters() []filtering.Filter {
	cfg := rt.config.Evaluation

	steps := []filtering.Filter{
		filtering.NewAppliedHistory(rt.orchestrator, viper.GetBool("do-not-exclude-applied")),
	}
	if len(cfg.Exclude.Companies) > 0 {
		steps = append(steps, filtering.NewExcludedCompanies(cfg.Exclude.Companies))
	}
	if cfg.Exclude.File != "" {
		steps = append(steps, filtering.NewExcludeFile(cfg.Exclude.File))
	}

	for _, status := range filtering.Describe(steps) {
		rt.logger.Debug("filter enabled", zap.String("name", status.Name), zap.Any("details", status.Details))
	}
	return steps
}

// user returns the user the command acts for.
func (rt *runtime) user(flag string) string {
	if user := strings.TrimSpace(flag); user != "" {
		return user
	}
	if rt.config.Apply != nil {
		return strings.TrimSpace(rt.config.Apply.User)
	}
	return ""
}

// startWorkers runs the worker pool until the returned stop function is called.
func (rt *runtime) startWorkers(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := rt.orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Error("workers stopped", zap.Error(err))
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// describeError adds a hint for the error kinds a user can fix.
func describeError(err error) zap.Field {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return zap.String("hint", "check the user and job ids, or ingest a profile first")
	case errors.Is(err, errs.ErrInvalidArgument):
		return zap.String("hint", "check the command arguments")
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrAlreadyResolved):
		return zap.String("hint", "inspect the current state with the attempts and backlog commands")
	default:
		return zap.Skip()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
