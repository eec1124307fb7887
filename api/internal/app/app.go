package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"baysafe/api/internal/agent"
	"baysafe/api/internal/agent/gemini"
	"baysafe/api/internal/agent/ollama"
	"baysafe/api/internal/analysis"
	"baysafe/api/internal/config"
	"baysafe/api/internal/detect"
	"baysafe/api/internal/runner"
	"baysafe/api/internal/safety"
	"baysafe/api/internal/session"
	"baysafe/api/internal/storage"
	"baysafe/api/internal/store"
)

const AppName = "baysafe"

// App holds the wired pipeline shared by the HTTP server and the bot.
type App struct {
	Config   *config.Config
	Analyzer *analysis.Analyzer
	DB       *sql.DB
	Cache    *store.DetectionRepo

	closers []func() error
	log     *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	if cfg.SimulationMode() {
		log.Warn(analysis.MsgSimulationOff)
		a.Analyzer = analysis.New(nil, nil, analysis.Options{Simulation: true}, log)
		return a, nil
	}

	objects, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.addCloser(objects)

	predictor, err := detect.NewVertex(ctx, cfg.VertexAPIEndpoint(), cfg.GCP.ProjectID, cfg.GCP.Location, cfg.Detector.EndpointID)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.addCloser(predictor)

	detector := detect.New(objects, predictor, detect.Options{
		Params: detect.Params{
			ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
			MaxPredictions:      cfg.Detector.MaxPredictions,
		},
		MinConfidence: cfg.Detector.MinConfidence,
		CacheMaxAge:   cfg.Detector.CacheMaxAge,
	}, log)

	if cfg.DB.DSN != "" {
		db, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.addCloser(db)
		if err := store.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Detection cache enabled", zap.String("db", store.SafeDSNSummary(cfg.DB.DSN)))
		a.DB = db
		a.Cache = store.NewDetectionRepo(db)
		detector.WithCache(a.Cache)
	}

	ag, err := newAgent(cfg.Agent, safety.AgentConfig(cfg.Agent.Model, cfg.Agent.MaxToolRounds, detector), log)
	if err != nil {
		a.Close()
		return nil, err
	}

	run := runner.New(AppName, ag, session.NewInMemoryService(), log)
	a.Analyzer = analysis.New(storage.NewUploader(objects, log), run, analysis.Options{
		Folder:      cfg.Storage.Folder,
		AttachImage: cfg.Agent.AttachImage,
	}, log)

	log.Info("Pipeline ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("endpoint", predictor.Endpoint()),
		zap.String("agent", cfg.Agent.Backend),
		zap.String("model", cfg.Agent.Model))
	return a, nil
}

func newAgent(cfg config.AgentConfig, ac agent.Config, log *zap.Logger) (agent.Agent, error) {
	backends := &agent.Backends{}
	switch cfg.Backend {
	case "gemini":
		backends.Gemini = gemini.New(cfg.GeminiAPIKey, ac, log)
	case "ollama":
		o, err := ollama.New(cfg.OllamaURL, ac, log)
		if err != nil {
			return nil, err
		}
		backends.Ollama = o
	}
	return backends.Get(cfg.Backend)
}

// RunJanitor purges stale cache rows every interval until ctx is done.
func (a *App) RunJanitor(ctx context.Context, interval time.Duration) {
	if a.Cache == nil || a.Config.Detector.CacheMaxAge <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.Cache.PurgeOlderThan(ctx, a.Config.Detector.CacheMaxAge)
			if err != nil {
				a.log.Warn("Cache purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.log.Info("Cache purged", zap.Int64("rows", n))
			}
		}
	}
}

func (a *App) addCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close: %w", errors.Join(errs...))
	}
	return nil
}
