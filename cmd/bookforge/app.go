package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/bookforge/internal/analysis"
	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/composer"
	"github.com/kalambet/bookforge/internal/config"
	"github.com/kalambet/bookforge/internal/engine"
	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
	"github.com/kalambet/bookforge/internal/retrieval"
	"github.com/kalambet/bookforge/internal/scraper"
	"github.com/kalambet/bookforge/internal/speech"
	"github.com/kalambet/bookforge/internal/storage"
)

// app holds the collaborators of a serving process.
type app struct {
	cfg      config.Config
	engine   *engine.OllamaEngine
	store    *storage.Store
	learner  *learning.Store
	index    *retrieval.Index
	archive  *archive.Writer
	pipeline *pipeline.Orchestrator
	speech   *speech.Task
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// newGenerator picks the generation backend named by generation.provider.
func newGenerator(cfg config.Config, eng engine.Engine) (generation.Generator, error) {
	switch cfg.Generation.Provider {
	case config.ProviderOpenRouter, "":
		return generation.NewOpenRouter(cfg.Generation.OpenRouterAPIKey, cfg.Generation.Model, cfg.Generation.Timeout), nil
	case config.ProviderOllama:
		return generation.NewLocal(eng, cfg.Ollama.ChatModel, cfg.Generation.Timeout), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
}

func profilesFromConfig(cfg config.Config) generation.Profiles {
	g := cfg.Generation
	return generation.Profiles{
		Writer:   generation.Options{MaxOutputTokens: g.MaxOutputTokens, Temperature: g.WriterTemperature},
		Reviewer: generation.Options{MaxOutputTokens: g.MaxOutputTokens, Temperature: g.ReviewerTemperature},
	}
}

func newScraper(cfg config.Config) *scraper.Scraper {
	opts := scraper.Options{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.Scraper.Timeout,
		Format:    scraper.Format(cfg.Scraper.Format),
		OutputDir: cfg.Storage.DataDir,
	}
	if cfg.Scraper.BrowserFallback {
		opts.Renderer = &scraper.RodRenderer{Timeout: cfg.Scraper.Timeout}
	}
	return scraper.New(opts)
}

func newSpeechTask(cfg config.Config) *speech.Task {
	return speech.NewTask(speech.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Rate))
}

// openApp opens storage and the learning state and wires the pipeline.
// Callers must Close the returned app.
func openApp(cfg config.Config) (*app, error) {
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)

	gen, err := newGenerator(cfg, eng)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	learner, err := learning.Open(cfg.StatePath(learning.StateFileName))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening learning state: %w", err)
	}

	index := retrieval.NewIndex(
		retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel),
		retrieval.NewSQLiteStore(store.DB()),
	)
	writer := archive.NewWriter(cfg.Storage.DataDir)

	orch := pipeline.New(pipeline.Deps{
		Scraper:    newScraper(cfg),
		Generator:  gen,
		Learner:    learner,
		Store:      store,
		Archive:    writer,
		References: index,
		Analyzer:   analysis.New(eng, cfg.Ollama.ChatModel),
		Composer:   composer.New(0),
		Profiles:   profilesFromConfig(cfg),
		StageDelay: cfg.Generation.StageDelay,
	})

	return &app{
		cfg:      cfg,
		engine:   eng,
		store:    store,
		learner:  learner,
		index:    index,
		archive:  writer,
		pipeline: orch,
		speech:   newSpeechTask(cfg),
	}, nil
}

func (a *app) Close() error {
	a.speech.Stop()
	return a.store.Close()
}

func speakerAvailable(cfg config.Config) bool {
	return speech.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Rate).Available() == nil
}
