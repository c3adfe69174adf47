package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joelkehle/idea-sonar/internal/cache"
	"github.com/joelkehle/idea-sonar/internal/config"
	"github.com/joelkehle/idea-sonar/internal/embedding"
	"github.com/joelkehle/idea-sonar/internal/fetch"
	"github.com/joelkehle/idea-sonar/internal/httpapi"
	"github.com/joelkehle/idea-sonar/internal/keywords"
	"github.com/joelkehle/idea-sonar/internal/policy"
	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
	"github.com/joelkehle/idea-sonar/internal/telemetry"
)

type app struct {
	pipeline *priorartsearch.Pipeline
	memo     cache.Memoizer
	health   httpapi.Health
	shutdown telemetry.ShutdownFunc
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, err
	}

	// Open logs and falls back to pass-through on its own.
	memo, _ := cache.Open(cache.Config{Backend: cfg.Cache.Backend, Path: cfg.Cache.Path})
	client := fetch.NewClient(fetch.Config{})

	deps := priorartsearch.Deps{Cache: memo}
	if cfg.WebEnabled() {
		web, err := priorartsearch.NewWebSearcher(priorartsearch.WebConfig{
			APIKey:   cfg.Web.APIKey,
			EngineID: cfg.Web.EngineID,
			BaseURL:  cfg.Web.BaseURL,
			Results:  cfg.Web.Results,
		}, client, memo)
		if err != nil {
			return nil, err
		}
		deps.Web = web
	} else {
		log.Printf("idea-sonar web search disabled: GOOGLE_SEARCH_API_KEY or SEARCH_ENGINE_ID missing")
	}
	if cfg.PatentEnabled() {
		extractor := keywords.NewExtractor(keywords.ProseTagger{}, cfg.Patent.MaxKeywords)
		patent, err := priorartsearch.NewPatentSearcher(priorartsearch.PatentConfig{
			APIKey:       cfg.Patent.APIKey,
			AdvancedURL:  cfg.Patent.AdvancedURL,
			WordURL:      cfg.Patent.WordURL,
			AdvancedRows: cfg.Patent.AdvancedRows,
			WordRows:     cfg.Patent.WordRows,
		}, client, extractor, memo)
		if err != nil {
			return nil, err
		}
		deps.Patent = patent
	} else {
		log.Printf("idea-sonar patent search disabled: KIPRIS_API_KEY missing")
	}

	embedder, err := embedding.New(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	deps.Embedder = embedder

	if cfg.VerificationEnabled() {
		caller, err := priorartsearch.NewAnthropicCaller(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		deps.Judge = priorartsearch.NewLLMJudge(caller)
	} else {
		log.Printf("idea-sonar verification disabled: ANTHROPIC_API_KEY missing; matches will be marked Skipped")
	}

	table := policy.Default()
	if cfg.Policy.File != "" {
		if table, err = policy.Load(cfg.Policy.File); err != nil {
			return nil, err
		}
	}
	deps.Policy = table.Evaluate

	pipeline := priorartsearch.NewPipeline(deps, priorartsearch.PipelineConfig{
		RelevanceThreshold: cfg.Analysis.RelevanceThreshold,
		Verify:             cfg.VerifyConfig(),
	})
	if err := pipeline.ValidateConfig(); err != nil {
		return nil, err
	}

	return &app{
		pipeline: pipeline,
		memo:     memo,
		shutdown: shutdown,
		health: httpapi.Health{
			Version:      version,
			WebSearch:    deps.Web != nil,
			PatentSearch: deps.Patent != nil,
			Verification: deps.Judge != nil,
			Cache:        memo.Enabled(),
		},
	}, nil
}

// startJanitor schedules expired-entry cleanup when a real store backs the
// cache. The returned stop func is always safe to call.
func (a *app) startJanitor(spec string) func() {
	store, ok := cache.StoreOf(a.memo)
	if !ok {
		return func() {}
	}
	j, err := cache.NewJanitor(store, spec)
	if err != nil {
		log.Printf("idea-sonar cache janitor disabled spec=%q err=%v", spec, err)
		return func() {}
	}
	j.Start()
	return j.Stop
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		log.Printf("idea-sonar telemetry shutdown err=%v", err)
	}
	if err := a.memo.Close(); err != nil {
		log.Printf("idea-sonar cache close err=%v", err)
	}
}
