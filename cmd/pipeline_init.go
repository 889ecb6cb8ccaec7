package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/pipeline"
	"github.com/sells-group/leadify-flow/internal/resilience"
	"github.com/sells-group/leadify-flow/internal/store"
	anthropicpkg "github.com/sells-group/leadify-flow/pkg/anthropic"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// pipelineEnv holds the initialized store, clients, and the pipeline needed
// by the run and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Backend  backend.Client
	Fallback *fallback.Provider
	Guard    *resilience.Guard
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates c for mode, opens the store, and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, c *config.Config, mode string) (*pipelineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	provider, err := initFallback(c.Fallback)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}

	be := initBackend(c.Backend)
	guard := initGuard(c)

	var drafter pipeline.Drafter
	if c.Pipeline.Outreach.Drafter {
		drafter = anthropicpkg.NewDrafter(
			anthropicpkg.NewClient(c.Anthropic.Key),
			c.Anthropic.Model,
			int64(c.Anthropic.MaxTokens),
		)
		zap.L().Info("anthropic outreach drafter enabled", zap.String("model", c.Anthropic.Model))
	}

	return &pipelineEnv{
		Store:    st,
		Backend:  be,
		Fallback: provider,
		Guard:    guard,
		Pipeline: pipeline.New(c.Pipeline, st, be, provider, guard, drafter),
	}, nil
}

func initBackend(bc config.BackendConfig) backend.Client {
	opts := []backend.Option{backend.WithBaseURL(bc.BaseURL)}
	if bc.TimeoutSecs > 0 {
		opts = append(opts, backend.WithTimeout(time.Duration(bc.TimeoutSecs)*time.Second))
	}
	if bc.RateLimitRPS > 0 {
		opts = append(opts, backend.WithRateLimit(bc.RateLimitRPS))
	}
	return backend.NewClient(opts...)
}

func initGuard(c *config.Config) *resilience.Guard {
	circuit := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	circuit.ShouldTrip = pipeline.TripsBreaker
	return resilience.NewGuard(
		resilience.FromRetryConfig(
			c.Retry.MaxAttempts,
			c.Retry.InitialBackoffMs,
			c.Retry.MaxBackoffMs,
			c.Retry.Multiplier,
			c.Retry.JitterFraction,
		),
		circuit,
		time.Duration(c.Pipeline.StageTimeoutSecs)*time.Second,
	)
}

// initFallback loads the dataset and removes the disabled stages from the
// default policy.
func initFallback(fc config.FallbackConfig) (*fallback.Provider, error) {
	ds, err := fallback.Load(fc.Path)
	if err != nil {
		return nil, err
	}
	disabled, err := parseStages(fc.DisabledStages)
	if err != nil {
		return nil, eris.Wrap(err, "fallback.disabled_stages")
	}
	if len(disabled) > 0 {
		zap.L().Info("fallback disabled for stages", zap.Strings("stages", fc.DisabledStages))
	}
	return fallback.NewProvider(ds, disabled...), nil
}

func parseStages(names []string) ([]model.ProcessStage, error) {
	out := make([]model.ProcessStage, 0, len(names))
	for _, n := range names {
		s, err := model.ParseStage(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
