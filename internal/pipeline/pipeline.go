package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/resilience"
	"github.com/sells-group/leadify-flow/internal/store"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// Search modes.
const (
	SearchBatch    = "batch"
	SearchPerQuery = "per_query"
)

// Drafter writes an outreach message when the backend cannot.
type Drafter interface {
	Draft(ctx context.Context, lead model.Lead, event model.EventData) (string, error)
}

// Pipeline runs the five backend stages in order and turns the ranked
// profiles into leads.
type Pipeline struct {
	cfg        config.PipelineConfig
	store      store.Store
	backend    backend.Client
	fallback   *fallback.Provider
	guard      *resilience.Guard
	drafter    Drafter
	normalizer Normalizer
}

// New creates a Pipeline. A nil guard gets default retry and breaker
// settings with the configured stage timeout. drafter may be nil.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	be backend.Client,
	fb *fallback.Provider,
	guard *resilience.Guard,
	drafter Drafter,
) *Pipeline {
	if guard == nil {
		circuit := resilience.DefaultCircuitBreakerConfig()
		circuit.ShouldTrip = TripsBreaker
		guard = resilience.NewGuard(
			resilience.DefaultRetryConfig(),
			circuit,
			time.Duration(cfg.StageTimeoutSecs)*time.Second,
		)
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		backend:    be,
		fallback:   fb,
		guard:      guard,
		drafter:    drafter,
		normalizer: Normalizer{Placeholder: cfg.PlaceholderImage},
	}
}

// Guard returns the resilience guard, whose breakers the server reports.
func (p *Pipeline) Guard() *resilience.Guard { return p.guard }

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID    string
	progress ProgressFunc
}

// WithProgress publishes every status change of the run to fn.
func WithProgress(fn ProgressFunc) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// WithRunID uses a run record that was already created with CreateRun.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// CreateRun persists a queued run for input without executing it.
func (p *Pipeline) CreateRun(ctx context.Context, input model.Input) (*model.Run, error) {
	run, err := p.store.CreateRun(ctx, input)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

// runner carries the state of one run between stages.
type runner struct {
	p        *Pipeline
	runID    string
	log      *zap.Logger
	result   *model.RunResult
	progress ProgressFunc
	fbInput  fallback.Input
}

// Run executes the pipeline for input. On success the result holds at least
// one lead whenever the ranking fallback is enabled. When a stage fails with
// no fallback, Run returns the partial result and a *StageError.
func (p *Pipeline) Run(ctx context.Context, input model.Input, opts ...RunOption) (*model.RunResult, error) {
	var ro runOptions
	for _, o := range opts {
		o(&ro)
	}

	input.Goals.NormalizeIntent()

	runID := ro.runID
	if runID == "" {
		run, err := p.CreateRun(ctx, input)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	log := zap.L().With(zap.String("run_id", runID), zap.String("event", input.Event.Name))
	log.Info("pipeline: starting run")

	if err := input.Audience.Validate(); err != nil {
		log.Warn("pipeline: audience looks incomplete", zap.Error(err))
	}

	r := &runner{
		p:        p,
		runID:    runID,
		log:      log,
		result:   &model.RunResult{RunID: runID, Leads: model.EmptyLeads(), Queries: []string{}},
		progress: ro.progress,
		fbInput:  fallback.Input{Event: input.Event},
	}

	if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		log.Warn("pipeline: failed to update status", zap.Error(err))
	}

	leads, err := r.execute(ctx, input)
	if err != nil {
		log.Error("pipeline: run failed", zap.Error(err))
		if failErr := p.store.FailRun(context.WithoutCancel(ctx), runID, r.result, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to persist failed run", zap.Error(failErr))
		}
		return r.result, err
	}

	r.result.Leads = Classify(leads, input.Goals)
	r.publish(model.ProcessStatus{Stage: model.StageCompleted, Progress: 100})

	if err := p.store.CompleteRun(ctx, runID, r.result); err != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(err))
	}

	log.Info("pipeline: run complete",
		zap.Int("speakers", len(r.result.Leads.Speakers)),
		zap.Int("sponsors", len(r.result.Leads.Sponsors)),
		zap.Bool("used_fallback", r.result.UsedFallback),
		zap.Strings("fallback_stages", stageNames(r.result.FallbackStages)),
	)
	return r.result, nil
}

func (r *runner) execute(ctx context.Context, input model.Input) ([]model.Lead, error) {
	p := r.p
	event := input.Event

	// Keyword extraction.
	keywords, err := runStage(ctx, r, model.StageKeywordExtraction,
		validated(
			guarded(p.guard, model.StageKeywordExtraction, func(ctx context.Context) (json.RawMessage, error) {
				return p.backend.ExtractKeywords(ctx, event)
			}),
			func(kw json.RawMessage) (json.RawMessage, error) {
				if isEmptyJSON(kw) {
					return nil, ErrEmptyResult
				}
				return kw, nil
			},
		),
		func(out fallback.Output) json.RawMessage { return out.Keywords },
		func(kw json.RawMessage) map[string]any { return map[string]any{"bytes": len(kw)} },
	)
	if err != nil {
		return nil, err
	}
	r.result.Keywords = keywords
	r.fbInput.Keywords = keywords

	// Query generation.
	queries, err := runStage(ctx, r, model.StageQueryGeneration,
		validated(
			guarded(p.guard, model.StageQueryGeneration, func(ctx context.Context) ([]string, error) {
				return p.backend.GenerateQueries(ctx, event, keywords)
			}),
			func(qs []string) ([]string, error) {
				if len(qs) == 0 {
					return nil, ErrEmptyResult
				}
				return qs, nil
			},
		),
		func(out fallback.Output) []string { return out.Queries },
		func(qs []string) map[string]any { return map[string]any{"queries": len(qs)} },
	)
	if err != nil {
		return nil, err
	}
	if queries == nil {
		queries = []string{}
	}
	r.result.Queries = queries
	r.fbInput.Queries = queries

	// Profile search.
	search := guarded(p.guard, model.StageProfileSearch, func(ctx context.Context) ([]json.RawMessage, error) {
		return p.backend.SearchProfiles(ctx, queries)
	})
	if p.cfg.SearchMode == SearchPerQuery {
		search = r.searchPerQuery(queries)
	}
	profiles, err := runStage(ctx, r, model.StageProfileSearch, search,
		func(out fallback.Output) []json.RawMessage { return out.Profiles },
		func(ps []json.RawMessage) map[string]any {
			return map[string]any{"profiles": len(ps), "mode": p.searchMode()}
		},
	)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []json.RawMessage{}
	}
	r.result.ProfilesFound = len(profiles)

	// Ranking.
	ranked, err := runStage(ctx, r, model.StageProfileRanking,
		validated(
			guarded(p.guard, model.StageProfileRanking, func(ctx context.Context) ([]byte, error) {
				return p.backend.RankProfiles(ctx, profiles, event)
			}),
			ParseRanked,
		),
		func(out fallback.Output) []model.RankedProfile { return out.Ranked },
		func(rs []model.RankedProfile) map[string]any { return map[string]any{"ranked": len(rs)} },
	)
	if err != nil {
		return nil, err
	}

	leads := make([]model.Lead, len(ranked))
	for i, rp := range ranked {
		nr := p.normalizer.Normalize(rp)
		if len(nr.Missing) > 0 {
			r.log.Debug("pipeline: lead fields defaulted",
				zap.String("name", nr.Lead.Name),
				zap.Strings("missing", nr.Missing),
			)
		}
		leads[i] = nr.Lead
	}

	// Outreach.
	if err := r.outreach(ctx, event, ranked, leads); err != nil {
		return nil, err
	}
	return leads, nil
}

func (p *Pipeline) searchMode() string {
	if p.cfg.SearchMode == "" {
		return SearchBatch
	}
	return p.cfg.SearchMode
}

// searchPerQuery searches one query at a time, reporting progress after each.
// Queries that fail are skipped; the stage fails only when all of them do.
func (r *runner) searchPerQuery(queries []string) stageExec[[]json.RawMessage] {
	return func(ctx context.Context) ([]json.RawMessage, int, error) {
		var (
			profiles []json.RawMessage
			attempts int
			lastErr  error
			okCount  int
		)
		for i, q := range queries {
			found, n, err := resilience.Call(ctx, r.p.guard, string(model.StageProfileSearch),
				func(ctx context.Context) ([]json.RawMessage, error) {
					return r.p.backend.SearchProfiles(ctx, []string{q})
				})
			attempts += n
			if err != nil {
				lastErr = err
				r.log.Warn("pipeline: query search failed", zap.String("query", q), zap.Error(err))
				if ctx.Err() != nil {
					return nil, attempts, err
				}
			} else {
				okCount++
				profiles = append(profiles, found...)
			}
			r.publish(model.ProcessStatus{Stage: model.StageProfileSearch, Progress: partial(i+1, len(queries))})
		}
		if okCount == 0 && lastErr != nil {
			return nil, attempts, lastErr
		}
		return profiles, max(attempts, 1), nil
	}
}

// outreach fills draft messages for the top leads. When the stage is
// disabled the drafts stay as the ranking explanations.
func (r *runner) outreach(ctx context.Context, event model.EventData, ranked []model.RankedProfile, leads []model.Lead) error {
	p := r.p
	stage := model.StageOutreachGeneration

	if !p.cfg.Outreach.Enabled {
		r.publish(model.ProcessStatus{Stage: stage, Progress: 0})
		r.record(ctx, model.StageResult{
			Stage:    stage,
			Outcome:  model.OutcomeSkipped,
			Metadata: map[string]any{"reason": "disabled"},
		})
		r.publish(model.ProcessStatus{Stage: stage, Progress: 100})
		return nil
	}

	topN := min(max(p.cfg.Outreach.TopN, 0), len(leads))
	_, err := runStage(ctx, r, stage,
		func(ctx context.Context) (int, int, error) {
			attempts, fellBack := 0, 0
			for i := range topN {
				lead := &leads[i]
				profile, _ := json.Marshal(ranked[i].Profile)
				msg, n, err := resilience.Call(ctx, p.guard, string(stage), func(ctx context.Context) (string, error) {
					return p.backend.GenerateOutreach(ctx, backend.OutreachRequest{
						Profile:     profile,
						Event:       event,
						Explanation: lead.Explanation,
					})
				})
				attempts += n
				if err != nil {
					if ctx.Err() != nil {
						return 0, attempts, err
					}
					msg, err = r.draftFallback(ctx, *lead, event, err)
					if err != nil {
						return 0, attempts, err
					}
					fellBack++
				}
				if msg != "" {
					lead.DraftMessage = msg
				}
				r.publish(model.ProcessStatus{Stage: stage, Progress: partial(i+1, topN)})
			}
			if fellBack > 0 {
				r.markFallback(stage, fmt.Sprintf("%d of %d drafts written without the backend", fellBack, topN))
			}
			return topN, max(attempts, 1), nil
		},
		nil,
		func(n int) map[string]any { return map[string]any{"drafted": n} },
	)
	return err
}

// draftFallback writes a draft after the backend outreach call failed: the
// Anthropic drafter first, then the fallback policy.
func (r *runner) draftFallback(ctx context.Context, lead model.Lead, event model.EventData, cause error) (string, error) {
	stage := model.StageOutreachGeneration
	if r.p.drafter != nil {
		msg, err := r.p.drafter.Draft(ctx, lead, event)
		if err == nil {
			return msg, nil
		}
		r.log.Warn("pipeline: drafter failed", zap.String("name", lead.Name), zap.Error(err))
	}

	prod, ok := r.lookup(stage)
	if !ok {
		return "", &StageError{Stage: stage, Err: cause}
	}
	in := r.fbInput
	in.Explanation = lead.Explanation
	out, err := prod(in)
	if err != nil {
		return "", &StageError{Stage: stage, Err: err}
	}
	return out.Message, nil
}

// stageExec runs a stage's work and reports how many calls it made.
type stageExec[T any] func(ctx context.Context) (T, int, error)

// guarded wraps fn with the stage's timeout, retries and breaker.
func guarded[T any](g *resilience.Guard, stage model.ProcessStage, fn func(ctx context.Context) (T, error)) stageExec[T] {
	return func(ctx context.Context) (T, int, error) {
		return resilience.Call(ctx, g, string(stage), fn)
	}
}

// validated applies check to a successful result of exec. Check errors fail
// the stage without reaching the breaker or the retry loop.
func validated[R, T any](exec stageExec[R], check func(R) (T, error)) stageExec[T] {
	return func(ctx context.Context) (T, int, error) {
		raw, n, err := exec(ctx)
		if err != nil {
			var zero T
			return zero, n, err
		}
		v, err := check(raw)
		return v, n, err
	}
}

// runStage publishes the stage's start and end, runs exec, substitutes the
// fallback producer's output on failure, and records the outcome. A nil
// substitute means exec handles its own fallback.
func runStage[T any](
	ctx context.Context,
	r *runner,
	stage model.ProcessStage,
	exec stageExec[T],
	substitute func(fallback.Output) T,
	describe func(T) map[string]any,
) (T, error) {
	r.publish(model.ProcessStatus{Stage: stage, Progress: 0})

	rec, recErr := r.p.store.CreateStage(ctx, r.runID, stage)
	if recErr != nil {
		r.log.Warn("pipeline: failed to create stage", zap.String("stage", string(stage)), zap.Error(recErr))
	}

	start := time.Now()
	val, attempts, err := exec(ctx)
	sr := model.StageResult{Stage: stage, Outcome: model.OutcomeOK, Attempts: attempts}

	if err != nil {
		cause := err
		sr.Error = cause.Error()
		var recovered bool
		val, recovered, err = substituteFallback(ctx, r, stage, cause, substitute)
		if recovered {
			sr.Outcome = model.OutcomeFallback
			if stage == model.StageProfileRanking {
				sr.Metadata = map[string]any{"trigger": string(rankingTrigger(cause))}
			}
		} else {
			sr.Outcome = model.OutcomeFailed
		}
	} else if r.usedFallback(stage) {
		sr.Outcome = model.OutcomeFallback
	}
	sr.Duration = time.Since(start).Milliseconds()

	if err != nil {
		r.complete(ctx, rec, sr)
		var zero T
		return zero, err
	}

	if describe != nil {
		meta := describe(val)
		for k, v := range sr.Metadata {
			meta[k] = v
		}
		sr.Metadata = meta
	}
	r.complete(ctx, rec, sr)
	r.publish(model.ProcessStatus{Stage: stage, Progress: 100})
	return val, nil
}

// substituteFallback replaces a failed stage's output with the fallback
// producer's. It reports whether the stage was recovered; if not, the
// returned error is a *StageError.
func substituteFallback[T any](
	ctx context.Context,
	r *runner,
	stage model.ProcessStage,
	cause error,
	substitute func(fallback.Output) T,
) (T, bool, error) {
	var zero T

	var se *StageError
	if errors.As(cause, &se) {
		return zero, false, se
	}
	if substitute == nil || ctx.Err() != nil {
		return zero, false, &StageError{Stage: stage, Err: cause}
	}

	prod, ok := r.lookup(stage)
	if !ok {
		return zero, false, &StageError{Stage: stage, Err: cause}
	}
	out, err := prod(r.fbInput)
	if err != nil {
		return zero, false, &StageError{Stage: stage, Err: eris.Wrap(err, "pipeline: fallback producer")}
	}

	reason := string(rankingTrigger(cause))
	if stage != model.StageProfileRanking {
		reason = describeFailure(cause)
	}
	r.log.Warn("pipeline: stage fell back to sample data",
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	r.markFallback(stage, reason)
	return substitute(out), true, nil
}

func (r *runner) lookup(stage model.ProcessStage) (fallback.Producer, bool) {
	if r.p.fallback == nil {
		return nil, false
	}
	return r.p.fallback.Lookup(stage)
}

// markFallback flags the result as partly sample data.
func (r *runner) markFallback(stage model.ProcessStage, reason string) {
	r.result.UsedFallback = true
	if !r.usedFallback(stage) {
		r.result.FallbackStages = append(r.result.FallbackStages, stage)
	}
	r.result.Notices = append(r.result.Notices, fmt.Sprintf("%s used sample data (%s)", stage, reason))
}

func (r *runner) usedFallback(stage model.ProcessStage) bool {
	return slices.Contains(r.result.FallbackStages, stage)
}

func (r *runner) publish(ps model.ProcessStatus) {
	if r.progress != nil {
		r.progress(ps)
	}
	if err := r.p.store.UpdateRunProcess(context.Background(), r.runID, ps); err != nil {
		r.log.Warn("pipeline: failed to update process", zap.Error(err))
	}
}

// record persists a stage that did no work.
func (r *runner) record(ctx context.Context, sr model.StageResult) {
	rec, err := r.p.store.CreateStage(ctx, r.runID, sr.Stage)
	if err != nil {
		r.log.Warn("pipeline: failed to create stage", zap.String("stage", string(sr.Stage)), zap.Error(err))
	}
	r.complete(ctx, rec, sr)
}

func (r *runner) complete(ctx context.Context, rec *model.RunStage, sr model.StageResult) {
	fields := []zap.Field{
		zap.String("stage", string(sr.Stage)),
		zap.String("outcome", string(sr.Outcome)),
		zap.Int("attempts", sr.Attempts),
		zap.Int64("duration_ms", sr.Duration),
	}
	switch sr.Outcome {
	case model.OutcomeFailed:
		r.log.Error("pipeline: stage failed", append(fields, zap.String("error", sr.Error))...)
	default:
		r.log.Info("pipeline: stage complete", fields...)
	}

	if rec != nil {
		if err := r.p.store.CompleteStage(context.WithoutCancel(ctx), rec.ID, &sr); err != nil {
			r.log.Warn("pipeline: failed to complete stage", zap.String("stage", string(sr.Stage)), zap.Error(err))
		}
	}
	r.result.Stages = append(r.result.Stages, sr)
}

func describeFailure(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit open"
	case resilience.IsTimeout(err):
		return "timeout"
	case errors.Is(err, ErrEmptyResult):
		return "empty result"
	case errors.Is(err, backend.ErrMalformedResponse):
		return "malformed response"
	default:
		return "call failed"
	}
}

// partial maps done of total onto 1..99 so that 100 stays reserved for the
// stage's end.
func partial(done, total int) int {
	if total <= 0 {
		return 0
	}
	return max(1, min(99, done*100/total))
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func stageNames(stages []model.ProcessStage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
