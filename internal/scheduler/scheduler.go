// Package scheduler executes one stage of a job over all of its scenes in
// ordered batches, with caching, retries and per-scene failure isolation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"scenepipe/internal/cache"
	"scenepipe/internal/logger"
	"scenepipe/internal/media"
	"scenepipe/internal/observability"
	"scenepipe/internal/provider"
)

// StageConfig tunes how one stage runs.
type StageConfig struct {
	Stage      media.Stage
	Model      string
	BatchSize  int
	MaxRetries int
	// RetryBase is the delay before the first retry; it doubles for each
	// further retry and is capped by MaxBackoff when that is positive.
	RetryBase       time.Duration
	MaxBackoff      time.Duration
	InterBatchDelay time.Duration
	// CallTimeout bounds a single provider call. Zero means no bound.
	CallTimeout   time.Duration
	EnableCaching bool
	Image         media.ImageDefaults
}

// StageJob is everything RunStage needs to execute one stage of one job.
type StageJob struct {
	JobID    string
	Scenes   []media.Scene
	Config   StageConfig
	Provider provider.Generator
	// Cache may be nil, which disables caching regardless of EnableCaching.
	Cache *cache.Cache
	// Limiter, if set, gates every provider call of the stage.
	Limiter  *rate.Limiter
	Progress chan<- media.GenerationProgress
	Counters *media.CacheCounters
}

// Pricer supplies a list price for providers that do not report cost.
type Pricer interface {
	Price(req media.Request) float64
}

// Scheduler runs stages. It holds no per-job state and is safe for concurrent use.
type Scheduler struct {
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
	pricer  Pricer
	tracer  trace.Tracer

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a scheduler. metrics and pricer may be nil.
func New(l *slog.Logger, metrics *observability.PipelineMetrics, pricer Pricer) *Scheduler {
	if l == nil {
		l = slog.Default()
	}
	return &Scheduler{
		logger:  l,
		metrics: metrics,
		pricer:  pricer,
		tracer:  otel.Tracer("scenepipe/scheduler"),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// RunStage generates one asset per scene and returns them in scene order.
//
// Batches run strictly one after another, scenes inside a batch run
// concurrently. A scene that cannot be generated yields an error asset; it
// never stops its siblings or later batches. A progress event is emitted after
// every batch, and one per scene that ends in error.
func (s *Scheduler) RunStage(ctx context.Context, job StageJob) []media.GeneratedAsset {
	cfg := job.Config
	total := len(job.Scenes)
	assets := make([]media.GeneratedAsset, total)

	log := logger.FromContext(ctx, s.logger).With("stage", string(cfg.Stage))

	if total == 0 {
		s.emit(ctx, job, media.GenerationProgress{
			Stage:   cfg.Stage,
			Percent: 100,
			Message: fmt.Sprintf("%s: no scenes", cfg.Stage),
		})
		return assets
	}

	size := cfg.BatchSize
	if size <= 0 || size > total {
		size = total
	}
	batches := (total + size - 1) / size

	done := 0
	for b := 0; b < batches; b++ {
		start := b * size
		end := min(start+size, total)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assets[i] = s.runScene(ctx, job, job.Scenes[i])
			}(i)
		}
		wg.Wait()

		done = end
		percent := float64(done) * 100 / float64(total)

		for i := start; i < end; i++ {
			if a := assets[i]; a.Status == media.AssetError {
				s.emit(ctx, job, media.GenerationProgress{
					Stage:   cfg.Stage,
					SceneID: a.SceneID,
					Percent: percent,
					Message: fmt.Sprintf("%s: scene %s failed: %s", cfg.Stage, a.SceneID, a.ErrorMessage),
				})
			}
		}
		s.emit(ctx, job, media.GenerationProgress{
			Stage:   cfg.Stage,
			Percent: percent,
			Message: fmt.Sprintf("%s: batch %d/%d complete (%d/%d scenes)", cfg.Stage, b+1, batches, done, total),
		})
		log.Debug("batch complete", "batch", b+1, "batches", batches, "done", done, "total", total)

		if b < batches-1 && cfg.InterBatchDelay > 0 {
			if err := s.sleep(ctx, cfg.InterBatchDelay); err != nil {
				log.Warn("inter-batch delay interrupted", "error", err)
			}
		}
	}

	return assets
}

// runScene produces the terminal asset of one scene. It never panics.
func (s *Scheduler) runScene(ctx context.Context, job StageJob, scene media.Scene) (asset media.GeneratedAsset) {
	cfg := job.Config

	ctx, span := s.tracer.Start(ctx, "scheduler.scene", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("scene.id", scene.ID),
		attribute.String("stage", string(cfg.Stage)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			asset = media.Failed(scene.ID, cfg.Stage, fmt.Sprintf("panic during generation: %v", r))
		}
		if asset.Status == media.AssetError {
			span.SetStatus(codes.Error, asset.ErrorMessage)
		}
		span.SetAttributes(attribute.Bool("cached", asset.Cached), attribute.Int("attempts", asset.Attempts))
	}()

	req, err := media.BuildRequest(job.JobID, scene, cfg.Stage, cfg.Model, cfg.Image)
	if err != nil {
		return media.Failed(scene.ID, cfg.Stage, err.Error())
	}

	if !cfg.EnableCaching || job.Cache == nil {
		res, cost, attempts, err := s.generate(ctx, job, req)
		if err != nil {
			asset = media.Failed(scene.ID, cfg.Stage, err.Error())
		} else {
			asset = media.Completed(scene.ID, cfg.Stage, res.URL, cost)
		}
		asset.Attempts = attempts
		return asset
	}

	q := cache.QueryFor(req)
	if e, ok := job.Cache.Lookup(ctx, q); ok {
		return s.cacheHit(ctx, job, scene.ID, e)
	}

	attempts := 0
	e, shared, err := job.Cache.Resolve(ctx, q, func(ctx context.Context) (cache.Payload, float64, error) {
		res, cost, n, err := s.generate(ctx, job, req)
		attempts += n
		if err != nil {
			return cache.Payload{}, 0, err
		}
		return cache.Payload{URL: res.URL, ContentType: res.ContentType}, cost, nil
	})
	if shared {
		return s.cacheHit(ctx, job, scene.ID, e)
	}

	s.metrics.CacheMiss(ctx, string(cfg.Stage))
	if job.Counters != nil {
		job.Counters.Miss()
	}
	if err != nil {
		asset = media.Failed(scene.ID, cfg.Stage, err.Error())
	} else {
		asset = media.Completed(scene.ID, cfg.Stage, e.Payload.URL, e.Cost)
	}
	asset.Attempts = attempts
	return asset
}

func (s *Scheduler) cacheHit(ctx context.Context, job StageJob, sceneID string, e cache.Entry) media.GeneratedAsset {
	s.metrics.CacheHit(ctx, string(job.Config.Stage))
	if job.Counters != nil {
		job.Counters.Hit(e.Cost)
	}
	asset := media.Completed(sceneID, job.Config.Stage, e.Payload.URL, 0)
	asset.Cached = true
	return asset
}

// generate calls the provider, retrying transient failures with capped
// exponential backoff. It returns the number of calls made.
func (s *Scheduler) generate(ctx context.Context, job StageJob, req media.Request) (provider.Result, float64, int, error) {
	cfg := job.Config
	stage := string(cfg.Stage)
	log := logger.FromContext(ctx, s.logger).With("stage", stage, "scene_id", req.SceneID)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := Backoff(cfg.RetryBase, cfg.MaxBackoff, attempt-1)
			log.Info("retrying provider call", "attempt", attempt, "delay", delay, "error", lastErr)
			s.metrics.Retry(ctx, stage)
			if err := s.sleep(ctx, delay); err != nil {
				break
			}
		}
		if job.Limiter != nil {
			if err := job.Limiter.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = provider.Errorf(provider.KindRateLimited, "rate limiter: %v", err)
				}
				break
			}
		}

		attempts++
		res, err := s.call(ctx, job.Provider, req, cfg.CallTimeout)
		if err == nil {
			s.metrics.ProviderCall(ctx, stage, observability.OutcomeSuccess)
			cost := res.Cost
			if cost <= 0 && s.pricer != nil {
				cost = s.pricer.Price(req)
			}
			return res, cost, attempts, nil
		}

		s.metrics.ProviderCall(ctx, stage, observability.OutcomeError)
		lastErr = provider.Classify(err)
		if !provider.IsTransient(err) {
			log.Warn("provider call failed permanently", "error", lastErr)
			break
		}
	}

	if lastErr == nil {
		lastErr = provider.Errorf(provider.KindUnknown, "generation aborted: %v", ctx.Err())
	}
	return provider.Result{}, 0, attempts, lastErr
}

func (s *Scheduler) call(ctx context.Context, g provider.Generator, req media.Request, timeout time.Duration) (provider.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return g.Generate(ctx, req)
}

func (s *Scheduler) emit(ctx context.Context, job StageJob, p media.GenerationProgress) {
	if job.Progress == nil {
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	select {
	case job.Progress <- p:
	case <-ctx.Done():
	}
}

// Backoff returns base × 2^(retry−1), capped by ceiling when it is positive.
func Backoff(base, ceiling time.Duration, retry int) time.Duration {
	if base <= 0 || retry <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(retry-1))
	if ceiling > 0 && d > float64(ceiling) {
		return ceiling
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
