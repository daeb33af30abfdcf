// Package pipeline admits projects and runs their generation jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"scenepipe/internal/cache"
	"scenepipe/internal/config"
	"scenepipe/internal/estimate"
	"scenepipe/internal/logger"
	"scenepipe/internal/media"
	"scenepipe/internal/notify"
	"scenepipe/internal/observability"
	"scenepipe/internal/provider"
	"scenepipe/internal/scheduler"
	"scenepipe/internal/store"
)

// RecentProgressEvents is how many progress events a status view carries.
const RecentProgressEvents = 10

// ErrShuttingDown is returned by Submit once Shutdown has been called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Deps are the collaborators of an Orchestrator. Registry, Assets and
// Scheduler are required; the rest may be nil.
type Deps struct {
	Registry  *store.Registry
	Assets    store.AssetStore
	Scheduler *scheduler.Scheduler
	Cache     *cache.Cache
	Estimator estimate.Estimator
	// Generators defaults to the adapters configured per stage.
	Generators map[media.Stage]provider.Generator
	Events     notify.Publisher
	Metrics    *observability.PipelineMetrics
	Logger     *slog.Logger
}

// Submission is what Submit reports back to the caller.
type Submission struct {
	JobID      string
	Estimate   estimate.Estimate
	SceneCount int
}

// JobStatus is the status view of one job.
type JobStatus struct {
	ID            string
	ProjectID     string
	Title         string
	SceneCount    int
	Status        store.JobStatus
	Percent       float64
	StageProgress map[media.Stage]float64
	Progress      []media.GenerationProgress
	Estimate      estimate.Estimate
	Result        *media.PipelineResult
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Orchestrator validates submissions, registers jobs and runs them in the
// background. Jobs are not cancellable once started.
type Orchestrator struct {
	cfg        *config.Config
	registry   *store.Registry
	assets     store.AssetStore
	scheduler  *scheduler.Scheduler
	cache      *cache.Cache
	estimator  estimate.Estimator
	generators map[media.Stage]provider.Generator
	limiters   map[media.Stage]*rate.Limiter
	events     notify.Publisher
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger
	tracer     trace.Tracer

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New creates an orchestrator for cfg.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Registry == nil || deps.Assets == nil || deps.Scheduler == nil {
		return nil, errors.New("registry, asset store and scheduler are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Estimator == (estimate.Estimator{}) {
		deps.Estimator = estimate.New()
	}
	if deps.Generators == nil {
		g, err := GeneratorsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps.Generators = g
	}
	for _, stage := range media.Stages {
		if deps.Generators[stage] == nil {
			return nil, fmt.Errorf("no generator for stage %s", stage)
		}
	}

	limiters := make(map[media.Stage]*rate.Limiter)
	for _, stage := range media.Stages {
		sc := cfg.Stage(stage)
		if sc.RateLimit > 0 {
			limiters[stage] = rate.NewLimiter(rate.Limit(sc.RateLimit), max(sc.Burst, 1))
		}
	}

	return &Orchestrator{
		cfg:        cfg,
		registry:   deps.Registry,
		assets:     deps.Assets,
		scheduler:  deps.Scheduler,
		cache:      deps.Cache,
		estimator:  deps.Estimator,
		generators: deps.Generators,
		limiters:   limiters,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     otel.Tracer("scenepipe/pipeline"),
	}, nil
}

// Submit validates p, registers a job for it and starts generation in the
// background. Nothing is created when it returns a *media.ValidationError;
// a *media.ConflictError means the project already has a running job.
//
// The job outlives ctx but keeps its values (request id) for logging.
func (o *Orchestrator) Submit(ctx context.Context, p media.Project) (Submission, error) {
	p = p.Clone()
	p.Normalize()
	if err := p.Validate(); err != nil {
		return Submission{}, err
	}

	est := o.estimator.Estimate(p, o.plan(p.Optimizations))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return Submission{}, ErrShuttingDown
	}

	job, err := o.registry.Create(p.ID, p.Title, len(p.Scenes), est)
	if err != nil {
		return Submission{}, err
	}

	o.inflight.Add(1)
	go o.run(context.WithoutCancel(ctx), job.ID, p)

	return Submission{JobID: job.ID, Estimate: est, SceneCount: len(p.Scenes)}, nil
}

// Estimate prices p without submitting it.
func (o *Orchestrator) Estimate(p media.Project) (estimate.Estimate, error) {
	p = p.Clone()
	p.Normalize()
	if err := p.Validate(); err != nil {
		return estimate.Estimate{}, err
	}
	return o.estimator.Estimate(p, o.plan(p.Optimizations)), nil
}

// Status returns the current view of a job, or *media.NotFoundError.
func (o *Orchestrator) Status(jobID string) (JobStatus, error) {
	v, err := o.registry.Get(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		ID:            v.ID,
		ProjectID:     v.ProjectID,
		Title:         v.Title,
		SceneCount:    v.SceneCount,
		Status:        v.Status,
		Percent:       v.Percent(),
		StageProgress: v.StageProgress,
		Progress:      v.RecentProgress(RecentProgressEvents),
		Estimate:      v.Estimate,
		Result:        v.Result,
		Error:         v.Error,
		StartedAt:     v.StartedAt,
		FinishedAt:    v.FinishedAt,
	}, nil
}

// List returns every retained job, newest first.
func (o *Orchestrator) List() []store.JobView {
	return o.registry.List()
}

// Shutdown stops admitting jobs and waits for running ones to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// plan is the batch size each stage will run with, for estimation.
func (o *Orchestrator) plan(opt media.Optimizations) estimate.Plan {
	plan := estimate.Plan{BatchSizes: make(map[media.Stage]int, len(media.Stages))}
	for _, stage := range media.Stages {
		plan.BatchSizes[stage] = o.stageConfig(stage, opt).BatchSize
	}
	return plan
}

// stageConfig resolves the scheduling of one stage. Optimized defaults use
// the configured per-stage tuning; otherwise the project's batch size and
// retry count apply to every stage. The project's caching choice holds in
// both modes.
func (o *Orchestrator) stageConfig(stage media.Stage, opt media.Optimizations) scheduler.StageConfig {
	sc := o.cfg.Stage(stage)
	out := scheduler.StageConfig{
		Stage:           stage,
		Model:           sc.Model,
		BatchSize:       sc.BatchSize,
		MaxRetries:      sc.MaxRetries,
		RetryBase:       sc.RetryBase,
		MaxBackoff:      sc.MaxBackoff,
		InterBatchDelay: sc.InterBatchDelay,
		CallTimeout:     sc.CallTimeout,
		EnableCaching:   opt.EnableCaching,
		Image:           media.ImageDefaults{Size: o.cfg.Image.Size, Style: o.cfg.Image.Style},
	}
	if !opt.UseOptimizedDefaults {
		out.BatchSize = opt.BatchSize
		out.MaxRetries = opt.MaxRetries
	}
	if !o.cfg.Throttle {
		out.InterBatchDelay = 0
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, jobID string, p media.Project) {
	defer o.inflight.Done()

	ctx = logger.WithJobID(ctx, jobID)
	ctx, span := o.tracer.Start(ctx, "pipeline.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("project.id", p.ID),
		attribute.Int("scenes", len(p.Scenes)),
	))
	defer span.End()

	log := logger.FromContext(ctx, o.logger).With("project_id", p.ID)
	log.Info("job started", "scenes", len(p.Scenes))
	o.publish(notify.Event{
		Name:      notify.EventJobStarted,
		JobID:     jobID,
		ProjectID: p.ID,
		Message:   fmt.Sprintf("generating %d scenes", len(p.Scenes)),
		Timestamp: time.Now(),
	})

	progress := make(chan media.GenerationProgress, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range progress {
			if err := o.registry.AppendProgress(jobID, ev); err != nil {
				log.Warn("failed to record progress", "error", err)
			}
			o.publish(notify.ProgressEvent(jobID, p.ID, ev))
		}
	}()

	result, err := o.execute(ctx, jobID, p, progress)
	close(progress)
	<-drained

	finished := notify.Event{JobID: jobID, ProjectID: p.ID, Percent: 100, Timestamp: time.Now()}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := o.registry.Fail(jobID, err, result); ferr != nil {
			log.Error("failed to mark job failed", "error", ferr)
		}
		finished.Name = notify.EventJobFailed
		finished.Message = err.Error()
		o.metrics.JobFinished(ctx, string(store.JobStatusFailed))
		log.Error("job failed", "error", err)
	} else {
		if cerr := o.registry.Complete(jobID, result); cerr != nil {
			log.Error("failed to mark job completed", "error", cerr)
		}
		finished.Name = notify.EventJobCompleted
		finished.Message = fmt.Sprintf("%d asset errors, total cost %.4f", len(result.Errors), result.TotalCost)
		o.metrics.JobFinished(ctx, string(store.JobStatusCompleted))
		log.Info("job completed",
			"total_cost", result.TotalCost,
			"asset_errors", len(result.Errors),
			"cache_hits", result.CachingStats.Hits,
		)
	}
	o.publish(finished)
}

// execute runs the three stages concurrently. The returned error is non-nil
// only for systemic failures; scene failures live in the result.
func (o *Orchestrator) execute(ctx context.Context, jobID string, p media.Project, progress chan<- media.GenerationProgress) (*media.PipelineResult, error) {
	if err := o.assets.InitializeProject(ctx, p.ID, p.Title, p.SceneIDs()); err != nil {
		sysErr := &media.SystemicError{Op: "initialize project", Err: err}
		return media.NewResult(media.StageAssets{}, media.CachingStats{}, sysErr), sysErr
	}

	counters := &media.CacheCounters{}
	var (
		mu     sync.Mutex
		assets media.StageAssets
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range media.Stages {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &media.SystemicError{Op: string(stage) + " stage", Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			out := o.runStage(gctx, jobID, p, stage, progress, counters)
			mu.Lock()
			assets.Set(stage, out)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	return media.NewResult(assets, counters.Snapshot(), err), err
}

func (o *Orchestrator) runStage(ctx context.Context, jobID string, p media.Project, stage media.Stage, progress chan<- media.GenerationProgress, counters *media.CacheCounters) []media.GeneratedAsset {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("stage", string(stage)),
	))
	defer span.End()

	start := time.Now()
	assets := o.scheduler.RunStage(ctx, scheduler.StageJob{
		JobID:    jobID,
		Scenes:   p.Scenes,
		Config:   o.stageConfig(stage, p.Optimizations),
		Provider: o.generators[stage],
		Cache:    o.cache,
		Limiter:  o.limiters[stage],
		Progress: progress,
		Counters: counters,
	})
	o.metrics.StageDuration(ctx, string(stage), time.Since(start))

	o.persist(ctx, jobID, p.ID, assets)
	return assets
}

// persist records completed assets. A failed write turns that asset into an
// error but leaves the rest of the job alone.
func (o *Orchestrator) persist(ctx context.Context, jobID, projectID string, assets []media.GeneratedAsset) {
	log := logger.FromContext(ctx, o.logger)
	for i := range assets {
		a := &assets[i]
		if a.Status != media.AssetCompleted {
			continue
		}
		stored, err := o.assets.StoreAsset(ctx, projectID, a.SceneID, a.Stage, a.URL, map[string]string{
			"job_id":   jobID,
			"cached":   strconv.FormatBool(a.Cached),
			"attempts": strconv.Itoa(a.Attempts),
			"cost":     strconv.FormatFloat(a.Cost, 'f', -1, 64),
		})
		if err != nil {
			log.Warn("failed to store asset", "scene_id", a.SceneID, "stage", string(a.Stage), "error", err)
			a.Status = media.AssetError
			a.ErrorMessage = fmt.Sprintf("store asset: %v", err)
			a.URL = ""
			continue
		}
		a.StoredKey = stored.Key
	}
}

func (o *Orchestrator) publish(e notify.Event) {
	if o.events != nil {
		o.events.Publish(e)
	}
}
