package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksTotal          = "checker.pipeline.tasks.total"
	metricStagesTotal         = "checker.pipeline.stages.total"
	metricStageDuration       = "checker.pipeline.stage.duration.seconds"
	metricScoreboardCacheHits = "checker.scoreboard.cache.hits.total"
	metricScoreboardCacheMiss = "checker.scoreboard.cache.misses.total"

	attrCache = "cache"
)

// PipelineMetrics holds OTel instruments for pipeline and scoreboard metrics.
type PipelineMetrics struct {
	tasksTotal    metric.Int64Counter
	stagesTotal   metric.Int64Counter
	stageDuration metric.Float64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
}

// PipelineRunStats holds the statistics for a single grading run, decoupled
// from the pipeline package to avoid an import cycle.
type PipelineRunStats struct {
	TasksGraded    int64
	StagesRun      int
	StageDurations []time.Duration
	ScoreboardHits int64
	ScoreboardMiss int64
}

// NewPipelineMetrics creates pipeline metric instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	tasks, err := mt.Int64Counter(metricTasksTotal,
		metric.WithDescription("Total tasks graded"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTasksTotal, err)
	}

	stages, err := mt.Int64Counter(metricStagesTotal,
		metric.WithDescription("Total pipeline stages executed"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStagesTotal, err)
	}

	stageDur, err := mt.Float64Histogram(metricStageDuration,
		metric.WithDescription("Per-stage execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStageDuration, err)
	}

	hits, err := mt.Int64Counter(metricScoreboardCacheHits,
		metric.WithDescription("Scoreboard cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScoreboardCacheHits, err)
	}

	misses, err := mt.Int64Counter(metricScoreboardCacheMiss,
		metric.WithDescription("Scoreboard cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricScoreboardCacheMiss, err)
	}

	return &PipelineMetrics{
		tasksTotal:    tasks,
		stagesTotal:   stages,
		stageDuration: stageDur,
		cacheHits:     hits,
		cacheMisses:   misses,
	}, nil
}

// RecordRun records pipeline statistics for a completed grading run.
// Safe to call on a nil receiver (no-op).
func (pm *PipelineMetrics) RecordRun(ctx context.Context, stats PipelineRunStats) {
	if pm == nil {
		return
	}

	pm.tasksTotal.Add(ctx, stats.TasksGraded)
	pm.stagesTotal.Add(ctx, int64(stats.StagesRun))

	for _, d := range stats.StageDurations {
		pm.stageDuration.Record(ctx, d.Seconds())
	}

	attrs := metric.WithAttributes(attribute.String(attrCache, "scoreboard"))
	pm.cacheHits.Add(ctx, stats.ScoreboardHits, attrs)
	pm.cacheMisses.Add(ctx, stats.ScoreboardMiss, attrs)
}
