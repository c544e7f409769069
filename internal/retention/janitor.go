// Package retention archives finished plans. Plans are never deleted: once
// a succeeded or failed plan has been idle longer than the retention window
// it is marked archived, after which it can no longer be executed.
//
// When an export driver is registered the plans (with their steps) are
// written there first, and a plan is only marked archived if its export
// succeeded.
//
// The janitor runs on a cron schedule (robfig/cron spec, e.g. "@daily" or
// "0 3 * * *") and stops with its context.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultArchiveAfter is the idle time after which finished plans are archived.
const DefaultArchiveAfter = 30 * 24 * time.Hour

// DefaultArchiveBatchSize is the max plans per export write.
const DefaultArchiveBatchSize = 500

// Exporter writes archived plans somewhere durable and returns a URI for the batch.
type Exporter interface {
	Kind() string
	ExportPlans(ctx context.Context, plans []models.UserPlan) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Candidates int
	Exported   int
	Archived   int
	URIs       []string
	Errors     []error
}

// Janitor periodically archives finished plans.
type Janitor struct {
	plans    store.PlanStore
	schedule string
	after    time.Duration
	exporter Exporter
	now      func() time.Time
}

// NewJanitor creates a janitor. exporter may be nil.
func NewJanitor(plans store.PlanStore, schedule string, after time.Duration, exporter Exporter) *Janitor {
	if schedule == "" {
		schedule = "@daily"
	}
	if after <= 0 {
		after = DefaultArchiveAfter
	}
	return &Janitor{plans: plans, schedule: schedule, after: after, exporter: exporter, now: time.Now}
}

// Start schedules the janitor and blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("retention schedule %q: %w", j.schedule, err)
	}
	exporter := "none"
	if j.exporter != nil {
		exporter = j.exporter.Kind()
	}
	log.Info().
		Str("schedule", j.schedule).
		Dur("archive_after", j.after).
		Str("exporter", exporter).
		Msg("Retention janitor started")

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("Retention janitor stopped")
	return nil
}

// RunCycle performs one archive sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	cutoff := j.now().Add(-j.after)
	plans, err := j.plans.ListFinishedPlans(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list finished plans")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Candidates = len(plans)
	if len(plans) == 0 {
		return stats
	}

	for i := 0; i < len(plans); i += DefaultArchiveBatchSize {
		end := i + DefaultArchiveBatchSize
		if end > len(plans) {
			end = len(plans)
		}
		j.processBatch(ctx, plans[i:end], &stats)
	}

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	log.Info().
		Int("archived_plans", stats.Archived).
		Int("exported_plans", stats.Exported).
		Dur("elapsed", time.Since(start)).
		Msg("Retention cycle complete")
	return stats
}

// processBatch exports then archives. A failed export leaves the batch untouched.
func (j *Janitor) processBatch(ctx context.Context, batch []models.UserPlan, stats *CycleStats) {
	if j.exporter != nil {
		for i := range batch {
			steps, err := j.plans.ListSteps(ctx, batch[i].ID)
			if err != nil {
				stats.Errors = append(stats.Errors, err)
				return
			}
			batch[i].Steps = steps
		}
		uri, err := j.exporter.ExportPlans(ctx, batch)
		if err != nil {
			log.Warn().Err(err).Str("exporter", j.exporter.Kind()).Int("batch_size", len(batch)).
				Msg("Plan export failed, skipping archive")
			stats.Errors = append(stats.Errors, err)
			return
		}
		stats.Exported += len(batch)
		stats.URIs = append(stats.URIs, uri)
	}

	now := j.now().UTC()
	for i := range batch {
		p := batch[i]
		p.Status = models.PlanArchived
		p.ArchivedAt = &now
		if err := j.plans.UpdatePlan(ctx, &p); err != nil {
			log.Warn().Err(err).Str("plan_id", p.ID).Msg("Failed to archive plan")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Archived++
	}
}
