package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/tally/internal/metrics"
	"github.com/dwsmith1983/tally/pkg/types"
)

// entityResult is one pipeline's result within a round.
type entityResult struct {
	res types.Resolution
	err error
}

// ImportDay collects every entity published on or before date for that
// date. Per-entity failures are recorded in the progress and do not fail the
// run. A fatal outcome aborts the run: records gathered so far are
// persisted and the partial progress is returned with an error wrapping
// ErrFatal.
func (c *Collector) ImportDay(ctx context.Context, date time.Time) (types.RunProgress, error) {
	day := civil(date).Format(types.DateLayout)
	p := types.RunProgress{
		RunID:     ulid.Make().String(),
		Date:      day,
		StartedAt: c.clock.Now("collector", "start"),
	}

	err := c.importDay(ctx, date, &p)
	if err != nil {
		p.Aborted = true
		p.FatalError = err.Error()
		metrics.RunsAborted.Add(1)
		c.notify(&p)
		return p, err
	}
	p.DaysCompleted = 1
	metrics.RunsCompleted.Add(1)
	metrics.DaysCompleted.Add(1)
	c.notify(&p)
	return p, nil
}

// importDay runs one day's rounds, folding results into p.
func (c *Collector) importDay(ctx context.Context, date time.Time, p *types.RunProgress) (err error) {
	day := civil(date).Format(types.DateLayout)
	ctx, span := c.tracer.Start(ctx, "collector.ImportDay", trace.WithAttributes(attribute.String("date", day)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cutoff := endOfDay(date)
	worklist, err := c.entities.ListEntities(ctx, &cutoff)
	if err != nil {
		return fmt.Errorf("listing entities for %s: %w", day, err)
	}
	p.TotalEntities += len(worklist)
	p.DayEntities = len(worklist)
	c.logger.Info("import started", "date", day, "entities", len(worklist), "runId", p.RunID)
	c.notify(p)

	var records []types.MetricsRecord
	remaining := worklist
	for len(remaining) > 0 {
		wait, limit := c.admit()
		if wait > 0 {
			c.logger.Debug("backend shedding load, holding off", "date", day, "wait", wait, "remaining", len(remaining))
			if err := c.sleep(ctx, wait); err != nil {
				return c.abort(ctx, day, records, p, err)
			}
			continue
		}

		size := c.scheduler.NextBatchSize(len(remaining))
		if limit > 0 && size > limit {
			size = limit
		}
		if size == 0 {
			if err := c.sleep(ctx, c.scheduler.InterRoundDelay()); err != nil {
				return c.abort(ctx, day, records, p, err)
			}
			continue
		}

		batch := remaining[:size]
		remaining = remaining[size:]

		roundRecords, deferred, fatal := c.runRound(ctx, day, batch, p)
		records = append(records, roundRecords...)
		if len(deferred) > 0 {
			remaining = append(deferred, remaining...)
		}
		c.notify(p)

		if fatal != nil {
			return c.abort(ctx, day, records, p, fatal)
		}
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, day, records, p, err)
		}
		if len(remaining) > 0 {
			if err := c.sleep(ctx, c.scheduler.InterRoundDelay()); err != nil {
				return c.abort(ctx, day, records, p, err)
			}
		}
	}

	if err := c.persist(ctx, records, p); err != nil {
		return fmt.Errorf("persisting %s: %w", day, err)
	}
	c.logger.Info("import finished", "date", day,
		"succeeded", p.Succeeded, "noData", p.NoData, "failed", p.Failed, "persisted", p.Persisted)
	return nil
}

// runRound runs one pipeline per entity concurrently and folds the results
// of the pipelines that completed. It returns the round's records, the
// entities the backend turned away unrequested and the first fatal error,
// if any.
func (c *Collector) runRound(ctx context.Context, day string, batch []types.EntityID, p *types.RunProgress) ([]types.MetricsRecord, []types.EntityID, error) {
	ctx, span := c.tracer.Start(ctx, "collector.round", trace.WithAttributes(
		attribute.String("date", day),
		attribute.Int("size", len(batch)),
	))
	defer span.End()

	results := make([]entityResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range batch {
		g.Go(func() error {
			res, err := c.retrier.Run(gctx, id, func(ctx context.Context, cred types.Credential) types.Outcome {
				return c.fetcher.Fetch(ctx, id, day, cred)
			})
			results[i] = entityResult{res: res, err: err}
			if errors.Is(err, ErrFatal) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	var (
		records  []types.MetricsRecord
		deferred []types.EntityID
	)
	for _, r := range results {
		p.QuotaUsed += r.res.Attempts
		if r.err != nil {
			// Cancelled or fatal pipelines did not complete.
			continue
		}
		if r.res.Kind == types.ResolutionDeferred {
			deferred = append(deferred, r.res.Entity)
			continue
		}
		if rec := fold(day, r.res, p); rec != nil {
			records = append(records, *rec)
		}
	}
	p.Rounds++
	return records, deferred, fatal
}

// fold applies one completed resolution to p and returns its record, if any.
func fold(day string, res types.Resolution, p *types.RunProgress) *types.MetricsRecord {
	p.Processed++
	if res.AuthFailed {
		p.AuthFailures++
	}
	switch res.Kind {
	case types.ResolutionDone:
		if res.Outcome.Kind == types.OutcomeSuccess && res.Outcome.Record != nil {
			p.Succeeded++
			return res.Outcome.Record
		}
		p.NoData++
	case types.ResolutionGaveUp:
		p.Failed++
		metrics.EntitiesGaveUp.Add(1)
		p.Errors = append(p.Errors, fmt.Sprintf("entity %s on %s: %s", res.Entity, day, res.Outcome.Reason))
	}
	return nil
}

// abort persists what was gathered and returns cause wrapped with the day.
func (c *Collector) abort(ctx context.Context, day string, records []types.MetricsRecord, p *types.RunProgress, cause error) error {
	c.logger.Error("import aborted", "date", day, "processed", p.Processed, "total", p.TotalEntities, "error", cause)
	if err := c.persist(context.WithoutCancel(ctx), records, p); err != nil {
		return fmt.Errorf("import %s aborted: %w (persisting partial results: %v)", day, cause, err)
	}
	return fmt.Errorf("import %s aborted: %w", day, cause)
}

func (c *Collector) persist(ctx context.Context, records []types.MetricsRecord, p *types.RunProgress) error {
	deduped := Dedup(records)
	if len(deduped) == 0 {
		return nil
	}
	if err := c.store.BulkUpsert(ctx, deduped); err != nil {
		return err
	}
	p.Persisted += len(deduped)
	metrics.RecordsPersisted.Add(int64(len(deduped)))
	return nil
}
