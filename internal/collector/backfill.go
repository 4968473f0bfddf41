package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/tally/internal/metrics"
	"github.com/dwsmith1983/tally/pkg/types"
)

// BackfillOption configures a Backfill call.
type BackfillOption func(*backfillOptions)

type backfillOptions struct {
	job    string
	resume bool
}

// WithJob names the backfill job under which checkpoints are kept. The
// default name is derived from the date range.
func WithJob(name string) BackfillOption {
	return func(o *backfillOptions) { o.job = name }
}

// WithResume starts the backfill after the job's last checkpoint.
func WithResume() BackfillOption {
	return func(o *backfillOptions) { o.resume = true }
}

// JobName returns the default checkpoint job name for a range.
func JobName(from, to time.Time) string {
	return fmt.Sprintf("backfill_%s_%s", civil(from).Format(types.DateLayout), civil(to).Format(types.DateLayout))
}

// Backfill imports each day from from to to inclusive, strictly one day at a
// time. After a day that saw authentication failures the credential is
// refreshed before the next day starts. A completed day is checkpointed, so
// a resumed backfill never reprocesses it. A fatal outcome on a day stops
// the backfill with an error naming that day; earlier days stay persisted.
func (c *Collector) Backfill(ctx context.Context, from, to time.Time, opts ...BackfillOption) (types.RunProgress, error) {
	o := backfillOptions{job: JobName(from, to)}
	for _, opt := range opts {
		opt(&o)
	}

	from, to = civil(from), civil(to)
	p := types.RunProgress{
		RunID:     ulid.Make().String(),
		From:      from.Format(types.DateLayout),
		To:        to.Format(types.DateLayout),
		StartedAt: c.clock.Now("collector", "start"),
	}
	if to.Before(from) {
		return p, fmt.Errorf("backfill range %s..%s is inverted", p.From, p.To)
	}

	start, err := c.resumePoint(ctx, o, from)
	if err != nil {
		return p, err
	}
	if start.After(to) {
		c.logger.Info("backfill already complete", "job", o.job, "to", p.To)
		return p, nil
	}
	c.logger.Info("backfill started", "job", o.job, "from", start.Format(types.DateLayout), "to", p.To, "runId", p.RunID)

	for d := start; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := d.Format(types.DateLayout)
		p.Date = day
		authBefore := p.AuthFailures

		if err := c.importDay(ctx, d, &p); err != nil {
			return c.failBackfill(&p, fmt.Errorf("backfill day %s: %w", day, err))
		}
		p.DaysCompleted++
		metrics.DaysCompleted.Add(1)

		if c.checkpoints != nil {
			if err := c.checkpoints.PutCheckpoint(ctx, o.job, day); err != nil {
				return c.failBackfill(&p, fmt.Errorf("backfill day %s: %w", day, err))
			}
		}
		c.notify(&p)

		if p.AuthFailures > authBefore && d.Before(to) {
			c.logger.Info("refreshing credential after auth failures", "date", day, "authFailures", p.AuthFailures-authBefore)
			if _, err := c.creds.ForceRefresh(ctx); err != nil {
				return c.failBackfill(&p, fmt.Errorf("%w: refreshing credential after %s: %w", ErrFatal, day, err))
			}
		}
	}

	metrics.RunsCompleted.Add(1)
	c.logger.Info("backfill finished", "job", o.job, "days", p.DaysCompleted, "persisted", p.Persisted, "failed", p.Failed)
	return p, nil
}

func (c *Collector) resumePoint(ctx context.Context, o backfillOptions, from time.Time) (time.Time, error) {
	if !o.resume {
		return from, nil
	}
	if c.checkpoints == nil {
		return from, fmt.Errorf("resume requested but no checkpoint store is configured")
	}
	last, ok, err := c.checkpoints.GetCheckpoint(ctx, o.job)
	if err != nil {
		return from, fmt.Errorf("reading checkpoint for %s: %w", o.job, err)
	}
	if !ok {
		return from, nil
	}
	done, err := time.Parse(types.DateLayout, last)
	if err != nil {
		return from, fmt.Errorf("checkpoint for %s has invalid date %q: %w", o.job, last, err)
	}
	if next := done.AddDate(0, 0, 1); next.After(from) {
		return next, nil
	}
	return from, nil
}

func (c *Collector) failBackfill(p *types.RunProgress, err error) (types.RunProgress, error) {
	p.Aborted = true
	p.FatalError = err.Error()
	metrics.RunsAborted.Add(1)
	c.notify(p)
	return *p, err
}
