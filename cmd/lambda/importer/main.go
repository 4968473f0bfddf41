// importer Lambda collects one day of metrics for every known entity.
// Invoked by an EventBridge schedule once a day; a manual event may name the
// day in detail.date.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/tally/internal/lambda"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// handleImport runs the import for the event's day on a collector built for
// this invocation. An aborted run returns its summary together with an
// error so the invocation is marked failed.
func handleImport(ctx context.Context, d *intlambda.Deps, ev intlambda.ImportEvent) (intlambda.ImportResponse, error) {
	date, err := intlambda.ResolveDate(ev, time.Now())
	if err != nil {
		return intlambda.ImportResponse{Status: "rejected"}, err
	}

	run, err := d.NewRun(ctx)
	if err != nil {
		return intlambda.ImportResponse{Status: "rejected"}, err
	}
	defer run.Close()

	p, err := run.App.Collector.ImportDay(ctx, date)
	resp := intlambda.NewImportResponse(p)
	if err != nil {
		d.Logger.Error("import aborted", "runId", p.RunID, "date", p.Date, "error", err)
		return resp, fmt.Errorf("import %s: %w", p.Date, err)
	}

	d.Logger.Info("import complete",
		"runId", resp.RunID,
		"date", resp.Date,
		"succeeded", resp.Succeeded,
		"noData", resp.NoData,
		"failed", resp.Failed,
		"persisted", resp.Persisted,
	)
	return resp, nil
}

func handler(ctx context.Context, ev intlambda.ImportEvent) (intlambda.ImportResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.ImportResponse{}, err
	}
	return handleImport(ctx, d, ev)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
