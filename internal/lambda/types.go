// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/tally/pkg/types"
)

// ImportEvent is the EventBridge event that starts an import. Scheduled
// rules send an empty detail; manual invocations may name the day.
type ImportEvent = events.CloudWatchEvent

// ImportDetail is the optional detail payload of an ImportEvent.
type ImportDetail struct {
	Date string `json:"date,omitempty"`
}

// ImportResponse summarizes an import run.
type ImportResponse struct {
	RunID      string `json:"runId"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	NoData     int    `json:"noData"`
	Failed     int    `json:"failed"`
	Persisted  int    `json:"persisted"`
	QuotaUsed  int    `json:"quotaUsed"`
	Errors     int    `json:"errors"`
	FatalError string `json:"fatalError,omitempty"`
}

// NewImportResponse builds the response for a finished or aborted run.
func NewImportResponse(p types.RunProgress) ImportResponse {
	status := "completed"
	if p.Aborted {
		status = "aborted"
	}
	return ImportResponse{
		RunID:      p.RunID,
		Date:       p.Date,
		Status:     status,
		Total:      p.TotalEntities,
		Succeeded:  p.Succeeded,
		NoData:     p.NoData,
		Failed:     p.Failed,
		Persisted:  p.Persisted,
		QuotaUsed:  p.QuotaUsed,
		Errors:     len(p.Errors),
		FatalError: p.FatalError,
	}
}

// ResolveDate returns the day an event asks for: detail.date when present,
// otherwise the UTC day before the event time (or now, if the event has
// none).
func ResolveDate(ev ImportEvent, now time.Time) (time.Time, error) {
	if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
		var d ImportDetail
		if err := json.Unmarshal(ev.Detail, &d); err != nil {
			return time.Time{}, fmt.Errorf("decoding event detail: %w", err)
		}
		if d.Date != "" {
			day, err := time.Parse(types.DateLayout, d.Date)
			if err != nil {
				return time.Time{}, fmt.Errorf("detail.date must be YYYY-MM-DD: %w", err)
			}
			return day, nil
		}
	}

	ref := ev.Time
	if ref.IsZero() {
		ref = now
	}
	y, m, d := ref.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1), nil
}
