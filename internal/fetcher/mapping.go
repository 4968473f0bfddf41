package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dwsmith1983/tally/pkg/types"
)

// DefaultMetrics is the column list requested when none is configured.
var DefaultMetrics = []string{
	"views",
	"estimatedMinutesWatched",
	"averageViewDuration",
	"averageViewPercentage",
	"likes",
	"dislikes",
	"comments",
	"shares",
	"subscribersGained",
	"subscribersLost",
}

// ColumnHeader names one column of a report.
type ColumnHeader struct {
	Name string `json:"name"`
}

// Report is the body of a successful metrics response.
type Report struct {
	ColumnHeaders []ColumnHeader  `json:"columnHeaders"`
	Rows          [][]interface{} `json:"rows"`
}

// ParseReport decodes a response body. Numbers are kept exact.
func ParseReport(body []byte) (*Report, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var r Report
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}

// Empty reports whether the response carries no data rows.
func (r *Report) Empty() bool {
	return len(r.Rows) == 0
}

// MapRecord maps the first row of a report onto the fixed record shape by
// column name. Unknown columns are ignored and missing ones stay nil.
func MapRecord(r *Report, entity types.EntityID, date string, fetchedAt time.Time) (*types.MetricsRecord, error) {
	if r.Empty() {
		return nil, fmt.Errorf("report has no rows")
	}
	row := r.Rows[0]
	if len(row) > len(r.ColumnHeaders) {
		return nil, fmt.Errorf("row has %d values for %d columns", len(row), len(r.ColumnHeaders))
	}

	rec := &types.MetricsRecord{EntityID: entity, Date: date, FetchedAt: fetchedAt}
	for i, v := range row {
		name := r.ColumnHeaders[i].Name
		if v == nil {
			continue
		}
		n, ok := v.(json.Number)
		if !ok {
			// Dimension columns such as "day" carry strings.
			continue
		}
		if err := assign(rec, name, n); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
	}
	return rec, nil
}

func assign(rec *types.MetricsRecord, name string, n json.Number) error {
	switch name {
	case "averageViewDuration", "averageViewPercentage":
		f, err := n.Float64()
		if err != nil {
			return err
		}
		if name == "averageViewDuration" {
			rec.AverageViewDuration = &f
		} else {
			rec.AverageViewPercentage = &f
		}
		return nil
	}

	var target **int64
	switch name {
	case "views":
		target = &rec.Views
	case "estimatedMinutesWatched":
		target = &rec.EstimatedMinutesWatched
	case "likes":
		target = &rec.Likes
	case "dislikes":
		target = &rec.Dislikes
	case "comments":
		target = &rec.Comments
	case "shares":
		target = &rec.Shares
	case "subscribersGained":
		target = &rec.SubscribersGained
	case "subscribersLost":
		target = &rec.SubscribersLost
	default:
		return nil
	}

	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		i = int64(math.Round(f))
	}
	*target = &i
	return nil
}
