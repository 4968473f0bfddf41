package types

import "time"

// EntityID identifies the subject of collected metrics (e.g. a video).
type EntityID string

// Entity is an entity as stored by an entity source.
type Entity struct {
	ID          EntityID  `json:"id"`
	PublishedAt time.Time `json:"publishedAt"`
}

// MetricsRecord is one entity's metrics for one day, keyed by (EntityID, Date).
// Numeric fields are nullable: a nil pointer means the API did not report it.
type MetricsRecord struct {
	EntityID                EntityID  `json:"entityId" dynamodbav:"entityId"`
	Date                    string    `json:"date" dynamodbav:"date"` // YYYY-MM-DD
	Views                   *int64    `json:"views,omitempty" dynamodbav:"views,omitempty"`
	EstimatedMinutesWatched *int64    `json:"estimatedMinutesWatched,omitempty" dynamodbav:"estimatedMinutesWatched,omitempty"`
	AverageViewDuration     *float64  `json:"averageViewDuration,omitempty" dynamodbav:"averageViewDuration,omitempty"`
	AverageViewPercentage   *float64  `json:"averageViewPercentage,omitempty" dynamodbav:"averageViewPercentage,omitempty"`
	Likes                   *int64    `json:"likes,omitempty" dynamodbav:"likes,omitempty"`
	Dislikes                *int64    `json:"dislikes,omitempty" dynamodbav:"dislikes,omitempty"`
	Comments                *int64    `json:"comments,omitempty" dynamodbav:"comments,omitempty"`
	Shares                  *int64    `json:"shares,omitempty" dynamodbav:"shares,omitempty"`
	SubscribersGained       *int64    `json:"subscribersGained,omitempty" dynamodbav:"subscribersGained,omitempty"`
	SubscribersLost         *int64    `json:"subscribersLost,omitempty" dynamodbav:"subscribersLost,omitempty"`
	FetchedAt               time.Time `json:"fetchedAt" dynamodbav:"fetchedAt"`
}

// Key returns the upsert key of the record.
func (r MetricsRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, Date: r.Date}
}

// RecordKey is the conflict key for metrics upserts.
type RecordKey struct {
	EntityID EntityID
	Date     string
}

// Outcome is the classified result of one fetch attempt. It is never reused
// across attempts.
type Outcome struct {
	Kind       OutcomeKind    `json:"kind"`
	Record     *MetricsRecord `json:"record,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Resolution is the terminal result of an entity's retry pipeline.
type Resolution struct {
	Entity   EntityID       `json:"entity"`
	Kind     ResolutionKind `json:"kind"`
	Outcome  Outcome        `json:"outcome"` // last attempt's outcome
	Attempts int            `json:"attempts"`
	// AuthFailed is set when any attempt observed an expired credential.
	AuthFailed bool `json:"authFailed,omitempty"`
}

// Credential is the bearer credential used for API requests. Version
// increases by one on every successful refresh; a credential whose version
// is behind the coordinator's is stale.
type Credential struct {
	Token       string    `json:"-"`
	Version     int       `json:"version"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// RunProgress aggregates the state of an import or backfill run. It is owned
// by the collector and mutated only between round barriers.
type RunProgress struct {
	RunID         string    `json:"runId"`
	Date          string    `json:"date,omitempty"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	DaysCompleted int       `json:"daysCompleted"`
	TotalEntities int       `json:"totalEntities"`
	DayEntities   int       `json:"dayEntities"`
	Processed     int       `json:"processed"`
	Succeeded     int       `json:"succeeded"`
	NoData        int       `json:"noData"`
	Failed        int       `json:"failed"`
	AuthFailures  int       `json:"authFailures"`
	QuotaUsed     int       `json:"quotaUsed"`
	Persisted     int       `json:"persisted"`
	Rounds        int       `json:"rounds"`
	StartedAt     time.Time `json:"startedAt"`
	Errors        []string  `json:"errors"`
	Aborted       bool      `json:"aborted"`
	FatalError    string    `json:"fatalError,omitempty"`
}

// Clone returns a copy safe to hand to observers.
func (p RunProgress) Clone() RunProgress {
	c := p
	c.Errors = append([]string(nil), p.Errors...)
	return c
}

// Remaining returns the number of listed entities not yet processed. Days
// of a backfill that have not started yet are not counted.
func (p RunProgress) Remaining() int {
	if r := p.TotalEntities - p.Processed; r > 0 {
		return r
	}
	return 0
}

// QuotaEstimate is a planning aid for backfills.
type QuotaEstimate struct {
	TotalDays             int     `json:"totalDays"`
	TotalEntities         int     `json:"totalEntities"`
	EstimatedRequests     int     `json:"estimatedRequests"`
	PercentOfDailyCeiling float64 `json:"percentOfDailyCeiling"`
}
