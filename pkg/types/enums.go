// Package types defines the public domain types for tally, the rate-limited
// daily metrics collector.
package types

// DateLayout is the civil date format used for metrics keys and CLI flags.
const DateLayout = "2006-01-02"

// OutcomeKind tags the result of a single fetch attempt.
type OutcomeKind string

// OutcomeKind values enumerate the classified results of one request.
const (
	OutcomeSuccess         OutcomeKind = "SUCCESS"
	OutcomeNoData          OutcomeKind = "NO_DATA"
	OutcomeRateLimited     OutcomeKind = "RATE_LIMITED"
	OutcomeServerTransient OutcomeKind = "SERVER_TRANSIENT"
	OutcomeAuthExpired     OutcomeKind = "AUTH_EXPIRED"
	OutcomeFatal           OutcomeKind = "FATAL"

	// OutcomeDeferred means no request was sent because the backend is
	// shedding load. The entity is queued again rather than resolved.
	OutcomeDeferred OutcomeKind = "DEFERRED"
)

// IsTerminalSuccess reports whether the outcome ends an entity's pipeline
// without an error.
func (k OutcomeKind) IsTerminalSuccess() bool {
	return k == OutcomeSuccess || k == OutcomeNoData
}

// ResolutionKind is the terminal state of an entity's retry pipeline.
type ResolutionKind string

// ResolutionKind values are the terminal states of the retry state machine.
const (
	ResolutionDone   ResolutionKind = "DONE"
	ResolutionGaveUp ResolutionKind = "GAVE_UP"
	ResolutionFatal  ResolutionKind = "FATAL"

	// ResolutionDeferred returns the entity to the worklist.
	ResolutionDeferred ResolutionKind = "DEFERRED"
)

// StoreProvider names a metrics/checkpoint storage backend.
type StoreProvider string

// StoreProvider values enumerate the supported backends.
const (
	StorePostgres StoreProvider = "postgres"
	StoreDynamoDB StoreProvider = "dynamodb"
	StoreRedis    StoreProvider = "redis"
	StoreNone     StoreProvider = "none"
)
