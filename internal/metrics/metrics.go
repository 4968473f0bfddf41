// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	RequestsIssued      = expvar.NewInt("requests_issued")
	RequestsSucceeded   = expvar.NewInt("requests_succeeded")
	RequestsNoData      = expvar.NewInt("requests_no_data")
	RequestsRateLimited = expvar.NewInt("requests_rate_limited")
	RequestsTransient   = expvar.NewInt("requests_server_transient")
	RequestsAuthExpired = expvar.NewInt("requests_auth_expired")
	RequestsFatal       = expvar.NewInt("requests_fatal")
	RequestsDeferred    = expvar.NewInt("requests_deferred")
	RetriesScheduled    = expvar.NewInt("retries_scheduled")
	CredentialRefreshes = expvar.NewInt("credential_refreshes")
	RefreshFailures     = expvar.NewInt("credential_refresh_failures")
	BreakerTrips        = expvar.NewInt("breaker_trips")
	RecordsPersisted    = expvar.NewInt("records_persisted")
	EntitiesGaveUp      = expvar.NewInt("entities_gave_up")
	RunsCompleted       = expvar.NewInt("runs_completed")
	RunsAborted         = expvar.NewInt("runs_aborted")
	DaysCompleted       = expvar.NewInt("days_completed")
)
