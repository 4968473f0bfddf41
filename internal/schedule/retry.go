package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dwsmith1983/tally/internal/metrics"
	"github.com/dwsmith1983/tally/pkg/types"
)

// ErrFatal marks an outcome that must abort the whole run.
var ErrFatal = errors.New("fatal outcome")

// RetryPolicy configures rate-limit backoff.
type RetryPolicy struct {
	MaxRateLimitRetries int
	BaseBackoff         time.Duration
	Multiplier          float64
	MaxBackoff          time.Duration
}

// DefaultRetryPolicy returns the default retry configuration: three retries
// at 5s, 10s and 20s, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRateLimitRetries: 3,
		BaseBackoff:         5 * time.Second,
		Multiplier:          2.0,
		MaxBackoff:          30 * time.Second,
	}
}

// ParseRetryPolicy builds a RetryPolicy from configuration, filling unset
// fields with defaults.
func ParseRetryPolicy(cfg types.RetryConfig) (RetryPolicy, error) {
	p := DefaultRetryPolicy()
	if cfg.MaxRateLimitRetries > 0 {
		p.MaxRateLimitRetries = cfg.MaxRateLimitRetries
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.BaseBackoff != "" {
		d, err := time.ParseDuration(cfg.BaseBackoff)
		if err != nil {
			return p, fmt.Errorf("invalid baseBackoff %q: %w", cfg.BaseBackoff, err)
		}
		p.BaseBackoff = d
	}
	if cfg.MaxBackoff != "" {
		d, err := time.ParseDuration(cfg.MaxBackoff)
		if err != nil {
			return p, fmt.Errorf("invalid maxBackoff %q: %w", cfg.MaxBackoff, err)
		}
		p.MaxBackoff = d
	}
	return p, nil
}

// Backoff returns the wait before rate-limit retry n+1, where n counts the
// retries already made: base * multiplier^n, capped at MaxBackoff.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(p.BaseBackoff) * math.Pow(multiplier, float64(n))
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(backoff)
}

// AttemptFunc performs one fetch with the given credential.
type AttemptFunc func(ctx context.Context, cred types.Credential) types.Outcome

// CredentialSource hands out the live credential and refreshes stale ones.
type CredentialSource interface {
	Current() types.Credential
	EnsureFresh(ctx context.Context, failed types.Credential) (types.Credential, error)
}

// retryState is a state of the per-entity retry machine.
type retryState int

const (
	stateAttempt retryState = iota
	stateBackoff
	stateRefresh
	stateAuthRetry
	stateDone
	stateGaveUp
	stateFatal
	stateDeferred
)

// Retrier drives entities through the retry state machine. It holds no
// per-entity state and is safe for concurrent use.
type Retrier struct {
	policy RetryPolicy
	creds  CredentialSource
	sleep  Sleeper
	logger *slog.Logger
}

// NewRetrier creates a Retrier. A nil sleeper uses real time.
func NewRetrier(policy RetryPolicy, creds CredentialSource, sleep Sleeper, logger *slog.Logger) *Retrier {
	if sleep == nil {
		sleep = ClockSleeper(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{policy: policy, creds: creds, sleep: sleep, logger: logger}
}

// Run performs attempts for one entity until it reaches a terminal state.
// GaveUp and Deferred resolutions are not errors. A fatal outcome returns
// an error wrapping ErrFatal; cancellation returns the context's error.
func (r *Retrier) Run(ctx context.Context, entity types.EntityID, attempt AttemptFunc) (types.Resolution, error) {
	res := types.Resolution{Entity: entity}
	cred := r.creds.Current()
	retries := 0
	var fatalErr error

	st := stateAttempt
	for {
		switch st {
		case stateAttempt, stateAuthRetry:
			if err := ctx.Err(); err != nil {
				return res, err
			}
			out := attempt(ctx, cred)
			if out.Kind != types.OutcomeDeferred {
				res.Attempts++
			}
			res.Outcome = out
			if err := ctx.Err(); err != nil {
				return res, err
			}
			st = r.next(st, out, retries)

		case stateBackoff:
			wait := r.policy.Backoff(retries)
			metrics.RetriesScheduled.Add(1)
			r.logger.Debug("rate limited, backing off", "entity", entity, "retry", retries+1, "wait", wait)
			if err := r.sleep(ctx, wait); err != nil {
				return res, err
			}
			retries++
			st = stateAttempt

		case stateRefresh:
			res.AuthFailed = true
			fresh, err := r.creds.EnsureFresh(ctx, cred)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				fatalErr = fmt.Errorf("%w: entity %s: credential refresh: %w", ErrFatal, entity, err)
				st = stateFatal
				continue
			}
			cred = fresh
			st = stateAuthRetry

		case stateDone:
			res.Kind = types.ResolutionDone
			return res, nil

		case stateGaveUp:
			if res.Outcome.Kind == types.OutcomeAuthExpired {
				res.AuthFailed = true
			}
			res.Kind = types.ResolutionGaveUp
			return res, nil

		case stateDeferred:
			res.Kind = types.ResolutionDeferred
			return res, nil

		case stateFatal:
			res.Kind = types.ResolutionFatal
			if fatalErr == nil {
				fatalErr = fmt.Errorf("%w: entity %s: %s", ErrFatal, entity, res.Outcome.Reason)
			}
			return res, fatalErr
		}
	}
}

// next maps an attempt's outcome to the following state.
func (r *Retrier) next(from retryState, out types.Outcome, retries int) retryState {
	switch out.Kind {
	case types.OutcomeSuccess, types.OutcomeNoData:
		return stateDone
	case types.OutcomeFatal:
		return stateFatal
	case types.OutcomeDeferred:
		return stateDeferred
	}

	// The retry after a refresh is the last one.
	if from == stateAuthRetry {
		return stateGaveUp
	}

	switch out.Kind {
	case types.OutcomeRateLimited:
		if retries < r.policy.MaxRateLimitRetries {
			return stateBackoff
		}
		return stateGaveUp
	case types.OutcomeAuthExpired:
		return stateRefresh
	default:
		return stateGaveUp
	}
}
