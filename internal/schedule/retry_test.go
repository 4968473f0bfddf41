package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tally/pkg/types"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type fakeCreds struct {
	mu       sync.Mutex
	cred     types.Credential
	refresh  func(failed types.Credential) (types.Credential, error)
	refreshN int
}

func (f *fakeCreds) Current() types.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred
}

func (f *fakeCreds) EnsureFresh(_ context.Context, failed types.Credential) (types.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	if f.refresh == nil {
		f.cred = types.Credential{Token: "fresh", Version: failed.Version + 1}
		return f.cred, nil
	}
	c, err := f.refresh(failed)
	if err == nil {
		f.cred = c
	}
	return c, err
}

// scripted returns an AttemptFunc that replays kinds in order and records
// the tokens it was called with.
func scripted(kinds ...types.OutcomeKind) (AttemptFunc, *[]string) {
	var tokens []string
	i := 0
	return func(_ context.Context, cred types.Credential) types.Outcome {
		tokens = append(tokens, cred.Token)
		k := kinds[len(kinds)-1]
		if i < len(kinds) {
			k = kinds[i]
		}
		i++
		return types.Outcome{Kind: k, Reason: string(k)}
	}, &tokens
}

func newTestRetrier(creds CredentialSource) (*Retrier, *recordingSleeper) {
	s := &recordingSleeper{}
	return NewRetrier(DefaultRetryPolicy(), creds, s.sleep, nil), s
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 30 * time.Second},
		{8, 30 * time.Second},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, p.Backoff(tc.retry), "retry %d", tc.retry)
	}
}

func TestBackoff_DefaultMultiplier(t *testing.T) {
	p := RetryPolicy{BaseBackoff: 10 * time.Second}
	assert.Equal(t, 20*time.Second, p.Backoff(1))
}

func TestParseRetryPolicy(t *testing.T) {
	p, err := ParseRetryPolicy(types.RetryConfig{MaxRateLimitRetries: 5, BaseBackoff: "1s", MaxBackoff: "4s"})
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxRateLimitRetries)
	assert.Equal(t, time.Second, p.BaseBackoff)
	assert.Equal(t, 4*time.Second, p.MaxBackoff)
	assert.Equal(t, 2.0, p.Multiplier)

	_, err = ParseRetryPolicy(types.RetryConfig{BaseBackoff: "later"})
	assert.Error(t, err)
}

func TestRun_Success(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{cred: types.Credential{Token: "t0"}})
	attempt, _ := scripted(types.OutcomeSuccess)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDone, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, s.waits)
}

func TestRun_NoDataIsDone(t *testing.T) {
	r, _ := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeNoData)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDone, res.Kind)
	assert.Equal(t, types.OutcomeNoData, res.Outcome.Kind)
}

func TestRun_RateLimitedBacksOffThenGivesUp(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeRateLimited)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionGaveUp, res.Kind)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, s.waits)
}

func TestRun_RateLimitedThenSuccess(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeRateLimited, types.OutcomeRateLimited, types.OutcomeSuccess)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDone, res.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, s.waits)
}

func TestRun_ServerTransientGivesUpImmediately(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeServerTransient)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionGaveUp, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, s.waits)
}

func TestRun_DeferredIsNotAnAttempt(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeDeferred)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDeferred, res.Kind)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, s.waits)
}

func TestRun_DeferredAfterRateLimit(t *testing.T) {
	r, _ := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeRateLimited, types.OutcomeDeferred)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDeferred, res.Kind)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_AuthExpiredRefreshesOnce(t *testing.T) {
	creds := &fakeCreds{cred: types.Credential{Token: "stale", Version: 1}}
	r, _ := newTestRetrier(creds)
	attempt, tokens := scripted(types.OutcomeAuthExpired, types.OutcomeSuccess)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDone, res.Kind)
	assert.True(t, res.AuthFailed)
	assert.Equal(t, 1, creds.refreshN)
	assert.Equal(t, []string{"stale", "fresh"}, *tokens)
}

func TestRun_AuthExpiredTwiceGivesUp(t *testing.T) {
	creds := &fakeCreds{cred: types.Credential{Token: "stale", Version: 1}}
	r, _ := newTestRetrier(creds)
	attempt, _ := scripted(types.OutcomeAuthExpired)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionGaveUp, res.Kind)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, creds.refreshN)
}

func TestRun_RateLimitedAfterRefreshGivesUp(t *testing.T) {
	r, s := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeAuthExpired, types.OutcomeRateLimited)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionGaveUp, res.Kind)
	assert.Empty(t, s.waits)
}

func TestRun_RefreshFailureIsFatal(t *testing.T) {
	refreshErr := errors.New("refresh returned no token")
	creds := &fakeCreds{refresh: func(types.Credential) (types.Credential, error) {
		return types.Credential{}, refreshErr
	}}
	r, _ := newTestRetrier(creds)
	attempt, _ := scripted(types.OutcomeAuthExpired)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, refreshErr)
	assert.Equal(t, types.ResolutionFatal, res.Kind)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_FatalOutcome(t *testing.T) {
	r, _ := newTestRetrier(&fakeCreds{})
	attempt, _ := scripted(types.OutcomeFatal)

	res, err := r.Run(context.Background(), "e1", attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "e1")
	assert.Equal(t, types.ResolutionFatal, res.Kind)
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultRetryPolicy(), &fakeCreds{}, func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}, nil)
	attempt, _ := scripted(types.OutcomeRateLimited)

	_, err := r.Run(ctx, "e1", attempt)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newTestRetrier(&fakeCreds{})
	attempt, tokens := scripted(types.OutcomeSuccess)

	_, err := r.Run(ctx, "e1", attempt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *tokens)
}
