// Package credential coordinates bearer credential refreshes across
// concurrent fetches.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/dwsmith1983/tally/internal/metrics"
	"github.com/dwsmith1983/tally/pkg/types"
)

// ErrRefreshFailed is returned once the refresh collaborator has produced no
// usable token. It is sticky: every later call returns it too.
var ErrRefreshFailed = errors.New("credential refresh failed")

// Refresher obtains a new bearer token. An empty token means none could be
// obtained.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}

// Coordinator owns the live credential. Concurrent callers that observe the
// same stale credential share a single refresh.
type Coordinator struct {
	mu        sync.RWMutex
	live      types.Credential
	failure   error
	refresher Refresher
	clock     quartz.Clock
	group     singleflight.Group
	logger    *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used to stamp refreshes.
func WithClock(c quartz.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// NewCoordinator creates a Coordinator holding token at version 1.
func NewCoordinator(token string, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher: refresher,
		clock:     quartz.NewReal(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.live = types.Credential{Token: token, Version: 1, RefreshedAt: c.clock.Now("credential", "init")}
	return c
}

// Current returns the live credential.
func (c *Coordinator) Current() types.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Failed reports whether the coordinator has given up on refreshing.
func (c *Coordinator) Failed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure != nil
}

// EnsureFresh returns a credential newer than failed. If the live credential
// has already moved past failed it is returned immediately; otherwise the
// caller joins the in-flight refresh for that version or starts one.
func (c *Coordinator) EnsureFresh(ctx context.Context, failed types.Credential) (types.Credential, error) {
	c.mu.RLock()
	live, failure := c.live, c.failure
	c.mu.RUnlock()
	if failure != nil {
		return types.Credential{}, failure
	}
	if live.Version != failed.Version {
		return live, nil
	}

	return c.join(ctx, strconv.Itoa(failed.Version), failed.Version, false)
}

// ForceRefresh refreshes the live credential regardless of whether a fetch
// has failed with it. The live credential has not been seen failing, so an
// unchanged token leaves it in place instead of failing the coordinator.
func (c *Coordinator) ForceRefresh(ctx context.Context) (types.Credential, error) {
	c.mu.RLock()
	live, failure := c.live, c.failure
	c.mu.RUnlock()
	if failure != nil {
		return types.Credential{}, failure
	}
	return c.join(ctx, "force:"+strconv.Itoa(live.Version), live.Version, true)
}

// join waits for the refresh registered under key, starting it if needed.
func (c *Coordinator) join(ctx context.Context, key string, version int, proactive bool) (types.Credential, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.refresh(ctx, version, proactive)
	})
	select {
	case <-ctx.Done():
		return types.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.Credential{}, res.Err
		}
		return res.Val.(types.Credential), nil
	}
}

func (c *Coordinator) refresh(ctx context.Context, version int, proactive bool) (types.Credential, error) {
	c.mu.RLock()
	live, failure := c.live, c.failure
	c.mu.RUnlock()
	if failure != nil {
		return types.Credential{}, failure
	}
	if live.Version != version {
		return live, nil
	}

	token, err := c.refresher.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		// A cancelled refresh is not a verdict on the credential.
		return types.Credential{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if proactive && err == nil && token == c.live.Token {
		c.logger.Info("credential still valid", "version", c.live.Version)
		return c.live, nil
	}
	switch {
	case err != nil:
		c.failure = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	case token == "":
		c.failure = fmt.Errorf("%w: no token returned", ErrRefreshFailed)
	case token == c.live.Token:
		c.failure = fmt.Errorf("%w: token unchanged", ErrRefreshFailed)
	}
	if c.failure != nil {
		metrics.RefreshFailures.Add(1)
		c.logger.Error("credential refresh failed", "version", version, "error", c.failure)
		return types.Credential{}, c.failure
	}

	c.live = types.Credential{
		Token:       token,
		Version:     c.live.Version + 1,
		RefreshedAt: c.clock.Now("credential", "refresh"),
	}
	metrics.CredentialRefreshes.Add(1)
	c.logger.Info("credential refreshed", "version", c.live.Version)
	return c.live, nil
}
