// Package fetcher issues one metrics request per entity and classifies the
// result.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/tally/internal/metrics"
	"github.com/dwsmith1983/tally/internal/quota"
	"github.com/dwsmith1983/tally/pkg/types"
)

const instrumentationName = "github.com/dwsmith1983/tally/internal/fetcher"

// DefaultRequestTimeout bounds a single request.
const DefaultRequestTimeout = 30 * time.Second

// DefaultFailThreshold is the number of consecutive server-transient
// outcomes that opens the breaker.
const DefaultFailThreshold = 25

// DefaultCooldown is how long an open breaker rejects requests.
const DefaultCooldown = 30 * time.Second

// minAdmitWait is the shortest hold-off Admit reports while the breaker is
// open.
const minAdmitWait = 10 * time.Millisecond

var (
	authPatterns  = []string{"invalid_token", "unauthenticated", "autherror", "invalid credentials", "expired"}
	quotaPatterns = []string{"ratelimitexceeded", "quotaexceeded", "userratelimitexceeded"}
)

// errTransient marks a server-transient attempt for the breaker.
var errTransient = errors.New("server transient")

// Config configures a Fetcher.
type Config struct {
	BaseURL string
	Metrics []string
	Timeout time.Duration
	Breaker types.BreakerConfig
	Client  *http.Client
	Tracker *quota.Tracker
	Gate    *quota.Gate
	Clock   quartz.Clock
	Logger  *slog.Logger
}

// Fetcher performs single metrics requests. It never retries.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	metrics  string
	timeout  time.Duration
	tracker  *quota.Tracker
	gate     *quota.Gate
	breaker  *gobreaker.CircuitBreaker
	cooldown time.Duration
	openedAt atomic.Int64
	clock    quartz.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	requests metric.Int64Counter
}

// New creates a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api.baseUrl is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("rate tracker is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = DefaultMetrics
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &Fetcher{
		client:  cfg.Client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		metrics: strings.Join(cfg.Metrics, ","),
		timeout: cfg.Timeout,
		tracker: cfg.Tracker,
		gate:    cfg.Gate,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(instrumentationName),
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("tally.requests",
		metric.WithDescription("Metrics API requests by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}
	f.requests = counter

	if !cfg.Breaker.Disabled {
		if err := f.initBreaker(cfg.Breaker); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Fetcher) initBreaker(cfg types.BreakerConfig) error {
	threshold := cfg.FailThreshold
	if threshold == 0 {
		threshold = DefaultFailThreshold
	}
	f.cooldown = DefaultCooldown
	if cfg.Cooldown != "" {
		d, err := time.ParseDuration(cfg.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid breaker.cooldown %q: %w", cfg.Cooldown, err)
		}
		f.cooldown = d
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "metrics-api",
		Timeout: f.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				// gobreaker times its cooldown on the wall clock.
				f.openedAt.Store(time.Now().UnixNano())
				metrics.BreakerTrips.Add(1)
			}
			f.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return nil
}

// Admit reports whether the backend is taking requests. While the breaker
// is open it returns how long to hold off; while half-open it returns the
// number of trial requests allowed. Zero values mean no restriction.
func (f *Fetcher) Admit() (wait time.Duration, limit int) {
	if f.breaker == nil {
		return 0, 0
	}
	switch f.breaker.State() {
	case gobreaker.StateOpen:
		wait = f.cooldown - time.Since(time.Unix(0, f.openedAt.Load()))
		if wait < minAdmitWait {
			wait = minAdmitWait
		}
		return wait, 0
	case gobreaker.StateHalfOpen:
		return 0, 1
	default:
		return 0, 0
	}
}

// Fetch issues one request for entity on date and classifies the response.
func (f *Fetcher) Fetch(ctx context.Context, entity types.EntityID, date string, cred types.Credential) types.Outcome {
	ctx, span := f.tracer.Start(ctx, "fetcher.Fetch", trace.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("date", date),
	))
	defer span.End()

	var out types.Outcome
	if f.breaker == nil {
		out = f.do(ctx, entity, date, cred)
	} else {
		_, err := f.breaker.Execute(func() (interface{}, error) {
			out = f.do(ctx, entity, date, cred)
			if out.Kind == types.OutcomeServerTransient && ctx.Err() == nil {
				return nil, errTransient
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RequestsDeferred.Add(1)
			span.SetAttributes(attribute.String("outcome", string(types.OutcomeDeferred)))
			return types.Outcome{Kind: types.OutcomeDeferred, Reason: "circuit open"}
		}
	}

	f.count(ctx, out)
	span.SetAttributes(attribute.String("outcome", string(out.Kind)), attribute.Int("http.status_code", out.StatusCode))
	if !out.Kind.IsTerminalSuccess() {
		span.SetStatus(codes.Error, out.Reason)
	}
	return out
}

func (f *Fetcher) do(ctx context.Context, entity types.EntityID, date string, cred types.Credential) types.Outcome {
	if err := f.gate.Wait(ctx); err != nil {
		return types.Outcome{Kind: types.OutcomeServerTransient, Reason: fmt.Sprintf("rate gate: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(entity, date), nil)
	if err != nil {
		return types.Outcome{Kind: types.OutcomeFatal, Reason: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Accept", "application/json")

	f.tracker.RecordRequest()
	metrics.RequestsIssued.Add(1)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.Outcome{Kind: types.OutcomeServerTransient, Reason: "request timeout"}
		}
		return types.Outcome{Kind: types.OutcomeServerTransient, Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Outcome{Kind: types.OutcomeServerTransient, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return f.decode(entity, date, resp.StatusCode, body)
	}
	return types.Outcome{
		Kind:       Classify(resp.StatusCode, body),
		StatusCode: resp.StatusCode,
		Reason:     fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 200)),
	}
}

func (f *Fetcher) decode(entity types.EntityID, date string, status int, body []byte) types.Outcome {
	report, err := ParseReport(body)
	if err != nil {
		return types.Outcome{Kind: types.OutcomeServerTransient, StatusCode: status, Reason: err.Error()}
	}
	if report.Empty() {
		return types.Outcome{Kind: types.OutcomeNoData, StatusCode: status}
	}
	rec, err := MapRecord(report, entity, date, f.clock.Now("fetcher", "fetched"))
	if err != nil {
		return types.Outcome{Kind: types.OutcomeServerTransient, StatusCode: status, Reason: err.Error()}
	}
	return types.Outcome{Kind: types.OutcomeSuccess, StatusCode: status, Record: rec}
}

func (f *Fetcher) requestURL(entity types.EntityID, date string) string {
	q := url.Values{}
	q.Set("entity", string(entity))
	q.Set("date", date)
	q.Set("metrics", f.metrics)
	return f.baseURL + "/metrics?" + q.Encode()
}

func (f *Fetcher) count(ctx context.Context, out types.Outcome) {
	f.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(out.Kind))))
	switch out.Kind {
	case types.OutcomeSuccess:
		metrics.RequestsSucceeded.Add(1)
	case types.OutcomeNoData:
		metrics.RequestsNoData.Add(1)
	case types.OutcomeRateLimited:
		metrics.RequestsRateLimited.Add(1)
	case types.OutcomeServerTransient:
		metrics.RequestsTransient.Add(1)
	case types.OutcomeAuthExpired:
		metrics.RequestsAuthExpired.Add(1)
	case types.OutcomeFatal:
		metrics.RequestsFatal.Add(1)
	}
}

// Classify maps a non-2xx status and its body to an outcome kind.
func Classify(status int, body []byte) types.OutcomeKind {
	switch {
	case status == http.StatusUnauthorized:
		return types.OutcomeAuthExpired
	case status == http.StatusTooManyRequests:
		return types.OutcomeRateLimited
	case status == http.StatusForbidden:
		lower := strings.ToLower(string(body))
		// Quota messages may also say "expired".
		if containsAny(lower, quotaPatterns) {
			return types.OutcomeRateLimited
		}
		if containsAny(lower, authPatterns) {
			return types.OutcomeAuthExpired
		}
		return types.OutcomeServerTransient
	case status == http.StatusNotFound:
		return types.OutcomeNoData
	case status >= 400 && status < 500:
		return types.OutcomeFatal
	default:
		return types.OutcomeServerTransient
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
