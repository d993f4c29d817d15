package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/metrics"
)

// ErrTransientService is returned once the retry budget is spent on
// transient failures (rate limits, overload, gateway errors, timeouts).
var ErrTransientService = errors.New("transient service failure")

// Outcome classifies the result of one model call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// statusOverloaded is Anthropic's "overloaded" status.
const statusOverloaded = 529

// Classify maps an error from a provider to an Outcome.
//
// Rate limits (429), gateway failures (502, 503, 504), provider overload (529)
// and an expired per-attempt deadline are retryable. Everything else is fatal.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			statusOverloaded:
			return OutcomeRetryable
		}
		return OutcomeFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeRetryable
	}
	return OutcomeFatal
}

// RetryPolicy bounds how a transient failure is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// AttemptTimeout caps each attempt; zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 5 attempts backing off from 500ms up to 10s,
// each attempt limited to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		AttemptTimeout:  60 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	// the attempt budget is the only stop condition
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Retry runs fn under the policy and reports how many attempts were made.
//
// Only errors that Classify marks retryable are retried. When the budget runs
// out the last error is returned wrapped in ErrTransientService. onRetry, if
// non-nil, is called before each backoff wait.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error, wait time.Duration)) (T, int, error) {
	var (
		result   T
		attempts int
	)

	op := func() error {
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			result = v
			return nil
		}
		if ctx.Err() != nil || Classify(err) != OutcomeRetryable {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(op, policy.backOff(ctx), notify)
	switch {
	case err == nil:
		return result, attempts, nil
	case ctx.Err() != nil:
		return result, attempts, err
	case Classify(err) == OutcomeRetryable:
		return result, attempts, fmt.Errorf("%w after %d attempts: %w", ErrTransientService, attempts, err)
	default:
		return result, attempts, err
	}
}

// Result describes a completed call through a RetryingProvider.
type Result struct {
	Completion *Completion
	Outcome    Outcome
	Attempts   int
}

// RetryingProvider decorates a Provider with the retry policy.
type RetryingProvider struct {
	inner   Provider
	name    string
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// RetryOption configures a RetryingProvider.
type RetryOption func(*RetryingProvider)

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *zap.Logger) RetryOption {
	return func(p *RetryingProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records call outcomes, retries and token usage.
func WithMetrics(m *metrics.Recorder) RetryOption {
	return func(p *RetryingProvider) {
		p.metrics = m
	}
}

// WithProviderName sets the label used in logs and metrics.
func WithProviderName(name string) RetryOption {
	return func(p *RetryingProvider) {
		p.name = name
	}
}

// NewRetryingProvider wraps inner with policy.
func NewRetryingProvider(inner Provider, policy RetryPolicy, opts ...RetryOption) *RetryingProvider {
	p := &RetryingProvider{
		inner:  inner,
		name:   "llm",
		policy: policy,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete implements Provider.
func (p *RetryingProvider) Complete(ctx context.Context, systemRole, prompt string, opts ...GenerateOption) (*Completion, error) {
	res, err := p.CompleteWithResult(ctx, systemRole, prompt, opts...)
	if err != nil {
		return nil, err
	}
	return res.Completion, nil
}

// CompleteWithResult is Complete with the outcome and attempt count exposed.
// The Result is non-nil even when err is not.
func (p *RetryingProvider) CompleteWithResult(ctx context.Context, systemRole, prompt string, opts ...GenerateOption) (*Result, error) {
	start := time.Now()

	completion, attempts, err := Retry(ctx, p.policy,
		func(ctx context.Context) (*Completion, error) {
			return p.inner.Complete(ctx, systemRole, prompt, opts...)
		},
		func(attempt int, err error, wait time.Duration) {
			p.metrics.RecordLLMRetry(p.name)
			p.logger.Warn("transient model failure, retrying",
				zap.String("provider", p.name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
		},
	)

	res := &Result{Completion: completion, Attempts: attempts, Outcome: OutcomeSuccess}
	if err != nil {
		res.Outcome = OutcomeFatal
		if errors.Is(err, ErrTransientService) {
			res.Outcome = OutcomeRetryable
		}
	}

	p.metrics.RecordLLMCall(p.name, res.Outcome.String(), attempts, time.Since(start))
	if completion != nil {
		p.metrics.RecordLLMTokens(p.name, completion.TotalTokens)
	}

	if err != nil {
		p.logger.Error("model call failed",
			zap.String("provider", p.name),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return res, err
	}
	return res, nil
}

// Close closes the wrapped provider.
func (p *RetryingProvider) Close() error {
	return p.inner.Close()
}
