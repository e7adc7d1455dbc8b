// Package ai runs every language-model call through one rate limiter, one
// circuit breaker and a retry policy, and turns loose model output into
// typed values.
package ai

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/cost"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/pkg/anthropic"
)

// ErrUnavailable is returned when no client is configured.
var ErrUnavailable = eris.New("ai: service unavailable")

// Request is a single-turn completion.
type Request struct {
	// Phase labels the call for cost attribution.
	Phase       string
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

// Completer is the interface consumers depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Service implements Completer over an anthropic.Client.
type Service struct {
	client    anthropic.Client
	limiter   *AdaptiveLimiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
	timeout   time.Duration
	model     string
	maxTokens int64
	calc      *cost.Calculator
	ledger    *cost.Ledger
}

// NewService wires a Service from configuration. A nil client yields a
// Service whose calls fail fast with ErrUnavailable.
func NewService(client anthropic.Client, cfg *config.Config, ledger *cost.Ledger) *Service {
	retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("anthropic.create_message")

	timeout := time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.Anthropic.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if ledger == nil {
		ledger = cost.NewLedger()
	}

	return &Service{
		client:    client,
		limiter:   NewAdaptiveLimiter(cfg.Anthropic.RequestsPerSecond, max(1, int(cfg.Anthropic.RequestsPerSecond))),
		breaker:   resilience.NewCircuitBreaker(resilience.FromCircuitConfig("anthropic", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
		retry:     retry,
		timeout:   timeout,
		model:     cfg.Anthropic.Model,
		maxTokens: maxTokens,
		calc:      cost.FromConfig(cfg.Pricing),
		ledger:    ledger,
	}
}

// Available reports whether calls can be attempted at all.
func (s *Service) Available() bool {
	return s != nil && s.client != nil && s.breaker.State() != resilience.CircuitOpen
}

// ResetBreaker closes the Anthropic circuit breaker so calls resume before
// the reset timeout runs out.
func (s *Service) ResetBreaker() {
	if s == nil {
		return
	}
	s.breaker.Reset()
}

// Ledger returns the per-phase cost ledger.
func (s *Service) Ledger() *cost.Ledger {
	return s.ledger
}

// Complete sends req and returns the response text. Transient failures are
// retried; repeated failures open the breaker, after which calls return
// resilience.ErrCircuitOpen without reaching the API.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrUnavailable
	}
	if req.Model == "" {
		req.Model = s.model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.maxTokens
	}

	return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
			return s.call(ctx, req)
		})
	})
}

func (s *Service) call(ctx context.Context, req Request) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "ai: rate limiter")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &req.Temperature,
	}
	if req.System != "" {
		msg.System = []anthropic.SystemBlock{{Text: req.System}}
	}

	resp, err := s.client.CreateMessage(callCtx, msg)
	if err != nil {
		code := anthropic.StatusCode(err)
		if code == 429 {
			s.limiter.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(code) || (callCtx.Err() != nil && ctx.Err() == nil) {
			return "", resilience.NewTransientError(err, code)
		}
		return "", err
	}
	s.limiter.OnSuccess()

	usd := s.calc.Claude(req.Model, resp.Usage)
	s.ledger.Add(req.Phase, resp.Usage, usd)
	resp.Usage.LogCost(req.Model, req.Phase, usd)

	text := resp.Text()
	if text == "" {
		zap.L().Debug("ai: empty response", zap.String("phase", req.Phase), zap.String("stop_reason", resp.StopReason))
	}
	return text, nil
}
