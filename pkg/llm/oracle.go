package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
)

// DefaultOracleTimeout bounds a single provider call.
const DefaultOracleTimeout = 60 * time.Second

// OracleConfig configures an Oracle.
type OracleConfig struct {
	Timeout time.Duration
	Breaker CircuitBreakerConfig
}

// Oracle is the pipeline's only way to reach the language model. Calls are
// detached from request cancellation: a cancelled request returns at once,
// the provider call runs to its own timeout and its output is dropped.
type Oracle struct {
	client  LLMClient
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

// NewOracle wraps client.
func NewOracle(client LLMClient, cfg OracleConfig, logger *zap.Logger) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOracleTimeout
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}
	return &Oracle{
		client:  client,
		breaker: NewCircuitBreaker(cfg.Breaker),
		timeout: cfg.Timeout,
		logger:  logger.Named("oracle"),
	}
}

type outcome struct {
	text string
	err  error
}

// Complete sends p and returns the raw reply text with reasoning blocks
// removed.
func (o *Oracle) Complete(ctx context.Context, p prompts.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := o.breaker.Allow(); err != nil {
		return "", apperrors.Wrap(apperrors.KindLLMUnavailable, "", err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	done := make(chan outcome, 1)

	go func() {
		defer cancel()
		start := time.Now()
		res, err := o.client.GenerateResponse(callCtx, p.User, p.System, p.Temperature)
		if err != nil {
			o.breaker.RecordFailure()
			o.logger.Warn("Language model call failed",
				zap.String("model", o.client.GetModel()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("error", logging.SanitizeError(err)))
			done <- outcome{err: ToAppError(err)}
			return
		}
		o.breaker.RecordSuccess()
		text := strings.TrimSpace(thinkTagPattern.ReplaceAllString(res.Content, ""))
		done <- outcome{text: text}
	}()

	select {
	case <-ctx.Done():
		o.logger.Debug("Request cancelled before the language model replied; reply will be dropped")
		return "", ctx.Err()
	case out := <-done:
		return out.text, out.err
	}
}

// GenerateSQL sends a SQL prompt and parses the reply envelope.
func (o *Oracle) GenerateSQL(ctx context.Context, p prompts.Prompt) (*Envelope, error) {
	text, err := o.Complete(ctx, p)
	if err != nil {
		return nil, err
	}
	env, err := ParseEnvelope(text)
	if err != nil {
		o.logger.Warn("Malformed SQL envelope",
			zap.Int("reply_len", len(text)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return env, nil
}

// Classify sends p and decodes the first JSON object of the reply into out.
func (o *Oracle) Classify(ctx context.Context, p prompts.Prompt, out any) error {
	text, err := o.Complete(ctx, p)
	if err != nil {
		return err
	}
	obj, err := ExtractJSON(text)
	if err != nil {
		return apperrors.Wrap(apperrors.KindLLMMalformed, "", err)
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return apperrors.Wrap(apperrors.KindLLMMalformed, "", err)
	}
	return nil
}

// Stats returns the circuit breaker snapshot.
func (o *Oracle) Stats() BreakerStats {
	return o.breaker.Stats()
}
