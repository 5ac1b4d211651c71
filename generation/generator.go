// Package generation produces short Korean recommendation text with a
// language model, guarded by a timeout and a circuit breaker.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/genai"

	"skincare-service/metrics"
)

// ErrGeneration is matched by every generation failure. Timeouts also match
// context.DeadlineExceeded.
var ErrGeneration = errors.New("text generation failed")

// Request is one prompt.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// contentGenerator is the part of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls Gemini through google.golang.org/genai.
type GeminiGenerator struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int
}

func NewGeminiGenerator(client *genai.Client, model string, temperature float64, maxTokens int) *GeminiGenerator {
	return &GeminiGenerator{
		models:      client.Models,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("model returned no text")
	}
	return text, nil
}

// BreakerConfig configures Resilient.
type BreakerConfig struct {
	Timeout          time.Duration
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Resilient bounds every call with a timeout and trips a circuit breaker after
// consecutive failures.
type Resilient struct {
	next    Generator
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[string]
	logger  zerolog.Logger
}

const breakerName = "text-generation"

func NewResilient(next Generator, cfg BreakerConfig, logger zerolog.Logger) *Resilient {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	logger = logger.With().Str("component", "generation").Logger()

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})

	return &Resilient{next: next, timeout: cfg.Timeout, cb: cb, logger: logger}
}

func (r *Resilient) Generate(ctx context.Context, req Request) (string, error) {
	text, err := r.cb.Execute(func() (string, error) {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		text, err := r.next.Generate(callCtx, req)
		if err == nil {
			return text, nil
		}
		if callCtx.Err() != nil {
			return "", fmt.Errorf("%w: %w", err, callCtx.Err())
		}
		return "", err
	})
	if err != nil {
		metrics.GenerationFailures.WithLabelValues(failureReason(err)).Inc()
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return text, nil
}

// State exposes the breaker state for status reporting.
func (r *Resilient) State() string {
	return r.cb.State().String()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Disabled always fails; it stands in when no API key is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: generation is disabled", ErrGeneration)
}
