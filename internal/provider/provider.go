package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

// ChatMessage is one turn of transcript sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System   string
	Messages []ChatMessage
}

type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider produces one assistant completion per call. Implementations are
// plain HTTP clients; retry policy lives in the worker, not here.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Name() string
}

// Error wraps a provider failure with enough classification for the worker
// to decide between retry and permanent failure.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status=%d %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the worker should re-queue after err.
// Timeouts, connection failures, 408/429 and 5xx are transient; every other
// HTTP failure (bad request, auth, quota-hard) is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

func classifyStatus(status int) bool {
	switch {
	case status == 408, status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// FromEnv builds the provider named by PROVIDER ("openai" or "anthropic",
// default openai).
func FromEnv(log *logger.Logger) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("PROVIDER")))
	switch name {
	case "", "openai":
		return NewOpenAIProvider(log)
	case "anthropic":
		return NewAnthropicProvider(log)
	default:
		return nil, fmt.Errorf("unknown PROVIDER %q", name)
	}
}
