package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type anthropicProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewAnthropicProvider(log *logger.Logger) (Provider, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	return &anthropicProvider{
		log:        log.With("provider", "anthropic"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  4096,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     p.model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var parsed anthropicResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("anthropic: decode response: %w", jsonErr)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &Error{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    msg,
			Retryable:  classifyStatus(resp.StatusCode),
		}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &Error{Provider: "anthropic", StatusCode: resp.StatusCode, Message: "empty content", Retryable: true}
	}

	return &Completion{
		Content:          sb.String(),
		Model:            p.model,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}
