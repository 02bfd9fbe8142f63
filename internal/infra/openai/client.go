package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ezra-digest/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxResponse    = 4 << 20
)

var (
	// ErrEmptyCompletion возвращается, если модель не вернула текста.
	ErrEmptyCompletion = errors.New("openai: empty completion")
	// ErrNoAPIKey возвращается при вызове без ключа.
	ErrNoAPIKey = errors.New("openai: api key is empty")
)

// APIError — ошибка, которую вернул сам API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai: unexpected status %d", e.Status)
	}
	return "openai: " + e.Message
}

// Client вызывает Chat Completions.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента. Пустой baseURL означает публичный API OpenAI.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout + 5*time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete отправляет системную инструкцию и текст пользователя и возвращает
// первый ответ модели без крайних пробелов.
func (c *Client) Complete(ctx context.Context, model, system, user string, temperature float64) (string, error) {
	resp, err := c.chat(ctx, chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *Client) chat(ctx context.Context, req chatRequest) (out chatResponse, err error) {
	if c.apiKey == "" {
		return out, ErrNoAPIKey
	}
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
		if err == nil && out.Usage != nil {
			metrics.ObserveLLMGeneration(req.Model, time.Since(start), out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
		}
	}()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return out, fmt.Errorf("openai: read response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil && out.Error != nil {
			apiErr.Message = out.Error.Message
		}
		return chatResponse{}, apiErr
	}
	if decodeErr != nil {
		return chatResponse{}, fmt.Errorf("openai: decode response: %w", decodeErr)
	}
	return out, nil
}
