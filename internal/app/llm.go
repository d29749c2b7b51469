package app

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
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelFunc is the completion contract the orchestration loop depends on:
// conversation so far in, one raw model turn out. Tests substitute a
// scripted implementation.
type ModelFunc func(ctx context.Context, model string, messages []ChatMessage) (string, error)

// LLMClient talks to an Ollama-compatible chat endpoint.
type LLMClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

type llmRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type llmResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

func NewLLMClient(baseURL, apiKey string) *LLMClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &LLMClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *LLMClient) Complete(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("model is required")
	}
	payload, err := json.Marshal(llmRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read llm response: %v", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm error: status %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsed llmResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return "", fmt.Errorf("invalid llm response format: %s", string(bodyBytes))
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("llm error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}
