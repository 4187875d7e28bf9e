// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package perplexity implements the analysis provider on Perplexity's
// chat completions endpoint.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis"
)

const defaultBaseURL = "https://api.perplexity.ai"

// Config holds the Perplexity credentials and model.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient defaults to http.DefaultClient. Timeouts come from the
	// caller's context.
	HTTPClient *http.Client
}

// Provider calls the chat completions API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Perplexity provider.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("perplexity api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("perplexity model is required")
	}
	p := &Provider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: cfg.HTTPClient,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	return p, nil
}

func (p *Provider) Name() string { return "perplexity" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify returns the model's answer raw: chat models reply with JSON
// embedded in text, which Normalize extracts.
func (p *Provider) Classify(ctx context.Context, text string) (analysis.Payload, error) {
	content, err := p.complete(ctx, []chatMessage{
		{Role: "system", Content: "You are an email triage classifier. Reply with JSON only."},
		{Role: "user", Content: analysis.ClassificationPrompt(text)},
	}, 0.1)
	if err != nil {
		return analysis.Payload{}, err
	}
	return analysis.Raw(content), nil
}

// Generate returns the model's reply text for a drafting prompt.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, []chatMessage{
		{Role: "system", Content: "You write courteous customer support replies."},
		{Role: "user", Content: prompt},
	}, 0.4)
}

func (p *Provider) complete(ctx context.Context, msgs []chatMessage, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{Model: p.model, Messages: msgs, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", fmt.Errorf("perplexity: %w: %v", analysis.ErrServiceUnavailable, err)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("perplexity: %w", err)
		}
		return "", fmt.Errorf("perplexity: %w: %v", analysis.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Debug("perplexity error response", "status", resp.StatusCode, "body", string(snippet))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", fmt.Errorf("perplexity: HTTP %d: %w", resp.StatusCode, analysis.ErrRateLimited)
		case resp.StatusCode >= 500:
			return "", fmt.Errorf("perplexity: HTTP %d: %w", resp.StatusCode, analysis.ErrServiceUnavailable)
		}
		return "", fmt.Errorf("perplexity: HTTP %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("perplexity: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
