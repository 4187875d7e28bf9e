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

// Package gemini implements the analysis provider on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/adhiiiii6389/email-analysis-bot/internal/analysis"
)

// Config holds the Gemini credentials and model.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// Provider calls Gemini for classification and drafting.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

func (p *Provider) Name() string { return "gemini" }

var classificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sentiment": {Type: genai.TypeString, Enum: []string{"positive", "negative", "neutral"}},
		"priority":  {Type: genai.TypeString, Enum: []string{"urgent", "normal"}},
		"category": {Type: genai.TypeString, Enum: []string{
			"technical_issue", "account_support", "product_inquiry", "billing", "general",
		}},
		"keywords":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence": {Type: genai.TypeNumber},
	},
	Required: []string{"sentiment", "priority", "category", "keywords", "confidence"},
}

// Classify asks for a JSON verdict. A response that decodes as an object is
// returned structured; anything else is handed back raw for normalisation.
func (p *Provider) Classify(ctx context.Context, text string) (analysis.Payload, error) {
	resp, err := p.client.Models.GenerateContent(
		ctx,
		p.model,
		genai.Text(analysis.ClassificationPrompt(text)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   classificationSchema,
		},
	)
	if err != nil {
		return analysis.Payload{}, classifyErr(err)
	}

	out := resp.Text()
	var fields map[string]any
	if err := json.Unmarshal([]byte(out), &fields); err == nil {
		return analysis.Structured(fields), nil
	}
	return analysis.Raw(out), nil
}

// Generate returns plain text for a drafting prompt.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(
		ctx,
		p.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{CandidateCount: 1},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.Text(), nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("gemini: %w: %v", analysis.ErrRateLimited, err)
		case apiErr.Code/100 == 5:
			return fmt.Errorf("gemini: %w: %v", analysis.ErrServiceUnavailable, err)
		}
		return fmt.Errorf("gemini: %w", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("gemini: %w: %v", analysis.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
