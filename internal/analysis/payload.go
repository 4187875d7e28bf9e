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

package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// ErrMalformedPayload is returned by Normalize when a provider response
// cannot be turned into an AnalysisResult.
var ErrMalformedPayload = errors.New("malformed analysis payload")

// PayloadKind tags which shape a Payload carries.
type PayloadKind int

const (
	// KindStructured payloads were decoded by the provider into fields.
	KindStructured PayloadKind = iota + 1
	// KindRaw payloads are text that should contain a JSON object.
	KindRaw
)

func (k PayloadKind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindRaw:
		return "raw"
	}
	return "unknown"
}

// Payload is a classifier response in one of two shapes. Callers never read
// fields from it directly; they call Normalize.
type Payload struct {
	kind   PayloadKind
	fields map[string]any
	raw    string
}

// Structured wraps an already-decoded response object.
func Structured(fields map[string]any) Payload {
	return Payload{kind: KindStructured, fields: fields}
}

// Raw wraps a text response.
func Raw(text string) Payload {
	return Payload{kind: KindRaw, raw: text}
}

// Kind reports the payload's shape.
func (p Payload) Kind() PayloadKind { return p.kind }

// Normalize converts either shape into an AnalysisResult. Any failure wraps
// ErrMalformedPayload.
func (p Payload) Normalize() (models.AnalysisResult, error) {
	switch p.kind {
	case KindStructured:
		return normalizeFields(p.fields)
	case KindRaw:
		fields, err := decodeRaw(p.raw)
		if err != nil {
			return models.AnalysisResult{}, err
		}
		return normalizeFields(fields)
	}
	return models.AnalysisResult{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
}

// decodeRaw pulls a JSON object out of model text. It tolerates code fences,
// prose around the object, and an object that was itself JSON-encoded as a
// string.
func decodeRaw(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)

	var inner string
	if strings.HasPrefix(text, `"`) && json.Unmarshal([]byte(text), &inner) == nil {
		text = strings.TrimSpace(inner)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedPayload)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return fields, nil
}

func normalizeFields(fields map[string]any) (models.AnalysisResult, error) {
	if fields == nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: nil object", ErrMalformedPayload)
	}

	// Some prompts return {"analysis": {...}}.
	if nested, ok := fields["analysis"].(map[string]any); ok {
		fields = nested
	}

	var out models.AnalysisResult

	label, err := labelField(fields, "sentiment")
	if err != nil {
		return out, err
	}
	if out.Sentiment, err = models.ParseSentiment(label); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if label, err = labelField(fields, "priority"); err != nil {
		return out, err
	}
	if out.Priority, err = models.ParsePriority(label); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if label, err = labelField(fields, "category"); err != nil {
		return out, err
	}
	if out.Category, err = models.ParseCategory(label); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if out.Confidence, err = confidenceField(fields); err != nil {
		return out, err
	}
	out.Keywords = keywordsField(fields["keywords"])
	return out, nil
}

// labelField reads a string field, or the "label" of an object field such as
// {"sentiment": {"label": "negative", "score": 0.8}}.
func labelField(fields map[string]any, key string) (string, error) {
	switch v := fields[key].(type) {
	case string:
		return v, nil
	case map[string]any:
		for _, k := range []string{"label", key, "value"} {
			if s, ok := v[k].(string); ok {
				return s, nil
			}
		}
		return "", fmt.Errorf("%w: %s object has no label", ErrMalformedPayload, key)
	case nil:
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, key)
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrMalformedPayload, key, v)
	}
}

func confidenceField(fields map[string]any) (float64, error) {
	var c float64
	switch v := fields["confidence"].(type) {
	case nil:
		return 0, nil
	case float64:
		c = v
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(v), "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: confidence %q", ErrMalformedPayload, v)
		}
		c = f
		if strings.HasSuffix(strings.TrimSpace(v), "%") {
			c /= 100
		}
	default:
		return 0, fmt.Errorf("%w: confidence has type %T", ErrMalformedPayload, v)
	}
	if math.IsNaN(c) {
		return 0, fmt.Errorf("%w: confidence is NaN", ErrMalformedPayload)
	}
	return math.Max(0, math.Min(1, c)), nil
}

func keywordsField(v any) []string {
	var raw []string
	switch kw := v.(type) {
	case []any:
		for _, item := range kw {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(kw, ",")
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
