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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mail sources.
const (
	SourceGraph = "graph"
	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceEML   = "eml"
)

// ServerConfig configures the operator API.
type ServerConfig struct {
	Port      int `validate:"min=1,max=65535"`
	JWTSecret string
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver      string `validate:"oneof=postgres sqlite memory"`
	DatabaseURL string `validate:"required_if=Driver postgres"`
	SQLitePath  string `validate:"required_if=Driver sqlite"`
}

// RedisConfig configures the in-flight guard and the report queue. An empty
// URL runs without Redis.
type RedisConfig struct {
	URL         string
	Queue       string        `validate:"required"`
	InflightTTL time.Duration `validate:"gt=0"`
}

// AnalysisConfig selects and tunes the classification provider.
type AnalysisConfig struct {
	Provider string `validate:"oneof=gemini perplexity offline"`
	Model    string `validate:"required_unless=Provider offline"`

	GeminiAPIKey      string `validate:"required_if=Provider gemini"`
	GeminiBaseURL     string `validate:"omitempty,url"`
	PerplexityAPIKey  string `validate:"required_if=Provider perplexity"`
	PerplexityBaseURL string `validate:"omitempty,url"`

	RateLimitRPS   float64       `validate:"gte=0"`
	MaxAttempts    int           `validate:"min=1"`
	RequestTimeout time.Duration `validate:"gt=0"`
	BackoffInitial time.Duration `validate:"gt=0"`
	BackoffMax     time.Duration `validate:"gtefield=BackoffInitial"`
}

// FilterConfig overrides the support keywords and urgent terms. Empty lists
// keep the built-in vocabularies.
type FilterConfig struct {
	Keywords    []string
	UrgentTerms []string
}

// GraphConfig holds Microsoft Graph app credentials for one mailbox.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Mailbox      string
	BaseURL      string `validate:"omitempty,url"`
	PageDelay    time.Duration
}

// GmailConfig points at an OAuth2 credentials file for the Gmail API.
type GmailConfig struct {
	CredentialsFile string
	User            string
	Query           string
}

// IMAPConfig holds the IMAP server and login.
type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	TLS      bool
}

// MailConfig selects the mail source and carries every source's settings.
type MailConfig struct {
	Source string `validate:"oneof=graph gmail imap eml"`
	Graph  GraphConfig
	Gmail  GmailConfig
	IMAP   IMAPConfig
	EMLDir string
}

// PipelineConfig tunes batch runs and the poll schedule.
type PipelineConfig struct {
	Workers      int           `validate:"min=1,max=64"`
	BatchTimeout time.Duration `validate:"gte=0"`
	PollInterval time.Duration `validate:"gt=0"`
	PollLookback time.Duration `validate:"gtefield=PollInterval"`
}

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
}

// Config holds all configuration for the triage service.
type Config struct {
	LogLevel string `validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Analysis AnalysisConfig
	Filter   FilterConfig
	Mail     MailConfig
	Pipeline PipelineConfig
	Sentry   SentryConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port      int    `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Store struct {
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Redis struct {
		URL         string `yaml:"url"`
		Queue       string `yaml:"queue"`
		InflightTTL string `yaml:"inflight_ttl"`
	} `yaml:"redis"`
	Analysis struct {
		Provider       string  `yaml:"provider"`
		Model          string  `yaml:"model"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		MaxAttempts    int     `yaml:"max_attempts"`
		RequestTimeout string  `yaml:"request_timeout"`
		BackoffInitial string  `yaml:"backoff_initial"`
		BackoffMax     string  `yaml:"backoff_max"`
		Gemini         struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"gemini"`
		Perplexity struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"perplexity"`
	} `yaml:"analysis"`
	Filter struct {
		Keywords    []string `yaml:"keywords"`
		UrgentTerms []string `yaml:"urgent_terms"`
	} `yaml:"filter"`
	Mail struct {
		Source string `yaml:"source"`
		Graph  struct {
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			Mailbox      string `yaml:"mailbox"`
			BaseURL      string `yaml:"base_url"`
			PageDelay    string `yaml:"page_delay"`
		} `yaml:"graph"`
		Gmail struct {
			CredentialsFile string `yaml:"credentials_file"`
			User            string `yaml:"user"`
			Query           string `yaml:"query"`
		} `yaml:"gmail"`
		IMAP struct {
			Addr     string `yaml:"addr"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Mailbox  string `yaml:"mailbox"`
			TLS      *bool  `yaml:"tls"`
		} `yaml:"imap"`
		EML struct {
			Dir string `yaml:"dir"`
		} `yaml:"eml"`
	} `yaml:"mail"`
	Pipeline struct {
		Workers      int    `yaml:"workers"`
		BatchTimeout string `yaml:"batch_timeout"`
		PollInterval string `yaml:"poll_interval"`
		PollLookback string `yaml:"poll_lookback"`
	} `yaml:"pipeline"`
	Sentry struct {
		DSN         string `yaml:"dsn"`
		Environment string `yaml:"environment"`
	} `yaml:"sentry"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := envOrDefault("CONFIG_PATH", "config/config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse builds a validated Config from YAML bytes. ${VAR} references are
// expanded from the environment.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	durations := &durationParser{}
	cfg := &Config{
		LogLevel: strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:      firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
			JWTSecret: firstNonEmpty(raw.Server.JWTSecret, os.Getenv("JWT_SECRET")),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(firstNonEmpty(raw.Store.Driver, envOrDefault("STORE_DRIVER", "sqlite"))),
			DatabaseURL: firstNonEmpty(raw.Store.DatabaseURL, os.Getenv("DATABASE_URL")),
			SQLitePath:  firstNonEmpty(raw.Store.SQLitePath, envOrDefault("SQLITE_PATH", "data/triage.db")),
		},
		Redis: RedisConfig{
			URL:         firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
			Queue:       firstNonEmpty(raw.Redis.Queue, envOrDefault("TRIAGE_QUEUE", "triage_reports")),
			InflightTTL: durations.parse("redis.inflight_ttl", raw.Redis.InflightTTL, 20*time.Minute),
		},
		Analysis: AnalysisConfig{
			Provider:          strings.ToLower(firstNonEmpty(raw.Analysis.Provider, envOrDefault("ANALYSIS_PROVIDER", "offline"))),
			Model:             firstNonEmpty(raw.Analysis.Model, os.Getenv("ANALYSIS_MODEL")),
			GeminiAPIKey:      firstNonEmpty(raw.Analysis.Gemini.APIKey, os.Getenv("GEMINI_API_KEY")),
			GeminiBaseURL:     raw.Analysis.Gemini.BaseURL,
			PerplexityAPIKey:  firstNonEmpty(raw.Analysis.Perplexity.APIKey, os.Getenv("PERPLEXITY_API_KEY")),
			PerplexityBaseURL: firstNonEmpty(raw.Analysis.Perplexity.BaseURL, "https://api.perplexity.ai"),
			RateLimitRPS:      raw.Analysis.RateLimitRPS,
			MaxAttempts:       firstPositive(raw.Analysis.MaxAttempts, 3),
			RequestTimeout:    durations.parse("analysis.request_timeout", raw.Analysis.RequestTimeout, 30*time.Second),
			BackoffInitial:    durations.parse("analysis.backoff_initial", raw.Analysis.BackoffInitial, time.Second),
			BackoffMax:        durations.parse("analysis.backoff_max", raw.Analysis.BackoffMax, 30*time.Second),
		},
		Filter: FilterConfig{
			Keywords:    nonBlank(raw.Filter.Keywords),
			UrgentTerms: nonBlank(raw.Filter.UrgentTerms),
		},
		Mail: MailConfig{
			Source: strings.ToLower(firstNonEmpty(raw.Mail.Source, envOrDefault("MAIL_SOURCE", SourceEML))),
			Graph: GraphConfig{
				TenantID:     raw.Mail.Graph.TenantID,
				ClientID:     raw.Mail.Graph.ClientID,
				ClientSecret: raw.Mail.Graph.ClientSecret,
				Mailbox:      raw.Mail.Graph.Mailbox,
				BaseURL:      firstNonEmpty(raw.Mail.Graph.BaseURL, "https://graph.microsoft.com/v1.0"),
				PageDelay:    durations.parse("mail.graph.page_delay", raw.Mail.Graph.PageDelay, 500*time.Millisecond),
			},
			Gmail: GmailConfig{
				CredentialsFile: raw.Mail.Gmail.CredentialsFile,
				User:            firstNonEmpty(raw.Mail.Gmail.User, "me"),
				Query:           raw.Mail.Gmail.Query,
			},
			IMAP: IMAPConfig{
				Addr:     raw.Mail.IMAP.Addr,
				Username: raw.Mail.IMAP.Username,
				Password: raw.Mail.IMAP.Password,
				Mailbox:  firstNonEmpty(raw.Mail.IMAP.Mailbox, "INBOX"),
				TLS:      raw.Mail.IMAP.TLS == nil || *raw.Mail.IMAP.TLS,
			},
			EMLDir: firstNonEmpty(raw.Mail.EML.Dir, envOrDefault("EML_DIR", "data/inbox")),
		},
		Pipeline: PipelineConfig{
			Workers:      firstPositive(raw.Pipeline.Workers, envOrDefaultInt("WORKERS", 4)),
			BatchTimeout: durations.parse("pipeline.batch_timeout", raw.Pipeline.BatchTimeout, 10*time.Minute),
			PollInterval: durations.parse("pipeline.poll_interval", firstNonEmpty(raw.Pipeline.PollInterval, os.Getenv("POLL_INTERVAL")), 5*time.Minute),
			PollLookback: durations.parse("pipeline.poll_lookback", firstNonEmpty(raw.Pipeline.PollLookback, os.Getenv("POLL_LOOKBACK")), time.Hour),
		},
		Sentry: SentryConfig{
			DSN:         firstNonEmpty(raw.Sentry.DSN, os.Getenv("SENTRY_DSN")),
			Environment: firstNonEmpty(raw.Sentry.Environment, envOrDefault("SENTRY_ENVIRONMENT", "development")),
		},
	}

	if durations.err != nil {
		return nil, durations.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the settings the selected mail
// source needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	if c.Redis.URL != "" {
		if floor := c.MinInflightTTL(); c.Redis.InflightTTL <= floor {
			return fmt.Errorf("invalid config: Redis.InflightTTL must exceed %s (batch timeout plus every analysis attempt), got %s",
				floor, c.Redis.InflightTTL)
		}
	}

	var missing []string
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	switch c.Mail.Source {
	case SourceGraph:
		require("mail.graph.tenant_id", c.Mail.Graph.TenantID)
		require("mail.graph.client_id", c.Mail.Graph.ClientID)
		require("mail.graph.client_secret", c.Mail.Graph.ClientSecret)
		require("mail.graph.mailbox", c.Mail.Graph.Mailbox)
	case SourceGmail:
		require("mail.gmail.credentials_file", c.Mail.Gmail.CredentialsFile)
	case SourceIMAP:
		require("mail.imap.addr", c.Mail.IMAP.Addr)
		require("mail.imap.username", c.Mail.IMAP.Username)
		require("mail.imap.password", c.Mail.IMAP.Password)
	case SourceEML:
		require("mail.eml.dir", c.Mail.EMLDir)
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: %s source requires %s", c.Mail.Source, strings.Join(missing, ", "))
	}
	return nil
}

// MinInflightTTL is the longest a record can legitimately hold its claim:
// waiting out the batch timeout for a worker, then every analysis attempt
// and the backoff between them.
func (c *Config) MinInflightTTL() time.Duration {
	attempts := time.Duration(c.Analysis.MaxAttempts)
	return c.Pipeline.BatchTimeout +
		attempts*c.Analysis.RequestTimeout +
		(attempts-1)*c.Analysis.BackoffMax
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, after, ok := strings.Cut(field, "."); ok {
		field = after
	}
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min", "gte", "gt":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// durationParser keeps the first parse error so Parse can report it once.
type durationParser struct {
	err error
}

func (p *durationParser) parse(name, v string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("parse %s: %w", name, err)
		}
		return fallback
	}
	return d
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
