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

// Package gmail lists a mailbox through the Gmail API with a read-only
// scope.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Config points at the credentials and mailbox.
type Config struct {
	// CredentialsFile is a service account key or an authorized-user
	// token file.
	CredentialsFile string

	// User is the mailbox, "me" for the credential's own account.
	User string

	// Query is an extra Gmail search expression, e.g. "in:inbox".
	Query string
}

// Source yields messages from the Gmail API.
type Source struct {
	svc   *gm.Service
	user  string
	query string
}

// New creates a Gmail source from a credentials file.
func New(ctx context.Context, cfg Config) (*Source, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, gm.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	svc, err := gm.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewWithService(svc, cfg.User, cfg.Query), nil
}

// NewWithService wraps an existing Gmail service.
func NewWithService(svc *gm.Service, user, query string) *Source {
	if user == "" {
		user = "me"
	}
	return &Source{svc: svc, user: user, query: strings.TrimSpace(query)}
}

// searchQuery restricts the listing to the window. Gmail's after/before
// accept epoch seconds.
func (s *Source) searchQuery(w mailsource.Window) string {
	parts := []string{fmt.Sprintf("after:%d", w.Start.Unix()-1)}
	if !w.End.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", w.End.Unix()+1))
	}
	if s.query != "" {
		parts = append(parts, s.query)
	}
	return strings.Join(parts, " ")
}

// Fetch lists matching message ids page by page and downloads each one in
// raw form.
func (s *Source) Fetch(ctx context.Context, w mailsource.Window) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		q := s.searchQuery(w)
		pageToken := ""
		for page := 1; ; page++ {
			call := s.svc.Users.Messages.List(s.user).Q(q).MaxResults(100).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				yield(models.Message{}, fmt.Errorf("list messages page %d: %w", page, err))
				return
			}
			slog.Debug("gmail page fetched", "user", s.user, "page", page, "messages", len(resp.Messages))

			for _, ref := range resp.Messages {
				msg, err := s.get(ctx, ref.Id)
				if err != nil {
					yield(models.Message{}, err)
					return
				}
				if msg == nil || !w.Contains(msg.ReceivedAt) {
					continue
				}
				if !yield(*msg, nil) {
					return
				}
			}

			if resp.NextPageToken == "" {
				return
			}
			pageToken = resp.NextPageToken
		}
	}
}

// get downloads one message. A message that fails to parse is logged and
// returned as nil.
func (s *Source) get(ctx context.Context, id string) (*models.Message, error) {
	m, err := s.svc.Users.Messages.Get(s.user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(m.Raw, "="))
	if err != nil {
		slog.Warn("decode gmail message failed", "message_id", id, "error", err)
		return nil, nil
	}
	msg, err := mailsource.ParseRFC822(m.Id, bytes.NewReader(raw))
	if err != nil {
		slog.Warn("parse gmail message failed", "message_id", id, "error", err)
		return nil, nil
	}

	msg.Source = "gmail"
	if m.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	return &msg, nil
}
