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

// Package graph lists a Microsoft 365 mailbox through the Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

const pageSize = 50

// Config identifies the mailbox and API endpoint.
type Config struct {
	BaseURL string
	Mailbox string

	// PageDelay spaces page requests to stay under Graph throttling.
	PageDelay time.Duration
}

// Source lists messages received within a window, oldest first.
type Source struct {
	httpClient *http.Client
	baseURL    string
	mailbox    string
	pageDelay  time.Duration
}

// NewHTTPClient returns an app-only OAuth2 client for a tenant.
func NewHTTPClient(ctx context.Context, tenantID, clientID, clientSecret string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return creds.Client(ctx)
}

// New creates a Graph mail source.
func New(httpClient *http.Client, cfg Config) *Source {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Source{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		mailbox:    cfg.Mailbox,
		pageDelay:  delay,
	}
}

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

// graphMessage represents the fields selected from the list endpoint.
type graphMessage struct {
	ID               string         `json:"id"`
	InternetMsgID    string         `json:"internetMessageId"`
	Subject          string         `json:"subject"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	From             graphAddress   `json:"from"`
	ToRecipients     []graphAddress `json:"toRecipients"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

func (m graphMessage) toMessage() models.Message {
	headers := make(map[string]string, len(m.InternetMessageHeaders))
	for _, h := range m.InternetMessageHeaders {
		if _, ok := headers[h.Name]; !ok {
			headers[h.Name] = h.Value
		}
	}

	to := make([]models.EmailAddress, 0, len(m.ToRecipients))
	for _, r := range m.ToRecipients {
		to = append(to, models.EmailAddress{Address: r.EmailAddress.Address, Name: r.EmailAddress.Name})
	}

	body := m.Body.Content
	if strings.EqualFold(m.Body.ContentType, "html") {
		body = mailsource.StripHTML(body)
	}

	return models.Message{
		ID:         m.messageID(),
		Source:     "graph",
		From:       models.EmailAddress{Address: m.From.EmailAddress.Address, Name: m.From.EmailAddress.Name},
		To:         to,
		Subject:    m.Subject,
		Body:       strings.TrimSpace(body),
		ReceivedAt: m.ReceivedDateTime.UTC(),
		Headers:    headers,
	}
}

// messageID prefers the RFC 822 Message-ID, written the way ParseRFC822
// reports it. Graph's own id changes when a message moves between folders.
func (m graphMessage) messageID() string {
	id := strings.TrimSpace(m.InternetMsgID)
	id = strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
	if id == "" {
		return m.ID
	}
	return id
}

// listURL builds the first page request for a window.
func (s *Source) listURL(w mailsource.Window) string {
	filter := fmt.Sprintf("receivedDateTime ge %s", w.Start.UTC().Format(time.RFC3339))
	if !w.End.IsZero() {
		filter += fmt.Sprintf(" and receivedDateTime lt %s", w.End.UTC().Format(time.RFC3339))
	}

	params := url.Values{}
	params.Set("$filter", filter)
	params.Set("$select", "id,internetMessageId,subject,receivedDateTime,from,toRecipients,body,internetMessageHeaders")
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", fmt.Sprint(pageSize))

	return fmt.Sprintf("%s/users/%s/messages?%s", s.baseURL, url.PathEscape(s.mailbox), params.Encode())
}

// Fetch pages through the mailbox, following @odata.nextLink.
func (s *Source) Fetch(ctx context.Context, w mailsource.Window) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		pageCount := 0
		for nextURL := s.listURL(w); nextURL != ""; {
			if pageCount > 0 {
				select {
				case <-ctx.Done():
					yield(models.Message{}, ctx.Err())
					return
				case <-time.After(s.pageDelay):
				}
			}

			page, err := s.fetchPage(ctx, nextURL)
			if err != nil {
				yield(models.Message{}, fmt.Errorf("fetch page %d: %w", pageCount, err))
				return
			}
			pageCount++

			slog.Debug("graph page fetched",
				"mailbox", s.mailbox,
				"page", pageCount,
				"messages", len(page.Value),
			)

			for _, gm := range page.Value {
				msg := gm.toMessage()
				if !w.Contains(msg.ReceivedAt) {
					continue
				}
				if !yield(msg, nil) {
					return
				}
			}
			nextURL = page.NextLink
		}
	}
}

// fetchPage retrieves a single page of messages from the list endpoint.
func (s *Source) fetchPage(ctx context.Context, pageURL string) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text", odata.maxpagesize=50`)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("messages list error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("messages list returned HTTP %d", resp.StatusCode)
	}

	var page messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	return &page, nil
}
