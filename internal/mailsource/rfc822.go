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

package mailsource

import (
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// maxBodyBytes caps how much of a single body part is read.
const maxBodyBytes = 1 << 20

// ErrNoMessageID is returned by ParseRFC822 when neither an id nor a
// Message-ID header is available.
var ErrNoMessageID = errors.New("message has no Message-ID and no id was given")

// ParseRFC822 parses a raw message. id overrides the Message-ID header when
// non-empty. The body is the first text/plain part, or the first text/html
// part with tags stripped when no plain part exists.
func ParseRFC822(id string, r io.Reader) (models.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return models.Message{}, fmt.Errorf("read message header: %w", err)
	}
	if mr == nil {
		return models.Message{}, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	msg := models.Message{ID: id, Headers: map[string]string{}}

	if msg.ID == "" {
		msg.ID, _ = h.MessageID()
	}
	if msg.ID == "" {
		return models.Message{}, ErrNoMessageID
	}

	msg.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = models.EmailAddress{Address: from[0].Address, Name: from[0].Name}
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, models.EmailAddress{Address: a.Address, Name: a.Name})
		}
	}
	if date, err := h.Date(); err == nil {
		msg.ReceivedAt = date.UTC()
	}

	fields := h.Fields()
	for fields.Next() {
		if _, ok := msg.Headers[fields.Key()]; !ok {
			msg.Headers[fields.Key()] = fields.Value()
		}
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				slog.Debug("unknown charset in part", "message_id", msg.ID, "error", err)
				continue
			}
			return models.Message{}, fmt.Errorf("read message part: %w", err)
		}

		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		if ct == "" {
			ct = "text/plain"
		}
		if (ct == "text/plain" && plain != "") || (ct == "text/html" && htmlBody != "") {
			continue
		}
		if ct != "text/plain" && ct != "text/html" {
			continue
		}

		b, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
		if err != nil {
			return models.Message{}, fmt.Errorf("read %s part: %w", ct, err)
		}
		if ct == "text/plain" {
			plain = string(b)
		} else {
			htmlBody = string(b)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(plain)
	case htmlBody != "":
		msg.Body = StripHTML(htmlBody)
	}
	return msg, nil
}

var (
	blockTags  = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	breakTags  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	anyTag     = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
)

// StripHTML reduces an HTML body to readable text.
func StripHTML(s string) string {
	s = blockTags.ReplaceAllString(s, "")
	s = breakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
