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

// Package imap reads a mailbox over IMAP. The mailbox is selected read-only
// and bodies are fetched with BODY.PEEK, so nothing is marked seen.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Config holds the server address and login.
type Config struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	TLS      bool
}

// Source opens one connection per Fetch.
type Source struct {
	cfg Config
}

// New creates an IMAP mail source.
func New(cfg Config) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Source{cfg: cfg}
}

func (s *Source) connect() (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	if s.cfg.TLS {
		host, _, _ := net.SplitHostPort(s.cfg.Addr)
		c, err = client.DialTLS(s.cfg.Addr, &tls.Config{ServerName: host})
	} else {
		c, err = client.Dial(s.cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.cfg.Addr, err)
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

// Fetch searches the mailbox for the window and yields each message.
// Messages that fail to parse are logged and skipped.
func (s *Source) Fetch(ctx context.Context, w mailsource.Window) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		c, err := s.connect()
		if err != nil {
			yield(models.Message{}, err)
			return
		}
		defer c.Logout()
		stop := context.AfterFunc(ctx, func() { c.Terminate() })
		defer stop()

		if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
			yield(models.Message{}, fmt.Errorf("select %s: %w", s.cfg.Mailbox, err))
			return
		}

		// SEARCH dates have day granularity and servers differ on whether
		// SINCE includes its own day, so widen both ends by a day and let
		// Contains trim.
		criteria := goimap.NewSearchCriteria()
		criteria.Since = w.Start.AddDate(0, 0, -1)
		if !w.End.IsZero() {
			criteria.Before = w.End.AddDate(0, 0, 1)
		}
		uids, err := c.UidSearch(criteria)
		if err != nil {
			yield(models.Message{}, fmt.Errorf("search %s: %w", s.cfg.Mailbox, err))
			return
		}
		slog.Debug("imap search complete", "mailbox", s.cfg.Mailbox, "matches", len(uids))
		if len(uids) == 0 {
			return
		}

		seqset := new(goimap.SeqSet)
		seqset.AddNum(uids...)
		section := &goimap.BodySectionName{Peek: true}
		items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchInternalDate, section.FetchItem()}

		messages := make(chan *goimap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, messages)
		}()

		stopped := false
		for m := range messages {
			if stopped {
				continue
			}
			msg, ok := s.convert(m, section)
			if !ok || !w.Contains(msg.ReceivedAt) {
				continue
			}
			if !yield(msg, nil) {
				stopped = true
			}
		}

		err = <-done
		if stopped {
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			yield(models.Message{}, ctxErr)
			return
		}
		if err != nil {
			yield(models.Message{}, fmt.Errorf("fetch %s: %w", s.cfg.Mailbox, err))
		}
	}
}

func (s *Source) convert(m *goimap.Message, section *goimap.BodySectionName) (models.Message, bool) {
	body := m.GetBody(section)
	if body == nil {
		slog.Warn("imap message has no body", "uid", m.Uid)
		return models.Message{}, false
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		slog.Warn("read imap message failed", "uid", m.Uid, "error", err)
		return models.Message{}, false
	}

	msg, err := mailsource.ParseRFC822("", bytes.NewReader(raw))
	if errors.Is(err, mailsource.ErrNoMessageID) {
		msg, err = mailsource.ParseRFC822(fmt.Sprintf("imap:%s:%d", s.cfg.Mailbox, m.Uid), bytes.NewReader(raw))
	}
	if err != nil {
		slog.Warn("parse imap message failed", "uid", m.Uid, "error", err)
		return models.Message{}, false
	}

	msg.Source = "imap"
	if !m.InternalDate.IsZero() {
		msg.ReceivedAt = m.InternalDate.UTC()
	}
	return msg, true
}
