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

// Package eml reads a directory of .eml files as a mailbox. It is used for
// replaying exported mail and for local runs.
package eml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

// Source reads every *.eml file under a directory.
type Source struct {
	dir string
}

// New creates a directory source.
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Fetch parses the directory on each call and yields the messages inside
// the window, oldest first. Files that fail to parse are logged and
// skipped. A message without a Date header takes the file's mtime.
func (s *Source) Fetch(ctx context.Context, w mailsource.Window) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		if _, err := os.Stat(s.dir); err != nil {
			yield(models.Message{}, fmt.Errorf("open mail directory: %w", err))
			return
		}
		paths, err := filepath.Glob(filepath.Join(s.dir, "*.eml"))
		if err != nil {
			yield(models.Message{}, fmt.Errorf("list %s: %w", s.dir, err))
			return
		}

		var msgs []models.Message
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				yield(models.Message{}, err)
				return
			}
			msg, err := readFile(p)
			if err != nil {
				slog.Warn("skipping unreadable eml file", "path", p, "error", err)
				continue
			}
			if w.Contains(msg.ReceivedAt) {
				msgs = append(msgs, msg)
			}
		}
		slog.Debug("eml directory scanned", "dir", s.dir, "files", len(paths), "in_window", len(msgs))

		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
		})
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func readFile(path string) (models.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := mailsource.ParseRFC822("", bytes.NewReader(data))
	if errors.Is(err, mailsource.ErrNoMessageID) {
		id := "eml:" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		msg, err = mailsource.ParseRFC822(id, bytes.NewReader(data))
	}
	if err != nil {
		return models.Message{}, err
	}

	msg.Source = "eml"
	if msg.ReceivedAt.IsZero() {
		info, err := os.Stat(path)
		if err != nil {
			return models.Message{}, err
		}
		msg.ReceivedAt = info.ModTime().UTC()
	}
	return msg, nil
}
