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

package eml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func fetchAll(t *testing.T, s *Source, w mailsource.Window) []models.Message {
	t.Helper()
	var out []models.Message
	for msg, err := range s.Fetch(context.Background(), w) {
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.eml", "Message-ID: <b@test>\r\nDate: Sun, 01 Mar 2026 09:20:00 +0000\r\nSubject: Second\r\n\r\nhelp\r\n")
	write(t, dir, "a.eml", "Message-ID: <a@test>\r\nDate: Sun, 01 Mar 2026 09:10:00 +0000\r\nSubject: First\r\n\r\nsupport\r\n")
	write(t, dir, "old.eml", "Message-ID: <old@test>\r\nDate: Sat, 28 Feb 2026 09:10:00 +0000\r\nSubject: Old\r\n\r\nx\r\n")
	write(t, dir, "notes.txt", "not mail")

	msgs := fetchAll(t, New(dir), mailsource.Window{Start: base, End: base.Add(time.Hour)})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "a@test" || msgs[1].ID != "b@test" {
		t.Errorf("order = [%s %s], want [a@test b@test]", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Source != "eml" || msgs[0].Subject != "First" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestFetch_FallbacksFromFile(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "ticket-42.eml", "Subject: No headers\r\n\r\nbody\r\n")
	mtime := base.Add(5 * time.Minute)
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	msgs := fetchAll(t, New(dir), mailsource.Window{Start: base})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != "eml:ticket-42" {
		t.Errorf("ID = %q, want eml:ticket-42", msgs[0].ID)
	}
	if !msgs[0].ReceivedAt.Equal(mtime) {
		t.Errorf("ReceivedAt = %v, want %v", msgs[0].ReceivedAt, mtime)
	}
}

func TestFetch_MissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	for _, err := range s.Fetch(context.Background(), mailsource.Window{}) {
		if err == nil {
			t.Fatal("expected error for missing directory")
		}
		return
	}
	t.Fatal("expected an error")
}
