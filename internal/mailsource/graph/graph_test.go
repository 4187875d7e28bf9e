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

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
	"github.com/adhiiiii6389/email-analysis-bot/internal/models"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// graphMessageResponse creates a minimal Graph API message body.
func graphMessageResponse(id string, received time.Time, contentType, content string) map[string]interface{} {
	return map[string]interface{}{
		"id":               id,
		"subject":          "Test Subject " + id,
		"receivedDateTime": received.Format(time.RFC3339),
		"from": map[string]interface{}{
			"emailAddress": map[string]interface{}{
				"address": "sender@test.com",
				"name":    "Sender",
			},
		},
		"toRecipients": []map[string]interface{}{
			{
				"emailAddress": map[string]interface{}{
					"address": "support@test.com",
				},
			},
		},
		"body": map[string]interface{}{
			"contentType": contentType,
			"content":     content,
		},
		"internetMessageHeaders": []map[string]string{
			{"name": "X-Priority", "value": "1"},
		},
	}
}

func collect(t *testing.T, s *Source, w mailsource.Window) ([]models.Message, error) {
	t.Helper()
	var out []models.Message
	for msg, err := range s.Fetch(context.Background(), w) {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// TestFetch_Pagination verifies that the source follows nextLink and maps
// every field.
func TestFetch_Pagination(t *testing.T) {
	var mu sync.Mutex
	var requests []*http.Request

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/page2" {
			data, _ := json.Marshal(map[string]interface{}{
				"value": []interface{}{
					graphMessageResponse("msg-3", base.Add(3*time.Minute), "html", "<p>Need <b>help</b> &amp; fast</p>"),
				},
			})
			w.Write(data)
			return
		}

		data, _ := json.Marshal(map[string]interface{}{
			"value": []interface{}{
				graphMessageResponse("msg-1", base.Add(time.Minute), "text", "Body one"),
				graphMessageResponse("msg-2", base.Add(2*time.Minute), "text", "Body two"),
			},
			"@odata.nextLink": server.URL + "/page2",
		})
		w.Write(data)
	}))
	defer server.Close()

	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "support@test.com", PageDelay: time.Millisecond})
	msgs, err := collect(t, s, mailsource.Window{Start: base, End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "msg-1" || msgs[0].Source != "graph" || msgs[0].Body != "Body one" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[0].From.Address != "sender@test.com" || len(msgs[0].To) != 1 || msgs[0].Headers["X-Priority"] != "1" {
		t.Errorf("addresses/headers = %+v", msgs[0])
	}
	if !msgs[1].ReceivedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("ReceivedAt = %v", msgs[1].ReceivedAt)
	}
	if msgs[2].Body != "Need help & fast" {
		t.Errorf("html body = %q", msgs[2].Body)
	}

	first := requests[0]
	if first.URL.Path != "/users/support@test.com/messages" {
		t.Errorf("path = %q", first.URL.Path)
	}
	filter := first.URL.Query().Get("$filter")
	wantFilter := fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		base.Format(time.RFC3339), base.Add(time.Hour).Format(time.RFC3339))
	if filter != wantFilter {
		t.Errorf("$filter = %q, want %q", filter, wantFilter)
	}
	if first.URL.Query().Get("$orderby") != "receivedDateTime asc" {
		t.Errorf("$orderby = %q", first.URL.Query().Get("$orderby"))
	}
}

// TestFetch_OpenEndedWindow verifies no upper bound is sent for a zero End.
func TestFetch_OpenEndedWindow(t *testing.T) {
	var filter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter = r.URL.Query().Get("$filter")
		w.Write([]byte(`{"value": []}`))
	}))
	defer server.Close()

	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "u1"})
	msgs, err := collect(t, s, mailsource.Window{Start: base})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected 0 messages, got %d", len(msgs))
	}
	if strings.Contains(filter, " lt ") {
		t.Errorf("$filter = %q, want no upper bound", filter)
	}
}

// TestFetch_DropsOutOfWindow verifies messages outside the window are skipped
// even when the server returns them.
func TestFetch_DropsOutOfWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(map[string]interface{}{
			"value": []interface{}{
				graphMessageResponse("early", base.Add(-time.Minute), "text", "x"),
				graphMessageResponse("inside", base, "text", "x"),
				graphMessageResponse("at-end", base.Add(time.Hour), "text", "x"),
			},
		})
		w.Write(data)
	}))
	defer server.Close()

	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "u1"})
	msgs, _ := collect(t, s, mailsource.Window{Start: base, End: base.Add(time.Hour)})
	if len(msgs) != 1 || msgs[0].ID != "inside" {
		t.Errorf("messages = %+v", msgs)
	}
}

// TestFetch_PrefersInternetMessageID verifies that a message keeps its key
// when a folder move gives it a new Graph id.
func TestFetch_PrefersInternetMessageID(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.Contains(r.URL.Query().Get("$select"), "internetMessageId") {
			t.Errorf("$select = %q, want internetMessageId", r.URL.Query().Get("$select"))
		}
		moved := graphMessageResponse(fmt.Sprintf("AAMk-folder-%d", calls), base, "text", "x")
		moved["internetMessageId"] = "<CAF1234@mail.example.com>"
		data, _ := json.Marshal(map[string]interface{}{
			"value": []interface{}{
				moved,
				graphMessageResponse("no-header-id", base.Add(time.Minute), "text", "y"),
			},
		})
		w.Write(data)
	}))
	defer server.Close()

	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "u1"})
	w := mailsource.Window{Start: base, End: base.Add(time.Hour)}
	first, _ := collect(t, s, w)
	second, _ := collect(t, s, w)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("messages = %+v / %+v", first, second)
	}
	if first[0].ID != "CAF1234@mail.example.com" || second[0].ID != first[0].ID {
		t.Errorf("ids = %q, %q; want the Message-ID on both runs", first[0].ID, second[0].ID)
	}
	if first[1].ID != "no-header-id" {
		t.Errorf("fallback id = %q, want the Graph id", first[1].ID)
	}
}

// TestFetch_PageError verifies error handling for non-200 responses.
func TestFetch_PageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "throttled"}`))
	}))
	defer server.Close()

	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "u1"})
	_, err := collect(t, s, mailsource.Window{Start: base})
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Fatalf("expected HTTP 429 error, got %v", err)
	}
}

// TestFetch_CancelBetweenPages verifies the page delay honours cancellation.
func TestFetch_CancelBetweenPages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(map[string]interface{}{
			"value":           []interface{}{graphMessageResponse("msg-1", base, "text", "x")},
			"@odata.nextLink": server.URL + "/next",
		})
		w.Write(data)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(server.Client(), Config{BaseURL: server.URL, Mailbox: "u1", PageDelay: time.Hour})

	var got int
	var lastErr error
	for _, err := range s.Fetch(ctx, mailsource.Window{Start: base}) {
		if err != nil {
			lastErr = err
			break
		}
		got++
		cancel()
	}
	if got != 1 || lastErr != context.Canceled {
		t.Errorf("got %d messages, err %v", got, lastErr)
	}
}
