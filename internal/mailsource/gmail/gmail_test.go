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

package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/adhiiiii6389/email-analysis-bot/internal/mailsource"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// --- Mock Gmail API ---

type mockAPI struct {
	mu       sync.Mutex
	queries  []string
	messages map[string]time.Time
	pages    [][]string
}

func (m *mockAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	const listPath = "/gmail/v1/users/me/messages"
	switch {
	case r.URL.Path == listPath:
		m.queries = append(m.queries, r.URL.Query().Get("q"))
		page := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			fmt.Sscanf(tok, "page-%d", &page)
		}
		refs := []map[string]string{}
		for _, id := range m.pages[page] {
			refs = append(refs, map[string]string{"id": id})
		}
		body := map[string]interface{}{"messages": refs}
		if page+1 < len(m.pages) {
			body["nextPageToken"] = fmt.Sprintf("page-%d", page+1)
		}
		json.NewEncoder(w).Encode(body)

	case strings.HasPrefix(r.URL.Path, listPath+"/"):
		id := strings.TrimPrefix(r.URL.Path, listPath+"/")
		received, ok := m.messages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"code": 404, "message": "not found"}}`))
			return
		}
		raw := "From: customer@example.com\r\nSubject: Help " + id + "\r\n\r\nBody of " + id + "\r\n"
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           id,
			"internalDate": fmt.Sprint(received.UnixMilli()),
			"raw":          base64.URLEncoding.EncodeToString([]byte(raw)),
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newSource(t *testing.T, api *mockAPI, query string) *Source {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	svc, err := gm.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, "", query)
}

func TestFetch_Pages(t *testing.T) {
	api := &mockAPI{
		messages: map[string]time.Time{
			"m1": base.Add(time.Minute),
			"m2": base.Add(2 * time.Minute),
			"m3": base.Add(-time.Minute),
		},
		pages: [][]string{{"m2", "m1"}, {"m3"}},
	}
	src := newSource(t, api, "in:inbox")
	w := mailsource.Window{Start: base, End: base.Add(time.Hour)}

	var ids []string
	for msg, err := range src.Fetch(context.Background(), w) {
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		if msg.Source != "gmail" || msg.Subject != "Help "+msg.ID || msg.Body != "Body of "+msg.ID {
			t.Errorf("message = %+v", msg)
		}
		if !msg.ReceivedAt.Equal(api.messages[msg.ID]) {
			t.Errorf("%s ReceivedAt = %v, want %v", msg.ID, msg.ReceivedAt, api.messages[msg.ID])
		}
		ids = append(ids, msg.ID)
	}

	if strings.Join(ids, ",") != "m2,m1" {
		t.Errorf("ids = %v, want [m2 m1] (m3 is outside the window)", ids)
	}
	if len(api.queries) != 2 {
		t.Fatalf("list calls = %d, want 2", len(api.queries))
	}
	wantQuery := fmt.Sprintf("after:%d before:%d in:inbox", base.Unix()-1, base.Add(time.Hour).Unix()+1)
	if api.queries[0] != wantQuery {
		t.Errorf("q = %q, want %q", api.queries[0], wantQuery)
	}
}

func TestFetch_GetError(t *testing.T) {
	api := &mockAPI{
		messages: map[string]time.Time{},
		pages:    [][]string{{"missing"}},
	}
	src := newSource(t, api, "")

	for _, err := range src.Fetch(context.Background(), mailsource.Window{Start: base}) {
		if err == nil || !strings.Contains(err.Error(), "get message missing") {
			t.Fatalf("error = %v, want get failure", err)
		}
		return
	}
	t.Fatal("expected an error")
}

func TestNew_MissingCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{CredentialsFile: "/nonexistent/creds.json"}); err == nil {
		t.Error("expected error for missing credentials file")
	}
}
