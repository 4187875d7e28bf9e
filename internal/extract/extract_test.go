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

package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract_Fields(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
		want  []string
	}{
		{"local phone", "call me at 555-1234", FieldPhoneNumbers, []string{"555-1234"}},
		{"us phone", "reach me on (415) 555-0199 or 415.555.0100", FieldPhoneNumbers, []string{"(415) 555-0199", "415.555.0100"}},
		{"email", "write to Jane.Doe@example.com.", FieldEmails, []string{"Jane.Doe@example.com"}},
		{"url", "see https://status.example.com/incidents/42, thanks", FieldURLs, []string{"https://status.example.com/incidents/42"}},
		{"ticket", "Re: ticket #TK-2024-001 still open", FieldTicketNumbers, []string{"TK-2024-001"}},
		{"ticket words ignored", "I have a ticket request", FieldTicketNumbers, []string{}},
		{"error code", "got error code E1234 then Error: 500", FieldErrorCodes, []string{"E1234", "500"}},
		{"error symbol", "browser says ERR_CONNECTION_REFUSED", FieldErrorCodes, []string{"ERR_CONNECTION_REFUSED"}},
		{"version", "running version 2.4.1 (was v2.3)", FieldVersions, []string{"2.4.1", "2.3"}},
		{"deadline weekday", "please fix this by Friday", FieldDeadlines, []string{"Friday"}},
		{"deadline date", "contract ends before 2026-03-15 and review on 3/1/2026", FieldDeadlines, []string{"2026-03-15", "3/1/2026"}},
		{"amount", "charged $1,250.00 twice, about 40 dollars extra", FieldAmounts, []string{"$1,250.00", "40 dollars"}},
		{"requirements", "Hello. We need a refund! The weather is fine.\nI request an invoice copy", FieldRequirements,
			[]string{"We need a refund", "I request an invoice copy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text).Get(tt.field)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestExtract_TotalOnEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "nothing interesting here"} {
		res := Extract(text)
		for _, f := range Fields {
			v, ok := res.Fields[f]
			if !ok {
				t.Errorf("Extract(%q) missing key %s", text, f)
				continue
			}
			if v == nil {
				t.Errorf("Extract(%q)[%s] is nil, want empty slice", text, f)
			}
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	text := "Ticket 88812: error 0x80070005 on v3.1, call 555-1234 or 555-1234 by Monday. Need help."
	first := Extract(text)
	for i := 0; i < 20; i++ {
		if got := Extract(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got.Fields, first.Fields)
		}
	}
	if phones := first.Get(FieldPhoneNumbers); len(phones) != 1 {
		t.Errorf("phones = %q, want one de-duplicated value", phones)
	}
}

func TestExtract_LongRequirementTruncated(t *testing.T) {
	text := "We need " + strings.Repeat("very ", 100) + "much help"
	reqs := Extract(text).Get(FieldRequirements)
	if len(reqs) != 1 {
		t.Fatalf("requirements = %d, want 1", len(reqs))
	}
	if n := len([]rune(reqs[0])); n > maxRequirementLen {
		t.Errorf("requirement length = %d, want <= %d", n, maxRequirementLen)
	}
}
