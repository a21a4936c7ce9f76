package backend

import (
	"encoding/json"
	"strings"
	"testing"

	"noirvrs/internal/domain"
)

func validBody(mutate func(map[string]any)) []byte {
	body := map[string]any{
		"case_id":           "CASE_1700000000000_ABC123",
		"seed":              "nonce-1",
		"story_pages":       []string{"one", "two", "three", "four", "five"},
		"images":            []string{"data:image/png;base64,AAAA", "https://cdn.example/2.png", "", "data:image/svg+xml;base64,PHN2Zz4=", "http://cdn.example/5.png"},
		"credits_remaining": 4,
		"credits_reset_at":  "2026-11-01T00:00:00Z",
	}
	if mutate != nil {
		mutate(body)
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestDecodeResponseAcceptsValidBody(t *testing.T) {
	resp, err := DecodeResponse(validBody(nil))
	if err != nil {
		t.Fatalf("DecodeResponse returned error: %v", err)
	}
	p := resp.Payload()
	if p.CaseID != "CASE_1700000000000_ABC123" || p.Title != "CASE ABC123" {
		t.Fatalf("payload header = %q %q", p.CaseID, p.Title)
	}
	if p.Archetype != "Neon Noir" || p.DivergenceMode != "Simulation" {
		t.Fatalf("payload defaults = %q %q", p.Archetype, p.DivergenceMode)
	}
	for i, page := range p.Pages {
		if page.Number != i+1 {
			t.Fatalf("Pages[%d].Number = %d", i, page.Number)
		}
	}
	if p.Images[2] != "" || p.Images[1] != "https://cdn.example/2.png" {
		t.Fatalf("Images = %v", p.Images)
	}
	if p.CreditsRemaining == nil || *p.CreditsRemaining != 4 {
		t.Fatalf("CreditsRemaining = %v", p.CreditsRemaining)
	}
	if p.CreditsResetAt == nil || p.CreditsResetAt.Month() != 11 {
		t.Fatalf("CreditsResetAt = %v", p.CreditsResetAt)
	}
}

func TestDecodeResponseRejects(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want domain.FailureClass
	}{
		{name: "empty body", body: nil, want: domain.FailureVoidResponse},
		{name: "whitespace body", body: []byte("  \n"), want: domain.FailureVoidResponse},
		{name: "html body", body: []byte("<html>oops</html>"), want: domain.FailureVoidResponse},
		{name: "array root", body: []byte(`[1,2]`), want: domain.FailureMalformedResponse},
		{name: "null root", body: []byte(`null`), want: domain.FailureMalformedResponse},
		{name: "missing case id", body: validBody(func(m map[string]any) { delete(m, "case_id") }), want: domain.FailureMalformedResponse},
		{name: "empty case id", body: validBody(func(m map[string]any) { m["case_id"] = "" }), want: domain.FailureMalformedResponse},
		{name: "numeric case id", body: validBody(func(m map[string]any) { m["case_id"] = 42 }), want: domain.FailureMalformedResponse},
		{name: "four pages", body: validBody(func(m map[string]any) { m["story_pages"] = []string{"a", "b", "c", "d"} }), want: domain.FailureMalformedResponse},
		{name: "empty page", body: validBody(func(m map[string]any) { m["story_pages"] = []string{"a", "", "c", "d", "e"} }), want: domain.FailureMalformedResponse},
		{name: "four images", body: validBody(func(m map[string]any) { m["images"] = []string{"", "", "", ""} }), want: domain.FailureMalformedResponse},
		{name: "null image", body: validBody(func(m map[string]any) { m["images"] = []any{"", nil, "", "", ""} }), want: domain.FailureMalformedResponse},
		{name: "bare base64 image", body: validBody(func(m map[string]any) { m["images"] = []string{"", "AAAA", "", "", ""} }), want: domain.FailureMalformedResponse},
		{name: "negative credits", body: validBody(func(m map[string]any) { m["credits_remaining"] = -1 }), want: domain.FailureMalformedResponse},
		{name: "string credits", body: validBody(func(m map[string]any) { m["credits_remaining"] = "4" }), want: domain.FailureMalformedResponse},
		{name: "fractional credits", body: validBody(func(m map[string]any) { m["credits_remaining"] = 1.5 }), want: domain.FailureMalformedResponse},
		{name: "missing credits", body: validBody(func(m map[string]any) { delete(m, "credits_remaining") }), want: domain.FailureMalformedResponse},
		{name: "bad reset date", body: validBody(func(m map[string]any) { m["credits_reset_at"] = "next tuesday" }), want: domain.FailureMalformedResponse},
		{name: "missing reset date", body: validBody(func(m map[string]any) { delete(m, "credits_reset_at") }), want: domain.FailureMalformedResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResponse(tc.body)
			if err == nil {
				t.Fatalf("DecodeResponse accepted %s", tc.body)
			}
			if got := domain.Classify(err); got != tc.want {
				t.Fatalf("class = %q (%v), want %q", got, err, tc.want)
			}
		})
	}
}

func TestNormalizeImageRef(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "", want: ""},
		{in: "  ", want: ""},
		{in: "data:image/png;base64,AAAA", want: "data:image/png;base64,AAAA"},
		{in: "https://cdn.example/a.png", want: "https://cdn.example/a.png"},
		{in: " iVBORw0KGgo= ", want: "data:image/png;base64,iVBORw0KGgo="},
	}
	for _, tc := range tests {
		if got := NormalizeImageRef(tc.in); got != tc.want {
			t.Fatalf("NormalizeImageRef(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewCaseID(t *testing.T) {
	id := NewCaseID(fixedNow)
	if !strings.HasPrefix(id, "CASE_1773480600000_") || len(id) != len("CASE_1773480600000_")+6 {
		t.Fatalf("NewCaseID() = %q", id)
	}
}
