package backend

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"noirvrs/internal/domain"
)

// GenerateCaseRequest is the body of POST /api/generateCase.
type GenerateCaseRequest struct {
	Nonce        string `json:"nonce"`
	ResumeCaseID string `json:"resume_case_id,omitempty"`
}

// GenerateCaseResponse is the success body of POST /api/generateCase.
type GenerateCaseResponse struct {
	CaseID           string   `json:"case_id"`
	Seed             string   `json:"seed"`
	Title            string   `json:"title,omitempty"`
	Archetype        string   `json:"archetype,omitempty"`
	DivergenceMode   string   `json:"divergence_mode,omitempty"`
	StoryYear        string   `json:"story_year,omitempty"`
	Location         string   `json:"location,omitempty"`
	StoryPages       []string `json:"story_pages"`
	Images           []string `json:"images"`
	CreditsRemaining int      `json:"credits_remaining"`
	CreditsResetAt   string   `json:"credits_reset_at"`
}

// wireResponse keeps raw values for the fields whose JSON type matters.
type wireResponse struct {
	CaseID           *string          `json:"case_id"`
	Seed             string           `json:"seed"`
	Title            string           `json:"title"`
	Archetype        string           `json:"archetype"`
	DivergenceMode   string           `json:"divergence_mode"`
	StoryYear        string           `json:"story_year"`
	Location         string           `json:"location"`
	StoryPages       []*string        `json:"story_pages"`
	Images           []*string        `json:"images"`
	CreditsRemaining *json.RawMessage `json:"credits_remaining"`
	CreditsResetAt   *string          `json:"credits_reset_at"`
}

// DecodeResponse parses and validates a success body. Empty or non-JSON
// bodies are VOID_RESPONSE; everything else that breaks the contract is
// MALFORMED_RESPONSE.
func DecodeResponse(body []byte) (*GenerateCaseResponse, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, domain.Failf(domain.FailureVoidResponse, "backend: empty response body")
	}
	if !json.Valid(body) {
		return nil, domain.Failf(domain.FailureVoidResponse, "backend: response is not json")
	}
	if body[0] != '{' {
		return nil, domain.Failf(domain.FailureMalformedResponse, "backend: root must be an object")
	}

	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, domain.Failf(domain.FailureMalformedResponse, "backend: decode response: %w", err)
	}

	resp := &GenerateCaseResponse{
		Seed:           w.Seed,
		Title:          w.Title,
		Archetype:      w.Archetype,
		DivergenceMode: w.DivergenceMode,
		StoryYear:      w.StoryYear,
		Location:       w.Location,
	}
	if w.CaseID != nil {
		resp.CaseID = *w.CaseID
	}
	var err error
	if resp.StoryPages, err = requireStrings("story_pages", w.StoryPages); err != nil {
		return nil, err
	}
	if resp.Images, err = requireStrings("images", w.Images); err != nil {
		return nil, err
	}
	if w.CreditsRemaining == nil {
		return nil, domain.Failf(domain.FailureMalformedResponse, "backend: missing credits_remaining")
	}
	if resp.CreditsRemaining, err = parseCredits(*w.CreditsRemaining); err != nil {
		return nil, err
	}
	if w.CreditsResetAt == nil {
		return nil, domain.Failf(domain.FailureMalformedResponse, "backend: missing credits_reset_at")
	}
	resp.CreditsResetAt = *w.CreditsResetAt

	if err := ValidateResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func requireStrings(field string, in []*string) ([]string, error) {
	if in == nil {
		return nil, domain.Failf(domain.FailureMalformedResponse, "backend: missing %s", field)
	}
	out := make([]string, len(in))
	for i, s := range in {
		if s == nil {
			return nil, domain.Failf(domain.FailureMalformedResponse, "backend: %s[%d] is null", field, i)
		}
		out[i] = *s
	}
	return out, nil
}

func parseCredits(raw json.RawMessage) (int, error) {
	var n json.Number
	text := bytes.TrimSpace(raw)
	if len(text) == 0 || text[0] == '"' || bytes.Equal(text, []byte("null")) {
		return 0, domain.Failf(domain.FailureMalformedResponse, "backend: credits_remaining is not a number")
	}
	if err := json.Unmarshal(text, &n); err != nil {
		return 0, domain.Failf(domain.FailureMalformedResponse, "backend: credits_remaining: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, domain.Failf(domain.FailureMalformedResponse, "backend: credits_remaining is not an integer")
	}
	if v < 0 {
		return 0, domain.Failf(domain.FailureMalformedResponse, "backend: negative credits_remaining %d", v)
	}
	return int(v), nil
}

// ValidateResponse enforces the semantic contract on a decoded response.
func ValidateResponse(resp *GenerateCaseResponse) error {
	if resp == nil {
		return domain.Failf(domain.FailureVoidResponse, "backend: nil response")
	}
	if strings.TrimSpace(resp.CaseID) == "" {
		return domain.Failf(domain.FailureMalformedResponse, "backend: missing case_id")
	}
	if len(resp.StoryPages) != domain.PageCount {
		return domain.Failf(domain.FailureMalformedResponse, "backend: story_pages has %d entries, want %d", len(resp.StoryPages), domain.PageCount)
	}
	for i, page := range resp.StoryPages {
		if strings.TrimSpace(page) == "" {
			return domain.Failf(domain.FailureMalformedResponse, "backend: story_pages[%d] is empty", i)
		}
	}
	if len(resp.Images) != domain.PageCount {
		return domain.Failf(domain.FailureMalformedResponse, "backend: images has %d entries, want %d", len(resp.Images), domain.PageCount)
	}
	for i, ref := range resp.Images {
		if ref != "" && !IsImageRef(ref) {
			return domain.Failf(domain.FailureMalformedResponse, "backend: images[%d] is not an image reference", i)
		}
	}
	if resp.CreditsRemaining < 0 {
		return domain.Failf(domain.FailureMalformedResponse, "backend: negative credits_remaining %d", resp.CreditsRemaining)
	}
	if _, err := time.Parse(time.RFC3339, resp.CreditsResetAt); err != nil {
		return domain.Failf(domain.FailureMalformedResponse, "backend: credits_reset_at: %w", err)
	}
	return nil
}

// IsImageRef reports whether s is an inline image or an http(s) reference.
func IsImageRef(s string) bool {
	return strings.HasPrefix(s, "data:image/") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NormalizeImageRef passes references through and treats anything else as
// bare base64 PNG data.
func NormalizeImageRef(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || IsImageRef(s) {
		return s
	}
	return "data:image/png;base64," + s
}

// Payload converts a validated response into a Payload.
func (r *GenerateCaseResponse) Payload() *Payload {
	p := &Payload{
		CaseID:         r.CaseID,
		Seed:           r.Seed,
		Title:          r.Title,
		Archetype:      r.Archetype,
		DivergenceMode: r.DivergenceMode,
		StoryYear:      r.StoryYear,
		Location:       r.Location,
	}
	for i := range domain.PageCount {
		p.Pages[i] = domain.Page{Number: i + 1, Text: strings.TrimSpace(r.StoryPages[i]), SceneRole: domain.SceneOrder[i]}
		p.Images[i] = r.Images[i]
	}
	credits := r.CreditsRemaining
	p.CreditsRemaining = &credits
	if reset, err := time.Parse(time.RFC3339, r.CreditsResetAt); err == nil {
		reset = reset.UTC()
		p.CreditsResetAt = &reset
	}
	return withDefaults(p)
}

// NewResponse builds the wire form of a fully resolved payload.
func NewResponse(p *Payload, creditsRemaining int, resetAt time.Time) GenerateCaseResponse {
	resp := GenerateCaseResponse{
		CaseID:           p.CaseID,
		Seed:             p.Seed,
		Title:            p.Title,
		Archetype:        p.Archetype,
		DivergenceMode:   p.DivergenceMode,
		StoryYear:        p.StoryYear,
		Location:         p.Location,
		StoryPages:       make([]string, domain.PageCount),
		Images:           make([]string, domain.PageCount),
		CreditsRemaining: creditsRemaining,
		CreditsResetAt:   resetAt.UTC().Format(time.RFC3339),
	}
	for i := range domain.PageCount {
		resp.StoryPages[i] = p.Pages[i].Text
		resp.Images[i] = NormalizeImageRef(p.Images[i])
	}
	return resp
}
