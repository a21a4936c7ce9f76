// Package backend adapts case generators (remote endpoint, local mock, direct
// Gemini) to one contract consumed by the ritual engine.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"noirvrs/internal/domain"
)

// Request identifies one generation attempt.
type Request struct {
	Nonce        string
	ResumeCaseID string
	Locale       string
}

// Payload is the narrative part of a case. An empty entry in Images is a
// pending slot that the adapter settles later through the ImageResolver.
type Payload struct {
	CaseID           string
	Seed             string
	Title            string
	Archetype        string
	DivergenceMode   string
	StoryYear        string
	Location         string
	Pages            [domain.PageCount]domain.Page
	Images           [domain.PageCount]string
	CreditsRemaining *int
	CreditsResetAt   *time.Time
}

// ImageResolver settles the slot at index with either a ref or an error.
type ImageResolver func(index int, ref string, err error)

// Adapter produces cases. Generate returns as soon as the narrative is
// available; pending images are settled through resolve, which must not be
// called once ctx is done.
type Adapter interface {
	Generate(ctx context.Context, req Request, resolve ImageResolver) (*Payload, error)
}

// SessionProvider hands out bearer tokens for the remote endpoint.
type SessionProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a SessionProvider returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", domain.NewFailure(domain.FailureAuthRequired, errors.New("backend: no session token"))
	}
	return string(t), nil
}

// NewCaseID returns an id of the form CASE_<unix millis>_<random>.
func NewCaseID(now time.Time) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var suffix [6]byte
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return fmt.Sprintf("CASE_%d_%s", now.UnixMilli(), suffix[:])
}

// defaultTitle derives a title from the case id when the generator sent none.
func defaultTitle(caseID string) string {
	id := strings.ToUpper(caseID)
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return "CASE " + id
}

func withDefaults(p *Payload) *Payload {
	if strings.TrimSpace(p.Title) == "" {
		p.Title = defaultTitle(p.CaseID)
	}
	if strings.TrimSpace(p.Archetype) == "" {
		p.Archetype = "Neon Noir"
	}
	if strings.TrimSpace(p.DivergenceMode) == "" {
		p.DivergenceMode = "Simulation"
	}
	return p
}
