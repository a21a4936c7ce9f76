package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
)

var mockStoryPages = [domain.PageCount]string{
	"Rain hammered the precinct tower until the glass hummed. Detective Vance straightened his collar and watched a city that had forgotten how to sleep stare back at him. His terminal held one line: SIGNAL LOST.",
	"The street tasted of ozone and cheap synthetic noodles. A courier drone dropped to eye level and swept its red lens across his badge. Restricted zone, it chirped. Vance walked on. Protocol had never solved a case.",
	"The alley swallowed the neon whole. His contact waited by a dumpster, wrapped in kinetic shielding that shimmered like oil. You brought the drive? Vance nodded and let his hand drift toward his sidearm.",
	"It was a trap. It always was. Shadows peeled off the brickwork and became corporate enforcers. Vance did not flinch. He thumbed the EMP charge in his coat pocket and the lights died. Then the real negotiation began.",
	"Silence settled over the Sprawl. Vance stood alone, the drive crushed in his mechanical hand. The conspiracy ran deeper than any code; it was written in the city itself. He lit a cigarette and closed the file.",
}

// MockOptions configures a MockAdapter. ResolveOrder lists 1-based page
// numbers in the order their panels arrive; setting it or any ImageDelays
// makes images arrive after Generate returns.
type MockOptions struct {
	Delay            time.Duration
	ImageDelays      [domain.PageCount]time.Duration
	ResolveOrder     []int
	FailSlots        []int
	Fail             error
	CreditsRemaining int
	ResetIn          time.Duration
	Now              func() time.Time
	Logger           zerolog.Logger
}

// MockAdapter serves a fixed noir story with placeholder panels.
type MockAdapter struct {
	opts MockOptions
}

func NewMockAdapter(opts MockOptions) *MockAdapter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ResetIn <= 0 {
		opts.ResetIn = domain.CycleLength
	}
	return &MockAdapter{opts: opts}
}

func (m *MockAdapter) Generate(ctx context.Context, req Request, resolve ImageResolver) (*Payload, error) {
	if err := sleep(ctx, m.opts.Delay); err != nil {
		return nil, err
	}
	if m.opts.Fail != nil {
		return nil, domain.AsFailure(m.opts.Fail)
	}

	now := m.opts.Now().UTC()
	caseID := req.ResumeCaseID
	if caseID == "" {
		caseID = fmt.Sprintf("MOCK_%d", now.UnixMilli())
	}
	credits := max(m.opts.CreditsRemaining, 0)
	reset := now.Add(m.opts.ResetIn)
	p := &Payload{
		CaseID:           caseID,
		Seed:             req.Nonce,
		CreditsRemaining: &credits,
		CreditsResetAt:   &reset,
	}
	for i, text := range mockStoryPages {
		p.Pages[i] = domain.Page{Number: i + 1, Text: text, SceneRole: domain.SceneOrder[i]}
	}
	withDefaults(p)

	failed := make(map[int]bool, len(m.opts.FailSlots))
	for _, i := range m.opts.FailSlots {
		failed[i] = true
	}

	if !m.streamed() {
		for i := range p.Images {
			if failed[i] {
				if resolve != nil {
					resolve(i, "", domain.ErrPanelMissing)
				}
				continue
			}
			p.Images[i] = PlaceholderPanel(i)
		}
		m.opts.Logger.Debug().Str("case_id", caseID).Msg("backend: mock case ready")
		return p, nil
	}

	order := m.order()
	go func() {
		for _, i := range order {
			if err := sleep(ctx, m.opts.ImageDelays[i]); err != nil {
				return
			}
			if resolve == nil {
				continue
			}
			if failed[i] {
				resolve(i, "", domain.ErrPanelMissing)
				continue
			}
			resolve(i, PlaceholderPanel(i), nil)
		}
	}()
	m.opts.Logger.Debug().Str("case_id", caseID).Ints("order", order).Msg("backend: mock case streaming panels")
	return p, nil
}

func (m *MockAdapter) streamed() bool {
	if len(m.opts.ResolveOrder) > 0 {
		return true
	}
	for _, d := range m.opts.ImageDelays {
		if d > 0 {
			return true
		}
	}
	return false
}

// order converts ResolveOrder into a full list of slot indexes.
func (m *MockAdapter) order() []int {
	seen := make(map[int]bool, domain.PageCount)
	out := make([]int, 0, domain.PageCount)
	for _, page := range m.opts.ResolveOrder {
		i := page - 1
		if i < 0 || i >= domain.PageCount || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	for i := range domain.PageCount {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

// PlaceholderPanel renders the inline SVG panel for slot index.
func PlaceholderPanel(index int) string {
	svg := fmt.Sprintf(`<svg width="1024" height="1024" viewBox="0 0 1024 1024" xmlns="http://www.w3.org/2000/svg">
<rect width="100%%" height="100%%" fill="#0B0D10"/>
<rect x="20" y="20" width="984" height="984" fill="none" stroke="#1F1F1F" stroke-width="4"/>
<line x1="20" y1="20" x2="150" y2="150" stroke="#76F3FF" stroke-width="2"/>
<line x1="1004" y1="1004" x2="874" y2="874" stroke="#76F3FF" stroke-width="2"/>
<text x="50%%" y="45%%" dominant-baseline="middle" text-anchor="middle" font-family="monospace" font-size="60" fill="#333" font-weight="bold" letter-spacing="4">NOIRVRS</text>
<text x="50%%" y="55%%" dominant-baseline="middle" text-anchor="middle" font-family="monospace" font-size="40" fill="#76F3FF" letter-spacing="8">PANEL %d</text>
</svg>`, index+1)
	svg = strings.Join(strings.Fields(svg), " ")
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

// sleep waits for d or until ctx is done, returning a classified failure in
// the latter case.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return domain.NewFailure(domain.Classify(context.Cause(ctx)), context.Cause(ctx))
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.NewFailure(domain.Classify(context.Cause(ctx)), context.Cause(ctx))
	case <-timer.C:
		if ctx.Err() != nil {
			return domain.NewFailure(domain.Classify(context.Cause(ctx)), context.Cause(ctx))
		}
		return nil
	}
}
