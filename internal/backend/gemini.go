package backend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"noirvrs/internal/domain"
	"noirvrs/internal/providers/genai"
	"noirvrs/internal/providers/story"
)

// StoryWriter writes the narrative of one case.
type StoryWriter interface {
	Write(ctx context.Context, req story.Request) (*story.Story, error)
}

// PanelRenderer draws one page illustration.
type PanelRenderer interface {
	RenderPanel(ctx context.Context, req genai.PanelRequest) (*genai.Panel, error)
}

// GeminiOptions configures a GeminiAdapter.
type GeminiOptions struct {
	Writer      StoryWriter
	Panels      PanelRenderer
	StyleTokens []string
	Concurrency int
	Detective   string
	Now         func() time.Time
	Logger      zerolog.Logger
}

// GeminiAdapter generates cases in-process: the story first, then the panels
// concurrently in the background.
type GeminiAdapter struct {
	opts GeminiOptions
}

func NewGeminiAdapter(opts GeminiOptions) (*GeminiAdapter, error) {
	if opts.Writer == nil {
		return nil, errors.New("backend: story writer is required")
	}
	if opts.Panels == nil {
		return nil, errors.New("backend: panel renderer is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GeminiAdapter{opts: opts}, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, req Request, resolve ImageResolver) (*Payload, error) {
	st, err := g.opts.Writer.Write(ctx, story.Request{Seed: req.Nonce, Locale: req.Locale, Detective: g.opts.Detective})
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		return nil, domain.NewFailure(domain.Classify(cause), cause)
	}
	if err != nil {
		return nil, domain.AsFailure(err)
	}

	caseID := req.ResumeCaseID
	if caseID == "" {
		caseID = NewCaseID(g.opts.Now())
	}
	p := withDefaults(&Payload{
		CaseID:         caseID,
		Seed:           req.Nonce,
		Title:          st.Title,
		Archetype:      st.Archetype,
		DivergenceMode: st.DivergenceMode,
		StoryYear:      st.StoryYear,
		Location:       st.Location,
		Pages:          st.Pages,
	})

	go g.renderPanels(ctx, p.CaseID, req.Nonce, st.Pages, resolve)
	return p, nil
}

func (g *GeminiAdapter) renderPanels(ctx context.Context, caseID, nonce string, pages [domain.PageCount]domain.Page, resolve ImageResolver) {
	var group errgroup.Group
	group.SetLimit(g.opts.Concurrency)
	for i, page := range pages {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			panel, err := g.opts.Panels.RenderPanel(ctx, genai.PanelRequest{
				Prompt:    page.ImagePrompt,
				Style:     g.opts.StyleTokens,
				Page:      page.Number,
				Seed:      nonce,
				RequestID: caseID,
			})
			if ctx.Err() != nil || resolve == nil {
				return nil
			}
			if err != nil {
				g.opts.Logger.Warn().Err(err).Str("case_id", caseID).Int("page", page.Number).Msg("backend: panel failed")
				resolve(i, "", err)
				return nil
			}
			resolve(i, NormalizeImageRef(panel.DataURL()), nil)
			return nil
		})
	}
	_ = group.Wait()
}
