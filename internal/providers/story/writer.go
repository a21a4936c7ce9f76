package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"google.golang.org/genai"

	"noirvrs/internal/domain"
)

// Generator is the slice of the genai Models service the writer needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiGenerator builds a Generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, baseURL string) (Generator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("story: gemini api key is required")
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("story: create genai client: %w", err)
	}
	return client.Models, nil
}

// Request seeds one story.
type Request struct {
	Seed      string
	Locale    string
	Detective string
}

// Story is a validated five-page script.
type Story struct {
	Title          string
	StoryYear      string
	Location       string
	Archetype      string
	DivergenceMode string
	Pages          [domain.PageCount]domain.Page
}

// Writer produces stories for one Config.
type Writer struct {
	gen    Generator
	cfg    Config
	logger zerolog.Logger
}

func NewWriter(gen Generator, cfg Config, logger zerolog.Logger) (*Writer, error) {
	if gen == nil {
		return nil, errors.New("story: generator is required")
	}
	if cfg.SystemInstruction == "" {
		return nil, errors.New("story: config requires system_instruction")
	}
	return &Writer{gen: gen, cfg: cfg, logger: logger}, nil
}

// Config returns the configuration the writer was built with.
func (w *Writer) Config() Config {
	return w.cfg
}

// Write generates and validates one story.
func (w *Writer) Write(ctx context.Context, req Request) (*Story, error) {
	contents := []*genai.Content{genai.NewContentFromText(w.prompt(req), genai.RoleUser)}
	resp, err := w.gen.GenerateContent(ctx, w.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(w.cfg.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    Schema(),
		Temperature:       genai.Ptr(w.cfg.Temperature),
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if resp == nil {
		return nil, errors.New("story: empty generation result")
	}

	st, err := Parse(resp.Text())
	if err != nil {
		w.logger.Warn().Err(err).Str("preset", w.cfg.Name).Str("seed", req.Seed).Msg("story: rejected model output")
		return nil, err
	}
	w.logger.Debug().Str("preset", w.cfg.Name).Str("title", st.Title).Msg("story: generated")
	return st, nil
}

func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("story: generate: %w", err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return domain.Failf(domain.FailureRateLimited, "story: generate: %w", err)
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
		return domain.Failf(domain.FailureAuthRequired, "story: generate: %w", err)
	default:
		return domain.Failf(domain.FailureServerError, "story: generate: %w", err)
	}
}

func (w *Writer) prompt(req Request) string {
	detective := strings.TrimSpace(req.Detective)
	if detective == "" {
		detective = "The Detective"
	}
	var b strings.Builder
	b.WriteString("Generate a new NOIRVRS story.\n")
	fmt.Fprintf(&b, "Detective: %s\n", detective)
	fmt.Fprintf(&b, "Seed: %s\n", req.Seed)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- Genre: %s\n", w.cfg.Genre)
	fmt.Fprintf(&b, "- Tone: %s\n", w.cfg.Tone)
	if len(w.cfg.StyleTokens) > 0 {
		fmt.Fprintf(&b, "- Panel style: %s\n", strings.Join(w.cfg.StyleTokens, ", "))
	}
	if lang := languageName(req.Locale); lang != "" {
		fmt.Fprintf(&b, "- Write the page text in %s.\n", lang)
	}
	return b.String()
}

// languageName returns the English name of a locale, or "" for English and
// unparsable input.
func languageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return ""
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return ""
	}
	return display.English.Tags().Name(tag)
}

type wireStory struct {
	Title          string     `json:"title"`
	StoryYear      string     `json:"story_year"`
	Location       string     `json:"location"`
	Archetype      string     `json:"archetype"`
	DivergenceMode string     `json:"divergence_mode"`
	Pages          []wirePage `json:"pages"`
}

type wirePage struct {
	PageNumber  int    `json:"page_number"`
	SceneRole   string `json:"scene_role"`
	Text        string `json:"text"`
	ImagePrompt string `json:"image_prompt"`
}

// Parse decodes and validates raw model output.
func Parse(raw string) (*Story, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, domain.Failf(domain.FailureVoidResponse, "story: empty payload")
	}
	var ws wireStory
	if err := json.Unmarshal([]byte(cleaned), &ws); err != nil {
		return nil, domain.Failf(domain.FailureMalformedResponse, "story: decode: %w", err)
	}
	if len(ws.Pages) != domain.PageCount {
		return nil, domain.Failf(domain.FailureMalformedResponse, "story: got %d pages, want %d", len(ws.Pages), domain.PageCount)
	}

	// Models occasionally shuffle pages; page_number is authoritative when
	// it forms a proper 1..5 sequence.
	pages := slices.Clone(ws.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	if !sequential(pages) {
		pages = ws.Pages
	}

	titleCaser := cases.Title(language.English)
	st := &Story{
		Title:          strings.TrimSpace(ws.Title),
		StoryYear:      strings.TrimSpace(ws.StoryYear),
		Location:       strings.TrimSpace(ws.Location),
		Archetype:      titleCaser.String(strings.TrimSpace(ws.Archetype)),
		DivergenceMode: titleCaser.String(strings.TrimSpace(ws.DivergenceMode)),
	}
	for i, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return nil, domain.Failf(domain.FailureMalformedResponse, "story: page %d has no text", i+1)
		}
		role := domain.SceneRole(strings.ToLower(strings.TrimSpace(p.SceneRole)))
		if role == "" {
			role = domain.SceneOrder[i]
		}
		st.Pages[i] = domain.Page{
			Number:      i + 1,
			Text:        text,
			SceneRole:   role,
			ImagePrompt: strings.TrimSpace(p.ImagePrompt),
		}
	}
	return st, nil
}

func sequential(pages []wirePage) bool {
	for i, p := range pages {
		if p.PageNumber != i+1 {
			return false
		}
	}
	return true
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
