package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PanelSize is the edge length of a rendered square panel.
const PanelSize = 1024

// Options controls how the panel client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client renders comic panels through the Gemini image endpoint. Without an
// API key, or when the remote call fails, it renders deterministic synthetic
// panels so the ritual keeps working offline.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// PanelRequest describes one page illustration.
type PanelRequest struct {
	Prompt    string
	Style     []string
	Page      int
	Seed      string
	RequestID string
}

// Panel is a rendered illustration.
type Panel struct {
	Data      []byte
	Format    string
	Width     int
	Height    int
	Synthetic bool
}

// DataURL encodes the panel as an inline image reference.
func (p *Panel) DataURL() string {
	if p == nil || len(p.Data) == 0 {
		return ""
	}
	format := p.Format
	if format == "" {
		format = "image/png"
	}
	return "data:" + format + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a panel client with sane defaults. Callers may provide
// a nil HTTP client; one with a 60s timeout is created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     opts.Logger,
	}, nil
}

// Model returns the configured image model identifier.
func (c *Client) Model() string {
	return c.model
}

// RenderPanel produces one illustration. It returns an error only when ctx is
// done; remote failures degrade to a synthetic panel.
func (c *Client) RenderPanel(ctx context.Context, req PanelRequest) (*Panel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.apiKey == "" {
		return c.syntheticPanel(req), nil
	}

	panel, err := c.remotePanel(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", c.model).
			Int("page", req.Page).
			Msg("genai: remote panel generation failed; falling back to synthetic panel")
		return c.syntheticPanel(req), nil
	}
	if panel == nil {
		return c.syntheticPanel(req), nil
	}
	return panel, nil
}

func (c *Client) syntheticPanel(req PanelRequest) *Panel {
	seed := deterministicSeed(req.RequestID, req.Seed, req.Prompt, req.Page)
	panel := &Panel{
		Data:      renderSyntheticPanel(PanelSize, PanelSize, seed),
		Format:    "image/png",
		Width:     PanelSize,
		Height:    PanelSize,
		Synthetic: true,
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Int("page", req.Page).
		Msg("genai: rendered synthetic panel")

	return panel
}

func (c *Client) remotePanel(ctx context.Context, req PanelRequest) (*Panel, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: buildPanelPrompt(req)}},
			},
		},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     1,
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			data, format, err := decodeInlineImage(part)
			if err != nil || len(data) == 0 {
				continue
			}
			w, h := decodeImageDimensions(data)
			if w == 0 || h == 0 {
				w, h = PanelSize, PanelSize
			}
			c.logger.Debug().
				Str("request_id", req.RequestID).
				Str("model", c.model).
				Int("page", req.Page).
				Msg("genai: rendered remote panel")
			return &Panel{Data: data, Format: firstNonEmpty(format, "image/png"), Width: w, Height: h}, nil
		}
	}

	return nil, fmt.Errorf("no image content returned")
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func decodeInlineImage(part geminiPart) ([]byte, string, error) {
	if part.InlineData == nil || part.InlineData.Data == "" {
		return nil, "", nil
	}
	if mime := part.InlineData.MimeType; mime != "" && !strings.HasPrefix(mime, "image/") {
		return nil, "", nil
	}
	data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode inline data: %w", err)
	}
	return data, part.InlineData.MimeType, nil
}

func buildPanelPrompt(req PanelRequest) string {
	var b strings.Builder
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		b.WriteString(prompt)
	} else {
		b.WriteString("A rain-soaked city street at night, seen from a low angle")
	}
	if len(req.Style) > 0 {
		b.WriteString("\nStyle: ")
		b.WriteString(strings.Join(req.Style, ", "))
	}
	if req.Page > 0 {
		b.WriteString("\nPanel ")
		b.WriteString(strconv.Itoa(req.Page))
		b.WriteString(" of 5. Square format. No captions, no lettering.")
	}
	return b.String()
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// noir keeps synthetic panels in the ink-and-neon palette.
var noir = struct {
	ink, frame, neon color.RGBA
}{
	ink:   color.RGBA{R: 0x0B, G: 0x0D, B: 0x10, A: 255},
	frame: color.RGBA{R: 0x1F, G: 0x1F, B: 0x1F, A: 255},
	neon:  color.RGBA{R: 0x76, G: 0xF3, B: 0xFF, A: 255},
}

func renderSyntheticPanel(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{noir.ink}, image.Point{}, draw.Src)

	// Rain streaks: seed-tinted dark stripes.
	shade := dim(colorFromSeed(seed, 0), 5)
	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight/4))
		draw.Draw(img, stripe, &image.Uniform{shade}, image.Point{}, draw.Over)
	}

	border := 20
	for _, r := range []image.Rectangle{
		image.Rect(border, border, width-border, border+4),
		image.Rect(border, height-border-4, width-border, height-border),
		image.Rect(border, border, border+4, height-border),
		image.Rect(width-border-4, border, width-border, height-border),
	} {
		draw.Draw(img, r, &image.Uniform{noir.frame}, image.Point{}, draw.Src)
	}

	step := max(16, width/32)
	offset := int(colorFromSeed(seed, 1).R) % step
	for x := offset; x < width; x += step * 4 {
		for y := 0; y < height; y++ {
			xx := x + y
			if xx >= width {
				break
			}
			img.Set(xx, y, noir.neon)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func dim(c color.RGBA, factor uint8) color.RGBA {
	return color.RGBA{R: c.R / factor, G: c.G / factor, B: c.B / factor, A: 255}
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	r := mustParseHexByte(segment[0:2])
	g := mustParseHexByte(segment[2:4])
	b := mustParseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func mustParseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
