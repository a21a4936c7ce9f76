package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"noirvrs/internal/infra"
	"noirvrs/internal/providers/genai"
	"noirvrs/internal/providers/story"
)

// Open builds the adapter named by mode from configuration.
func Open(ctx context.Context, mode string, cfg *infra.Config, logger zerolog.Logger) (Adapter, error) {
	switch mode {
	case infra.BackendMock:
		return NewMockAdapter(MockOptions{Delay: cfg.MockDelay, Logger: logger}), nil
	case infra.BackendHTTP:
		a, err := NewHTTPAdapter(HTTPOptions{
			Endpoint:   cfg.BackendURL,
			HTTPClient: &http.Client{Transport: http.DefaultTransport},
			Session:    StaticToken(cfg.BackendToken),
			Timeout:    cfg.RitualTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case infra.BackendGemini:
		return openGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("backend: unknown mode %q", mode)
	}
}

func openGemini(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (Adapter, error) {
	preset, err := story.LoadPreset(cfg.StoryPreset)
	if err != nil {
		return nil, err
	}
	if cfg.GeminiModel != "" {
		preset.Model = cfg.GeminiModel
	}
	gen, err := story.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL)
	if err != nil {
		return nil, err
	}
	writer, err := story.NewWriter(gen, preset, logger)
	if err != nil {
		return nil, err
	}
	panels, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiImageModel,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("preset", preset.Name).Str("model", preset.Model).Str("image_model", panels.Model()).Msg("backend: gemini adapter ready")
	a, err := NewGeminiAdapter(GeminiOptions{
		Writer:      writer,
		Panels:      panels,
		StyleTokens: preset.StyleTokens,
		Concurrency: cfg.PanelConcurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
