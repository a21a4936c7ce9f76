package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"noirvrs/internal/accounts"
	"noirvrs/internal/backend"
	"noirvrs/internal/http/handlers"
	httpapi "noirvrs/internal/http/httpapi"
	"noirvrs/internal/infra"
	"noirvrs/internal/infra/geoip"
)

func main() {
	// Optional .env for local runs.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if err := cfg.RequireServer(); err != nil {
		logger.Fatal().Err(err).Msg("api: invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer dbpool.Close()

	ledger := accounts.NewLedger(infra.NewSQLRunner(dbpool, logger), logger)
	if err := ledger.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: migrate ledger")
	}

	// The server generates in-process; without a key it serves the mock case.
	mode := infra.BackendGemini
	if cfg.GeminiAPIKey == "" {
		mode = infra.BackendMock
		logger.Warn().Msg("api: GEMINI_API_KEY not set, serving mock cases")
	}
	adapter, err := backend.Open(ctx, mode, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("mode", mode).Msg("api: build case adapter")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()

	app := handlers.NewApp(ledger, adapter, logger, cfg.RitualTimeout)
	app.Ping = dbpool.Ping
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.Locale,
		CountryLookup:   resolver.Lookup(),
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router, logger)
	logger.Info().Str("mode", mode).Msg("api: starting")
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: http server failed")
	}
	logger.Info().Msg("api: server stopped")
}
