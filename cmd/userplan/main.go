package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"noirvrs/internal/accounts"
	"noirvrs/internal/domain"
	"noirvrs/internal/infra"
	"noirvrs/internal/middleware"
)

func main() {
	var (
		idFlag      string
		planFlag    string
		creditsFlag int
		tokenFlag   bool
		ttlFlag     time.Duration
	)

	flag.StringVar(&idFlag, "id", "", "citizen ID to update")
	flag.StringVar(&planFlag, "plan", "pro", "plan to assign (free, pro, premium)")
	flag.IntVar(&creditsFlag, "credits", -1, "credits to grant (negative grants the plan allotment)")
	flag.BoolVar(&tokenFlag, "token", false, "also print a bearer token for the citizen")
	flag.DurationVar(&ttlFlag, "ttl", 30*24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	_ = godotenv.Load()

	userID := strings.TrimSpace(idFlag)
	if userID == "" {
		exitWithError(errors.New("-id must be provided"))
	}
	plan, err := domain.ParseTier(planFlag)
	if err != nil {
		exitWithError(err)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if err := cfg.RequireServer(); err != nil {
		exitWithError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLoggerTo("cli", os.Stderr).With().Str("cmd", "userplan").Logger()
	ledger := accounts.NewLedger(infra.NewSQLRunner(pool, logger), logger)
	if err := ledger.Migrate(ctx); err != nil {
		exitWithError(err)
	}

	acct, err := ledger.SetPlan(ctx, userID, plan, creditsFlag)
	if err != nil {
		exitWithError(fmt.Errorf("failed to update plan: %w", err))
	}

	fmt.Printf("Citizen %s updated to plan %s\n", acct.UserID, acct.Plan)
	fmt.Printf("credits=%d\n", acct.Credits)
	fmt.Printf("credits_reset_at=%s\n", acct.ResetAt.UTC().Format(time.RFC3339))

	if tokenFlag {
		token, err := middleware.SignJWT(cfg.JWTSecret, middleware.TokenClaims{
			Sub:    acct.UserID,
			Exp:    time.Now().Add(ttlFlag).Unix(),
			Issuer: "noirvrs-userplan",
		})
		if err != nil {
			exitWithError(fmt.Errorf("failed to sign token: %w", err))
		}
		fmt.Printf("token=%s\n", token)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
