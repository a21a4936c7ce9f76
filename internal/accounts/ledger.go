// Package accounts keeps the case server's per-citizen credit ledger in
// Postgres. A credit is consumed only after a case was produced.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
	"noirvrs/internal/infra"
	"noirvrs/internal/sqlinline"
)

// Account is the server-side view of one citizen's credits.
type Account struct {
	UserID  string
	Plan    domain.Tier
	Credits int
	ResetAt time.Time
}

// RunningRequestTTL is how long a running request blocks its citizen before
// it is treated as crashed and released.
const RunningRequestTTL = 10 * time.Minute

// Ledger runs the account queries through a marker-checking SQL executor.
type Ledger struct {
	db     infra.SQLExecutor
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(db infra.SQLExecutor, logger zerolog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger, now: time.Now}
}

// NextReset returns midnight UTC on the first day of the month after now.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Migrate creates the ledger tables when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, sqlinline.QEnsureLedgerSchema); err != nil {
		return fmt.Errorf("accounts: migrate: %w", err)
	}
	return nil
}

// Account returns the citizen's account, opening it on first use and starting
// a new credit window once the reset date has passed.
func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Account{}, errors.New("accounts: user id is required")
	}
	now := l.now().UTC()
	var acct Account
	if err := scanAccount(l.db.QueryRow(ctx, sqlinline.QEnsureAccount, userID, domain.DefaultStartingThreads, NextReset(now)), &acct); err != nil {
		return Account{}, fmt.Errorf("accounts: ensure %s: %w", userID, err)
	}
	if now.Before(acct.ResetAt) {
		return acct, nil
	}

	var refreshed Account
	err := scanAccount(l.db.QueryRow(ctx, sqlinline.QRefreshAccount, userID, now, acct.Plan.Allotment(), NextReset(now)), &refreshed)
	switch {
	case infra.IsNoRows(err):
		// Another request refreshed first.
		return acct, nil
	case err != nil:
		return Account{}, fmt.Errorf("accounts: refresh %s: %w", userID, err)
	}
	l.logger.Info().Str("user_id", userID).Int("credits", refreshed.Credits).Msg("accounts: credit window refreshed")
	return refreshed, nil
}

// Begin reserves the idempotency key for a generation. It fails with
// domain.ErrNoCredits when nothing is left and domain.ErrConflict when the key
// is already running or served, or when the citizen has another request
// running.
func (l *Ledger) Begin(ctx context.Context, userID, key string) (Account, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	if acct.Credits <= 0 {
		return acct, domain.ErrNoCredits
	}
	tag, err := l.db.Exec(ctx, sqlinline.QExpireCaseRequests, acct.UserID, l.now().UTC().Add(-RunningRequestTTL))
	if err != nil {
		return acct, fmt.Errorf("accounts: expire running requests for %s: %w", acct.UserID, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		l.logger.Warn().Str("user_id", acct.UserID).Int64("rows", n).Msg("accounts: released stale running requests")
	}
	var got string
	if err := l.db.QueryRow(ctx, sqlinline.QBeginCaseRequest, key, acct.UserID).Scan(&got); err != nil {
		if infra.IsNoRows(err) || infra.IsUniqueViolation(err) {
			return acct, domain.ErrConflict
		}
		return acct, fmt.Errorf("accounts: begin %s: %w", key, err)
	}
	return acct, nil
}

// Commit consumes one credit and marks the request done. A key that is no
// longer running is not charged.
func (l *Ledger) Commit(ctx context.Context, userID, key, caseID string) (Account, error) {
	acct := Account{UserID: userID}
	if err := l.db.QueryRow(ctx, sqlinline.QCommitCaseRequest, userID, key, caseID).Scan(&acct.Credits, &acct.ResetAt); err != nil {
		return Account{}, fmt.Errorf("accounts: commit %s: %w", key, err)
	}
	l.logger.Info().Str("user_id", userID).Str("case_id", caseID).Int("credits", acct.Credits).Msg("accounts: credit consumed")
	return acct, nil
}

// Abandon releases a running key so the client may retry with it.
func (l *Ledger) Abandon(ctx context.Context, key string) error {
	if _, err := l.db.Exec(ctx, sqlinline.QAbandonCaseRequest, key); err != nil {
		return fmt.Errorf("accounts: abandon %s: %w", key, err)
	}
	return nil
}

// SetPlan assigns a plan and its credits. A negative credits value grants the
// plan's allotment.
func (l *Ledger) SetPlan(ctx context.Context, userID string, plan domain.Tier, credits int) (Account, error) {
	plan, err := domain.ParseTier(string(plan))
	if err != nil {
		return Account{}, err
	}
	if credits < 0 {
		credits = plan.Allotment()
	}
	var acct Account
	if err := scanAccount(l.db.QueryRow(ctx, sqlinline.QSetAccountPlan, userID, string(plan), credits, NextReset(l.now())), &acct); err != nil {
		return Account{}, fmt.Errorf("accounts: set plan %s: %w", userID, err)
	}
	return acct, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, acct *Account) error {
	var plan string
	if err := row.Scan(&acct.UserID, &plan, &acct.Credits, &acct.ResetAt); err != nil {
		return err
	}
	acct.Plan = domain.Tier(plan)
	return nil
}
