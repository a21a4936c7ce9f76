package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
	"noirvrs/internal/sqlinline"
)

type scanRow func(dest ...any) error

func (f scanRow) Scan(dest ...any) error { return f(dest...) }

type call struct {
	query string
	args  []any
}

// fakeDB answers QueryRow by query constant and records every call.
type fakeDB struct {
	rows  map[string]func(args []any) pgx.Row
	execs []call
	calls []call
	err   error
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, call{query, args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{query, args})
	if fn, ok := f.rows[query]; ok {
		return fn(args)
	}
	return scanRow(func(...any) error { return pgx.ErrNoRows })
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func accountRow(user, plan string, credits int, reset time.Time) pgx.Row {
	return scanRow(func(dest ...any) error {
		*dest[0].(*string) = user
		*dest[1].(*string) = plan
		*dest[2].(*int) = credits
		*dest[3].(*time.Time) = reset
		return nil
	})
}

var ledgerNow = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

func newTestLedger(db *fakeDB) *Ledger {
	l := NewLedger(db, zerolog.Nop())
	l.now = func() time.Time { return ledgerNow }
	return l
}

func TestNextReset(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{ledgerNow, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 1, 31, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600)), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		if got := NextReset(tc.now); !got.Equal(tc.want) {
			t.Fatalf("NextReset(%s) = %s, want %s", tc.now, got, tc.want)
		}
	}
}

func TestAccountOpensWithStartingCredits(t *testing.T) {
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QEnsureAccount: func(args []any) pgx.Row {
			return accountRow(args[0].(string), "free", args[1].(int), args[2].(time.Time))
		},
	}}
	acct, err := newTestLedger(db).Account(context.Background(), " citizen-1 ")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.UserID != "citizen-1" || acct.Credits != domain.DefaultStartingThreads || acct.Plan != domain.TierFree {
		t.Fatalf("account = %+v", acct)
	}
	if len(db.calls) != 1 {
		t.Fatalf("refresh ran before the window ended: %d calls", len(db.calls))
	}
}

func TestAccountRefreshesExpiredWindow(t *testing.T) {
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QEnsureAccount: func(args []any) pgx.Row {
			return accountRow("citizen-1", "pro", 0, ledgerNow.Add(-time.Hour))
		},
		sqlinline.QRefreshAccount: func(args []any) pgx.Row {
			return accountRow("citizen-1", "pro", args[2].(int), args[3].(time.Time))
		},
	}}
	acct, err := newTestLedger(db).Account(context.Background(), "citizen-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Credits != domain.TierPro.Allotment() {
		t.Fatalf("credits = %d, want pro allotment", acct.Credits)
	}
	if !acct.ResetAt.Equal(NextReset(ledgerNow)) {
		t.Fatalf("reset = %s", acct.ResetAt)
	}
}

func TestAccountRefreshRaceKeepsCurrentRow(t *testing.T) {
	stale := ledgerNow.Add(-time.Minute)
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QEnsureAccount: func([]any) pgx.Row { return accountRow("citizen-1", "free", 2, stale) },
	}}
	acct, err := newTestLedger(db).Account(context.Background(), "citizen-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Credits != 2 {
		t.Fatalf("credits = %d, want 2", acct.Credits)
	}
}

func TestAccountRequiresUser(t *testing.T) {
	if _, err := newTestLedger(&fakeDB{}).Account(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank user")
	}
}

func TestBegin(t *testing.T) {
	future := ledgerNow.Add(24 * time.Hour)
	tests := []struct {
		name    string
		credits int
		begin   func([]any) pgx.Row
		wantErr error
	}{
		{
			name:    "reserved",
			credits: 3,
			begin: func(args []any) pgx.Row {
				return scanRow(func(dest ...any) error { *dest[0].(*string) = args[0].(string); return nil })
			},
		},
		{name: "no credits", credits: 0, wantErr: domain.ErrNoCredits},
		{name: "key in use or another request running", credits: 3, wantErr: domain.ErrConflict},
		{
			name:    "concurrent request won the running slot",
			credits: 1,
			begin: func([]any) pgx.Row {
				return scanRow(func(...any) error {
					return &pgconn.PgError{Code: "23505", ConstraintName: "case_requests_one_running_idx"}
				})
			},
			wantErr: domain.ErrConflict,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeDB{rows: map[string]func([]any) pgx.Row{
				sqlinline.QEnsureAccount: func([]any) pgx.Row { return accountRow("citizen-1", "free", tc.credits, future) },
			}}
			if tc.begin != nil {
				db.rows[sqlinline.QBeginCaseRequest] = tc.begin
			}
			_, err := newTestLedger(db).Begin(context.Background(), "citizen-1", "nonce-1")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Begin err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == domain.ErrNoCredits {
				for _, c := range db.calls {
					if c.query == sqlinline.QBeginCaseRequest {
						t.Fatalf("key reserved without credits")
					}
				}
			}
		})
	}
}

func TestBeginReleasesStaleRequestsFirst(t *testing.T) {
	future := ledgerNow.Add(24 * time.Hour)
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QEnsureAccount: func([]any) pgx.Row { return accountRow("citizen-1", "free", 1, future) },
		sqlinline.QBeginCaseRequest: func(args []any) pgx.Row {
			return scanRow(func(dest ...any) error { *dest[0].(*string) = args[0].(string); return nil })
		},
	}}
	if _, err := newTestLedger(db).Begin(context.Background(), "citizen-1", "nonce-2"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].query != sqlinline.QExpireCaseRequests {
		t.Fatalf("execs = %+v", db.execs)
	}
	cutoff := db.execs[0].args[1].(time.Time)
	if !cutoff.Equal(ledgerNow.Add(-RunningRequestTTL)) {
		t.Fatalf("cutoff = %s", cutoff)
	}
}

// runningLedgerDB mimics the single-running-request guard of the schema: a
// citizen holds at most one running key until it is committed.
type runningLedgerDB struct {
	fakeDB
	credits int
	running map[string]string
}

func newRunningLedgerDB(credits int) *runningLedgerDB {
	db := &runningLedgerDB{credits: credits, running: map[string]string{}}
	future := ledgerNow.Add(24 * time.Hour)
	db.rows = map[string]func([]any) pgx.Row{
		sqlinline.QEnsureAccount: func([]any) pgx.Row { return accountRow("citizen-1", "free", db.credits, future) },
		sqlinline.QBeginCaseRequest: func(args []any) pgx.Row {
			key, user := args[0].(string), args[1].(string)
			if cur, ok := db.running[user]; ok && cur != key {
				return scanRow(func(...any) error { return pgx.ErrNoRows })
			}
			db.running[user] = key
			return scanRow(func(dest ...any) error { *dest[0].(*string) = key; return nil })
		},
		sqlinline.QCommitCaseRequest: func(args []any) pgx.Row {
			user, key := args[0].(string), args[1].(string)
			if db.running[user] != key {
				return scanRow(func(...any) error { return pgx.ErrNoRows })
			}
			delete(db.running, user)
			db.credits--
			return scanRow(func(dest ...any) error {
				*dest[0].(*int) = db.credits
				*dest[1].(*time.Time) = future
				return nil
			})
		},
	}
	return db
}

func TestBeginAllowsOneRunningRequestPerCitizen(t *testing.T) {
	db := newRunningLedgerDB(1)
	l := newTestLedger(&db.fakeDB)
	ctx := context.Background()

	if _, err := l.Begin(ctx, "citizen-1", "nonce-a"); err != nil {
		t.Fatalf("Begin a: %v", err)
	}
	if _, err := l.Begin(ctx, "citizen-1", "nonce-b"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Begin b err = %v, want ErrConflict", err)
	}
	if _, err := l.Commit(ctx, "citizen-1", "nonce-a", "case-a"); err != nil {
		t.Fatalf("Commit a: %v", err)
	}
	if _, err := l.Commit(ctx, "citizen-1", "nonce-b", "case-b"); err == nil {
		t.Fatalf("Commit of a key that never ran should fail")
	}
	if _, err := l.Begin(ctx, "citizen-1", "nonce-c"); !errors.Is(err, domain.ErrNoCredits) {
		t.Fatalf("Begin c err = %v, want ErrNoCredits", err)
	}
	if db.credits != 0 {
		t.Fatalf("credits = %d, want exactly one consumed", db.credits)
	}
}

func TestLedgerSchemaGuardsRunningRequests(t *testing.T) {
	if !strings.Contains(sqlinline.QEnsureLedgerSchema, "on case_requests (user_id) where status = 'running'") {
		t.Fatalf("schema lacks the one-running-request index")
	}
	if !strings.Contains(sqlinline.QBeginCaseRequest, "status = 'running' and idempotency_key <> $1::text") {
		t.Fatalf("begin query does not check other running requests")
	}
}

func TestCommitReturnsRemainingCredits(t *testing.T) {
	reset := NextReset(ledgerNow)
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QCommitCaseRequest: func(args []any) pgx.Row {
			if args[1] != "nonce-1" || args[2] != "case-7" {
				t.Fatalf("commit args = %v", args)
			}
			return scanRow(func(dest ...any) error {
				*dest[0].(*int) = 2
				*dest[1].(*time.Time) = reset
				return nil
			})
		},
	}}
	acct, err := newTestLedger(db).Commit(context.Background(), "citizen-1", "nonce-1", "case-7")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if acct.Credits != 2 || !acct.ResetAt.Equal(reset) {
		t.Fatalf("account = %+v", acct)
	}
}

func TestAbandonWrapsError(t *testing.T) {
	db := &fakeDB{err: errors.New("boom")}
	err := newTestLedger(db).Abandon(context.Background(), "nonce-1")
	if err == nil || !strings.Contains(err.Error(), "nonce-1") {
		t.Fatalf("Abandon err = %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].query != sqlinline.QAbandonCaseRequest {
		t.Fatalf("execs = %+v", db.execs)
	}
}

func TestSetPlan(t *testing.T) {
	db := &fakeDB{rows: map[string]func([]any) pgx.Row{
		sqlinline.QSetAccountPlan: func(args []any) pgx.Row {
			return accountRow(args[0].(string), args[1].(string), args[2].(int), args[3].(time.Time))
		},
	}}
	l := newTestLedger(db)

	acct, err := l.SetPlan(context.Background(), "citizen-1", "PREMIUM", -1)
	if err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if acct.Plan != domain.TierPremium || acct.Credits != domain.TierPremium.Allotment() {
		t.Fatalf("account = %+v", acct)
	}

	acct, err = l.SetPlan(context.Background(), "citizen-1", domain.TierFree, 9)
	if err != nil || acct.Credits != 9 {
		t.Fatalf("SetPlan explicit credits = %+v, %v", acct, err)
	}

	if _, err := l.SetPlan(context.Background(), "citizen-1", "platinum", -1); !errors.Is(err, domain.ErrUnsupportedTier) {
		t.Fatalf("SetPlan unknown tier err = %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := newTestLedger(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].query != sqlinline.QEnsureLedgerSchema {
		t.Fatalf("execs = %+v", db.execs)
	}
}
