// Package ritual runs the credit-guarded generation state machine:
// IDLE, STORY_GEN, IMAGE_GEN, FINALIZING, COMPLETED, with ERROR, COOLDOWN and
// ABORTED exits. The only credit write happens on the way to COMPLETED.
package ritual

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"noirvrs/internal/backend"
	"noirvrs/internal/domain"
)

// ProfileStore is the subset of profile.Store the engine relies on.
type ProfileStore interface {
	Update(ctx context.Context, delta domain.Delta) (domain.UserProfile, error)
	Apply(ctx context.Context, fn func(domain.UserProfile) (domain.Delta, error)) (domain.UserProfile, error)
	RefreshCycle(ctx context.Context) (domain.UserProfile, bool, error)
}

// Options configures an Engine.
type Options struct {
	Store    ProfileStore
	Adapter  backend.Adapter
	Logger   zerolog.Logger
	Timeout  time.Duration
	Cooldown time.Duration
	Now      func() time.Time
	NewNonce func() string
	Locale   string
}

// Engine starts rituals for one profile. At most one attempt is in flight.
type Engine struct {
	store    ProfileStore
	adapter  backend.Adapter
	logger   zerolog.Logger
	timeout  time.Duration
	cooldown time.Duration
	now      func() time.Time
	newNonce func() string
	locale   string

	mu       sync.Mutex
	inflight *Session
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("ritual: profile store is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("ritual: backend adapter is required")
	}
	e := &Engine{
		store:    opts.Store,
		adapter:  opts.Adapter,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		cooldown: opts.Cooldown,
		now:      opts.Now,
		newNonce: opts.NewNonce,
		locale:   opts.Locale,
	}
	if e.timeout <= 0 {
		e.timeout = backend.DefaultTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newNonce == nil {
		e.newNonce = uuid.NewString
	}
	return e, nil
}

// StartRequest describes one attempt. An empty Nonce is generated. A
// ResumeCaseID that is already paid for is not charged again.
type StartRequest struct {
	Nonce        string
	ResumeCaseID string
	Observer     func(domain.Status)
}

// Start validates credit and launches the ritual in its own goroutine. The
// session lives until ctx is done or Cancel is called. Attempts rejected
// before the backend is contacted return a *domain.Failure and no session.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Session, error) {
	notify := func(st domain.Status) {
		if req.Observer != nil {
			req.Observer(st)
		}
	}

	if ctx.Err() != nil {
		e.clearActive(req.ResumeCaseID)
		notify(domain.StatusAborted)
		return nil, domain.NewFailure(domain.FailureAborted, context.Cause(ctx))
	}

	s, joined, rejected, err := e.admit(ctx, req)
	if err != nil {
		if rejected != "" {
			notify(rejected)
		}
		return nil, err
	}
	if joined {
		return s, nil
	}
	s.setStatus(domain.StatusStoryGen)
	go s.run()
	return s, nil
}

// admit joins or registers the in-flight attempt under mu. Observers are
// notified by the caller once mu is released; rejected names the status to
// report for a refused attempt.
func (e *Engine) admit(ctx context.Context, req StartRequest) (s *Session, joined bool, rejected domain.Status, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.inflight; cur != nil {
		if cur.matches(req) {
			e.logger.Debug().Str("nonce", cur.nonce).Msg("ritual: joining in-flight attempt")
			return cur, true, "", nil
		}
		return nil, false, "", domain.NewFailure(domain.FailureRequestConflict, domain.ErrConflict)
	}

	p, _, err := e.store.RefreshCycle(ctx)
	if err != nil {
		return nil, false, "", domain.AsFailure(err)
	}
	now := e.now().UTC()
	charge := !(req.ResumeCaseID != "" && (p.ActiveCaseID == req.ResumeCaseID || p.HasCompleted(req.ResumeCaseID)))

	if charge && p.ThreadsRemaining <= 0 {
		return nil, false, domain.StatusError, domain.NewFailure(domain.FailureNoCredits, domain.ErrNoCredits)
	}
	if charge && e.cooldown > 0 && p.LastGenerationAt != nil && now.Sub(*p.LastGenerationAt) < e.cooldown {
		return nil, false, domain.StatusCooldown, domain.NewFailure(domain.FailureRateLimited, domain.ErrCooldown)
	}

	nonce := req.Nonce
	if nonce == "" {
		nonce = e.newNonce()
	}
	s = newSession(ctx, e, nonce, req.ResumeCaseID, charge, req.Observer, now)
	e.inflight = s

	e.logger.Info().
		Str("nonce", nonce).
		Str("resume_case_id", req.ResumeCaseID).
		Bool("charge", charge).
		Int("threads", p.ThreadsRemaining).
		Msg("ritual: started")
	return s, false, "", nil
}

// Inflight returns the attempt currently running, if any.
func (e *Engine) Inflight() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight
}

func (e *Engine) release(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == s {
		e.inflight = nil
	}
}

// clearActive drops a speculative active case. It runs detached from the
// caller's context so an abort still lands.
func (e *Engine) clearActive(caseID string) {
	_, err := e.store.Apply(context.Background(), func(p domain.UserProfile) (domain.Delta, error) {
		if p.ActiveCaseID == "" || (caseID != "" && p.ActiveCaseID != caseID) {
			return domain.Delta{}, nil
		}
		return domain.Delta{ClearActiveCase: true}, nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("case_id", caseID).Msg("ritual: clear active case")
	}
}
