package ritual

import (
	"context"
	"errors"
	"sync"
	"time"

	"noirvrs/internal/backend"
	"noirvrs/internal/domain"
)

// Session is one in-flight or finished ritual attempt.
type Session struct {
	engine   *Engine
	nonce    string
	resume   string
	charge   bool
	observer func(domain.Status)

	ctx       context.Context
	cancel    context.CancelCauseFunc
	genCancel context.CancelFunc
	stopTimer func() bool

	firstSettled chan struct{}
	allSettled   chan struct{}
	done         chan struct{}

	mu        sync.Mutex
	c         domain.Case
	failure   *domain.Failure
	firstShut bool
	allShut   bool
}

func newSession(parent context.Context, e *Engine, nonce, resume string, charge bool, observer func(domain.Status), now time.Time) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	genCtx, genCancel := context.WithTimeoutCause(ctx, e.timeout, domain.ErrTimeout)
	s := &Session{
		engine:       e,
		nonce:        nonce,
		resume:       resume,
		charge:       charge,
		observer:     observer,
		ctx:          ctx,
		cancel:       cancel,
		genCancel:    genCancel,
		firstSettled: make(chan struct{}),
		allSettled:   make(chan struct{}),
		done:         make(chan struct{}),
		c: domain.Case{
			Nonce:     nonce,
			Status:    domain.StatusStoryGen,
			CreatedAt: now,
		},
	}
	// The deadline covers the story and the first panel only.
	s.stopTimer = context.AfterFunc(genCtx, func() {
		if errors.Is(context.Cause(genCtx), domain.ErrTimeout) {
			cancel(domain.ErrTimeout)
		}
	})
	return s
}

// Nonce returns the idempotency nonce of the attempt.
func (s *Session) Nonce() string {
	return s.nonce
}

// Case returns a snapshot of the case as it stands.
func (s *Session) Case() domain.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Status
}

// Failure returns the classified failure once the attempt failed.
func (s *Session) Failure() *domain.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Done is closed when the attempt reached a terminal status.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Settled is closed when every image slot left the pending state.
func (s *Session) Settled() <-chan struct{} {
	return s.allSettled
}

// Wait blocks until the attempt is terminal or ctx is done.
func (s *Session) Wait(ctx context.Context) (domain.Case, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return s.Case(), ctx.Err()
	}
	if f := s.Failure(); f != nil {
		return s.Case(), f
	}
	return s.Case(), nil
}

// Cancel aborts the attempt. After completion it only stops pending panels.
func (s *Session) Cancel() {
	s.cancel(domain.ErrAborted)
}

func (s *Session) matches(req StartRequest) bool {
	if req.Nonce != "" && req.Nonce == s.nonce {
		return true
	}
	if req.ResumeCaseID == "" {
		return false
	}
	if req.ResumeCaseID == s.nonce {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.ID != "" && req.ResumeCaseID == s.c.ID
}

func (s *Session) run() {
	p, err := s.engine.adapter.Generate(s.ctx, backend.Request{
		Nonce:        s.nonce,
		ResumeCaseID: s.resume,
		Locale:       s.engine.locale,
	}, s.resolve)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.checkpoint(); err != nil {
		s.fail(err)
		return
	}
	s.applyPayload(p)

	select {
	case <-s.firstSettled:
	case <-s.ctx.Done():
		s.fail(context.Cause(s.ctx))
		return
	}
	s.stopTimer()
	s.genCancel()
	if err := s.checkpoint(); err != nil {
		s.fail(err)
		return
	}

	s.setStatus(domain.StatusFinalizing)
	if err := s.commit(p); err != nil {
		s.fail(err)
		return
	}
	s.setStatus(domain.StatusCompleted)
	s.engine.logger.Info().
		Str("case_id", p.CaseID).
		Str("nonce", s.nonce).
		Bool("charged", s.charge).
		Msg("ritual: completed")
	s.finish()

	select {
	case <-s.allSettled:
	case <-s.ctx.Done():
		s.abandonPending("abandoned")
	}
	s.cancel(nil)
}

// checkpoint reports the cancellation cause, if any.
func (s *Session) checkpoint() error {
	if s.ctx.Err() != nil {
		return context.Cause(s.ctx)
	}
	return nil
}

// commit performs the single credit write of the attempt.
func (s *Session) commit(p *backend.Payload) error {
	now := s.engine.now().UTC()
	_, err := s.engine.store.Apply(context.WithoutCancel(s.ctx), func(prof domain.UserProfile) (domain.Delta, error) {
		if err := s.checkpoint(); err != nil {
			return domain.Delta{}, err
		}
		d := domain.Delta{
			ActiveCaseID:     domain.Ptr(p.CaseID),
			LastGenerationAt: &now,
		}
		if s.charge {
			d.ThreadsRemaining = domain.Ptr(prof.ThreadsRemaining - 1)
		}
		if p.CreditsResetAt != nil && p.CreditsResetAt.After(prof.CycleStart) {
			d.CycleEnd = domain.Ptr(p.CreditsResetAt.UTC())
		}
		return d, nil
	})
	if err != nil {
		return err
	}
	if p.CreditsRemaining != nil {
		s.engine.logger.Debug().Str("case_id", p.CaseID).Int("server_credits", *p.CreditsRemaining).Msg("ritual: server credit hint")
	}
	return nil
}

func (s *Session) applyPayload(p *backend.Payload) {
	s.mu.Lock()
	s.c.ID = p.CaseID
	s.c.Title = p.Title
	s.c.Archetype = p.Archetype
	s.c.DivergenceMode = p.DivergenceMode
	s.c.StoryYear = p.StoryYear
	s.c.Location = p.Location
	s.c.Pages = p.Pages
	for i, ref := range p.Images {
		if ref == "" || s.c.Slots[i].Settled() {
			continue
		}
		s.c.Slots[i] = domain.ResolvedSlot(backend.NormalizeImageRef(ref))
	}
	s.signalLocked()
	s.mu.Unlock()

	s.setStatus(domain.StatusImageGen)
}

// resolve is handed to the adapter. Each slot settles at most once and always
// lands at its own index.
func (s *Session) resolve(i int, ref string, err error) {
	if i < 0 || i >= domain.PageCount {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c.Status.Failed() || s.c.Slots[i].Settled() {
		return
	}
	ref = backend.NormalizeImageRef(ref)
	switch {
	case err != nil:
		s.c.Slots[i] = domain.FailedSlot(err.Error())
	case ref == "":
		s.c.Slots[i] = domain.FailedSlot(domain.ErrPanelMissing.Error())
	default:
		s.c.Slots[i] = domain.ResolvedSlot(ref)
	}
	s.signalLocked()
}

func (s *Session) signalLocked() {
	if !s.firstShut && s.c.Slots[0].Settled() {
		s.firstShut = true
		close(s.firstSettled)
	}
	if !s.allShut && s.c.Settled() == domain.PageCount {
		s.allShut = true
		close(s.allSettled)
	}
}

func (s *Session) abandonPending(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, slot := range s.c.Slots {
		if !slot.Settled() {
			s.c.Slots[i] = domain.FailedSlot(reason)
		}
	}
	s.signalLocked()
}

func (s *Session) setStatus(st domain.Status) {
	s.mu.Lock()
	if s.c.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.c.Status = st
	s.mu.Unlock()
	s.notify(st)
}

func (s *Session) notify(st domain.Status) {
	s.engine.logger.Debug().Str("nonce", s.nonce).Str("status", string(st)).Msg("ritual: transition")
	if s.observer != nil {
		s.observer(st)
	}
}

func (s *Session) fail(err error) {
	f := domain.AsFailure(err)
	if s.ctx.Err() != nil {
		cause := context.Cause(s.ctx)
		f = domain.NewFailure(domain.Classify(cause), cause)
	}
	st := statusFor(f.Class)

	s.mu.Lock()
	s.failure = f
	caseID := s.c.ID
	s.mu.Unlock()

	s.setStatus(st)
	s.abandonPending(string(f.Class))

	s.engine.logger.Warn().
		Err(f.Err).
		Str("case_id", caseID).
		Str("nonce", s.nonce).
		Str("status", string(st)).
		Str("class", string(f.Class)).
		Msg("ritual: failed")

	if st == domain.StatusAborted {
		s.engine.clearActive(caseID)
	}
	s.cancel(f)
	s.finish()
}

func (s *Session) finish() {
	s.stopTimer()
	s.genCancel()
	s.engine.release(s)
	close(s.done)
}

func statusFor(class domain.FailureClass) domain.Status {
	switch class {
	case domain.FailureAborted:
		return domain.StatusAborted
	case domain.FailureRateLimited:
		return domain.StatusCooldown
	default:
		return domain.StatusError
	}
}
