// Package reader turns a routed case target into a paged reading session on
// top of the ritual engine.
package reader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
	"noirvrs/internal/ritual"
)

var (
	ErrBusy       = errors.New("reader: case already loading")
	ErrNotReading = errors.New("reader: no case open")
)

// Starter launches rituals. *ritual.Engine satisfies it.
type Starter interface {
	Start(ctx context.Context, req ritual.StartRequest) (*ritual.Session, error)
}

// ProfileStore is the write path used for case closure and abort.
type ProfileStore interface {
	Update(ctx context.Context, delta domain.Delta) (domain.UserProfile, error)
	Apply(ctx context.Context, fn func(domain.UserProfile) (domain.Delta, error)) (domain.UserProfile, error)
}

// Nav tells the caller whether to stay in the reader.
type Nav int

const (
	NavStay Nav = iota
	NavLeave
)

// State is the reader's own lifecycle, separate from the ritual status.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReading State = "reading"
	StateFailed  State = "failed"
	StateClosed  State = "closed"
)

// Options configures a Controller. Location decides the calendar day used for
// streaks and defaults to time.Local.
type Options struct {
	Engine   Starter
	Store    ProfileStore
	Logger   zerolog.Logger
	Now      func() time.Time
	Location *time.Location
	Observer func(domain.Status)
}

// Controller drives one reader mount.
type Controller struct {
	engine   Starter
	store    ProfileStore
	logger   zerolog.Logger
	now      func() time.Time
	loc      *time.Location
	observer func(domain.Status)

	opening atomic.Bool

	mu      sync.Mutex
	state   State
	stop    context.CancelCauseFunc
	session *ritual.Session
	page    int
	failure *domain.Failure
	closed  bool
}

func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, errors.New("reader: engine is required")
	}
	if opts.Store == nil {
		return nil, errors.New("reader: profile store is required")
	}
	c := &Controller{
		engine:   opts.Engine,
		store:    opts.Store,
		logger:   opts.Logger,
		now:      opts.Now,
		loc:      opts.Location,
		observer: opts.Observer,
		state:    StateIdle,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	return c, nil
}

// IsNew reports whether target asks for a fresh case.
func IsNew(target string) bool {
	target = strings.TrimSpace(target)
	return target == "" || strings.EqualFold(target, "new")
}

// Open starts or resumes a case and blocks until it is readable or failed.
// The session lives as long as ctx. Calls made while a load is in flight
// return ErrBusy without touching the engine.
func (c *Controller) Open(ctx context.Context, target string) (View, error) {
	if !c.opening.CompareAndSwap(false, true) {
		return c.View(), ErrBusy
	}
	defer c.opening.Store(false)

	var resume string
	if !IsNew(target) {
		resume = strings.TrimSpace(target)
	}

	octx, stop := context.WithCancelCause(ctx)
	c.mu.Lock()
	if c.stop != nil {
		c.stop(domain.ErrAborted)
	}
	c.stop = stop
	c.state = StateLoading
	c.session = nil
	c.page = 0
	c.failure = nil
	c.closed = false
	c.mu.Unlock()

	s, err := c.engine.Start(octx, ritual.StartRequest{ResumeCaseID: resume, Observer: c.observer})
	if err != nil {
		stop(err)
		return c.failWith(err), err
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	cs, err := s.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			stop(domain.ErrAborted)
			<-s.Done()
			if f := s.Failure(); f != nil {
				err = f
			} else {
				err = domain.NewFailure(domain.FailureAborted, context.Cause(ctx))
			}
		}
		return c.failWith(err), err
	}

	c.mu.Lock()
	c.state = StateReading
	c.mu.Unlock()
	c.logger.Info().Str("case_id", cs.ID).Str("target", target).Msg("reader: case opened")
	return c.View(), nil
}

func (c *Controller) failWith(err error) View {
	f := domain.AsFailure(err)
	c.mu.Lock()
	c.state = StateFailed
	c.failure = f
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("class", string(f.Class)).Msg("reader: open failed")
	return c.View()
}

// Advance moves to the next page. On the last page it closes the case exactly
// once and tells the caller to leave. A failed closure write leaves the reader
// on the last page so the closure can be retried.
func (c *Controller) Advance(ctx context.Context) (Nav, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return NavLeave, nil
	}
	if c.state != StateReading || c.session == nil {
		return NavStay, ErrNotReading
	}
	if c.page < domain.PageCount-1 {
		c.page++
		return NavStay, nil
	}

	caseID := c.session.Case().ID
	now := c.now().In(c.loc)
	p, err := c.store.Apply(ctx, func(p domain.UserProfile) (domain.Delta, error) {
		return closure(p, caseID, now), nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("case_id", caseID).Msg("reader: case closure not persisted")
		return NavStay, err
	}

	c.closed = true
	c.state = StateClosed
	c.stop(nil)
	c.logger.Info().
		Str("case_id", caseID).
		Int("total_cases", p.TotalCases).
		Int("streak", p.CurrentStreak).
		Msg("reader: case closed")
	return NavLeave, nil
}

// closure builds the profile delta for finishing caseID on day now. A case
// already filed only clears the active pointer.
func closure(p domain.UserProfile, caseID string, now time.Time) domain.Delta {
	d := domain.Delta{ClearActiveCase: true}
	if caseID == "" || p.HasCompleted(caseID) {
		return d
	}
	today := now.Format(time.DateOnly)
	d.TotalCases = domain.Ptr(p.TotalCases + 1)
	d.CompletedCaseIDs = append(p.CompletedCaseIDs, caseID)
	d.CurrentStreak = domain.Ptr(nextStreak(p.CurrentStreak, p.LastCompletedDate, now))
	d.LastCompletedDate = domain.Ptr(today)
	return d
}

// nextStreak extends the streak for a completion on day now.
func nextStreak(streak int, last string, now time.Time) int {
	switch last {
	case now.Format(time.DateOnly):
		return max(streak, 1)
	case now.AddDate(0, 0, -1).Format(time.DateOnly):
		return streak + 1
	default:
		return 1
	}
}

// Retreat moves to the previous page. It does nothing on the first page.
func (c *Controller) Retreat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReading && c.page > 0 {
		c.page--
	}
}

// Abort cancels any running ritual and clears the active case whatever the
// phase. The caller always leaves the reader.
func (c *Controller) Abort(ctx context.Context) (Nav, error) {
	c.mu.Lock()
	if c.stop != nil {
		c.stop(domain.ErrAborted)
	}
	if c.state == StateReading {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if _, err := c.store.Update(context.WithoutCancel(ctx), domain.Delta{ClearActiveCase: true}); err != nil {
		c.logger.Error().Err(err).Msg("reader: clear active case on abort")
		return NavLeave, err
	}
	c.logger.Info().Msg("reader: aborted")
	return NavLeave, nil
}
