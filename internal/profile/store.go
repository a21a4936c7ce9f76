package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
)

// DefaultKey is the stable storage key of the guest profile record.
const DefaultKey = "noirvrs_guest_profile"

// Backend persists one opaque record per key. Load returns domain.ErrNotFound
// when nothing was stored under key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
}

// Options configures a Store.
type Options struct {
	Backend      Backend
	Logger       zerolog.Logger
	Now          func() time.Time
	NewCitizenID func() string
	Key          string
}

// Store is the only write path for the UserProfile record. Every mutation is a
// read-merge-write performed under one lock.
type Store struct {
	mu           sync.Mutex
	backend      Backend
	logger       zerolog.Logger
	now          func() time.Time
	newCitizenID func() string
	key          string
}

// NewStore wires a Store around the given backend.
func NewStore(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, errors.New("profile: backend is required")
	}
	s := &Store{
		backend:      opts.Backend,
		logger:       opts.Logger,
		now:          opts.Now,
		newCitizenID: opts.NewCitizenID,
		key:          opts.Key,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCitizenID == nil {
		s.newCitizenID = RandomCitizenID
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	return s, nil
}

// RandomCitizenID returns a display id of the form "Citizen #NNNNNN".
func RandomCitizenID() string {
	return fmt.Sprintf("Citizen #%06d", 100000+rand.IntN(900000))
}

// Get returns the current record, creating and persisting defaults when no
// record exists. When storage cannot be read, Get returns unsaved defaults and
// leaves the stored record alone. It fails only when ctx is done.
func (s *Store) Get(ctx context.Context) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.current(ctx)
	if err != nil {
		return s.defaults(), nil
	}
	return p, nil
}

// Update merges delta into the stored record and persists the result.
func (s *Store) Update(ctx context.Context, delta domain.Delta) (domain.UserProfile, error) {
	return s.Apply(ctx, func(domain.UserProfile) (domain.Delta, error) {
		return delta, nil
	})
}

// Apply computes a delta from the current record and merges it, all inside the
// store's critical section. An error from fn, or a failed read of the stored
// record, leaves the record untouched.
func (s *Store) Apply(ctx context.Context, fn func(domain.UserProfile) (domain.Delta, error)) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.current(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	delta, err := fn(cur.Clone())
	if err != nil {
		return cur, err
	}
	if delta.IsZero() {
		return cur, nil
	}
	next := delta.Merge(cur)
	if err := next.Validate(); err != nil {
		return cur, fmt.Errorf("profile: merge rejected: %w", err)
	}
	if err := s.save(ctx, next); err != nil {
		return cur, err
	}
	return next, nil
}

// Wipe deletes the record. The next Get recreates defaults.
func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("profile: wipe: %w", err)
	}
	s.logger.Info().Str("key", s.key).Msg("profile: wiped")
	return nil
}

// RefreshCycle starts a new credit window when the current one has ended,
// resetting threads to the tier allotment. It reports whether a reset happened.
func (s *Store) RefreshCycle(ctx context.Context) (domain.UserProfile, bool, error) {
	refreshed := false
	p, err := s.Apply(ctx, func(p domain.UserProfile) (domain.Delta, error) {
		now := s.now().UTC()
		if now.Before(p.CycleEnd) {
			return domain.Delta{}, nil
		}
		refreshed = true
		return domain.Delta{
			ThreadsRemaining: domain.Ptr(p.Tier.Allotment()),
			CycleStart:       domain.Ptr(now),
			CycleEnd:         domain.Ptr(now.Add(domain.CycleLength)),
		}, nil
	})
	if err != nil {
		return p, false, err
	}
	if refreshed {
		s.logger.Info().Str("tier", string(p.Tier)).Int("threads", p.ThreadsRemaining).Msg("profile: cycle refreshed")
	}
	return p, refreshed, nil
}

// Subscribe switches the tier and grants its allotment for the current cycle.
func (s *Store) Subscribe(ctx context.Context, tier domain.Tier) (domain.UserProfile, error) {
	tier, err := domain.ParseTier(string(tier))
	if err != nil {
		return domain.UserProfile{}, err
	}
	return s.Update(ctx, domain.Delta{
		Tier:             domain.Ptr(tier),
		ThreadsRemaining: domain.Ptr(tier.Allotment()),
	})
}

// AddPack grants one thread pack on top of the remaining threads.
func (s *Store) AddPack(ctx context.Context) (domain.UserProfile, error) {
	return s.Apply(ctx, func(p domain.UserProfile) (domain.Delta, error) {
		return domain.Delta{ThreadsRemaining: domain.Ptr(p.ThreadsRemaining + domain.PackSize)}, nil
	})
}

// BackupSuffix is appended to the key under which an unreadable record is
// preserved before defaults replace it.
const BackupSuffix = ".unreadable"

// current loads the record, persisting defaults only when none is stored or
// the stored one cannot be decoded. Any other load failure is returned so the
// durable record is never replaced. Callers hold mu.
func (s *Store) current(ctx context.Context) (domain.UserProfile, error) {
	body, err := s.backend.Load(ctx, s.key)
	switch {
	case err == nil:
		p, decodeErr := decode(body)
		if decodeErr == nil {
			return p, nil
		}
		if err := s.backend.Save(ctx, s.key+BackupSuffix, body); err != nil {
			s.logger.Error().Err(err).Str("key", s.key).Msg("profile: back up unreadable record")
			return domain.UserProfile{}, fmt.Errorf("profile: back up unreadable record: %w", err)
		}
		s.logger.Warn().Err(decodeErr).Str("key", s.key).Str("backup", s.key+BackupSuffix).Msg("profile: replacing unreadable record")
	case errors.Is(err, domain.ErrNotFound):
	default:
		s.logger.Warn().Err(err).Str("key", s.key).Msg("profile: load failed")
		return domain.UserProfile{}, fmt.Errorf("profile: load: %w", err)
	}

	p := s.defaults()
	if err := s.save(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("profile: persist defaults")
	}
	return p, nil
}

func (s *Store) defaults() domain.UserProfile {
	return domain.NewProfile(s.newCitizenID(), s.now())
}

func (s *Store) save(ctx context.Context, p domain.UserProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: encode: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, body); err != nil {
		return fmt.Errorf("profile: save: %w", err)
	}
	return nil
}

func decode(body []byte) (domain.UserProfile, error) {
	var p domain.UserProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("profile: decode: %w", err)
	}
	if p.CompletedCaseIDs == nil {
		p.CompletedCaseIDs = []string{}
	}
	if p.Tier == "" {
		p.Tier = domain.TierFree
	}
	if err := p.Validate(); err != nil {
		return domain.UserProfile{}, err
	}
	return p, nil
}
