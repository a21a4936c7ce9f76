package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Tier enumerates subscription tiers. Tiers are local flags only.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

const (
	// DefaultStartingThreads is granted to a freshly created profile.
	DefaultStartingThreads = 5
	// PackSize is the number of threads added by a thread pack.
	PackSize = 10
	// CycleLength delimits the recurring credit window.
	CycleLength = 30 * 24 * time.Hour
)

var tierAllotments = map[Tier]int{
	TierFree:    4,
	TierPro:     40,
	TierPremium: 60,
}

// ParseTier normalizes user input into a supported tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierAllotments[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTier, s)
	}
	return t, nil
}

// Allotment is the number of threads granted at the start of each cycle.
func (t Tier) Allotment() int {
	if n, ok := tierAllotments[t]; ok {
		return n
	}
	return tierAllotments[TierFree]
}

// UserProfile is the single local record holding a citizen's credit ledger.
type UserProfile struct {
	CitizenID            string     `json:"citizen_id"`
	InstalledAt          time.Time  `json:"installed_at"`
	LastLoginAt          time.Time  `json:"last_login_at"`
	Tier                 Tier       `json:"tier"`
	ThreadsRemaining     int        `json:"threads_remaining"`
	CycleStart           time.Time  `json:"cycle_start"`
	CycleEnd             time.Time  `json:"cycle_end"`
	ActiveCaseID         string     `json:"active_case_id,omitempty"`
	TotalCases           int        `json:"total_cases"`
	CompletedCaseIDs     []string   `json:"completed_case_ids"`
	CurrentStreak        int        `json:"current_streak"`
	LastCompletedDate    string     `json:"last_completed_date,omitempty"`
	LastGenerationAt     *time.Time `json:"last_generation_at,omitempty"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
}

// NewProfile returns the default free-tier record.
func NewProfile(citizenID string, now time.Time) UserProfile {
	now = now.UTC()
	return UserProfile{
		CitizenID:            citizenID,
		InstalledAt:          now,
		LastLoginAt:          now,
		Tier:                 TierFree,
		ThreadsRemaining:     DefaultStartingThreads,
		CycleStart:           now,
		CycleEnd:             now.Add(CycleLength),
		CompletedCaseIDs:     []string{},
		NotificationsEnabled: true,
	}
}

// HasCompleted reports whether caseID was already filed.
func (p UserProfile) HasCompleted(caseID string) bool {
	return slices.Contains(p.CompletedCaseIDs, caseID)
}

// Validate checks the record invariants.
func (p UserProfile) Validate() error {
	if p.ThreadsRemaining < 0 {
		return fmt.Errorf("%w: negative threads_remaining", ErrInvalidProfile)
	}
	if !p.CycleEnd.After(p.CycleStart) {
		return fmt.Errorf("%w: cycle_end must be after cycle_start", ErrInvalidProfile)
	}
	if _, ok := tierAllotments[p.Tier]; !ok {
		return fmt.Errorf("%w: tier %q", ErrInvalidProfile, p.Tier)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with p.
func (p UserProfile) Clone() UserProfile {
	out := p
	out.CompletedCaseIDs = slices.Clone(p.CompletedCaseIDs)
	if p.LastGenerationAt != nil {
		t := *p.LastGenerationAt
		out.LastGenerationAt = &t
	}
	return out
}

// Delta is a partial update. Nil fields are left untouched; CompletedCaseIDs,
// when non-nil, replaces the whole set.
type Delta struct {
	Tier                 *Tier
	ThreadsRemaining     *int
	CycleStart           *time.Time
	CycleEnd             *time.Time
	ActiveCaseID         *string
	ClearActiveCase      bool
	TotalCases           *int
	CompletedCaseIDs     []string
	CurrentStreak        *int
	LastCompletedDate    *string
	LastGenerationAt     *time.Time
	LastLoginAt          *time.Time
	NotificationsEnabled *bool
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Tier == nil && d.ThreadsRemaining == nil && d.CycleStart == nil && d.CycleEnd == nil &&
		d.ActiveCaseID == nil && !d.ClearActiveCase && d.TotalCases == nil && d.CompletedCaseIDs == nil &&
		d.CurrentStreak == nil && d.LastCompletedDate == nil && d.LastGenerationAt == nil &&
		d.LastLoginAt == nil && d.NotificationsEnabled == nil
}

// Merge applies d on top of p. Threads are clamped at zero and completed ids
// are deduplicated so the result never violates those invariants.
func (d Delta) Merge(p UserProfile) UserProfile {
	out := p.Clone()
	if d.Tier != nil {
		out.Tier = *d.Tier
	}
	if d.ThreadsRemaining != nil {
		out.ThreadsRemaining = max(*d.ThreadsRemaining, 0)
	}
	if d.CycleStart != nil {
		out.CycleStart = d.CycleStart.UTC()
	}
	if d.CycleEnd != nil {
		out.CycleEnd = d.CycleEnd.UTC()
	}
	if d.ActiveCaseID != nil {
		out.ActiveCaseID = *d.ActiveCaseID
	}
	if d.ClearActiveCase {
		out.ActiveCaseID = ""
	}
	if d.TotalCases != nil {
		out.TotalCases = max(*d.TotalCases, 0)
	}
	if d.CompletedCaseIDs != nil {
		out.CompletedCaseIDs = dedupe(d.CompletedCaseIDs)
	}
	if d.CurrentStreak != nil {
		out.CurrentStreak = max(*d.CurrentStreak, 0)
	}
	if d.LastCompletedDate != nil {
		out.LastCompletedDate = *d.LastCompletedDate
	}
	if d.LastGenerationAt != nil {
		t := d.LastGenerationAt.UTC()
		out.LastGenerationAt = &t
	}
	if d.LastLoginAt != nil {
		out.LastLoginAt = d.LastLoginAt.UTC()
	}
	if d.NotificationsEnabled != nil {
		out.NotificationsEnabled = *d.NotificationsEnabled
	}
	if out.CompletedCaseIDs == nil {
		out.CompletedCaseIDs = []string{}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Ptr returns a pointer to v. Handy for building deltas.
func Ptr[T any](v T) *T {
	return &v
}
