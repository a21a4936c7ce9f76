package domain

import "time"

// PageCount is the fixed length of every case.
const PageCount = 5

// Status enumerates ritual lifecycle states.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusStoryGen   Status = "STORY_GEN"
	StatusImageGen   Status = "IMAGE_GEN"
	StatusFinalizing Status = "FINALIZING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
	StatusCooldown   Status = "COOLDOWN"
	StatusAborted    Status = "ABORTED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCooldown, StatusAborted:
		return true
	}
	return false
}

// Failed reports whether s is one of the unsuccessful exits.
func (s Status) Failed() bool {
	return s == StatusError || s == StatusCooldown || s == StatusAborted
}

// SceneRole tags the dramatic function of a page.
type SceneRole string

const (
	SceneSetup    SceneRole = "setup"
	SceneReveal   SceneRole = "reveal"
	SceneConflict SceneRole = "conflict"
	SceneShift    SceneRole = "shift"
	SceneEnding   SceneRole = "ending"
)

// SceneOrder is the canonical page flow.
var SceneOrder = [PageCount]SceneRole{SceneSetup, SceneReveal, SceneConflict, SceneShift, SceneEnding}

// Page is one panel of narrative.
type Page struct {
	Number      int       `json:"page_number"`
	Text        string    `json:"text"`
	SceneRole   SceneRole `json:"scene_role,omitempty"`
	ImagePrompt string    `json:"image_prompt,omitempty"`
}

// SlotState is the tagged state of an image slot.
type SlotState uint8

const (
	SlotPending SlotState = iota
	SlotResolved
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotResolved:
		return "resolved"
	case SlotFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ImageSlot holds the illustration of one page.
type ImageSlot struct {
	State  SlotState
	Ref    string
	Reason string
}

func ResolvedSlot(ref string) ImageSlot {
	return ImageSlot{State: SlotResolved, Ref: ref}
}

func FailedSlot(reason string) ImageSlot {
	return ImageSlot{State: SlotFailed, Reason: reason}
}

// Settled reports whether the slot left the pending state.
func (s ImageSlot) Settled() bool {
	return s.State != SlotPending
}

// Case is a single generated comic session.
type Case struct {
	ID             string
	Nonce          string
	Title          string
	Archetype      string
	DivergenceMode string
	StoryYear      string
	Location       string
	Pages          [PageCount]Page
	Slots          [PageCount]ImageSlot
	Status         Status
	CreatedAt      time.Time
}

// Images projects the slots onto image references. Pending and failed slots
// are reported as the empty string so positions stay aligned with pages.
func (c Case) Images() []string {
	out := make([]string, PageCount)
	for i, slot := range c.Slots {
		if slot.State == SlotResolved {
			out[i] = slot.Ref
		}
	}
	return out
}

// Settled counts slots that are no longer pending.
func (c Case) Settled() int {
	n := 0
	for _, slot := range c.Slots {
		if slot.Settled() {
			n++
		}
	}
	return n
}
