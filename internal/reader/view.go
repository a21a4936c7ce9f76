package reader

import "noirvrs/internal/domain"

// FailureView is the single error screen shown for a failed attempt.
type FailureView struct {
	Code    domain.FailureClass `json:"code"`
	Message string              `json:"message"`
}

// View is what the reader renders right now. Page is 1-based and zero when no
// case is readable.
type View struct {
	State    State            `json:"state"`
	Status   domain.Status    `json:"status,omitempty"`
	CaseID   string           `json:"case_id,omitempty"`
	Title    string           `json:"title,omitempty"`
	Page     int              `json:"page,omitempty"`
	Pages    int              `json:"pages,omitempty"`
	Text     string           `json:"text,omitempty"`
	Scene    domain.SceneRole `json:"scene_role,omitempty"`
	Slot     domain.ImageSlot `json:"-"`
	Image    string           `json:"image,omitempty"`
	Failure  *FailureView     `json:"failure,omitempty"`
	LastPage bool             `json:"last_page,omitempty"`
}

// View snapshots the controller. Image slots are read live from the session so
// late panels show up without reopening.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{State: c.state}
	if c.state == StateFailed {
		if c.failure != nil {
			v.Failure = &FailureView{Code: c.failure.Class, Message: c.failure.Class.Message()}
		}
		if c.session != nil {
			v.Status = c.session.Status()
		}
		return v
	}
	if c.session == nil {
		return v
	}

	cs := c.session.Case()
	v.Status = cs.Status
	v.CaseID = cs.ID
	v.Title = cs.Title
	if c.state != StateReading {
		return v
	}
	page := cs.Pages[c.page]
	v.Page = c.page + 1
	v.Pages = domain.PageCount
	v.Text = page.Text
	v.Scene = page.SceneRole
	v.Slot = cs.Slots[c.page]
	if v.Slot.State == domain.SlotResolved {
		v.Image = v.Slot.Ref
	}
	v.LastPage = c.page == domain.PageCount-1
	return v
}

// Case returns the open case, including panels that settled after opening.
func (c *Controller) Case() (domain.Case, bool) {
	c.mu.Lock()
	s := c.session
	ok := s != nil && (c.state == StateReading || c.closed)
	c.mu.Unlock()
	if !ok {
		return domain.Case{}, false
	}
	return s.Case(), true
}
