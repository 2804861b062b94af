package models

import (
	"strings"
	"time"
)

// Status is the work-order lifecycle state. The storage layer is not a closed
// enum: legacy values survive round trips unchanged, and transition checks
// operate on the normalized form.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusAssigned   Status = "ASSIGNED"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Normalize upper-cases and trims the raw status for transition checks.
func (s Status) Normalize() Status {
	return Status(strings.ToUpper(strings.TrimSpace(string(s))))
}

// Known reports whether the normalized status is one of the lifecycle states.
func (s Status) Known() bool {
	switch s.Normalize() {
	case StatusDraft, StatusAssigned, StatusAccepted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// CanAccept reports whether Accept is legal from this status.
func (s Status) CanAccept() bool {
	switch s.Normalize() {
	case StatusDraft, StatusAssigned:
		return true
	}
	return false
}

// CanStartWork reports whether StartWork is legal from this status. The
// IN_PROGRESS case is an idempotent no-op for the caller.
func (s Status) CanStartWork() bool {
	switch s.Normalize() {
	case StatusAccepted, StatusInProgress:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s.Normalize() == StatusCompleted
}

// History actions recorded by the lifecycle engine.
const (
	ActionAccept          = "ACCEPT"
	ActionMobileStartWork = "MOBILE_START_WORK"
	ActionMobileSubmit    = "MOBILE_SUBMIT"
)

// WorkUpdateSourceMobile tags evidence entries created through this surface.
const WorkUpdateSourceMobile = "MOBILE"

// Attachment describes a stored evidence file owned by a WorkUpdate.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// WorkUpdate is an immutable evidence entry appended to a work order.
// Created once, never mutated or deleted.
type WorkUpdate struct {
	ID      string       `json:"id"`
	At      time.Time    `json:"at"`
	By      string       `json:"by"`
	Message string       `json:"message"`
	Images  []Attachment `json:"images"`
	Voice   *Attachment  `json:"voice"`
	Source  string       `json:"source"`
	Status  Status       `json:"status"`
}

// HistoryEntry is an append-only audit record on a work order.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Action string    `json:"action"`
	Status Status    `json:"status"`
}

// Schedule is the optional planned window for a work order.
type Schedule struct {
	Date string `json:"date,omitempty"`
	Slot string `json:"slot,omitempty"`
	Note string `json:"note,omitempty"`
}

// Location is the optional geographic pin for a work order.
type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

type WorkOrder struct {
	ID              string
	WONo            string
	CustomerName    string
	Phone           string
	Address         string
	Status          Status
	AssignedTeamIDs []string
	Schedule        *Schedule
	Location        *Location
	WorkUpdates     []WorkUpdate
	History         []HistoryEntry

	AcceptedBy   string
	AcceptedAt   *time.Time
	InProgressBy string
	InProgressAt *time.Time
	CompletedBy  string
	CompletedAt  *time.Time

	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAssignee reports whether the given user id is on the assigned team.
func (w *WorkOrder) IsAssignee(userID string) bool {
	for _, id := range w.AssignedTeamIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CanBeAccessedBy implements the shared read/mutate rule: admins bypass team
// membership, everyone else must be assigned.
func (w *WorkOrder) CanBeAccessedBy(u *User) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin() {
		return true
	}
	return w.IsAssignee(u.ID)
}

// FindUpdate returns the WorkUpdate with the given id, or nil.
func (w *WorkOrder) FindUpdate(updateID string) *WorkUpdate {
	for i := range w.WorkUpdates {
		if w.WorkUpdates[i].ID == updateID {
			return &w.WorkUpdates[i]
		}
	}
	return nil
}

// HasAttachment reports whether the named file belongs to the given update,
// as an image or the voice note.
func (w *WorkOrder) HasAttachment(updateID, filename string) bool {
	up := w.FindUpdate(updateID)
	if up == nil {
		return false
	}
	for _, img := range up.Images {
		if img.Name == filename {
			return true
		}
	}
	return up.Voice != nil && up.Voice.Name == filename
}
