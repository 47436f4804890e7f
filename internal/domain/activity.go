package domain

import (
	"time"

	"example.com/flowstate/internal/normalize"
)

// Activity is a canonical activity log row stored in PostgreSQL.
type Activity struct {
	ID           string
	UserID       string
	ProjectName  string
	ActivityType string
	Description  string
	Metadata     map[string]any
	RawKind      string
	RawID        string
	CreatedAt    time.Time
	IngestedAt   time.Time
}

// Source returns the recorded origin channel.
func (a Activity) Source() string {
	s, _ := a.Metadata[normalize.MetaSource].(string)
	return s
}

// Tool returns the recorded tool display name.
func (a Activity) Tool() string {
	s, _ := a.Metadata[normalize.MetaTool].(string)
	return s
}

// Machine returns the recorded machine.
func (a Activity) Machine() string {
	s, _ := a.Metadata[normalize.MetaMachine].(string)
	return s
}

// Cursor models the pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ListFilter narrows activity listings.
type ListFilter struct {
	UserID  string
	Project string
}

// ProjectCount aggregates activity per canonical project.
type ProjectCount struct {
	ProjectName    string
	Activities     int
	LastActivityAt time.Time
}

// Checkpoint is the persisted position of a sync loop over one source.
// The zero value means the source has not been synced yet.
type Checkpoint struct {
	CreatedAt time.Time
	ID        string
	UpdatedAt time.Time
}

// IsZero reports whether no position has been recorded.
func (c Checkpoint) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Reject describes a raw record that did not become an activity.
type Reject struct {
	RawID      string
	RawKind    string
	Reason     string
	Detail     string
	Raw        normalize.RawInputRecord
	RejectedAt time.Time
}
