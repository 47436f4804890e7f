// Package events defines the payloads published to Kafka by the activity log.
package events

import "time"

// Event types and their topics.
const (
	TypeActivityLogged   = "activity.logged"
	TypeActivityRejected = "activity.rejected"

	TopicActivity = "flowstate_activity"
	TopicRejects  = "flowstate_rejects"
)

// ActivityLogged is emitted when a raw record becomes a canonical activity.
type ActivityLogged struct {
	ActivityID   string    `json:"activity_id"`
	UserID       string    `json:"user_id"`
	ProjectName  string    `json:"project_name"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"activity_description"`
	Source       string    `json:"source"`
	Tool         string    `json:"tool"`
	Machine      string    `json:"machine"`
	RawKind      string    `json:"raw_kind"`
	RawID        string    `json:"raw_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActivityRejected is emitted when a raw record is dropped, so dashboards can
// track reject rates per collector.
type ActivityRejected struct {
	RejectID   int64     `json:"reject_id"`
	RawKind    string    `json:"raw_kind"`
	RawID      string    `json:"raw_id,omitempty"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}
