package types

import (
	"encoding/json"
	"time"
)

// FailureStatus represents the lifecycle state of a shared failure.
type FailureStatus string

const (
	FailureStatusOpen     FailureStatus = "open"
	FailureStatusResolved FailureStatus = "resolved"
)

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
)

// DocTime is a timestamp decoded leniently from a schemaless document
// field. A missing, null or unparseable value decodes to the zero time,
// which sorts last in the createdAt-descending views.
type DocTime struct {
	time.Time
}

func (t *DocTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

func (t DocTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Failure is a shared failure/lesson post. AuthorName and AuthorAvatar are
// echoed from the author's profile at submission time and are not
// recomputed on later profile edits.
type Failure struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	AuthorID     string        `json:"authorId"`
	AuthorName   string        `json:"authorName"`
	AuthorAvatar string        `json:"authorAvatar"`
	Tags         []string      `json:"tags"`
	Votes        int           `json:"votes"`
	Comments     int           `json:"comments"`
	Status       FailureStatus `json:"status"`
	CreatedAt    DocTime       `json:"createdAt"`
	UpdatedAt    DocTime       `json:"updatedAt"`
}

// Goal is a personal goal scoped to one author.
type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AuthorID    string     `json:"authorId"`
	AuthorName  string     `json:"authorName"`
	TargetDate  DocTime    `json:"targetDate"`
	Status      GoalStatus `json:"status"`
	CreatedAt   DocTime    `json:"createdAt"`
	UpdatedAt   DocTime    `json:"updatedAt"`
}
