package queue

import "time"

// Routing keys.
const (
	KeyUserCreated   = "user.created"
	KeySessionIssued = "session.issued"
)

type UserCreated struct {
	UserID   string    `json:"user_id"`
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	At       time.Time `json:"at"`
}

type SessionIssued struct {
	UserID  string    `json:"user_id"`
	Rotated bool      `json:"rotated"`
	At      time.Time `json:"at"`
}

// Envelope is what consumers decode before dispatching on the routing key.
type Envelope struct {
	Key       string
	MessageID string
	RequestID string
	Body      []byte
}
