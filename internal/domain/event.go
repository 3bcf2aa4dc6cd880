package domain

import "time"

// StatusEvent is broadcast to stream subscribers whenever a project's
// lifecycle state changes.
type StatusEvent struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Status    Status    `json:"status"`
	Domain    string    `json:"domain,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}
