package models

import "time"

// QueueStateVersion is the current serialized durable queue format.
const QueueStateVersion = 1

// QueueEntry is the persisted, payload-free projection of an active upload task.
type QueueEntry struct {
	UploadTask
	RetryCount int `json:"retry_count"`
}

// QueueState is the document written to the persistence collaborator.
type QueueState struct {
	Version int          `json:"version"`
	Entries []QueueEntry `json:"entries"`
}

// ErrorResponse is the JSON body returned for failed API requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// OrphanReport describes durable entries purged because their payload was gone.
type OrphanReport struct {
	Count    int          `json:"count"`
	Entries  []QueueEntry `json:"entries"`
	Reason   string       `json:"reason"` // "startup" or "sweep"
	PurgedAt time.Time    `json:"purged_at"`
}
