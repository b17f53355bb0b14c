package models

// Audit outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
)

// CommandRecord is the audit trail entry written for every mutating command attempt.
type CommandRecord struct {
	RoomID        string `json:"room_id"`
	UID           string `json:"uid"`
	RequestID     string `json:"request_id"`
	Command       string `json:"command"`
	PrevStatus    string `json:"prev_status"`
	NextStatus    string `json:"next_status"`
	StatusVersion int64  `json:"status_version"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
	// Timestamp is unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}
