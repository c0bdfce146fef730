package models

// Profile is one roster entry
type Profile struct {
	ProfileID string `json:"profileId"`
	Proxy     string `json:"proxy,omitempty"`
}

// StepKind tags the outcome of one queue step
type StepKind string

const (
	StepStarted  StepKind = "started"
	StepComplete StepKind = "complete"
	StepFailed   StepKind = "failed"
)

// StepResult is the outcome of advancing the queue
type StepResult struct {
	Kind    StepKind `json:"kind"`
	RunID   string   `json:"runId,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
	// Current is 1-based
	Current          int    `json:"current,omitempty"`
	Total            int    `json:"total"`
	Error            string `json:"error,omitempty"`
	HasMoreAfterThis bool   `json:"hasMoreAfterThis,omitempty"`
	Message          string `json:"message"`
}

// QueueState is the coarse state of the queue controller
type QueueState string

const (
	QueueIdle          QueueState = "IDLE"
	QueueActive        QueueState = "ACTIVE"
	QueueTransitioning QueueState = "TRANSITIONING"
	// QueueFailed means the profile at the cursor could not be launched;
	// the next advance moves past it.
	QueueFailed    QueueState = "FAILED"
	QueueExhausted QueueState = "EXHAUSTED"
)

// QueueStatus is a point-in-time snapshot of the queue
type QueueStatus struct {
	State         QueueState `json:"state"`
	RunID         string     `json:"runId,omitempty"`
	Cursor        int        `json:"cursor"`
	Total         int        `json:"total"`
	ActiveProfile *Profile   `json:"activeProfile,omitempty"`
	BrowserMode   string     `json:"browserMode,omitempty"`
	Profiles      []Profile  `json:"profiles"`
}
