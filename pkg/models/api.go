package models

import "time"

// APIResponse is the envelope every operator action answers with
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// VerifyRequest is the payload for POST /verify-api
type VerifyRequest struct {
	APIUserID string `json:"apiUserId"`
	APIKeyID  string `json:"apiKeyId"`
}

// DeleteProfileRequest is the payload for POST /delete-profile
type DeleteProfileRequest struct {
	ProfileID string `json:"profileId"`
	// Purge also removes the profile directory on disk
	Purge bool `json:"purge,omitempty"`
}

// UploadResponse answers a roster upload
type UploadResponse struct {
	APIResponse
	Profiles []Profile `json:"profiles"`
}

// StartResponse answers POST /start-processing
type StartResponse struct {
	APIResponse
	RunID         string `json:"runId"`
	TotalProfiles int    `json:"totalProfiles"`
}

// StepResponse answers POST /process-next
type StepResponse struct {
	APIResponse
	Complete       bool        `json:"complete,omitempty"`
	CurrentProfile *Profile    `json:"currentProfile,omitempty"`
	Progress       *Progress   `json:"progress,omitempty"`
	NextAvailable  bool        `json:"nextAvailable,omitempty"`
	Step           *StepResult `json:"step,omitempty"`
}

// Progress is the 1-based position within the roster
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// VerifyResponse answers POST /verify-api
type VerifyResponse struct {
	APIResponse
	Verified bool `json:"verified"`
}

// StatusResponse answers GET /status
type StatusResponse struct {
	APIResponse
	Verified bool         `json:"verified"`
	Roster   int          `json:"roster"`
	Queue    *QueueStatus `json:"queue"`
}

// ProfilesResponse answers GET /profiles
type ProfilesResponse struct {
	APIResponse
	Profiles []ProfileSummary `json:"profiles"`
}

// HealthResponse answers GET /health
type HealthResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DBStatusResponse answers GET /db-status
type DBStatusResponse struct {
	APIResponse
	DB *StoreStatus `json:"dbInfo,omitempty"`
}
