// Package responses defines the API response types used by the buildrelay
// HTTP handlers.
package responses

import "time"

// SubmitResponse is returned by the build endpoint for every admission state.
type SubmitResponse struct {
	Success bool           `json:"success"`
	State   string         `json:"state"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// StatusResponse is returned by the is_building endpoint.
type StatusResponse struct {
	IsBuilding   bool          `json:"isBuilding"`
	QueueLength  int           `json:"queueLength"`
	CurrentBuild *CurrentBuild `json:"currentBuild,omitempty"`
}

// CurrentBuild is the running build section of a StatusResponse.
type CurrentBuild struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	SocketToken string `json:"socket_token"`
}

// StateResponse is the minimal state-only body used by abort and cleanup.
type StateResponse struct {
	State string `json:"state"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the generic error body written by the middleware.
type ErrorResponse struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}
