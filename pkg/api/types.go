package api

// ConnectionResponse reports the outcome of an InitiateConnection call.
type ConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SessionResponse exposes the subscription session's current state.
type SessionResponse struct {
	State          string `json:"state"`
	NeedsReconnect bool   `json:"needs_reconnect"`
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
	Sender string `json:"sender"`
}
