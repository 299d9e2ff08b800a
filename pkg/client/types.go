package client

import "time"

// Status is the devhost supervisor status as served at {base}/status.
type Status struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Port           int       `json:"port"`
	PID            int       `json:"pid,omitempty"`
	Endpoint       string    `json:"endpoint"`
	AlreadyRunning bool      `json:"already_running"`
	Running        bool      `json:"running"`
	StartedAt      time.Time `json:"started_at"`
	ReadyAt        time.Time `json:"ready_at"`
	ExitedAt       time.Time `json:"exited_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Ready reports whether the dev server finished startup.
func (s Status) Ready() bool { return s.State == "ready" }

// Health is the body of {base}/healthz.
type Health struct {
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

// ErrorResponse is the JSON body of a failed admin request.
type ErrorResponse struct {
	Error string `json:"error"`
}
