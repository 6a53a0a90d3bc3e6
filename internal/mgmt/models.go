package mgmt

import "time"

// TotalResponse is the response for GET /v1/users/:id/total.
type TotalResponse struct {
	UserID       string    `json:"user_id"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	TotalSeconds int64     `json:"total_seconds"`
	Open         bool      `json:"open"`
}

// RosterEntry is one user's row in the roster response. DaySeconds holds one
// bucket per day of the window, starting at the window's first day.
type RosterEntry struct {
	UserID       string   `json:"user_id"`
	DaySeconds   [7]int64 `json:"day_seconds"`
	TotalSeconds int64    `json:"total_seconds"`
}

// RosterResponse is the response for GET /v1/roster.
type RosterResponse struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Entries []RosterEntry `json:"entries"`
}

// OpenSessionEntry describes one currently open session.
type OpenSessionEntry struct {
	UserID         string    `json:"user_id"`
	Start          time.Time `json:"start"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

// OpenSessionsResponse is the response for GET /v1/sessions/open.
type OpenSessionsResponse struct {
	Sessions []OpenSessionEntry `json:"sessions"`
}

// HealthDetailResponse is the response for GET /v1/health.
type HealthDetailResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Uptime string            `json:"uptime"`
}

// ConfigResponse is the response for GET /v1/config.
type ConfigResponse struct {
	Environment       string `json:"environment"`
	LogLevel          string `json:"log_level"`
	Timezone          string `json:"timezone"`
	MinSessionSeconds int64  `json:"min_session_seconds"`
	RetentionWeeks    int    `json:"retention_weeks"`
	MgmtListenAddr    string `json:"mgmt_listen_addr"`
	AuthMode          string `json:"auth_mode"`
	RateLimitRPS      int    `json:"rate_limit_rps"`
	RateLimitBurst    int    `json:"rate_limit_burst"`
	SlackEnabled      bool   `json:"slack_enabled"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
