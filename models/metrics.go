package models

// Metrics is a point-in-time snapshot derived from the ledger and running counters.
// AverageVerificationTime is in microseconds.
type Metrics struct {
	TotalVerifications      int     `json:"total_verifications"`
	ValidCount              int     `json:"valid_count"`
	InvalidCount            int     `json:"invalid_count"`
	ReplayAttempts          int     `json:"replay_attempts"`
	SuccessRate             float64 `json:"success_rate"`
	AverageVerificationTime float64 `json:"average_verification_time_us"`
	DesyncRate              float64 `json:"desync_rate"`
	FallbackActivated       bool    `json:"fallback_activated"`
}

// FallbackSnapshot is persisted once when degraded mode activates.
type FallbackSnapshot struct {
	Metrics     Metrics      `json:"metrics"`
	Entries     []AuditEntry `json:"entries"`
	Reason      string       `json:"reason"`
	TriggeredAt int64        `json:"triggered_at"`
}
