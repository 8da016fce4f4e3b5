package models

// Outcome is the terminal result recorded for a verification attempt.
type Outcome string

const (
	OutcomeValid         Outcome = "valid"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeReplayBlocked Outcome = "replay_blocked"
)

// AuditEntry is one persisted ledger record.
type AuditEntry struct {
	ID               string  `json:"id"`
	ProofID          string  `json:"proof_id"`
	VoterDID         string  `json:"voter_did"`
	Timestamp        int64   `json:"timestamp"`
	VerificationTime int64   `json:"verification_time_us"`
	Outcome          Outcome `json:"outcome"`
	Reason           string  `json:"reason,omitempty"`
}

// Failed reports whether the entry records a rejected proof.
func (e AuditEntry) Failed() bool {
	return e.Outcome != OutcomeValid
}

// VerificationResult is returned for every verification call.
type VerificationResult struct {
	Valid            bool   `json:"valid"`
	ProofID          string `json:"proof_id"`
	VerificationTime int64  `json:"verification_time_us"`
	Error            string `json:"error,omitempty"`
	ReplayDetected   bool   `json:"replay_detected,omitempty"`
}
