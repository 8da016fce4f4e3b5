package models

// Choice is the declared position of a vote.
type Choice string

const (
	ChoiceSupport Choice = "support"
	ChoiceOppose  Choice = "oppose"
	ChoiceAbstain Choice = "abstain"
)

// Valid reports whether c is one of the known choices.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceSupport, ChoiceOppose, ChoiceAbstain:
		return true
	}
	return false
}

// Vote is a cast ballot as supplied by the calling layer. Timestamps are unix milliseconds.
type Vote struct {
	ID         string `json:"id"`
	ProposalID string `json:"proposal_id"`
	VoterDID   string `json:"voter_did"`
	Choice     Choice `json:"choice"`
	ProofID    string `json:"proof_id"`
	Timestamp  int64  `json:"timestamp"`
	Synced     bool   `json:"synced"`
}

// Proof is the authentication bundle produced by an external signer.
type Proof struct {
	ID          string `json:"proof_id"`
	Signature   string `json:"signature"`
	VoterDID    string `json:"voter_did"`
	Timestamp   int64  `json:"timestamp"`
	VoteContent string `json:"vote_content"`
	GeneratedAt int64  `json:"generated_at,omitempty"`
}
