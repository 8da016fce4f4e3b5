package service

import (
	"errors"
	"fmt"
	"time"

	"proof-vault/encryption"
	"proof-vault/models"
)

var (
	ErrMissingVote         = errors.New("missing vote")
	ErrIdentityMismatch    = errors.New("voter identity mismatch")
	ErrTimestampOutOfRange = errors.New("timestamp out of range")
	ErrIdentifierMismatch  = errors.New("proof identifier mismatch")
	ErrSignatureMismatch   = errors.New("signature mismatch")
)

// ProofVerifier checks that a structurally valid proof authenticates a vote.
type ProofVerifier struct {
	cryptoService    *encryption.CryptoService
	timestampWindow  time.Duration
	requireSignature bool
}

func NewProofVerifier(cryptoService *encryption.CryptoService, timestampWindow time.Duration, requireSignature bool) *ProofVerifier {
	return &ProofVerifier{
		cryptoService:    cryptoService,
		timestampWindow:  timestampWindow,
		requireSignature: requireSignature,
	}
}

// Verify returns nil when the proof authenticates the vote. Failures are reported in a
// fixed priority order and wrap one of the package sentinels.
func (pv *ProofVerifier) Verify(vote *models.Vote, proof *models.Proof) error {
	if vote == nil {
		return ErrMissingVote
	}

	// 1. Identity must match exactly
	if vote.VoterDID != proof.VoterDID {
		return fmt.Errorf("%w: vote %q, proof %q", ErrIdentityMismatch, vote.VoterDID, proof.VoterDID)
	}

	// 2. Timestamps must correlate
	delta := timestampDistance(vote.Timestamp, proof.Timestamp)
	if window := uint64(pv.timestampWindow.Milliseconds()); delta > window {
		return fmt.Errorf("%w: %dms apart, allowed %dms", ErrTimestampOutOfRange, delta, window)
	}

	// 3. Identifier must be reproducible from the attested content
	expected := pv.cryptoService.ProofID(proof.VoterDID, proof.Timestamp, proof.VoteContent)
	if expected != proof.ID {
		return fmt.Errorf("%w: expected %s", ErrIdentifierMismatch, expected)
	}

	// 4. Optional signer binding for did:ethr voters
	if pv.requireSignature {
		if err := pv.cryptoService.VerifyProofSignature(proof.VoterDID, proof.ID, proof.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
	}

	return nil
}

// timestampDistance is |a-b| computed without int64 overflow.
func timestampDistance(a, b int64) uint64 {
	if a > b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}
