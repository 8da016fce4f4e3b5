package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"proof-vault/encryption"
	"proof-vault/models"
	"proof-vault/storage"
)

const baseTime int64 = 1_700_000_000_000

var testCrypto = encryption.NewCryptoService(encryption.DefaultProofIDWidth)

// makePair returns a vote and a proof that authenticates it.
func makePair(did, content string, ts int64) (*models.Vote, *models.Proof) {
	id := testCrypto.ProofID(did, ts, content)
	vote := &models.Vote{
		ID:         fmt.Sprintf("vote-%d", ts),
		ProposalID: "proposal-1",
		VoterDID:   did,
		Choice:     models.ChoiceSupport,
		ProofID:    id,
		Timestamp:  ts,
	}
	proof := &models.Proof{
		ID:          id,
		Signature:   "0xsig",
		VoterDID:    did,
		Timestamp:   ts,
		VoteContent: content,
		GeneratedAt: ts,
	}
	return vote, proof
}

// validPair produces a distinct valid pair for each n.
func validPair(n int) (*models.Vote, *models.Proof) {
	return makePair("did:civic:abc", fmt.Sprintf("support-%d", n), baseTime+int64(n))
}

// invalidPair produces a distinct pair that fails on identity.
func invalidPair(n int) (*models.Vote, *models.Proof) {
	vote, proof := makePair("did:civic:xyz", fmt.Sprintf("oppose-%d", n), baseTime+int64(n))
	vote.VoterDID = "did:civic:abc"
	return vote, proof
}

func newTestService(t *testing.T, store storage.Store, opts ...Option) *VerificationService {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	opts = append([]Option{WithClock(func() time.Time { return time.UnixMilli(baseTime) })}, opts...)
	vs, err := NewVerificationService(store, DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewVerificationService: %v", err)
	}
	t.Cleanup(func() { vs.Close() })
	return vs
}

func flush(t *testing.T, vs *VerificationService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vs.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}
