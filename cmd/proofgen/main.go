// Command proofgen prints a vote and matching proof for exercising the verify endpoint.
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"proof-vault/encryption"
	"proof-vault/models"
)

func main() {
	did := flag.String("did", "", "Voter identity; derived from -key when empty")
	content := flag.String("content", "support", "Vote content")
	choice := flag.String("choice", string(models.ChoiceSupport), "support, oppose or abstain")
	proposal := flag.String("proposal", "proposal-1", "Proposal id")
	timestamp := flag.Int64("timestamp", 0, "Unix milliseconds; now when zero")
	keyHex := flag.String("key", "", "Hex secp256k1 key used to sign the proof id")
	generateKey := flag.Bool("generate-key", false, "Sign with a fresh key and print it")
	width := flag.Int("width", encryption.DefaultProofIDWidth, "Proof id width in hex characters")
	flag.Parse()

	cs := encryption.NewCryptoService(*width)

	c := models.Choice(*choice)
	if !c.Valid() {
		log.Fatalf("Unknown choice %q", *choice)
	}

	ts := *timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	var exportedKey string
	var sign func(proofID string) string
	if *keyHex != "" || *generateKey {
		key, err := loadKey(cs, *keyHex)
		if err != nil {
			log.Fatalf("Failed to load key: %v", err)
		}
		if *did == "" {
			*did = encryption.DIDFromKey(key)
		}
		if *generateKey {
			exportedKey = encryption.EncodePrivateKey(key)
		}
		sign = func(proofID string) string {
			sig, err := cs.SignProof(proofID, key)
			if err != nil {
				log.Fatalf("Failed to sign proof: %v", err)
			}
			return sig
		}
	}
	if *did == "" {
		log.Fatal("Either -did or a signing key is required")
	}

	proofID := cs.ProofID(*did, ts, *content)
	signature := "0x" + uuid.NewString()
	if sign != nil {
		signature = sign(proofID)
	}

	out := struct {
		Vote       *models.Vote  `json:"vote"`
		Proof      *models.Proof `json:"proof"`
		PrivateKey string        `json:"private_key,omitempty"`
	}{
		Vote: &models.Vote{
			ID:         uuid.NewString(),
			ProposalID: *proposal,
			VoterDID:   *did,
			Choice:     c,
			ProofID:    proofID,
			Timestamp:  ts,
		},
		Proof: &models.Proof{
			ID:          proofID,
			Signature:   signature,
			VoterDID:    *did,
			Timestamp:   ts,
			VoteContent: *content,
			GeneratedAt: time.Now().UnixMilli(),
		},
		PrivateKey: exportedKey,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func loadKey(cs *encryption.CryptoService, keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return cs.GenerateKeyPair()
	}
	return encryption.ParsePrivateKey(keyHex)
}
