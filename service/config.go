package service

import (
	"errors"
	"fmt"
	"time"

	"proof-vault/encryption"
)

// Config holds the tunable constants of the verification engine.
type Config struct {
	ReplayWindow     int           // ledger entries considered for replay detection
	DesyncThreshold  float64       // percent of failed verifications that activates fallback
	TimestampWindow  time.Duration // allowed distance between vote and proof timestamps
	LedgerRetention  int           // entries kept in the audit ledger
	SnapshotEntries  int           // ledger tail stored with a fallback snapshot
	ProofIDWidth     int           // hex characters after the 0x prefix
	DIDPrefix        string
	RequireSignature bool

	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReplayWindow:    10,
		DesyncThreshold: 15,
		TimestampWindow: 5 * time.Minute,
		LedgerRetention: 100,
		SnapshotEntries: 20,
		ProofIDWidth:    encryption.DefaultProofIDWidth,
		DIDPrefix:       "did:",
		PersistTimeout:  5 * time.Second,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.ReplayWindow <= 0 {
		errs = append(errs, fmt.Errorf("replay window must be positive, got %d", c.ReplayWindow))
	}
	if c.DesyncThreshold <= 0 || c.DesyncThreshold > 100 {
		errs = append(errs, fmt.Errorf("desync threshold must be in (0, 100], got %v", c.DesyncThreshold))
	}
	if c.TimestampWindow < 0 {
		errs = append(errs, fmt.Errorf("timestamp window must not be negative, got %v", c.TimestampWindow))
	}
	if c.LedgerRetention <= 0 {
		errs = append(errs, fmt.Errorf("ledger retention must be positive, got %d", c.LedgerRetention))
	}
	if c.ReplayWindow > c.LedgerRetention {
		errs = append(errs, fmt.Errorf("replay window %d exceeds ledger retention %d", c.ReplayWindow, c.LedgerRetention))
	}
	if c.SnapshotEntries < 0 {
		errs = append(errs, fmt.Errorf("snapshot entries must not be negative, got %d", c.SnapshotEntries))
	}
	if c.ProofIDWidth <= 0 {
		errs = append(errs, fmt.Errorf("proof id width must be positive, got %d", c.ProofIDWidth))
	}
	if c.DIDPrefix == "" {
		errs = append(errs, errors.New("did prefix is required"))
	}
	return errors.Join(errs...)
}
