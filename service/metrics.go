package service

import "proof-vault/models"

// MetricsTracker keeps running verification counters. It is not safe for concurrent use;
// VerificationService serializes access.
type MetricsTracker struct {
	validCount     int
	invalidCount   int
	replayAttempts int
}

// NewMetricsTracker creates a new metrics tracker
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{}
}

// Record counts one terminal outcome.
func (mt *MetricsTracker) Record(outcome models.Outcome) {
	switch outcome {
	case models.OutcomeValid:
		mt.validCount++
	case models.OutcomeInvalid:
		mt.invalidCount++
	case models.OutcomeReplayBlocked:
		mt.replayAttempts++
	}
}

// Restore rebuilds counters from persisted ledger entries.
func (mt *MetricsTracker) Restore(entries []models.AuditEntry) {
	mt.Reset()
	for _, e := range entries {
		mt.Record(e.Outcome)
	}
}

// DesyncRate is the percentage of non-replay verifications that failed.
func (mt *MetricsTracker) DesyncRate() float64 {
	total := mt.validCount + mt.invalidCount
	if total == 0 {
		return 0
	}
	return float64(mt.invalidCount) / float64(total) * 100
}

// Snapshot derives the public metrics from the counters and the retained ledger.
func (mt *MetricsTracker) Snapshot(ledger *AuditLedger, fallbackActivated bool) models.Metrics {
	total := mt.validCount + mt.invalidCount
	successRate := 100.0
	if total > 0 {
		successRate = float64(mt.validCount) / float64(total) * 100
	}
	return models.Metrics{
		TotalVerifications:      total,
		ValidCount:              mt.validCount,
		InvalidCount:            mt.invalidCount,
		ReplayAttempts:          mt.replayAttempts,
		SuccessRate:             successRate,
		AverageVerificationTime: ledger.AverageVerificationTime(),
		DesyncRate:              mt.DesyncRate(),
		FallbackActivated:       fallbackActivated,
	}
}

// Reset clears all counters
func (mt *MetricsTracker) Reset() {
	mt.validCount = 0
	mt.invalidCount = 0
	mt.replayAttempts = 0
}
