package service

import "proof-vault/models"

// AuditLedger is the bounded, append-only history of verification outcomes.
// Oldest entries are evicted first once retention is exceeded.
type AuditLedger struct {
	entries   []models.AuditEntry
	retention int
}

func NewAuditLedger(retention int) *AuditLedger {
	return &AuditLedger{
		entries:   make([]models.AuditEntry, 0, retention),
		retention: retention,
	}
}

// Append adds an entry and returns how many entries were evicted.
func (l *AuditLedger) Append(entry models.AuditEntry) int {
	l.entries = append(l.entries, entry)
	evicted := len(l.entries) - l.retention
	if evicted <= 0 {
		return 0
	}
	kept := make([]models.AuditEntry, l.retention)
	copy(kept, l.entries[evicted:])
	l.entries = kept
	return evicted
}

// Load replaces the ledger with persisted entries, keeping only the newest.
func (l *AuditLedger) Load(entries []models.AuditEntry) {
	if len(entries) > l.retention {
		entries = entries[len(entries)-l.retention:]
	}
	l.entries = make([]models.AuditEntry, len(entries), l.retention)
	copy(l.entries, entries)
}

func (l *AuditLedger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the ledger, oldest first.
func (l *AuditLedger) Entries() []models.AuditEntry {
	out := make([]models.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns a copy of the newest n entries, oldest first.
func (l *AuditLedger) Tail(n int) []models.AuditEntry {
	if n <= 0 {
		return []models.AuditEntry{}
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.AuditEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// RecentFailures returns up to n of the newest non-valid entries, oldest first.
func (l *AuditLedger) RecentFailures(n int) []models.AuditEntry {
	failures := make([]models.AuditEntry, 0)
	if n <= 0 {
		return failures
	}
	for i := len(l.entries) - 1; i >= 0 && len(failures) < n; i-- {
		if l.entries[i].Failed() {
			failures = append(failures, l.entries[i])
		}
	}
	for i, j := 0, len(failures)-1; i < j; i, j = i+1, j-1 {
		failures[i], failures[j] = failures[j], failures[i]
	}
	return failures
}

// AverageVerificationTime is the mean duration over the retained entries.
func (l *AuditLedger) AverageVerificationTime() float64 {
	if len(l.entries) == 0 {
		return 0
	}
	var sum int64
	for _, e := range l.entries {
		sum += e.VerificationTime
	}
	return float64(sum) / float64(len(l.entries))
}

func (l *AuditLedger) Reset() {
	l.entries = make([]models.AuditEntry, 0, l.retention)
}
