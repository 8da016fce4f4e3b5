package service

import "proof-vault/models"

// ReplayGuard remembers the proof identifiers of the most recent ledger entries in a
// fixed-size ring. Replays separated by more than the window are not detected.
type ReplayGuard struct {
	ids   []string
	next  int
	count int
}

func NewReplayGuard(window int) *ReplayGuard {
	return &ReplayGuard{ids: make([]string, window)}
}

// Seen reports whether id belongs to one of the last window entries.
func (rg *ReplayGuard) Seen(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < rg.count; i++ {
		if rg.ids[i] == id {
			return true
		}
	}
	return false
}

// Record pushes the identifier of a newly appended ledger entry, evicting the oldest.
func (rg *ReplayGuard) Record(id string) {
	rg.ids[rg.next] = id
	rg.next = (rg.next + 1) % len(rg.ids)
	if rg.count < len(rg.ids) {
		rg.count++
	}
}

// Seed rebuilds the window from a ledger tail, oldest first.
func (rg *ReplayGuard) Seed(entries []models.AuditEntry) {
	rg.Reset()
	if len(entries) > len(rg.ids) {
		entries = entries[len(entries)-len(rg.ids):]
	}
	for _, e := range entries {
		rg.Record(e.ProofID)
	}
}

func (rg *ReplayGuard) Reset() {
	for i := range rg.ids {
		rg.ids[i] = ""
	}
	rg.next = 0
	rg.count = 0
}
