package service

import (
	"fmt"
	"time"

	"proof-vault/models"
)

type FallbackState int

const (
	StateNormal FallbackState = iota
	StateDegraded
)

func (s FallbackState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("FallbackState(%d)", int(s))
	}
}

// FallbackController moves the engine from Normal to Degraded the first time the desync
// rate reaches the threshold. There is no automatic way back; Reset is administrative.
type FallbackController struct {
	threshold   float64
	state       FallbackState
	reason      string
	activatedAt time.Time
}

func NewFallbackController(threshold float64) *FallbackController {
	return &FallbackController{threshold: threshold}
}

// Observe feeds a desync rate and reports whether it caused the transition to Degraded.
func (fc *FallbackController) Observe(desyncRate float64, now time.Time) bool {
	if fc.state == StateDegraded || desyncRate < fc.threshold {
		return false
	}
	fc.state = StateDegraded
	fc.activatedAt = now
	fc.reason = fmt.Sprintf("desync rate %.2f%% reached threshold %.2f%%", desyncRate, fc.threshold)
	return true
}

// Restore resumes Degraded mode from a persisted snapshot.
func (fc *FallbackController) Restore(snapshot *models.FallbackSnapshot) {
	if snapshot == nil {
		return
	}
	fc.state = StateDegraded
	fc.reason = snapshot.Reason
	fc.activatedAt = time.UnixMilli(snapshot.TriggeredAt)
}

func (fc *FallbackController) State() FallbackState {
	return fc.state
}

func (fc *FallbackController) Activated() bool {
	return fc.state == StateDegraded
}

func (fc *FallbackController) Reason() string {
	return fc.reason
}

func (fc *FallbackController) ActivatedAt() time.Time {
	return fc.activatedAt
}

func (fc *FallbackController) Reset() {
	fc.state = StateNormal
	fc.reason = ""
	fc.activatedAt = time.Time{}
}
