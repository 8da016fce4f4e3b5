package service

import (
	"fmt"
	"regexp"
	"strings"

	"proof-vault/models"
)

// StructureValidator checks that a proof bundle is well formed before any semantic check.
type StructureValidator struct {
	didPrefix string
	idPattern *regexp.Regexp
}

func NewStructureValidator(didPrefix string, idWidth int) *StructureValidator {
	return &StructureValidator{
		didPrefix: didPrefix,
		idPattern: regexp.MustCompile(fmt.Sprintf(`^0x[0-9a-fA-F]{%d}$`, idWidth)),
	}
}

// Validate reports whether every required field is present, the voter identity carries the
// recognised prefix and the identifier has the fixed 0x-prefixed hex shape.
func (sv *StructureValidator) Validate(proof *models.Proof) bool {
	if proof == nil {
		return false
	}
	if proof.ID == "" || proof.Signature == "" || proof.VoterDID == "" ||
		proof.VoteContent == "" || proof.Timestamp <= 0 {
		return false
	}
	if !strings.HasPrefix(proof.VoterDID, sv.didPrefix) || len(proof.VoterDID) == len(sv.didPrefix) {
		return false
	}
	return sv.idPattern.MatchString(proof.ID)
}
