// Copyright 2025 Certen Protocol
//
// Round-controller support utilities. Trimmed from the Accumulate
// authority/proof-bundle business types the teacher carried here down to
// the generic quorum/ID helpers a block+vote consensus round actually
// needs; see DESIGN.md for what was dropped and why.

package consensus

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// GenerateRoundID creates a deterministic identifier for a consensus
// round: the same (height, round) always yields the same ID, in the
// same spirit as the teacher's abci_validator.go deriving session IDs
// via uuid.NewSHA1(uuid.NameSpaceOID, []byte(bundleID)) rather than a
// random uuid.New().
func GenerateRoundID(height uint64, round uint32) string {
	roundKey := fmt.Sprintf("%d-%d", height, round)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(roundKey))
	return fmt.Sprintf("round-%d-%d-%s", height, round, id.String()[:8])
}

// ValidateThreshold checks if an approve/total ratio meets a threshold.
func ValidateThreshold(approveCount, totalCount int, threshold float64) bool {
	if totalCount == 0 {
		return false
	}
	return float64(approveCount)/float64(totalCount) >= threshold
}

// CalculateRequiredCount calculates the minimum count needed to meet a
// threshold over total participants.
func CalculateRequiredCount(total int, threshold float64) int {
	required := int(math.Ceil(float64(total) * threshold))
	if required == 0 && total > 0 {
		required = 1
	}
	return required
}

// IsByzantineFaultTolerant reports whether a rep set of the given size
// can tolerate maxFaults Byzantine reps: n >= 3f + 1.
func IsByzantineFaultTolerant(totalReps, maxFaults int) bool {
	return totalReps >= 3*maxFaults+1
}
