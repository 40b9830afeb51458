package triage

import (
	"fmt"
	"strings"
)

// Tier is the urgency classification of a consultation. Tiers are ordered
// low < medium < high < critical.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Tiers lists every tier from least to most urgent.
var Tiers = []Tier{TierLow, TierMedium, TierHigh, TierCritical}

// Rank returns the ordinal of the tier, 1 for low through 4 for critical.
// Unknown tiers rank 0, below low.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	case TierCritical:
		return 4
	}
	return 0
}

func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Less reports whether t is strictly less urgent than o.
func (t Tier) Less(o Tier) bool {
	return t.Rank() < o.Rank()
}

// ParseTier validates a tier name supplied by a caller.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown urgency tier %q", s)
	}
	return t, nil
}

// RankOf returns the rank of a nullable tier; nil ranks below low.
func RankOf(t *Tier) int {
	if t == nil {
		return 0
	}
	return t.Rank()
}
