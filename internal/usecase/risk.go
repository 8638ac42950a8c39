package usecase

import (
	"fmt"
	"strconv"
	"strings"
)

type RiskTier string

const (
	RiskMinimal  RiskTier = "minimal"
	RiskVeryLow  RiskTier = "very low"
	RiskLow      RiskTier = "low"
	RiskAverage  RiskTier = "average"
	RiskHigh     RiskTier = "high"
	RiskVeryHigh RiskTier = "very high"
)

// classifyRisk maps a probability to its tier and the reply announcing it.
// Thresholds are checked in order against the percentage rounded to two
// decimals, so the tier always agrees with the printed number. Values in
// [5, 15] fall through to "very high" while values above 15 are "high".
func classifyRisk(p float64) (RiskTier, string) {
	// cents of a percent, i.e. p in units of 1e-4
	cents := roundedBasisPoints(p)

	var tier RiskTier
	switch {
	case cents <= 1:
		tier = RiskMinimal
	case cents <= 10:
		tier = RiskVeryLow
	case cents < 150:
		tier = RiskLow
	case cents < 500:
		tier = RiskAverage
	case cents > 1500:
		tier = RiskHigh
	default:
		tier = RiskVeryHigh
	}
	return tier, fmt.Sprintf("Your death risk is %s%%, which is %s.", formatPercent(cents), tier)
}

// roundedBasisPoints rounds p*10000 half away from zero. It works on the
// shortest decimal form of p so ties such as 0.00015 are not lost to binary
// representation error.
func roundedBasisPoints(p float64) int64 {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	frac += "00000"
	n, _ := strconv.ParseInt(whole+frac[:4], 10, 64)
	if frac[4] >= '5' {
		n++
	}
	if neg {
		return -n
	}
	return n
}

func formatPercent(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
