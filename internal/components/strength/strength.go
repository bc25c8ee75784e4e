// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package strength scores candidate secrets and generates new ones to a policy.
package strength

import "unicode/utf8"

// Tier is the coarse strength bucket derived from a score.
type Tier string

const (
	TierNone       Tier = "none"
	TierWeak       Tier = "weak"
	TierMedium     Tier = "medium"
	TierStrong     Tier = "strong"
	TierVeryStrong Tier = "very-strong"
)

// MaxScore is the highest score Evaluate can award.
const MaxScore = 8

// Deficiency strings, reported in this order.
const (
	NeedLength    = "at least 8 characters"
	NeedLowercase = "lowercase letters"
	NeedUppercase = "uppercase letters"
	NeedDigits    = "numbers"
	NeedSymbols   = "special characters"
)

// Result is the outcome of scoring a secret.
type Result struct {
	Tier         Tier     `json:"tier"`
	Score        int      `json:"score"`
	Deficiencies []string `json:"deficiencies"`
}

// Acceptable reports whether a secret with this result may be stored.
func (r Result) Acceptable() bool {
	return r.Tier != TierNone && r.Tier != TierWeak
}

type classes struct {
	lower, upper, digit, symbol bool
}

func (c classes) all() bool {
	return c.lower && c.upper && c.digit && c.symbol
}

func classify(secret string) classes {
	var c classes
	for _, r := range secret {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= '0' && r <= '9':
			c.digit = true
		default:
			c.symbol = true
		}
	}
	return c
}

// Evaluate scores secret. Length is counted in runes.
func Evaluate(secret string) Result {
	if secret == "" {
		return Result{Tier: TierNone, Score: 0, Deficiencies: []string{}}
	}

	n := utf8.RuneCountInString(secret)
	c := classify(secret)
	deficiencies := make([]string, 0, 5)
	score := 0

	if n >= 8 {
		score++
	} else {
		deficiencies = append(deficiencies, NeedLength)
	}
	if n >= 12 {
		score++
	}
	if n >= 16 {
		score++
	}

	for _, check := range []struct {
		present bool
		need    string
	}{
		{c.lower, NeedLowercase},
		{c.upper, NeedUppercase},
		{c.digit, NeedDigits},
		{c.symbol, NeedSymbols},
	} {
		if check.present {
			score++
		} else {
			deficiencies = append(deficiencies, check.need)
		}
	}

	if n >= 12 && c.all() {
		score++
	}

	return Result{Tier: tierFor(score), Score: score, Deficiencies: deficiencies}
}

func tierFor(score int) Tier {
	switch {
	case score <= 2:
		return TierWeak
	case score <= 4:
		return TierMedium
	case score <= 6:
		return TierStrong
	default:
		return TierVeryStrong
	}
}
