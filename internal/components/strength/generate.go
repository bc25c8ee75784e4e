// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package strength

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
)

// Character sets used by Generate.
const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// Generator length bounds.
const (
	MinLength     = 8
	MaxLength     = 64
	DefaultLength = 16
)

// Policy controls Generate. A policy with every class disabled falls back to all classes.
type Policy struct {
	Length    int  `json:"length"`
	Uppercase bool `json:"uppercase"`
	Lowercase bool `json:"lowercase"`
	Digits    bool `json:"digits"`
	Symbols   bool `json:"symbols"`
}

// DefaultPolicy returns a 16 character policy with every class enabled.
func DefaultPolicy() Policy {
	return Policy{
		Length:    DefaultLength,
		Uppercase: true,
		Lowercase: true,
		Digits:    true,
		Symbols:   true,
	}
}

// alphabets returns the enabled character sets in seeding order.
func (p Policy) alphabets() []string {
	var sets []string
	if p.Lowercase {
		sets = append(sets, Lowercase)
	}
	if p.Uppercase {
		sets = append(sets, Uppercase)
	}
	if p.Digits {
		sets = append(sets, Digits)
	}
	if p.Symbols {
		sets = append(sets, Symbols)
	}
	if len(sets) == 0 {
		sets = []string{Lowercase, Uppercase, Digits, Symbols}
	}
	return sets
}

// Generate returns a random secret satisfying p. Every enabled class appears at
// least once. Randomness comes from crypto/rand.
func Generate(p Policy) (string, error) {
	return generate(rand.Reader, p)
}

func generate(src io.Reader, p Policy) (string, error) {
	if p.Length < MinLength || p.Length > MaxLength {
		return "", fmt.Errorf("%w: length %d outside [%d,%d]", apperr.ErrInvalidPolicy, p.Length, MinLength, MaxLength)
	}

	sets := p.alphabets()
	var union string
	for _, s := range sets {
		union += s
	}

	out := make([]byte, 0, p.Length)
	for _, s := range sets {
		c, err := pick(src, s)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < p.Length {
		c, err := pick(src, union)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	if err := shuffle(src, out); err != nil {
		return "", err
	}
	return string(out), nil
}

func pick(src io.Reader, set string) (byte, error) {
	i, err := randIndex(src, len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is Fisher-Yates over b.
func shuffle(src io.Reader, b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(src, i+1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randIndex(src io.Reader, n int) (int, error) {
	v, err := rand.Int(src, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
