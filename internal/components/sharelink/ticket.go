// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package sharelink

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketTTL bounds how long a resolved link may be used to fetch content.
const TicketTTL = 5 * time.Minute

const ticketIssuer = "vaultshare"

// ErrInvalidTicket is returned for tickets that are malformed, expired,
// forged or bound to a different link.
var ErrInvalidTicket = errors.New("invalid download ticket")

// TicketClaims binds a ticket to one link token and one file.
type TicketClaims struct {
	FileID     string `json:"fid"`
	Permission string `json:"perm"`
	jwt.RegisteredClaims
}

// Tickets signs and verifies HS256 download tickets.
type Tickets struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTickets creates a ticket signer. The key must be at least 32 bytes.
func NewTickets(key []byte) (*Tickets, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("share ticket key must be at least 32 bytes, got %d", len(key))
	}
	return &Tickets{key: key, ttl: TicketTTL, now: time.Now}, nil
}

// Sign issues a ticket for a resolved link.
func (t *Tickets) Sign(token, fileID, permission string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := TicketClaims{
		FileID:     fileID,
		Permission: permission,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ticketIssuer,
			Subject:   token,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign ticket: %w", err)
	}
	return signed, exp, nil
}

// Verify checks a ticket and that it was issued for token.
func (t *Tickets) Verify(ticket, token string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	parsed, err := jwt.ParseWithClaims(ticket, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ticketIssuer),
		jwt.WithSubject(token),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
