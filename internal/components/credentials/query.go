// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package credentials

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/strength"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Sort orders accepted by List.
const (
	SortName     = "name"
	SortRecent   = "recent"
	SortCategory = "category"
)

// CategoryAll disables category filtering.
const CategoryAll = "all"

// Filter narrows and orders List results.
type Filter struct {
	Search   string // case-insensitive match on website, username, category or notes
	Category string // exact match; "" or "all" matches everything
	Sort     string // name, recent (default) or category
}

// Overview summarizes the health of an owner's vault.
type Overview struct {
	Total         int `json:"total"`
	Weak          int `json:"weak"`
	Medium        int `json:"medium"`
	Strong        int `json:"strong"`
	VeryStrong    int `json:"very_strong"`
	Reused        int `json:"reused"`
	SecurityScore int `json:"security_score"`
}

// List returns the owner's credentials filtered and sorted by f.
func (s *Service) List(ctx context.Context, owner string, f Filter) ([]*Credential, error) {
	recs, err := s.store.ListCredentials(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]*Credential, 0, len(recs))
	for _, rec := range recs {
		if f.Category != "" && !strings.EqualFold(f.Category, CategoryAll) && rec.Category != f.Category {
			continue
		}
		if search != "" && !matches(rec, search) {
			continue
		}
		out = append(out, toView(rec))
	}

	switch f.Sort {
	case SortName:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Website) < strings.ToLower(out[j].Website)
		})
	case SortCategory:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Category != out[j].Category {
				return out[i].Category < out[j].Category
			}
			return strings.ToLower(out[i].Website) < strings.ToLower(out[j].Website)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	}
	return out, nil
}

func matches(rec *store.Credential, needle string) bool {
	for _, field := range []string{rec.Website, rec.Username, rec.Category, rec.Notes} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Categories returns the distinct categories in use, sorted.
func (s *Service) Categories(ctx context.Context, owner string) ([]string, error) {
	recs, err := s.store.ListCredentials(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, rec := range recs {
		if _, ok := seen[rec.Category]; ok {
			continue
		}
		seen[rec.Category] = struct{}{}
		out = append(out, rec.Category)
	}
	sort.Strings(out)
	return out, nil
}

// Overview counts tiers and reused secrets and derives the security score.
// Reuse is found by grouping fingerprints; every member of a group of two or
// more counts as reused.
func (s *Service) Overview(ctx context.Context, owner string) (*Overview, error) {
	recs, err := s.store.ListCredentials(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	ov := &Overview{Total: len(recs)}
	groups := make(map[string]int)
	for _, rec := range recs {
		switch strength.Tier(rec.StrengthTier) {
		case strength.TierWeak:
			ov.Weak++
		case strength.TierMedium:
			ov.Medium++
		case strength.TierStrong:
			ov.Strong++
		case strength.TierVeryStrong:
			ov.VeryStrong++
		}
		groups[rec.Fingerprint]++
	}
	for _, n := range groups {
		if n > 1 {
			ov.Reused += n
		}
	}

	ov.SecurityScore = securityScore(ov.Total, ov.Weak, ov.Reused)
	return ov, nil
}

func securityScore(total, weak, reused int) int {
	if total == 0 {
		return 100
	}
	t := float64(total)
	score := math.Round(100 - float64(weak)/t*40 - float64(reused)/t*30)
	return max(0, int(score))
}
