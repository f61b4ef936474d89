package service

import (
	"math/rand"
	"sort"

	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	"github.com/datakilde/varsel/internal/sentinel/domain"
)

// Strata shares of the configured sample size. Aggregates and diversity
// picks carry most of the signal; the random tail guards against blind
// spots in the classification.
const (
	aggregateShare = 40
	diversityShare = 40
)

type pick struct {
	ref    providerdomain.ItemRef
	reason string
}

// stratify chooses min(target, len(items)) items across the three strata
// without duplicates. Order of the input does not matter: items are sorted
// by id first, so the same inputs always produce the same aggregate and
// diversity picks; only the random stratum depends on rng.
func stratify(items []providerdomain.ItemRef, target int, rng *rand.Rand) []pick {
	if target > len(items) {
		target = len(items)
	}
	if target <= 0 {
		return nil
	}

	sorted := make([]providerdomain.ItemRef, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	aggTarget := target * aggregateShare / 100
	divTarget := target * diversityShare / 100

	chosen := make(map[string]struct{}, target)
	picks := make([]pick, 0, target)

	take := func(ref providerdomain.ItemRef, reason string) {
		chosen[ref.ID] = struct{}{}
		picks = append(picks, pick{ref: ref, reason: reason})
	}

	for _, ref := range sorted {
		if len(picks) >= aggTarget {
			break
		}
		if ref.Aggregate {
			take(ref, domain.ReasonAggregate)
		}
	}

	// Diversity: round-robin across classification groups so every group
	// is represented before any group contributes twice.
	groups := make(map[string][]providerdomain.ItemRef)
	var groupKeys []string
	for _, ref := range sorted {
		if _, ok := chosen[ref.ID]; ok {
			continue
		}
		if _, seen := groups[ref.Group]; !seen {
			groupKeys = append(groupKeys, ref.Group)
		}
		groups[ref.Group] = append(groups[ref.Group], ref)
	}
	sort.Strings(groupKeys)

	divCount := 0
	for divCount < divTarget {
		progressed := false
		for _, key := range groupKeys {
			if divCount >= divTarget {
				break
			}
			if len(groups[key]) == 0 {
				continue
			}
			ref := groups[key][0]
			groups[key] = groups[key][1:]
			take(ref, domain.ReasonDiversity)
			divCount++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	remainder := make([]providerdomain.ItemRef, 0, len(sorted))
	for _, ref := range sorted {
		if _, ok := chosen[ref.ID]; !ok {
			remainder = append(remainder, ref)
		}
	}
	rng.Shuffle(len(remainder), func(i, j int) {
		remainder[i], remainder[j] = remainder[j], remainder[i]
	})

	// The random stratum also absorbs any shortfall from thin strata so the
	// sample still reaches min(target, available).
	for _, ref := range remainder {
		if len(picks) >= target {
			break
		}
		take(ref, domain.ReasonRandom)
	}

	return picks
}
