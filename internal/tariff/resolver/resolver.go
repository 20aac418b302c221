// Package resolver maps purchase nominals onto tariff tiers without touching storage.
package resolver

import (
	"sort"

	"github.com/shopspring/decimal"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
)

// Resolve returns the active tier whose range contains nominal.
// Candidates are scanned by MinNominal descending, lower ID first on ties, so that
// overlapping data still resolves the same way on every call.
func Resolve(tiers []tariffdomain.TariffTier, nominal decimal.Decimal) (tariffdomain.TariffTier, error) {
	candidates := activeSorted(tiers)
	for _, tier := range candidates {
		if tier.Contains(nominal) {
			return tier, nil
		}
	}
	return tariffdomain.TariffTier{}, tariffdomain.ErrTariffNotFound
}

// ValidateNoOverlap rejects an active candidate whose closed range intersects another
// active tier. The candidate's own ID is ignored so updates can be validated in place.
func ValidateNoOverlap(candidate tariffdomain.TariffTier, existing []tariffdomain.TariffTier) error {
	if !candidate.Active {
		return nil
	}
	for _, other := range existing {
		if !other.Active || (candidate.ID != 0 && other.ID == candidate.ID) {
			continue
		}
		if overlaps(candidate, other) {
			return tariffdomain.ErrOverlappingTierRange
		}
	}
	return nil
}

// PurchasedKwh converts a nominal into kWh at the tier rate, rounded to 3 decimals.
func PurchasedKwh(amount decimal.Decimal, tier tariffdomain.TariffTier) (float64, bool) {
	if !tier.EffectiveTariff.IsPositive() || amount.IsNegative() {
		return 0, false
	}
	kwh, _ := amount.DivRound(tier.EffectiveTariff, 3).Float64()
	return kwh, true
}

func overlaps(a, b tariffdomain.TariffTier) bool {
	// [a.min, a.max] and [b.min, b.max] intersect unless one ends before the other starts.
	if a.MaxNominal != nil && a.MaxNominal.LessThan(b.MinNominal) {
		return false
	}
	if b.MaxNominal != nil && b.MaxNominal.LessThan(a.MinNominal) {
		return false
	}
	return true
}

func activeSorted(tiers []tariffdomain.TariffTier) []tariffdomain.TariffTier {
	out := make([]tariffdomain.TariffTier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Active {
			out = append(out, tier)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].MinNominal.Cmp(out[j].MinNominal); cmp != 0 {
			return cmp > 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}
