// Package risk implements the risk-adjusted safe-cap calculator (spec
// §4.10), grounded on the flattened
// ClientRiskConfig.get_client_risk_adj_collateral of the original protocol
// (ctrack.rs's generic CreditTrack wrapper is dropped — see DESIGN.md).
package risk

// DefaultExpandRisk is the buffer for burst-subscription risk: the
// assumption that a client may burst-subscribe to up to 5 additional
// vendors before the oracle updates.
const DefaultExpandRisk = 5

// SafeCap computes collateral / (subs + expandRisk), integer division. If
// subs+expandRisk == 0 it returns collateral unchanged.
func SafeCap(collateral, subs, expandRisk uint64) uint64 {
	divisor := subs + expandRisk
	if divisor == 0 {
		return collateral
	}
	return collateral / divisor
}

// SaturatingSub returns a-b, or 0 if b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
