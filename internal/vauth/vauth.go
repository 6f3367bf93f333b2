// Package vauth implements VoucherAuth's three-gate admission protocol
// (spec §4.5): static (pure), volatile (oracle-dependent), and nonce-chain
// (tracker read-modify-write). Gates run in order; the first failure stops
// evaluation.
package vauth

import (
	"context"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/oracle"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// Tracker exposes a per-client read-modify-write critical section over that
// client's unspent-voucher record (§4.5, §4.6's RMW idiom generalized to
// the voucher list).
type Tracker interface {
	WithClient(ctx context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers) error) error
}

// VoucherAuth checks vouchers against one vendor's policy.
type VoucherAuth struct {
	Vendor  voucher.VendorID
	Oracle  oracle.Reader
	Tracker Tracker
}

// New builds a VoucherAuth for vendor, backed by reader and tracker.
func New(vendor voucher.VendorID, reader oracle.Reader, tracker Tracker) *VoucherAuth {
	return &VoucherAuth{Vendor: vendor, Oracle: reader, Tracker: tracker}
}

// checkStatic runs the pure, no-IO gate.
func (a *VoucherAuth) checkStatic(v voucher.Voucher) error {
	if !v.IsValidSignature() {
		return faults.Static(faults.InvalidSignature)
	}
	if v.VoucherAtoms() == 0 {
		return faults.Static(faults.VoucherHasZeroAtoms)
	}
	if v.VendorIdentifier() != a.Vendor {
		return faults.Static(faults.InvalidVendor)
	}
	return nil
}

// checkVolatile runs the oracle-dependent gate.
func (a *VoucherAuth) checkVolatile(ctx context.Context, v voucher.Voucher) error {
	rec, err := a.Oracle.Read(ctx, v.ClientIdentifier())
	if err != nil {
		return faults.VolatileIOErr(err)
	}
	if !rec.IsSubscribedToBe {
		return faults.Volatile(faults.ClientNotSubscribed)
	}
	if rec.CollateralToBe < v.VoucherAtoms() {
		return faults.VolatileInsufficientBalance(rec.CollateralToBe, v.VoucherAtoms())
	}
	return nil
}

// IsAuthStartSession runs all three gates and may insert v into the
// client's unspent list (§4.5).
func (a *VoucherAuth) IsAuthStartSession(ctx context.Context, v voucher.Voucher) error {
	if err := a.checkStatic(v); err != nil {
		return faults.WrapAuth(err)
	}
	if err := a.checkVolatile(ctx, v); err != nil {
		return faults.WrapAuth(err)
	}

	return a.Tracker.WithClient(ctx, v.ClientIdentifier(), func(u *voucher.UnspentVouchers) error {
		last, hasLast := u.LastKnownNonce()
		n := v.Nonce()

		if !hasLast {
			if n != 0 {
				return faults.FirstVoucherNonceInvalid()
			}
			u.Append(v)
			return nil
		}

		switch {
		case n == last+1:
			u.Append(v)
			return nil
		case u.Contains(n):
			// Re-auth of an already-accepted voucher: no mutation, success.
			return nil
		case n > last+1:
			return faults.InvalidNonce(n, last)
		default:
			// n <= last and not in the unspent list: either retired already
			// or below the first unspent nonce (I6).
			if first, ok := u.FirstUnspentNonce(); ok && n >= first {
				// Within [first, last] but Contains already ruled out a
				// match — unreachable given a gap-free unspent list, but
				// treat conservatively as spent rather than panic.
				return faults.VoucherSpentOrNonceTooHigh()
			}
			return faults.VoucherSpentOrNonceTooHigh()
		}
	})
}

// IsAuthStartQuery runs static + volatile + an inexpensive, non-mutating
// range check on every in-session request, so revocation or withdrawal
// propagates promptly (§4.5).
func (a *VoucherAuth) IsAuthStartQuery(ctx context.Context, v voucher.Voucher) error {
	if err := a.checkStatic(v); err != nil {
		return faults.WrapAuth(err)
	}
	if err := a.checkVolatile(ctx, v); err != nil {
		return faults.WrapAuth(err)
	}

	return a.Tracker.WithClient(ctx, v.ClientIdentifier(), func(u *voucher.UnspentVouchers) error {
		last, hasLast := u.LastKnownNonce()
		n := v.Nonce()
		if !hasLast || n > last {
			return faults.InvalidNonce(n, last)
		}
		if first, ok := u.FirstUnspentNonce(); !ok || n < first {
			// Already fully retired/settled — no longer trackable.
			return faults.WrapAuth(faults.Volatile(faults.VoucherUsedUp))
		}
		return nil
	})
}
