// Package obalance implements the outstanding-balance tracker (spec §4.6):
// per-client outstanding obligation and in-flight locked cost, each
// accessed only through an abstract read-modify-write critical section on
// that client's record. Callers cannot compose transitions across clients
// atomically — none are required.
package obalance

import (
	"context"

	"github.com/felborne/voucher-gateway/internal/risk"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// Balance is one client's outstanding/locked record.
type Balance struct {
	Outstanding uint64
	Locked      uint64
}

// Tracker is the abstract RMW primitive every backing store implements.
type Tracker interface {
	WithClient(ctx context.Context, client voucher.ClientID, fn func(*Balance) error) error
}

// AddObligation applies outstanding += a under the client's lock.
func AddObligation(ctx context.Context, t Tracker, client voucher.ClientID, a uint64) error {
	return t.WithClient(ctx, client, func(b *Balance) error {
		b.Outstanding += a
		return nil
	})
}

// Unlock applies locked = saturating_sub(locked, a) under the client's lock.
func Unlock(ctx context.Context, t Tracker, client voucher.ClientID, a uint64) error {
	return t.WithClient(ctx, client, func(b *Balance) error {
		b.Locked = risk.SaturatingSub(b.Locked, a)
		return nil
	})
}

// ReduceObligation applies outstanding = saturating_sub(outstanding, a)
// under the client's lock.
func ReduceObligation(ctx context.Context, t Tracker, client voucher.ClientID, a uint64) error {
	return t.WithClient(ctx, client, func(b *Balance) error {
		b.Outstanding = risk.SaturatingSub(b.Outstanding, a)
		return nil
	})
}

// Read returns a copy of the client's current balance.
func Read(ctx context.Context, t Tracker, client voucher.ClientID) (Balance, error) {
	var out Balance
	err := t.WithClient(ctx, client, func(b *Balance) error {
		out = *b
		return nil
	})
	return out, err
}
