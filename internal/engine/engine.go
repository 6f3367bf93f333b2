// Package engine implements ApiEngine (spec §4.8): session admission, query
// admission, credit-gated query continuation, and settlement. Grounded on
// the teacher's EventHandler (internal/billing/events.go) — a thin struct
// wiring together the subsystem collaborators, with each public method a
// short, logged, context-threaded lifecycle transition.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/obalance"
	"github.com/felborne/voucher-gateway/internal/oracle"
	"github.com/felborne/voucher-gateway/internal/risk"
	"github.com/felborne/voucher-gateway/internal/vauth"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// QueryCont is the admission decision returned by Query and consumed by
// SettleQuery (§4.8).
type QueryCont struct {
	LockedCost     uint64
	ShouldContinue bool
}

// Engine implements ApiEngine for one vendor. Vouchers is vauth.Tracker
// rather than a concrete tracker type so either the in-memory or
// Redis-backed implementation can back it, as long as it is the same
// instance auth's Tracker uses.
type Engine struct {
	Auth       *vauth.VoucherAuth
	Oracle     oracle.Reader
	Balances   obalance.Tracker
	Vouchers   vauth.Tracker
	ExpandRisk uint64
	log        *zap.Logger
}

// New builds an Engine. vouchers must be the same tracker instance backing
// auth's Tracker, since Query reads the unspent sum it guards.
func New(auth *vauth.VoucherAuth, or oracle.Reader, balances obalance.Tracker, vouchers vauth.Tracker, log *zap.Logger) *Engine {
	return &Engine{
		Auth:       auth,
		Oracle:     or,
		Balances:   balances,
		Vouchers:   vouchers,
		ExpandRisk: risk.DefaultExpandRisk,
		log:        log,
	}
}

// AcceptSession runs the full three-gate admission protocol, possibly
// inserting v into the client's unspent list (§4.8).
func (e *Engine) AcceptSession(ctx context.Context, v voucher.Voucher) error {
	if err := e.Auth.IsAuthStartSession(ctx, v); err != nil {
		e.log.Debug("engine: accept_session rejected", zap.String("client", v.ClientIdentifier().Hex()), zap.Error(err))
		return err
	}
	return nil
}

// AcceptQuery runs the cheap per-request re-check (§4.8); it never mutates.
func (e *Engine) AcceptQuery(ctx context.Context, v voucher.Voucher) error {
	if err := e.Auth.IsAuthStartQuery(ctx, v); err != nil {
		e.log.Debug("engine: accept_query rejected", zap.String("client", v.ClientIdentifier().Hex()), zap.Error(err))
		return err
	}
	return nil
}

// Query computes whether a prospective query of approxCost atoms may
// proceed, and if so locks that cost against the client's balance (§4.8
// steps 1-6).
func (e *Engine) Query(ctx context.Context, client voucher.ClientID, approxCost uint64) (QueryCont, error) {
	rec, err := e.Oracle.Read(ctx, client)
	if err != nil {
		return QueryCont{}, faults.WrapEngine(err)
	}
	safeCap := risk.SafeCap(rec.CollateralToBe, rec.SubscriptionsNow, e.ExpandRisk)

	var unspent uint64
	err = e.Vouchers.WithClient(ctx, client, func(u *voucher.UnspentVouchers) error {
		unspent = u.Sum()
		return nil
	})
	if err != nil {
		return QueryCont{}, faults.WrapEngine(err)
	}

	var qc QueryCont
	err = e.Balances.WithClient(ctx, client, func(b *obalance.Balance) error {
		spoken := risk.SaturatingSub(risk.SaturatingSub(unspent, b.Outstanding), b.Locked)
		safeAvail := risk.Min(safeCap, spoken)

		if approxCost > safeAvail {
			qc = QueryCont{LockedCost: 0, ShouldContinue: false}
			return nil
		}
		b.Locked += approxCost
		qc = QueryCont{LockedCost: approxCost, ShouldContinue: true}
		return nil
	})
	if err != nil {
		return QueryCont{}, faults.WrapEngine(err)
	}
	return qc, nil
}

// SettleQuery reconciles a completed query's actual cost against the
// client's balance and, if the resulting outstanding obligation covers the
// oldest unspent voucher, retires it (§4.8 steps 1-4).
func (e *Engine) SettleQuery(ctx context.Context, client voucher.ClientID, qc QueryCont, actualCost uint64) error {
	if !qc.ShouldContinue {
		return nil
	}

	var outstanding uint64
	err := e.Balances.WithClient(ctx, client, func(b *obalance.Balance) error {
		b.Outstanding += actualCost
		b.Locked = risk.SaturatingSub(b.Locked, qc.LockedCost)
		outstanding = b.Outstanding
		return nil
	})
	if err != nil {
		return faults.WrapEngine(err)
	}

	var popped voucher.Voucher
	err = e.Vouchers.WithClient(ctx, client, func(u *voucher.UnspentVouchers) error {
		unspent := u.Unspent()
		if len(unspent) == 0 || outstanding < unspent[0].VoucherAtoms() {
			return nil
		}
		v, _ := u.PopFirst()
		popped = v
		return nil
	})
	if err != nil {
		return faults.WrapEngine(err)
	}

	if popped == nil {
		return nil
	}

	return e.Balances.WithClient(ctx, client, func(b *obalance.Balance) error {
		b.Outstanding = risk.SaturatingSub(b.Outstanding, popped.VoucherAtoms())
		return nil
	})
}
