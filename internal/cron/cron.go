// Package cron implements CronEngine (spec §4.9): the independent,
// per-vendor background settlement trigger. Grounded on the teacher's
// RunGenerator (internal/billing/generator.go) — a ticker loop that scans
// every tracked client and applies a per-client closure, logging and
// continuing past individual failures rather than aborting the sweep.
package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/oracle"
	"github.com/felborne/voucher-gateway/internal/risk"
	"github.com/felborne/voucher-gateway/internal/settlejob"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// Config bounds the settlement trigger (§4.9 steps 3, 6, 7).
type Config struct {
	MinSettleSize  uint64
	DoSettleSize   uint64
	MaxSettleCount uint64
	ExpandRisk     uint64
}

// Tracker is the subset of tracker.MemTracker/tracker.RedisTracker the
// settlement sweep needs: the combined unspent-list-plus-job-slot RMW, and
// client enumeration. Typed as an interface so CronEngine can run against
// the same Redis-backed tracker ApiEngine's admission path writes to,
// instead of a separate, never-populated in-memory one.
type Tracker interface {
	WithClientAndJob(ctx context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers, *settlejob.SettleJob) error) error
	Clients(ctx context.Context) ([]voucher.ClientID, error)
}

// Engine runs one vendor's settlement trigger over its tracked clients.
type Engine struct {
	Vouchers Tracker
	Oracle   oracle.Reader
	Launcher settlejob.Launcher
	Cfg      Config
	log      *zap.Logger
}

func New(vouchers Tracker, or oracle.Reader, launcher settlejob.Launcher, cfg Config, log *zap.Logger) *Engine {
	if cfg.ExpandRisk == 0 {
		cfg.ExpandRisk = risk.DefaultExpandRisk
	}
	return &Engine{Vouchers: vouchers, Oracle: or, Launcher: launcher, Cfg: cfg, log: log}
}

// Run ticks every interval, sweeping all tracked clients until ctx is
// cancelled (mirrors the teacher's RunGenerator loop).
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("settlement cron started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("settlement cron stopped")
			return
		case <-ticker.C:
			e.SweepAll(ctx)
		}
	}
}

// SweepAll runs SweepClient over every client currently tracked, logging
// and continuing past individual failures.
func (e *Engine) SweepAll(ctx context.Context) {
	clients, err := e.Vouchers.Clients(ctx)
	if err != nil {
		e.log.Error("cron: list clients", zap.Error(err))
		return
	}
	for _, client := range clients {
		if err := e.SweepClient(ctx, client); err != nil {
			e.log.Error("cron: sweep client", zap.String("client", client.Hex()), zap.Error(err))
		}
	}
}

// SweepClient runs §4.9 steps 1-8 for one client: cleans up a finished job,
// decides whether a settlement is warranted, and if so launches a job over
// the longest nonce-contiguous affordable prefix.
func (e *Engine) SweepClient(ctx context.Context, client voucher.ClientID) error {
	return e.Vouchers.WithClientAndJob(ctx, client, func(u *voucher.UnspentVouchers, job *settlejob.SettleJob) error {
		// Step 1: clean up any finished job, or bail if one is in flight.
		if *job != nil {
			j := *job
			if !j.IsFinished() {
				return nil
			}
			if j.IsSuccessful() {
				u.RetirePrefix(j.UpToInclNonce(), j.Reference())
			}
			*job = nil
		}

		// Step 2: unsettled sum and count.
		unspent := u.Unspent()
		var unsettledSum uint64
		for _, v := range unspent {
			unsettledSum += v.VoucherAtoms()
		}
		count := uint64(len(unspent))

		// Step 3.
		if unsettledSum < e.Cfg.MinSettleSize {
			return nil
		}

		// Step 4.
		rec, err := e.Oracle.Read(ctx, client)
		if err != nil {
			return faults.WrapEngine(err)
		}
		balanceToBe := rec.CollateralToBe
		if !rec.IsSubscribedToBe {
			balanceToBe = 0
		}

		// Step 5.
		safeCapToBe := risk.SafeCap(balanceToBe, rec.SubscriptionsNow, e.Cfg.ExpandRisk)

		// Step 6.
		trigger := unsettledSum >= safeCapToBe ||
			count >= e.Cfg.MaxSettleCount ||
			unsettledSum >= e.Cfg.DoSettleSize
		if !trigger {
			return nil
		}

		// Step 7.
		if rec.CollateralNow < e.Cfg.MinSettleSize {
			return nil
		}

		// Step 8: longest nonce-contiguous prefix (the unspent list is
		// already gap-free, so any prefix is nonce-contiguous) whose
		// cumulative atoms stay within max_settle.
		maxSettle := risk.Min(rec.CollateralNow, unsettledSum)
		var cum uint64
		lastIdx := -1
		for i, v := range unspent {
			next := cum + v.VoucherAtoms()
			if next > maxSettle {
				break
			}
			cum = next
			lastIdx = i
		}
		if lastIdx < 0 {
			return nil
		}

		upToInclNonce := unspent[lastIdx].Nonce()
		newJob, err := e.Launcher.Launch(ctx, client, upToInclNonce, cum)
		if err != nil {
			return faults.WrapEngine(err)
		}
		*job = newJob
		e.log.Info("cron: settlement launched",
			zap.String("client", client.Hex()),
			zap.Uint64("up_to_incl_nonce", upToInclNonce),
			zap.Uint64("atoms", cum),
		)
		return nil
	})
}
