package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/felborne/voucher-gateway/internal/obalance"
	"github.com/felborne/voucher-gateway/internal/oracle"
	"github.com/felborne/voucher-gateway/internal/tracker"
	"github.com/felborne/voucher-gateway/internal/vauth"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

type fixedOracle struct {
	rec oracle.ClientRecord
}

func (f fixedOracle) Read(_ context.Context, _ voucher.ClientID) (oracle.ClientRecord, error) {
	return f.rec, nil
}

func newEngine(t *testing.T, or oracle.Reader) (*Engine, *tracker.MemTracker, obalance.Tracker) {
	t.Helper()
	vendor := common.HexToAddress("0xVEND0000000000000000000000000000000001")
	vtr := tracker.NewMemTracker()
	btr := obalance.NewMemTracker()
	auth := vauth.New(vendor, or, vtr)
	return New(auth, or, btr, vtr, zap.NewNop()), vtr, btr
}

func seedVoucher(t *testing.T, vtr *tracker.MemTracker, client common.Address, nonce, atoms uint64) {
	t.Helper()
	err := vtr.WithClient(context.Background(), client, func(u *voucher.UnspentVouchers) error {
		u.SetLastKnownNonce(nonce)
		u.Append(&voucher.SignedVoucher{
			Client: client,
			Vendor: common.HexToAddress("0xVEND0000000000000000000000000000000001"),
			Atoms:  atoms,
			VNonce: nonce,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seedVoucher: %v", err)
	}
}

// TestCreditDenial matches spec scenario 5 (§8.2.5): unspent=500,
// outstanding=400, locked=50, safe_cap=1000 => safe_avail=50;
// approx_cost=60 should be denied with locked left unchanged.
func TestCreditDenial(t *testing.T) {
	or := fixedOracle{rec: oracle.ClientRecord{CollateralToBe: 6000, SubscriptionsNow: 1, IsSubscribedToBe: true}}
	e, vtr, btr := newEngine(t, or)
	ctx := context.Background()
	client := common.HexToAddress("0x0000000000000000000000000000000000C11E")

	seedVoucher(t, vtr, client, 0, 500)
	if err := btr.WithClient(ctx, client, func(b *obalance.Balance) error {
		b.Outstanding = 400
		b.Locked = 50
		return nil
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	qc, err := e.Query(ctx, client, 60)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if qc.ShouldContinue {
		t.Errorf("ShouldContinue = true, want false")
	}
	if qc.LockedCost != 0 {
		t.Errorf("LockedCost = %d, want 0", qc.LockedCost)
	}
	bal, _ := obalance.Read(ctx, btr, client)
	if bal.Locked != 50 {
		t.Errorf("Locked = %d, want unchanged 50", bal.Locked)
	}
}

// TestVoucherRetirement matches spec scenario 6 (§8.2.6): unspent=[{n:0,
// a:1000}], outstanding=900. settle_query with actual_cost=150 drives
// outstanding through 1050 >= 1000, pops the voucher, nets to 50.
func TestVoucherRetirement(t *testing.T) {
	or := fixedOracle{rec: oracle.ClientRecord{CollateralToBe: 100000, SubscriptionsNow: 0, IsSubscribedToBe: true}}
	e, vtr, btr := newEngine(t, or)
	ctx := context.Background()
	client := common.HexToAddress("0x0000000000000000000000000000000000Bee7")

	seedVoucher(t, vtr, client, 0, 1000)
	if err := btr.WithClient(ctx, client, func(b *obalance.Balance) error {
		b.Outstanding = 900
		return nil
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	qc := QueryCont{LockedCost: 0, ShouldContinue: true}
	if err := e.SettleQuery(ctx, client, qc, 150); err != nil {
		t.Fatalf("SettleQuery: %v", err)
	}

	bal, err := obalance.Read(ctx, btr, client)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if bal.Outstanding != 50 {
		t.Errorf("Outstanding = %d, want 50", bal.Outstanding)
	}

	err = vtr.WithClient(ctx, client, func(u *voucher.UnspentVouchers) error {
		if len(u.Unspent()) != 0 {
			t.Errorf("Unspent left = %d, want 0", len(u.Unspent()))
		}
		if len(u.SpentStaging()) != 1 {
			t.Errorf("SpentStaging = %d, want 1", len(u.SpentStaging()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSettleQueryNoopWhenShouldNotContinue(t *testing.T) {
	or := fixedOracle{rec: oracle.ClientRecord{CollateralToBe: 100, SubscriptionsNow: 0, IsSubscribedToBe: true}}
	e, _, btr := newEngine(t, or)
	ctx := context.Background()
	client := common.HexToAddress("0x0000000000000000000000000000000000d00d")

	if err := e.SettleQuery(ctx, client, QueryCont{ShouldContinue: false}, 999); err != nil {
		t.Fatalf("SettleQuery: %v", err)
	}
	bal, _ := obalance.Read(ctx, btr, client)
	if bal.Outstanding != 0 || bal.Locked != 0 {
		t.Errorf("balance mutated on a should-not-continue QueryCont: %+v", bal)
	}
}

func TestQueryLocksApprovedCost(t *testing.T) {
	or := fixedOracle{rec: oracle.ClientRecord{CollateralToBe: 100000, SubscriptionsNow: 0, IsSubscribedToBe: true}}
	e, vtr, btr := newEngine(t, or)
	ctx := context.Background()
	client := common.HexToAddress("0x0000000000000000000000000000000000FEED")

	seedVoucher(t, vtr, client, 0, 1000)

	qc, err := e.Query(ctx, client, 200)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !qc.ShouldContinue || qc.LockedCost != 200 {
		t.Fatalf("qc = %+v, want ShouldContinue=true LockedCost=200", qc)
	}
	bal, _ := obalance.Read(ctx, btr, client)
	if bal.Locked != 200 {
		t.Errorf("Locked = %d, want 200", bal.Locked)
	}
}

func TestAcceptSessionThenAcceptQuery(t *testing.T) {
	or := fixedOracle{rec: oracle.ClientRecord{CollateralToBe: 100000, CollateralNow: 100000, SubscriptionsNow: 0, IsSubscribedToBe: true}}
	e, _, _ := newEngine(t, or)
	ctx := context.Background()

	key, err := crypto.HexToECDSA("0000000000000000000000000000000000000000000000000000000000000007")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	client := crypto.PubkeyToAddress(key.PublicKey)
	v := &voucher.SignedVoucher{
		Client:            client,
		Vendor:            common.HexToAddress("0xVEND0000000000000000000000000000000001"),
		Atoms:             10,
		VNonce:            0,
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0xC0FFEE0000000000000000000000000000001"),
	}
	if err := v.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := e.AcceptSession(ctx, v); err != nil {
		t.Fatalf("AcceptSession: %v", err)
	}
	if err := e.AcceptQuery(ctx, v); err != nil {
		t.Fatalf("AcceptQuery: %v", err)
	}
}
