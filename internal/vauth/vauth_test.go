package vauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/felborne/voucher-gateway/internal/faults"
	oraclepkg "github.com/felborne/voucher-gateway/internal/oracle"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

// memTracker is an in-memory Tracker test double: one mutex-guarded record
// per client, matching the "RMW under this client's lock" primitive of
// §4.5/§4.6.
type memTracker struct {
	mu      sync.Mutex
	records map[voucher.ClientID]*voucher.UnspentVouchers
}

func newMemTracker() *memTracker {
	return &memTracker{records: make(map[voucher.ClientID]*voucher.UnspentVouchers)}
}

func (m *memTracker) WithClient(_ context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[client]
	if !ok {
		rec = voucher.NewUnspentVouchers()
		m.records[client] = rec
	}
	return fn(rec)
}

type fixedOracle struct {
	rec oraclepkg.ClientRecord
	err error
}

func (f fixedOracle) Read(context.Context, voucher.ClientID) (oraclepkg.ClientRecord, error) {
	return f.rec, f.err
}

var (
	testVendor = common.HexToAddress("0x000000000000000000000000000000000000Ab")
	testChain  = big.NewInt(1337)
	testVerify = common.HexToAddress("0x00000000000000000000000000000000000bEE")
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA("0000000000000000000000000000000000000000000000000000000000000006")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return key
}

func newVoucher(t *testing.T, key *ecdsa.PrivateKey, nonce, atoms uint64) *voucher.SignedVoucher {
	t.Helper()
	v := &voucher.SignedVoucher{
		Client:            crypto.PubkeyToAddress(key.PublicKey),
		Vendor:            testVendor,
		Atoms:             atoms,
		VNonce:            nonce,
		ChainID:           testChain,
		VerifyingContract: testVerify,
	}
	if err := v.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return v
}

func TestFirstVoucherMustHaveNonceZero(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: true}}, tracker)

	v := newVoucher(t, key, 1, 1000)
	err := auth.IsAuthStartSession(context.Background(), v)
	if err == nil {
		t.Fatal("expected error for non-zero first nonce, got nil")
	}
	var authErr *faults.AuthError
	if !errors.As(err, &authErr) || authErr.Kind != faults.AuthFirstVoucherNonceInvalid {
		t.Fatalf("expected FirstVoucherNonceInvalid, got %v", err)
	}
}

// TestVoucherAdmissionThenSkippedNonce covers scenario 4 (spec §8.2.4).
func TestVoucherAdmissionThenSkippedNonce(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: true}}, tracker)
	ctx := context.Background()

	first := newVoucher(t, key, 0, 1000)
	if err := auth.IsAuthStartSession(ctx, first); err != nil {
		t.Fatalf("first voucher: %v", err)
	}

	second := newVoucher(t, key, 2, 2000)
	err := auth.IsAuthStartSession(ctx, second)
	var authErr *faults.AuthError
	if !errors.As(err, &authErr) || authErr.Kind != faults.AuthInvalidNonce {
		t.Fatalf("expected InvalidNonce, got %v", err)
	}
	if authErr.SignedNonce != 2 || authErr.LastKnown != 0 {
		t.Errorf("InvalidNonce fields = (%d,%d), want (2,0)", authErr.SignedNonce, authErr.LastKnown)
	}
}

func TestReauthOfExistingUnspentVoucherSucceeds(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: true}}, tracker)
	ctx := context.Background()

	v0 := newVoucher(t, key, 0, 1000)
	if err := auth.IsAuthStartSession(ctx, v0); err != nil {
		t.Fatalf("v0: %v", err)
	}
	// Re-submit the same voucher (e.g. reconnect): must succeed idempotently.
	if err := auth.IsAuthStartSession(ctx, v0); err != nil {
		t.Fatalf("re-auth of v0: %v", err)
	}
}

func TestStaticGateRejectsZeroAtoms(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: true}}, tracker)

	v := newVoucher(t, key, 0, 0)
	err := auth.IsAuthStartSession(context.Background(), v)
	var staticErr *faults.StaticAuthError
	if !errors.As(err, &staticErr) || staticErr.Kind != faults.VoucherHasZeroAtoms {
		t.Fatalf("expected VoucherHasZeroAtoms, got %v", err)
	}
}

func TestVolatileGateRejectsUnsubscribedClient(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: false}}, tracker)

	v := newVoucher(t, key, 0, 1000)
	err := auth.IsAuthStartSession(context.Background(), v)
	var volErr *faults.VolatileAuthError
	if !errors.As(err, &volErr) || volErr.Kind != faults.ClientNotSubscribed {
		t.Fatalf("expected ClientNotSubscribed, got %v", err)
	}
}

func TestVolatileGateRejectsInsufficientCollateral(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 500, IsSubscribedToBe: true}}, tracker)

	v := newVoucher(t, key, 0, 1000)
	err := auth.IsAuthStartSession(context.Background(), v)
	var volErr *faults.VolatileAuthError
	if !errors.As(err, &volErr) || volErr.Kind != faults.ClientHasInsufficientBalance {
		t.Fatalf("expected ClientHasInsufficientBalance, got %v", err)
	}
	if volErr.Seen != 500 || volErr.Needed != 1000 {
		t.Errorf("balance fields = (%d,%d), want (500,1000)", volErr.Seen, volErr.Needed)
	}
}

func TestIsAuthStartQueryDoesNotMutate(t *testing.T) {
	key := testKey(t)
	tracker := newMemTracker()
	auth := New(testVendor, fixedOracle{rec: oraclepkg.ClientRecord{CollateralToBe: 10_000, IsSubscribedToBe: true}}, tracker)
	ctx := context.Background()

	v0 := newVoucher(t, key, 0, 1000)
	if err := auth.IsAuthStartSession(ctx, v0); err != nil {
		t.Fatalf("v0: %v", err)
	}
	if err := auth.IsAuthStartQuery(ctx, v0); err != nil {
		t.Fatalf("IsAuthStartQuery: %v", err)
	}

	var sum uint64
	_ = tracker.WithClient(ctx, v0.ClientIdentifier(), func(u *voucher.UnspentVouchers) error {
		sum = u.Sum()
		return nil
	})
	if sum != 1000 {
		t.Errorf("unspent sum after query = %d, want 1000 (no mutation)", sum)
	}
}
