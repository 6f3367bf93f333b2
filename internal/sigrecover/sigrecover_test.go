package sigrecover

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/felborne/voucher-gateway/internal/wire"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA("0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return key
}

func signedTx(t *testing.T, key *ecdsa.PrivateKey, to common.Address, atoms int64, nonce uint64) wire.TxRecord {
	t.Helper()
	rec := wire.TxRecord{To: to, Atoms: atoms, Nonce: nonce, FromIdx: 1, ToIdx: 2}
	buf := rec.Encode(nil)
	tx := wire.NewInput(append(make([]byte, wire.HeaderSize), buf...)).TxAt(0)
	digest := Digest(tx)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	copy(rec.SigR[:], sig[0:32])
	copy(rec.SigS[:], sig[32:64])
	rec.V = sig[64]
	return rec
}

func encodeSingle(rec wire.TxRecord) wire.Tx {
	hdr := make([]byte, wire.HeaderSize)
	buf := rec.Encode(hdr)
	return wire.NewInput(buf).TxAt(0)
}

func TestRecoverMatchesSigner(t *testing.T) {
	key := mustKey(t)
	want := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000001234")

	rec := signedTx(t, key, to, 500, 7)
	tx := encodeSingle(rec)

	got, err := Recover(tx, 0)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got != want {
		t.Errorf("recovered = %s, want %s", got, want)
	}
}

func TestRecoverRejectsOutOfRangeV(t *testing.T) {
	key := mustKey(t)
	to := common.HexToAddress("0x00000000000000000000000000000000001234")
	rec := signedTx(t, key, to, 500, 7)
	rec.V = 99
	tx := encodeSingle(rec)

	if _, err := Recover(tx, 3); err == nil {
		t.Fatal("expected error for out-of-range recovery id, got nil")
	}
}

func TestRecoverFailsOnTamperedDigest(t *testing.T) {
	key := mustKey(t)
	to := common.HexToAddress("0x00000000000000000000000000000000001234")
	rec := signedTx(t, key, to, 500, 7)
	// tamper with atoms after signing so the digest no longer matches the sig
	rec.Atoms = 999
	tx := encodeSingle(rec)

	want := crypto.PubkeyToAddress(key.PublicKey)
	got, err := Recover(tx, 0)
	if err == nil && got == want {
		t.Fatal("expected recovered address to differ from signer after tampering")
	}
}
