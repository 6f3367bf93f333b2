// Package sigrecover implements BSDE's tx digest and ECDSA recovery (spec
// §4.2): Keccak-256 over to‖atoms‖nonce, secp256k1 recovery, and address
// derivation from the recovered public key.
package sigrecover

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/wire"
)

// Digest returns the Keccak-256 hash of a tx's signed preimage
// (to ‖ atoms(BE) ‖ nonce(BE)). Routing hints and the signature itself are
// excluded by construction.
func Digest(tx wire.Tx) [32]byte {
	h := crypto.Keccak256(tx.DigestPreimage())
	var out [32]byte
	copy(out[:], h)
	return out
}

// Recover recovers the signer address from a tx's signature over its digest.
// txIndex is carried into any returned error purely as positional context.
//
// A recovery id outside {0,1,2,3} is MalformedInput (§4.1); a scalar out of
// range or a curve recovery failure is InvalidRecoveryID (§4.2) — both are
// fatal BatchErrors, there is no recoverable InvalidSignature path inside
// BSDE (that kind is reserved for VGC's static voucher gate).
func Recover(tx wire.Tx, txIndex uint32) (common.Address, error) {
	v := tx.V()
	if v > 3 {
		return common.Address{}, faults.Batch(faults.MalformedInput, txIndex, "recovery id out of range")
	}

	digest := Digest(tx)
	sig := make([]byte, 65)
	r, s := tx.SigR(), tx.SigS()
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, faults.Batch(faults.InvalidRecoveryID, txIndex, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}
