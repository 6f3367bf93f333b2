// Package voucher implements the Voucher abstraction (spec §4.4): an opaque,
// signed, monotonically numbered authorization granting a vendor a cumulative
// draw up to some atom count. Vouchers are content-addressed by (client,
// nonce) and implementations must supply stable equality on vendor
// identifiers and cheap cloning — both satisfied here by using
// common.Address (comparable, copy-by-value) for both identifiers.
package voucher

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ClientID identifies the paying client. VendorID identifies the vendor a
// voucher authorizes spend against. Both are wallet addresses.
type ClientID = common.Address
type VendorID = common.Address

// Voucher is the abstract contract every concrete voucher type satisfies.
type Voucher interface {
	IsValidSignature() bool
	Nonce() uint64
	VoucherAtoms() uint64
	ClientIdentifier() ClientID
	VendorIdentifier() VendorID
}

// Key content-addresses a voucher by (client, nonce).
type Key struct {
	Client ClientID
	Nonce  uint64
}

func KeyOf(v Voucher) Key {
	return Key{Client: v.ClientIdentifier(), Nonce: v.Nonce()}
}

var voucherTypeHash = crypto.Keccak256Hash([]byte(
	"Voucher(address client,address vendor,uint256 nonce,uint256 atoms)",
))

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// SignedVoucher is the concrete, EIP-712-signed Voucher implementation
// (§6's recommended on-chain-interop hash layout).
type SignedVoucher struct {
	Client    common.Address
	Vendor    common.Address
	Atoms     uint64
	VNonce    uint64
	Signature [65]byte // r(32) || s(32) || v(1), v in {27,28}

	ChainID           *big.Int
	VerifyingContract common.Address
}

func (v *SignedVoucher) Nonce() uint64              { return v.VNonce }
func (v *SignedVoucher) VoucherAtoms() uint64       { return v.Atoms }
func (v *SignedVoucher) ClientIdentifier() ClientID { return v.Client }
func (v *SignedVoucher) VendorIdentifier() VendorID { return v.Vendor }

// IsValidSignature recovers the signer and checks it matches Client. The
// verifier normalizes v from {27,28} to {0,1} before recovery; it does not
// reject high-S signatures (recovery is used, not strict verification),
// matching BSDE's Tx signature policy (§4.2).
func (v *SignedVoucher) IsValidSignature() bool {
	signer, err := v.recoverSigner()
	if err != nil {
		return false
	}
	return signer == v.Client
}

func (v *SignedVoucher) recoverSigner() (common.Address, error) {
	digest := v.digest()
	sig := v.Signature
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (v *SignedVoucher) domainSeparator() [32]byte {
	nameHash := crypto.Keccak256Hash([]byte("VoucherGatewayCore"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	v.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], v.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

func (v *SignedVoucher) structHash() [32]byte {
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], voucherTypeHash[:])
	copy(encoded[44:64], v.Client.Bytes())
	copy(encoded[76:96], v.Vendor.Bytes())
	new(big.Int).SetUint64(v.VNonce).FillBytes(encoded[96:128])
	new(big.Int).SetUint64(v.Atoms).FillBytes(encoded[128:160])
	return crypto.Keccak256Hash(encoded)
}

func (v *SignedVoucher) digest() [32]byte {
	sep := v.domainSeparator()
	sh := v.structHash()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], sh[:])
	return crypto.Keccak256Hash(msg)
}

// Sign signs the voucher in-place with privKey.
func (v *SignedVoucher) Sign(privKey *ecdsa.PrivateKey) error {
	digest := v.digest()
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	sig[64] += 27
	copy(v.Signature[:], sig)
	return nil
}

// SettledVoucher tags a retired voucher with the reference (e.g. an on-chain
// tx hash) of the job that settled it (§12 try_cleanup_job's SettledVoucher).
type SettledVoucher struct {
	V         Voucher
	Reference string
}

// UnspentVouchers is the per-client ordered unspent list plus the transient
// spent-vouchers staging buffer, the settled bucket, and last-known-nonce
// watermark (§3's ClientUnspentVouchers). It is not itself concurrency-safe;
// callers hold it behind a per-client lock (see internal/tracker).
type UnspentVouchers struct {
	unspent        []Voucher // nonce-ascending, no gaps
	spentStaging   []Voucher
	settled        []SettledVoucher
	lastKnownNonce *uint64
}

func NewUnspentVouchers() *UnspentVouchers {
	return &UnspentVouchers{}
}

// Unspent returns the ordered unspent list. Callers must not mutate it.
func (u *UnspentVouchers) Unspent() []Voucher { return u.unspent }

// SpentStaging returns the transient spent-voucher staging buffer.
func (u *UnspentVouchers) SpentStaging() []Voucher { return u.spentStaging }

// Settled returns the bucket of vouchers retired by a successful settlement
// job, each tagged with the job's reference (§12 try_cleanup_job).
func (u *UnspentVouchers) Settled() []SettledVoucher { return u.settled }

// SetSpentStaging replaces the spent-voucher staging buffer, used to restore
// state from a persisted record (internal/tracker.RedisTracker).
func (u *UnspentVouchers) SetSpentStaging(v []Voucher) { u.spentStaging = v }

// SetSettled replaces the settled bucket, used to restore state from a
// persisted record (internal/tracker.RedisTracker).
func (u *UnspentVouchers) SetSettled(v []SettledVoucher) { u.settled = v }

// LastKnownNonce returns (nonce, true) if a voucher has ever been accepted.
func (u *UnspentVouchers) LastKnownNonce() (uint64, bool) {
	if u.lastKnownNonce == nil {
		return 0, false
	}
	return *u.lastKnownNonce, true
}

// FirstUnspentNonce returns the nonce of the oldest unspent voucher, if any.
func (u *UnspentVouchers) FirstUnspentNonce() (uint64, bool) {
	if len(u.unspent) == 0 {
		return 0, false
	}
	return u.unspent[0].Nonce(), true
}

// Append appends v to the unspent list and advances last_known_nonce. The
// caller (internal/vauth) is responsible for having already validated nonce
// contiguity (I6/I7).
func (u *UnspentVouchers) Append(v Voucher) {
	u.unspent = append(u.unspent, v)
	n := v.Nonce()
	u.lastKnownNonce = &n
}

// SetLastKnownNonce sets last_known_nonce directly, used to restore state
// from a persisted record (internal/tracker.RedisTracker).
func (u *UnspentVouchers) SetLastKnownNonce(n uint64) {
	u.lastKnownNonce = &n
}

// Contains reports whether nonce already exists in the unspent list.
func (u *UnspentVouchers) Contains(nonce uint64) bool {
	for _, v := range u.unspent {
		if v.Nonce() == nonce {
			return true
		}
	}
	return false
}

// Sum returns the total atoms over the unspent list.
func (u *UnspentVouchers) Sum() uint64 {
	var total uint64
	for _, v := range u.unspent {
		total += v.VoucherAtoms()
	}
	return total
}

// PopFirst moves the oldest unspent voucher into the spent staging buffer
// and returns it, or returns (nil, false) if the list is empty.
func (u *UnspentVouchers) PopFirst() (Voucher, bool) {
	if len(u.unspent) == 0 {
		return nil, false
	}
	first := u.unspent[0]
	u.unspent = u.unspent[1:]
	u.spentStaging = append(u.spentStaging, first)
	return first, true
}

// RetirePrefix moves every unspent voucher with nonce <= upToIncl into the
// settled bucket, tagged with reference, and returns them (§4.9 step 1, §12
// try_cleanup_job).
func (u *UnspentVouchers) RetirePrefix(upToIncl uint64, reference string) []Voucher {
	i := 0
	for i < len(u.unspent) && u.unspent[i].Nonce() <= upToIncl {
		i++
	}
	retired := u.unspent[:i]
	u.unspent = u.unspent[i:]
	for _, v := range retired {
		u.settled = append(u.settled, SettledVoucher{V: v, Reference: reference})
	}
	return retired
}
