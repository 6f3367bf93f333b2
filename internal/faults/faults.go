// Package faults holds the error taxonomy shared by the voucher gateway
// (VGC) and the batch state-delta engine (BSDE). Errors nest by wrapping
// with fmt.Errorf("...: %w", ...) and are told apart with errors.As, mirroring
// the layered StaticAuthError/VolatileAuthError/AuthError/EngineError/
// BatchError hierarchy of the original protocol.
package faults

import "fmt"

// StaticAuthError is returned by checks that need no I/O: signature validity,
// non-zero atoms, vendor match.
type StaticAuthError struct {
	Kind StaticKind
}

type StaticKind int

const (
	InvalidSignature StaticKind = iota
	VoucherHasZeroAtoms
	InvalidVendor
)

func (k StaticKind) String() string {
	switch k {
	case InvalidSignature:
		return "invalid signature"
	case VoucherHasZeroAtoms:
		return "voucher has zero atoms"
	case InvalidVendor:
		return "voucher signed for a different vendor"
	default:
		return "unknown static auth error"
	}
}

func (e *StaticAuthError) Error() string { return "static auth: " + e.Kind.String() }

func Static(k StaticKind) error { return &StaticAuthError{Kind: k} }

// VolatileAuthError is returned by checks that require an oracle snapshot.
type VolatileAuthError struct {
	Kind    VolatileKind
	Seen    uint64 // ClientHasInsufficientBalance.seen
	Needed  uint64 // ClientHasInsufficientBalance.needed
	wrapped error  // VolatileIO
}

type VolatileKind int

const (
	VoucherUsedUp VolatileKind = iota
	ClientNotSubscribed
	ClientHasInsufficientBalance
	VolatileIO
)

func (e *VolatileAuthError) Error() string {
	switch e.Kind {
	case VoucherUsedUp:
		return "volatile auth: voucher is used up"
	case ClientNotSubscribed:
		return "volatile auth: client not subscribed to vendor"
	case ClientHasInsufficientBalance:
		return fmt.Sprintf("volatile auth: client has insufficient balance: seen=%d needed=%d", e.Seen, e.Needed)
	case VolatileIO:
		return fmt.Sprintf("volatile auth: oracle io error: %v", e.wrapped)
	default:
		return "volatile auth: unknown"
	}
}

func (e *VolatileAuthError) Unwrap() error { return e.wrapped }

func VolatileInsufficientBalance(seen, needed uint64) error {
	return &VolatileAuthError{Kind: ClientHasInsufficientBalance, Seen: seen, Needed: needed}
}

func Volatile(k VolatileKind) error { return &VolatileAuthError{Kind: k} }

func VolatileIOErr(err error) error { return &VolatileAuthError{Kind: VolatileIO, wrapped: err} }

// AuthError is the top-level result of VoucherAuth's three gates. It wraps a
// StaticAuthError or VolatileAuthError, or carries one of the nonce-chain
// specific kinds below.
type AuthError struct {
	Kind          AuthKind
	SignedNonce   uint64 // InvalidNonce.signed
	LastKnown     uint64 // InvalidNonce.last_known
	wrapped       error
}

type AuthKind int

const (
	AuthInvalidNonce AuthKind = iota
	AuthFirstVoucherNonceInvalid
	AuthVoucherSpentOrNonceTooHigh
	AuthNewVoucherRace
	AuthIO
	AuthWrapped // wraps a Static/VolatileAuthError
)

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthInvalidNonce:
		return fmt.Sprintf("auth: nonce %d is outside the accepted range (last_known=%d)", e.SignedNonce, e.LastKnown)
	case AuthFirstVoucherNonceInvalid:
		return "auth: first voucher nonce must be 0"
	case AuthVoucherSpentOrNonceTooHigh:
		return "auth: voucher is already spent (nonce not in the unspent list and not above last_known)"
	case AuthNewVoucherRace:
		return "auth: race inserting new voucher"
	case AuthIO:
		return fmt.Sprintf("auth: io: %v", e.wrapped)
	case AuthWrapped:
		return fmt.Sprintf("auth: %v", e.wrapped)
	default:
		return "auth: unknown"
	}
}

func (e *AuthError) Unwrap() error { return e.wrapped }

func WrapAuth(err error) error {
	if err == nil {
		return nil
	}
	return &AuthError{Kind: AuthWrapped, wrapped: err}
}

func AuthIOErr(err error) error { return &AuthError{Kind: AuthIO, wrapped: err} }

func InvalidNonce(signed, lastKnown uint64) error {
	return &AuthError{Kind: AuthInvalidNonce, SignedNonce: signed, LastKnown: lastKnown}
}

func FirstVoucherNonceInvalid() error { return &AuthError{Kind: AuthFirstVoucherNonceInvalid} }

func VoucherSpentOrNonceTooHigh() error { return &AuthError{Kind: AuthVoucherSpentOrNonceTooHigh} }

func NewVoucherRace() error { return &AuthError{Kind: AuthNewVoucherRace} }

// EngineError is the top-level ApiEngine error: an AuthError, or a bare I/O
// failure from the balance/oracle plumbing.
type EngineError struct {
	wrapped error
}

func (e *EngineError) Error() string { return fmt.Sprintf("engine: %v", e.wrapped) }
func (e *EngineError) Unwrap() error { return e.wrapped }

func WrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{wrapped: err}
}

// BatchError is fatal and aborts a BSDE batch with no partial output.
type BatchError struct {
	Kind    BatchKind
	TxIndex uint32 // index of the offending tx in the batch (0 for header-level errors)
	Extra   string
}

type BatchKind int

const (
	MalformedInput BatchKind = iota
	InvalidRecoveryID
	AddressBindingMismatch
	NonceGap
	NonPositiveAtoms
	FeeExceedsAtoms
	SlotIndexOutOfRange
)

func (e *BatchError) Error() string {
	base := func() string {
		switch e.Kind {
		case MalformedInput:
			return "malformed batch input"
		case InvalidRecoveryID:
			return "invalid ECDSA recovery id"
		case AddressBindingMismatch:
			return "delta slot address binding mismatch"
		case NonceGap:
			return "sender nonce gap"
		case NonPositiveAtoms:
			return "tx atoms must be positive"
		case FeeExceedsAtoms:
			return "fee_atoms must be strictly less than atoms"
		case SlotIndexOutOfRange:
			return "delta slot index out of range"
		default:
			return "unknown batch error"
		}
	}()
	if e.Extra != "" {
		return fmt.Sprintf("batch: %s (tx=%d): %s", base, e.TxIndex, e.Extra)
	}
	return fmt.Sprintf("batch: %s (tx=%d)", base, e.TxIndex)
}

func Batch(k BatchKind, txIndex uint32, extra string) error {
	return &BatchError{Kind: k, TxIndex: txIndex, Extra: extra}
}
