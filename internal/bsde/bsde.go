// Package bsde implements the batch state-delta engine (spec §4.3): a
// deterministic, allocation-thrifty reducer over a wire-encoded batch of
// signed transfers, producing one StateDelta per slot in slot order.
//
// Process performs no iteration over unordered containers, no floating
// point, no system time, and no randomness — running it twice on the same
// bytes yields byte-identical output, as required of code destined for a
// zk execution environment.
package bsde

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/felborne/voucher-gateway/internal/faults"
	"github.com/felborne/voucher-gateway/internal/sigrecover"
	"github.com/felborne/voucher-gateway/internal/wire"
)

// HostPrefixSize is the length of the zkVM-host-inserted prefix that sits
// ahead of the wire-format batch (§6, §9 open question). ProcessEntry strips
// it; Process does not assume it is present.
const HostPrefixSize = 8

// diffKind tags a StateDiff slot's binding state (§9's tagged-variant
// redesign of the source's Option<Address>/Option<(u64,u64)> pair).
type diffKind int

const (
	unbound diffKind = iota
	recipient
	sender
)

type stateDiff struct {
	kind       diffKind
	addr       common.Address
	startNonce uint64
	endNonce   uint64
	value      int64
}

// StateDelta is one output slot (§3, §6).
type StateDelta struct {
	Addr       common.Address
	IsSender   bool
	StartNonce uint64
	EndNonce   uint64
	Delta      int64
}

// Process runs the full batch algorithm (§4.3 steps 1-4) over a prefix-free
// wire-format buffer. Any invariant breach aborts with no partial output.
func Process(raw []byte) ([]StateDelta, error) {
	in := wire.NewInput(raw)
	if err := in.Validate(); err != nil {
		return nil, faults.Batch(faults.MalformedInput, 0, err.Error())
	}

	numSlots := in.StateDeltas()
	if numSlots < 1 {
		return nil, faults.Batch(faults.SlotIndexOutOfRange, 0, "state_deltas must be >= 1")
	}
	feeAtoms := in.FeeAtoms()
	feeRecipient := in.FeeRecipient()

	diffs := make([]stateDiff, numSlots)
	// Step 1: pre-bind slot 0 to fee_recipient with value=0.
	diffs[0] = stateDiff{kind: recipient, addr: feeRecipient}

	total := in.TotalTx()
	for i := uint32(0); i < total; i++ {
		tx := in.TxAt(i)

		from, err := sigrecover.Recover(tx, i)
		if err != nil {
			return nil, err
		}

		atoms := tx.Atoms()
		if atoms <= 0 {
			return nil, faults.Batch(faults.NonPositiveAtoms, i, "")
		}
		if atoms <= int64(feeAtoms) {
			return nil, faults.Batch(faults.FeeExceedsAtoms, i, "")
		}
		toRecipient := atoms - int64(feeAtoms)
		toFeeSink := int64(feeAtoms)

		fromIdx, toIdx := tx.FromIdx(), tx.ToIdx()
		if fromIdx >= numSlots || toIdx >= numSlots {
			return nil, faults.Batch(faults.SlotIndexOutOfRange, i, "")
		}

		if err := applySenderDelta(diffs, fromIdx, from, tx.Nonce(), -atoms, i); err != nil {
			return nil, err
		}
		if err := applyGenericDelta(diffs, toIdx, tx.To(), toRecipient, i); err != nil {
			return nil, err
		}
		if toFeeSink != 0 {
			if err := applyGenericDelta(diffs, 0, feeRecipient, toFeeSink, i); err != nil {
				return nil, err
			}
		}
	}

	out := make([]StateDelta, numSlots)
	for i, d := range diffs {
		out[i] = StateDelta{
			Addr:       d.addr,
			IsSender:   d.kind == sender,
			StartNonce: d.startNonce,
			EndNonce:   d.endNonce,
			Delta:      d.value,
		}
	}
	return out, nil
}

// ProcessEntry strips the host-inserted HostPrefixSize-byte prefix before
// running Process (§6, §9).
func ProcessEntry(raw []byte) ([]StateDelta, error) {
	if len(raw) < HostPrefixSize {
		return nil, faults.Batch(faults.MalformedInput, 0, "input shorter than host prefix")
	}
	return Process(raw[HostPrefixSize:])
}

// applySenderDelta implements the §4.3.1 sender-delta rule. Slot 0 can never
// be touched as a sender (I3); any attempt is an address-binding violation.
func applySenderDelta(diffs []stateDiff, idx uint32, addr common.Address, nonce uint64, value int64, txIndex uint32) error {
	if idx == 0 {
		return faults.Batch(faults.AddressBindingMismatch, txIndex, "slot 0 is the fee sink and must never be touched as sender")
	}
	d := &diffs[idx]
	switch d.kind {
	case unbound:
		d.kind = sender
		d.addr = addr
		d.startNonce, d.endNonce = nonce, nonce
		d.value = value
	case recipient:
		if d.addr != addr {
			return faults.Batch(faults.AddressBindingMismatch, txIndex, "")
		}
		d.kind = sender
		d.startNonce, d.endNonce = nonce, nonce
		d.value += value
	case sender:
		if d.addr != addr {
			return faults.Batch(faults.AddressBindingMismatch, txIndex, "")
		}
		if d.endNonce+1 != nonce {
			return faults.Batch(faults.NonceGap, txIndex, "")
		}
		d.endNonce = nonce
		d.value += value
	}
	return nil
}

// applyGenericDelta implements the §4.3.2 generic-delta rule. It never sets
// the nonces field.
func applyGenericDelta(diffs []stateDiff, idx uint32, addr common.Address, value int64, txIndex uint32) error {
	d := &diffs[idx]
	switch d.kind {
	case unbound:
		d.kind = recipient
		d.addr = addr
		d.value = value
	case recipient, sender:
		if d.addr != addr {
			return faults.Batch(faults.AddressBindingMismatch, txIndex, "")
		}
		d.value += value
	}
	return nil
}

// abiStateDelta mirrors the on-chain tuple layout of StateDelta (§6). Field
// names follow go-ethereum's ABI capitalization convention for matching
// tuple component names.
type abiStateDelta struct {
	V          common.Address
	IsSender   bool
	StartNonce uint64
	EndNonce   uint64
	Delta      int64
}

var outputArgs = mustOutputArgs()

func mustOutputArgs() abi.Arguments {
	tupleType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "v", Type: "address"},
		{Name: "isSender", Type: "bool"},
		{Name: "startNonce", Type: "uint64"},
		{Name: "endNonce", Type: "uint64"},
		{Name: "delta", Type: "int64"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: tupleType, Name: "n"}}
}

// EncodeOutput ABI-encodes a delta vector as PublicValuesStruct{StateDelta[] n}
// (§6). Field order matches the struct layout; encoding follows the standard
// contract ABI.
func EncodeOutput(deltas []StateDelta) ([]byte, error) {
	rows := make([]abiStateDelta, len(deltas))
	for i, d := range deltas {
		rows[i] = abiStateDelta{
			V:          d.Addr,
			IsSender:   d.IsSender,
			StartNonce: d.StartNonce,
			EndNonce:   d.EndNonce,
			Delta:      d.Delta,
		}
	}
	return outputArgs.Pack(rows)
}
