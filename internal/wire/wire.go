// Package wire implements the fixed-offset, big-endian, zero-copy codec for
// BSDE batch inputs (spec §3, §4.1). Field accessors never allocate: each
// computes an offset into a borrowed byte slice. Tx.DigestPreimage is the
// one decoding helper that builds a fresh 36-byte slice. Encoding produces one
// contiguous buffer sized exactly HeaderSize + n*TxSize.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxSize is the fixed width of one transaction record:
// to(20) + atoms(8) + nonce(8) + sig_r(32) + sig_s(32) + v(1) + from_idx(4) + to_idx(4).
const TxSize = 20 + 8 + 8 + 32 + 32 + 1 + 4 + 4

// HeaderSize is the fixed width of the batch header:
// state_deltas(4) + fee_atoms(2) + fee_recipient(20) + total_tx(4).
const HeaderSize = 4 + 2 + 20 + 4

// Input is a borrowed view over an encoded batch. It never copies.
type Input struct {
	v []byte
}

// NewInput wraps a byte slice as a batch view. It does not validate length;
// callers must call Validate before trusting TotalTx/TxAt.
func NewInput(v []byte) Input { return Input{v: v} }

// Validate checks that the buffer is at least HeaderSize bytes and that the
// declared total_tx matches the remaining buffer length exactly.
func (in Input) Validate() error {
	if len(in.v) < HeaderSize {
		return fmt.Errorf("wire: input shorter than header (%d < %d)", len(in.v), HeaderSize)
	}
	want := HeaderSize + int(in.TotalTx())*TxSize
	if len(in.v) != want {
		return fmt.Errorf("wire: input length %d does not match header (want %d for %d tx)", len(in.v), want, in.TotalTx())
	}
	return nil
}

func (in Input) StateDeltas() uint32 { return binary.BigEndian.Uint32(in.v[0:4]) }
func (in Input) FeeAtoms() uint16    { return binary.BigEndian.Uint16(in.v[4:6]) }

func (in Input) FeeRecipient() common.Address {
	return common.BytesToAddress(in.v[6:26])
}

func (in Input) TotalTx() uint32 { return binary.BigEndian.Uint32(in.v[26:HeaderSize]) }

// TxAt returns a zero-copy view of the tx at index idx. Caller must ensure
// idx < TotalTx(); no bounds check is performed beyond the slice re-slice
// panicking on an out-of-range index.
func (in Input) TxAt(idx uint32) Tx {
	region := in.v[HeaderSize:]
	start := int(idx) * TxSize
	return Tx{v: region[start : start+TxSize]}
}

// Tx is a borrowed view over a single 109-byte transaction record.
type Tx struct {
	v []byte
}

func (t Tx) To() common.Address { return common.BytesToAddress(t.v[0:20]) }

// AtomsSlice returns the raw 8-byte big-endian signed atoms field.
func (t Tx) AtomsSlice() []byte { return t.v[20:28] }
func (t Tx) Atoms() int64       { return int64(binary.BigEndian.Uint64(t.AtomsSlice())) }

// NonceSlice returns the raw 8-byte big-endian nonce field.
func (t Tx) NonceSlice() []byte { return t.v[28:36] }
func (t Tx) Nonce() uint64      { return binary.BigEndian.Uint64(t.NonceSlice()) }

func (t Tx) SigR() [32]byte {
	var r [32]byte
	copy(r[:], t.v[36:68])
	return r
}

func (t Tx) SigS() [32]byte {
	var s [32]byte
	copy(s[:], t.v[68:100])
	return s
}

func (t Tx) V() uint8 { return t.v[100] }

func (t Tx) FromIdx() uint32 { return binary.BigEndian.Uint32(t.v[101:105]) }
func (t Tx) ToIdx() uint32   { return binary.BigEndian.Uint32(t.v[105:109]) }

// DigestPreimage returns to ‖ atoms(BE) ‖ nonce(BE), the bytes hashed for
// signature recovery (§4.2). Routing hints (from_idx/to_idx) and the
// signature itself are excluded by construction.
func (t Tx) DigestPreimage() []byte {
	out := make([]byte, 0, 20+8+8)
	to := t.To()
	out = append(out, to.Bytes()...)
	out = append(out, t.AtomsSlice()...)
	out = append(out, t.NonceSlice()...)
	return out
}

// TxRecord is the owned, encodable counterpart to Tx — used by callers that
// build a batch (the tests) rather than merely decode one.
type TxRecord struct {
	To       common.Address
	Atoms    int64
	Nonce    uint64
	SigR     [32]byte
	SigS     [32]byte
	V        uint8
	FromIdx  uint32
	ToIdx    uint32
}

// Encode appends this record's 109-byte wire form to dst and returns the
// extended slice.
func (r TxRecord) Encode(dst []byte) []byte {
	var buf [TxSize]byte
	copy(buf[0:20], r.To.Bytes())
	binary.BigEndian.PutUint64(buf[20:28], uint64(r.Atoms))
	binary.BigEndian.PutUint64(buf[28:36], r.Nonce)
	copy(buf[36:68], r.SigR[:])
	copy(buf[68:100], r.SigS[:])
	buf[100] = r.V
	binary.BigEndian.PutUint32(buf[101:105], r.FromIdx)
	binary.BigEndian.PutUint32(buf[105:109], r.ToIdx)
	return append(dst, buf[:]...)
}

// InputRecord is the owned, encodable counterpart to Input.
type InputRecord struct {
	StateDeltas  uint32
	FeeAtoms     uint16
	FeeRecipient common.Address
	Tx           []TxRecord
}

// Encode serializes the full batch: HeaderSize + len(Tx)*TxSize bytes.
func (r InputRecord) Encode() []byte {
	out := make([]byte, 0, HeaderSize+len(r.Tx)*TxSize)
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], r.StateDeltas)
	binary.BigEndian.PutUint16(hdr[4:6], r.FeeAtoms)
	copy(hdr[6:26], r.FeeRecipient.Bytes())
	binary.BigEndian.PutUint32(hdr[26:HeaderSize], uint32(len(r.Tx)))
	out = append(out, hdr[:]...)
	for _, tx := range r.Tx {
		out = tx.Encode(out)
	}
	return out
}
