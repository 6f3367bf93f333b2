package wire

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleRecord() InputRecord {
	to := common.HexToAddress("0x000000000000000000000000000000000000AA")
	recipient := common.HexToAddress("0x000000000000000000000000000000000000FE")
	return InputRecord{
		StateDeltas:  3,
		FeeAtoms:     2,
		FeeRecipient: recipient,
		Tx: []TxRecord{
			{
				To:      to,
				Atoms:   100,
				Nonce:   5,
				SigR:    [32]byte{1},
				SigS:    [32]byte{2},
				V:       27,
				FromIdx: 1,
				ToIdx:   2,
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord()
	buf := rec.Encode()

	wantLen := HeaderSize + len(rec.Tx)*TxSize
	if len(buf) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(buf), wantLen)
	}

	in := NewInput(buf)
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if in.StateDeltas() != rec.StateDeltas {
		t.Errorf("StateDeltas = %d, want %d", in.StateDeltas(), rec.StateDeltas)
	}
	if in.FeeAtoms() != rec.FeeAtoms {
		t.Errorf("FeeAtoms = %d, want %d", in.FeeAtoms(), rec.FeeAtoms)
	}
	if in.FeeRecipient() != rec.FeeRecipient {
		t.Errorf("FeeRecipient = %s, want %s", in.FeeRecipient(), rec.FeeRecipient)
	}
	if in.TotalTx() != uint32(len(rec.Tx)) {
		t.Errorf("TotalTx = %d, want %d", in.TotalTx(), len(rec.Tx))
	}

	tx := in.TxAt(0)
	want := rec.Tx[0]
	if tx.To() != want.To {
		t.Errorf("To = %s, want %s", tx.To(), want.To)
	}
	if tx.Atoms() != want.Atoms {
		t.Errorf("Atoms = %d, want %d", tx.Atoms(), want.Atoms)
	}
	if tx.Nonce() != want.Nonce {
		t.Errorf("Nonce = %d, want %d", tx.Nonce(), want.Nonce)
	}
	if tx.SigR() != want.SigR {
		t.Errorf("SigR mismatch")
	}
	if tx.SigS() != want.SigS {
		t.Errorf("SigS mismatch")
	}
	if tx.V() != want.V {
		t.Errorf("V = %d, want %d", tx.V(), want.V)
	}
	if tx.FromIdx() != want.FromIdx {
		t.Errorf("FromIdx = %d, want %d", tx.FromIdx(), want.FromIdx)
	}
	if tx.ToIdx() != want.ToIdx {
		t.Errorf("ToIdx = %d, want %d", tx.ToIdx(), want.ToIdx)
	}
}

func TestDigestPreimageExcludesRoutingAndSignature(t *testing.T) {
	rec := sampleRecord()
	buf := rec.Encode()
	tx := NewInput(buf).TxAt(0)

	pre := tx.DigestPreimage()
	if len(pre) != 20+8+8 {
		t.Fatalf("preimage length = %d, want 36", len(pre))
	}
	if !bytes.Equal(pre[:20], rec.Tx[0].To.Bytes()) {
		t.Errorf("preimage address mismatch")
	}
	if !bytes.Equal(pre[20:28], tx.AtomsSlice()) {
		t.Errorf("preimage atoms mismatch")
	}
	if !bytes.Equal(pre[28:36], tx.NonceSlice()) {
		t.Errorf("preimage nonce mismatch")
	}
}

func TestValidateRejectsShortHeader(t *testing.T) {
	in := NewInput(make([]byte, HeaderSize-1))
	if err := in.Validate(); err == nil {
		t.Fatal("expected error for short header, got nil")
	}
}

func TestValidateRejectsLengthMismatch(t *testing.T) {
	rec := sampleRecord()
	buf := rec.Encode()
	// truncate by a partial tx
	short := buf[:len(buf)-1]
	if err := NewInput(short).Validate(); err == nil {
		t.Fatal("expected error for truncated tx region, got nil")
	}

	// extend with a trailing stray byte
	long := append(buf, 0x00)
	if err := NewInput(long).Validate(); err == nil {
		t.Fatal("expected error for overlong buffer, got nil")
	}
}

func TestMultiTxOffsets(t *testing.T) {
	to1 := common.HexToAddress("0x0000000000000000000000000000000000AAAA")
	to2 := common.HexToAddress("0x0000000000000000000000000000000000BBBB")
	rec := InputRecord{
		StateDeltas:  3,
		FeeAtoms:     1,
		FeeRecipient: common.HexToAddress("0x00000000000000000000000000000000000001"),
		Tx: []TxRecord{
			{To: to1, Atoms: 10, Nonce: 1, FromIdx: 1, ToIdx: 2},
			{To: to2, Atoms: 20, Nonce: 2, FromIdx: 1, ToIdx: 2},
		},
	}
	buf := rec.Encode()
	in := NewInput(buf)
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	first := in.TxAt(0)
	second := in.TxAt(1)
	if first.To() != to1 {
		t.Errorf("tx0.To = %s, want %s", first.To(), to1)
	}
	if second.To() != to2 {
		t.Errorf("tx1.To = %s, want %s", second.To(), to2)
	}
	if second.Nonce() != 2 {
		t.Errorf("tx1.Nonce = %d, want 2", second.Nonce())
	}
}
