package atr

import "testing"

func TestParseT1WithIFSC(t *testing.T) {
	// T0=0x80 (only TD1 pending), TD1=0x11 (TA2 pending, protocol T=1),
	// TA2=0x20 (IFSC=32), TCK=0x31 (XOR of TD1,TA2) so the ATR is valid.
	raw := []byte{0x80, 0x11, 0x20, 0x31}
	info, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasT1() {
		t.Fatal("expected T=1 to be announced")
	}
	if info.TCK != 0 {
		t.Fatalf("TCK = %#x, want 0", info.TCK)
	}
	if info.IFSC != 0x20 {
		t.Fatalf("IFSC = %d, want 32", info.IFSC)
	}
	if got := ResolveIFSC(info, DefaultIFSC); got != 0x20 {
		t.Fatalf("ResolveIFSC = %d, want 32", got)
	}
}

func TestParseBadTCKKeepsDefault(t *testing.T) {
	raw := []byte{0x80, 0x11, 0x20, 0x00} // wrong TCK
	info, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.TCK == 0 {
		t.Fatal("expected a nonzero (bad) TCK")
	}
	if got := ResolveIFSC(info, DefaultIFSC); got != DefaultIFSC {
		t.Fatalf("ResolveIFSC = %d, want default %d", got, DefaultIFSC)
	}
}

func TestParseNoT1KeepsDefault(t *testing.T) {
	// T0=0x80 (TD1 pending), TD1=0x10 (TA2 pending, protocol T=0),
	// TA2=0x10; no TD announces T=1.
	raw := []byte{0x80, 0x10, 0x10}
	info, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.HasT1() {
		t.Fatal("did not expect T=1")
	}
	if got := ResolveIFSC(info, DefaultIFSC); got != DefaultIFSC {
		t.Fatalf("ResolveIFSC = %d, want default %d", got, DefaultIFSC)
	}
}

func TestParseEmpty(t *testing.T) {
	info, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if info.IFSC != -1 || info.HasT1() {
		t.Fatal("empty ATR should report no IFSC and no T=1")
	}
}

func TestParseTooLong(t *testing.T) {
	raw := make([]byte, MaxLen+1)
	if _, err := Parse(raw); err != ErrTooLong {
		t.Fatalf("got %v, want ErrTooLong", err)
	}
}
