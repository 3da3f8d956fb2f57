package frame

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBuildIBlockRoundTrip(t *testing.T) {
	var buf [Size]byte
	send := []byte{0x80, 0xca, 0x9f, 0x7f}
	n, consumed, more, err := BuildIBlock(buf[:], 0x51, false, send, 32, LRC)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(send) || more {
		t.Fatalf("consumed=%d more=%v, want %d false", consumed, more, len(send))
	}
	want := hexBytes(t, "51000480ca9f7fff")
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got % x, want % x", buf[:n], want)
	}
	ok, err := Verify(buf[:n], LRC)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}
}

func TestBuildIBlockChains(t *testing.T) {
	var buf [Size]byte
	send := bytes.Repeat([]byte{0xAB}, 40)
	n, consumed, more, err := BuildIBlock(buf[:], 0x51, true, send, 32, LRC)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 32 || !more {
		t.Fatalf("consumed=%d more=%v, want 32 true", consumed, more)
	}
	pcb := PCB(buf[:n])
	if !NS(pcb) || !More(pcb) {
		t.Fatalf("pcb=%#x missing N(S) or M bit", pcb)
	}
	if int(buf[2]) != 32 {
		t.Fatalf("LEN=%d, want 32", buf[2])
	}
}

func TestBuildRBlock(t *testing.T) {
	var buf [Size]byte
	n, err := BuildRBlock(buf[:], 0x51, true, REDC, LRC)
	if err != nil {
		t.Fatal(err)
	}
	pcb := PCB(buf[:n])
	if KindOf(pcb) != RBlock {
		t.Fatalf("KindOf=%v, want RBlock", KindOf(pcb))
	}
	if !RNR(pcb) || RCode(pcb) != REDC {
		t.Fatalf("RNR=%v code=%d, want true %d", RNR(pcb), RCode(pcb), REDC)
	}
	if buf[2] != 0 {
		t.Fatalf("LEN=%d, want 0", buf[2])
	}
}

func TestBuildSBlockWithPayload(t *testing.T) {
	var buf [Size]byte
	payload := byte(254)
	n, err := BuildSBlock(buf[:], 0x51, ReqIFS, false, &payload, LRC)
	if err != nil {
		t.Fatal(err)
	}
	pcb := PCB(buf[:n])
	if KindOf(pcb) != SBlock || SIsResponse(pcb) || SCode(pcb) != ReqIFS {
		t.Fatalf("pcb=%#x decoded wrong", pcb)
	}
	if buf[2] != 1 || buf[3] != payload {
		t.Fatalf("got LEN=%d payload=%d, want 1 %d", buf[2], buf[3], payload)
	}
}

func TestVerifyRejectsBadChecksum(t *testing.T) {
	block := hexBytes(t, "1500059f7f55900000")
	ok, err := Verify(block, LRC)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Verify accepted a corrupted block")
	}
}

func TestVerifyAcceptsKnownGoodBlock(t *testing.T) {
	block := hexBytes(t, "1500059f7f55900035")
	ok, err := Verify(block, LRC)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Verify rejected a known-good block")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		pcb  byte
		want Kind
	}{
		{0x00, IBlock},
		{0x40, IBlock},
		{0x80, RBlock},
		{0xA2, RBlock},
		{0xC0, SBlock},
		{0xE5, SBlock},
	}
	for _, test := range tests {
		if got := KindOf(test.pcb); got != test.want {
			t.Errorf("KindOf(%#x) = %v, want %v", test.pcb, got, test.want)
		}
	}
}

func TestChecksumUnsupportedCRC(t *testing.T) {
	if _, err := Checksum([]byte{0x51, 0x00, 0x00}, CRC); err != ErrUnsupportedChk {
		t.Fatalf("got %v, want ErrUnsupportedChk", err)
	}
}
