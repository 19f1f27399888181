package excpt

import (
	"testing"

	"golang.org/x/arch/arm64asm"
)

// These don't exercise vectors_arm64.s directly (there is no way to obtain
// its assembled bytes without the toolchain); they pin down the encodings
// the handwritten assembly relies on, the same way the teacher's decoder
// tests pin down opcode tables by disassembling known byte sequences.
func TestERETEncodingDecodesAsReturn(t *testing.T) {
	// ERET, encoding 1101011 0100 11111 000000 11111 00000 (0xd69f03e0).
	raw := []byte{0xe0, 0x03, 0x9f, 0xd6}
	inst, err := arm64asm.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Op != arm64asm.ERET {
		t.Fatalf("expected ERET, got %s", inst.Op)
	}
}

func TestMRSSPSREncodingDecodesAsSystemRegisterRead(t *testing.T) {
	// MRS X0, SPSR_EL1 (0xd5384000).
	raw := []byte{0x00, 0x40, 0x38, 0xd5}
	inst, err := arm64asm.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Op != arm64asm.MRS {
		t.Fatalf("expected MRS, got %s", inst.Op)
	}
}

func TestInitWritesVectorTableBaseToVBAR(t *testing.T) {
	var got uint64
	old := writeVBAREL1Fn
	writeVBAREL1Fn = func(v uint64) { got = v }
	defer func() { writeVBAREL1Fn = old }()

	Init()

	if got != uint64(vectorTableBase()) {
		t.Fatalf("expected VBAR_EL1 write of %#x; got %#x", vectorTableBase(), got)
	}
}

func TestFromEL0DerivesSourceFromSPSR(t *testing.T) {
	if !fromEL0(&Frame{SPSR: 0x0}) {
		t.Fatal("SPSR.M == 0 should report EL0")
	}
	if fromEL0(&Frame{SPSR: 0x4}) {
		t.Fatal("SPSR.M == EL1t should not report EL0")
	}
	if fromEL0(&Frame{SPSR: 0x5}) {
		t.Fatal("SPSR.M == EL1h should not report EL0")
	}
}
