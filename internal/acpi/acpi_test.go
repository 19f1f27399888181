package acpi

import (
	"encoding/binary"
	"testing"
)

// withFakeMem backs every readMemFn call with offsets into a single buffer,
// treating the buffer index as if it were a physical address — the same
// "ordinary Go memory standing in for physical memory" idiom the vmm/pmm
// packages use in their own tests.
func withFakeMem(t *testing.T, buf []byte) {
	t.Helper()
	orig := readMemFn
	readMemFn = func(pa uint64, size int) []byte { return buf[pa : pa+uint64(size)] }
	t.Cleanup(func() { readMemFn = orig })
}

func putHeader(buf []byte, at int, sig string, length uint32) {
	copy(buf[at:at+4], sig)
	binary.LittleEndian.PutUint32(buf[at+4:], length)
	buf[at+8] = 2 // revision
}

func fixChecksum(buf []byte, at int, length int, checksumOff int) {
	buf[at+checksumOff] = 0
	var sum byte
	for _, b := range buf[at : at+length] {
		sum += b
	}
	buf[at+checksumOff] = byte(256 - int(sum)%256)
}

func TestValidateRSDPAcceptsWellFormedV2Table(t *testing.T) {
	buf := make([]byte, 256)
	copy(buf[0:8], rsdpSignature)
	buf[15] = 2                                  // revision >= 2
	binary.LittleEndian.PutUint64(buf[24:], 128) // XSDTAddr

	fixChecksum(buf, 0, 20, 8)  // basic (ACPI 1.0) checksum over the first 20 bytes
	fixChecksum(buf, 0, 36, 32) // extended checksum over the whole 36-byte structure

	withFakeMem(t, buf)

	xsdt, err := ValidateRSDP(0)
	if err != nil {
		t.Fatalf("ValidateRSDP: %v", err)
	}
	if xsdt != 128 {
		t.Fatalf("expected XSDT addr 128; got %d", xsdt)
	}
}

func TestValidateRSDPRejectsBadSignature(t *testing.T) {
	buf := make([]byte, 64)
	copy(buf[0:8], "NOTRSDP!")
	withFakeMem(t, buf)

	if _, err := ValidateRSDP(0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}

func TestFindSPCRLocatesTableAmongOtherEntries(t *testing.T) {
	buf := make([]byte, 512)

	const xsdtAt = 0
	const xsdtLen = 36 + 16 // header + two 8-byte entries
	putHeader(buf, xsdtAt, xsdtSignature, xsdtLen)
	binary.LittleEndian.PutUint64(buf[36:], 300) // unrelated table
	binary.LittleEndian.PutUint64(buf[44:], 400) // SPCR

	const otherAt = 300
	putHeader(buf, otherAt, "APIC", 40)

	const spcrAt = 400
	putHeader(buf, spcrAt, spcrSignature, 80)
	buf[spcrAt+36] = 0x03 // ARM PL011
	binary.LittleEndian.PutUint64(buf[spcrAt+44:], 0x09000000)

	fixChecksum(buf, xsdtAt, xsdtLen, 9)

	withFakeMem(t, buf)

	spcr, err := FindSPCR(xsdtAt)
	if err != nil {
		t.Fatalf("FindSPCR: %v", err)
	}
	if spcr.InterfaceType != 0x03 {
		t.Fatalf("expected interface type 0x03; got %#x", spcr.InterfaceType)
	}
	if spcr.BaseAddress != 0x09000000 {
		t.Fatalf("expected base 0x09000000; got %#x", spcr.BaseAddress)
	}
}

func TestFindSPCRReturnsNotFoundWithNoMatchingEntry(t *testing.T) {
	buf := make([]byte, 128)
	const xsdtAt = 0
	const xsdtLen = 36 + 8
	putHeader(buf, xsdtAt, xsdtSignature, xsdtLen)
	binary.LittleEndian.PutUint64(buf[36:], 80)
	putHeader(buf, 80, "APIC", 40)
	fixChecksum(buf, xsdtAt, xsdtLen, 9)

	withFakeMem(t, buf)

	if _, err := FindSPCR(xsdtAt); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}
