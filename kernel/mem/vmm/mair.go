package vmm

import "teaos/kernel/cpu"

// MAIR_EL1 attribute indices used by every page map. Index 0 is normal,
// cacheable memory (RAM, the kernel image, user segments); index 1 is
// device-nGnRE memory (UART and other MMIO registers). Grounded on
// spec.md §4.D's MAIR_EL1 introspection requirement; the teacher has no
// equivalent (x86 uses PAT/PCD/PWT bits directly in the PTE instead of an
// indexed attribute table).
const (
	AttrNormal uint8 = 0
	AttrDevice uint8 = 1

	mairNormalWB    = 0xff // inner+outer write-back, read/write-allocate
	mairDeviceNGnRE = 0x04
)

func mairValue() uint64 {
	return uint64(mairNormalWB)<<(8*AttrNormal) | uint64(mairDeviceNGnRE)<<(8*AttrDevice)
}

// writeMAIREL1Fn is mocked by tests and automatically inlined by the
// compiler in production builds.
var writeMAIREL1Fn = cpu.WriteMAIREL1

// InitMAIR programs MAIR_EL1 with the two attribute encodings this kernel
// uses. Must run once, before the first TTBR is loaded.
func InitMAIR() {
	writeMAIREL1Fn(mairValue())
}

// attrIndexFor returns the MAIR attribute index Flag selects.
func attrIndexFor(flags Flag) uint8 {
	if flags&FlagDevice != 0 {
		return AttrDevice
	}
	return AttrNormal
}
