package vmm

import (
	"teaos/kernel/cpu"
	"teaos/kernel/mem"
)

// The following are var-of-func seams so tests can intercept TLB
// maintenance without touching real system registers, matching the
// teacher's flushTLBEntryFn/switchPDTFn/activePDTFn pattern in pdt.go.
var (
	dsbISHSTFn      = cpu.DsbISHST
	dsbISHFn        = cpu.DsbISH
	isbFn           = cpu.ISB
	tlbiVAE1ISFn    = cpu.TLBIVAE1IS
	tlbiVMALLE1ISFn = cpu.TLBIVMALLE1IS
)

// flushTLBPage invalidates the TLB entry for one VA/ASID pair following the
// break-before-make sequence required around any descriptor change:
// dsb ishst (ensure the store to the descriptor is visible), tlbi,
// dsb ish; isb (ensure the invalidation has completed before the next
// instruction can observe the old translation).
func flushTLBPage(va mem.VA, asid uint16) {
	dsbISHSTFn()
	tlbiVAE1ISFn(tlbiOperand(va, asid))
	dsbISHFn()
	isbFn()
}

// flushTLBAll invalidates every EL1&0 TLB entry, for all ASIDs; used
// after a full TTBR switch or when bringing a fresh page map online.
func flushTLBAll() {
	dsbISHSTFn()
	tlbiVMALLE1ISFn()
	dsbISHFn()
	isbFn()
}

// tlbiOperand packs a VA and ASID into the register format TLBI VAE1IS
// expects: bits [63:48] ASID, bits [43:0] VA[55:12].
func tlbiOperand(va mem.VA, asid uint16) uint64 {
	return uint64(asid)<<48 | (uint64(va)>>12)&0xfff_ffff_ffff
}
