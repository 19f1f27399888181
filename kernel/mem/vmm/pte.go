// Package vmm implements the ARMv8-A virtual memory manager described in
// spec.md §4.C/4.D/4.F: a non-recursive 4-level descriptor tree addressed
// through the kernel physmap, a MAIR_EL1-indexed memory-attribute scheme,
// and the kernel/user PageMap types built on top of it.
//
// Grounded on the teacher's kernel/mem/vmm package (PageDirectoryTable,
// pageTableEntry, the mockable-function-variable test seam), generalized
// from the teacher's x86 recursive self-mapped page directory to
// ARMv8-A's 4-level, non-recursive descriptor walk: every table is instead
// reached by adding its frame's address to mem.PhysmapStart, which this
// kernel can afford because the physmap already covers all managed
// physical memory once pmm.Seed has run.
package vmm

import (
	"teaos/kernel/mem"
)

// pte is a single stage-1 translation table entry/descriptor, ARMv8-A
// VMSAv8-64 format, 4KiB granule.
type pte uint64

const (
	ptBitValid    = 1 << 0
	ptBitTable    = 1 << 1 // set for a table descriptor at levels 0-2; always set at level 3 (page descriptor)
	ptAttrIdxShift = 2
	ptAttrIdxMask  = 0x7 << ptAttrIdxShift
	ptBitNS        = 1 << 5
	ptAPShift      = 6
	ptAPMask       = 0x3 << ptAPShift
	ptBitSH0       = 1 << 8
	ptBitSH1       = 1 << 9
	ptBitAF        = 1 << 10 // access flag; must be set by software since hw AF management is off
	ptBitNG        = 1 << 11
	ptBitPXN       = 1 << 53
	ptBitUXN       = 1 << 54

	outputAddrMask = 0x0000_ffff_ffff_f000
)

// AP[2:1] encodings (AP[2] = read-only bit, AP[1] = EL0-accessible bit).
const (
	apKernelRW = 0 << ptAPShift // EL1 rw, EL0 none
	apUserRW   = 1 << ptAPShift // EL1 rw, EL0 rw
	apKernelRO = 2 << ptAPShift // EL1 ro, EL0 none
	apUserRO   = 3 << ptAPShift // EL1 ro, EL0 ro
)

// Flag is the PageMap-facing description of a mapping's permissions and
// memory type; PageMap.Map translates it into the raw descriptor bits.
type Flag uint32

const (
	FlagWrite Flag = 1 << iota
	FlagUser
	FlagExec
	FlagDevice // use the MAIR device-nGnRE attribute instead of normal WB memory
)

func (pt pte) valid() bool { return pt&ptBitValid != 0 }

func (pt pte) frame() mem.FrameNr {
	return mem.NewPA(uint64(pt) & outputAddrMask).Frame()
}

func (pt *pte) setFrame(f mem.FrameNr) {
	*pt = pte(uint64(*pt)&^uint64(outputAddrMask) | uint64(f.Address())&outputAddrMask)
}

// flags reconstructs the Flag value that produced this descriptor's AP/XN
// bits, for CloneFrom, which needs to reinstall an existing mapping under a
// different PageMap via the same Map/makePageDescriptor path rather than
// copying raw bits (so the clone picks up the destination map's own
// attribute indices and AF/SH defaults).
func (pt pte) flags() Flag {
	var f Flag
	ap := uint64(pt) & ptAPMask
	if ap == apUserRW || ap == apUserRO {
		f |= FlagUser
	}
	if ap == apKernelRW || ap == apUserRW {
		f |= FlagWrite
	}
	if pt&ptBitPXN == 0 || pt&ptBitUXN == 0 {
		f |= FlagExec
	}
	if attrIdx := uint8((pt & ptAttrIdxMask) >> ptAttrIdxShift); attrIdx == AttrDevice {
		f |= FlagDevice
	}
	return f
}

// makeTableDescriptor builds a level 0-2 descriptor pointing at the table
// held in frame f.
func makeTableDescriptor(f mem.FrameNr) pte {
	p := pte(ptBitValid | ptBitTable)
	p.setFrame(f)
	return p
}

// makePageDescriptor builds a level-3 page descriptor mapping frame f with the given Flag set and MAIR attribute index attrIdx.
func makePageDescriptor(f mem.FrameNr, flags Flag, attrIdx uint8) pte {
	p := pte(ptBitValid | ptBitTable | ptBitAF | ptBitSH0 | ptBitSH1)
	p.setFrame(f)
	p |= pte(attrIdx) << ptAttrIdxShift

	switch {
	case flags&FlagUser != 0 && flags&FlagWrite != 0:
		p |= apUserRW
	case flags&FlagUser != 0:
		p |= apUserRO
	case flags&FlagWrite != 0:
		p |= apKernelRW
	default:
		p |= apKernelRO
	}

	if flags&FlagExec == 0 {
		p |= ptBitPXN | ptBitUXN
	} else if flags&FlagUser == 0 {
		// kernel-only executable mappings must still be non-executable
		// from EL0.
		p |= ptBitUXN
	} else {
		// user-executable mappings must not be executable from EL1.
		p |= ptBitPXN
	}

	return p
}
