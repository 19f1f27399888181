// Package cpu exposes the small set of AArch64 EL1 register accesses and
// barrier sequences the memory and exception subsystems need. Every
// function here is declared without a body and implemented in cpu_arm64.s,
// following the teacher's pattern (kernel/cpu/cpu_amd64.go in the retrieved
// gopher-os tree) of keeping architecture glue to a handful of tiny,
// individually testable-by-mock primitives rather than one monolithic
// assembly file.
package cpu

// Halt stops instruction execution by looping on WFE. Used as the terminal
// state after a kernel panic; never returns.
func Halt()

// DsbISHST issues "dsb ishst": the store-store barrier required before a TLB
// maintenance operation so that prior page-table writes are visible to the
// point of unification.
func DsbISHST()

// DsbISH issues "dsb ish": the barrier required after a TLB maintenance
// operation so it has completed before any dependent memory access.
func DsbISH()

// ISB issues "isb", flushing the instruction pipeline so that a preceding
// barrier's effects are visible to subsequently fetched instructions.
func ISB()

// TLBIVAE1IS invalidates a single TLB entry for va (already page-shifted,
// per the tlbi vae1is encoding) in the inner-shareable domain.
func TLBIVAE1IS(pageAndASID uint64)

// TLBIVMALLE1IS invalidates every TLB entry for the current EL1&0 context in
// the inner-shareable domain.
func TLBIVMALLE1IS()

// ReadMAIREL1 returns the current contents of MAIR_EL1.
func ReadMAIREL1() uint64

// WriteMAIREL1 sets MAIR_EL1.
func WriteMAIREL1(v uint64)

// ReadTCREL1 returns the current contents of TCR_EL1.
func ReadTCREL1() uint64

// WriteTCREL1 sets TCR_EL1.
func WriteTCREL1(v uint64)

// ReadTTBR0EL1 returns the current contents of TTBR0_EL1.
func ReadTTBR0EL1() uint64

// WriteTTBR0EL1 sets TTBR0_EL1.
func WriteTTBR0EL1(v uint64)

// ReadTTBR1EL1 returns the current contents of TTBR1_EL1.
func ReadTTBR1EL1() uint64

// WriteTTBR1EL1 sets TTBR1_EL1.
func WriteTTBR1EL1(v uint64)

// ReadESREL1 returns the current contents of ESR_EL1, set by the exception
// entry thunk before it calls into Go.
func ReadESREL1() uint64

// ReadFAREL1 returns the current contents of FAR_EL1.
func ReadFAREL1() uint64

// WriteVBAREL1 installs the EL1 exception vector table base address.
func WriteVBAREL1(v uint64)
