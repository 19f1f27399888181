package excpt

import "testing"

func withFakeRegisters(t *testing.T, esr, far uint64) *struct{ esr, far uint64 } {
	t.Helper()
	oldESR, oldFAR := readESREL1Fn, readFAREL1Fn
	readESREL1Fn = func() uint64 { return esr }
	readFAREL1Fn = func() uint64 { return far }
	t.Cleanup(func() {
		readESREL1Fn = oldESR
		readFAREL1Fn = oldFAR
	})
	return &struct{ esr, far uint64 }{esr, far}
}

func TestDispatchAdvancesELRPastEL1BRK(t *testing.T) {
	withFakeRegisters(t, ecBRK<<26, 0)
	oldPanic := panicFaultFn
	panicFaultFn = func(module string, esr, far uint64) { t.Fatal("BRK at EL1 must not panic") }
	defer func() { panicFaultFn = oldPanic }()

	frame := &Frame{SPSR: 0x5, ELR: 0x1000} // EL1h
	dispatch(&Regs{}, frame)

	if frame.ELR != 0x1004 {
		t.Fatalf("expected ELR advanced by 4; got %#x", frame.ELR)
	}
}

func TestDispatchRoutesEL0SVCToSyscallHandler(t *testing.T) {
	withFakeRegisters(t, ecSVC64<<26|sysPrint, 0)
	oldHeap := kernelHeap
	kernelHeap = nil // forces Alloc to be unreachable; length 0 short-circuits
	defer func() { kernelHeap = oldHeap }()
	oldPanic := panicFaultFn
	panicked := false
	panicFaultFn = func(module string, esr, far uint64) { panicked = true }
	defer func() { panicFaultFn = oldPanic }()

	regs := &Regs{X0: 0, X1: 0}
	frame := &Frame{SPSR: 0x0} // EL0
	dispatch(regs, frame)

	if panicked {
		t.Fatal("zero-length print should not panic")
	}
	if regs.X0 != 0 {
		t.Fatalf("expected success result; got %#x", regs.X0)
	}
}

func TestDispatchPanicsOnUnhandledCondition(t *testing.T) {
	withFakeRegisters(t, 0x21<<26, 0xdead)
	called := false
	oldPanic := panicFaultFn
	panicFaultFn = func(module string, esr, far uint64) {
		called = true
		if esr != 0x21<<26 || far != 0xdead {
			t.Fatalf("unexpected fault args: esr=%#x far=%#x", esr, far)
		}
	}
	defer func() { panicFaultFn = oldPanic }()

	dispatch(&Regs{}, &Frame{SPSR: 0x5})

	if !called {
		t.Fatal("expected panicFaultFn to be invoked")
	}
}
