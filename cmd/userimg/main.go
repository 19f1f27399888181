// Command userimg is \userimg, the user-mode image the boot loader maps per
// spec.md §4.F/§4.G and the kernel's user page map activates via
// `load_ttbr0`. It is spec.md §8 scenario 6 made concrete: entry executes
// `svc #0` (the print syscall, kernel/excpt/syscall.go's syscall 0) with
// x0 pointing at a string and x1 holding its length, then halts.
//
// Grounded on the teacher's root boot.go/stub.go trampoline shape one more
// time: a package-level main whose only job is to keep the compiler from
// discarding userStart's call graph, here playing that role for a freestanding
// user-mode binary instead of the kernel itself.
package main

// greeting is the buffer x0 points at when userStart issues svc #0. Two
// bytes, matching spec.md §8 scenario 6's x1=2 exactly.
var greeting = [2]byte{'h', 'i'}

// userStart is implemented in start_arm64.s: loads x0/x1 from greeting's
// address and length, executes svc #0, then parks the core in a WFE loop.
// main is its only caller.
func userStart()

func main() {
	userStart()
}
