package boot

import (
	"github.com/Masterminds/semver/v3"

	"teaos/kernel"
)

// FormatVersion tags BootInfoFFI's wire format. The loader and the kernel
// are always built and shipped together, so this guards against nothing
// more exotic than a developer running a stale kernel binary against a
// freshly rebuilt loader (or vice versa) during bring-up.
const FormatVersion = "1.0.0"

// ErrFormatSkew is returned by CheckFormatVersion when the loader's
// reported format version does not satisfy this kernel's constraint.
var ErrFormatSkew = &kernel.Error{Module: "boot", Message: "BootInfo format version mismatch"}

// formatConstraint accepts any 1.x release: additive fields are fine, a
// major bump means the fixed-layout struct itself changed shape.
var formatConstraint = mustConstraint("^1.0.0")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic("boot: invalid built-in version constraint: " + err.Error())
	}
	return cs
}

// CheckFormatVersion parses a reported version string and rejects anything
// that does not satisfy formatConstraint. The boot loader checks
// FormatVersion with it; kernel_main does not call it on handoff.
func CheckFormatVersion(reported string) *kernel.Error {
	v, err := semver.NewVersion(reported)
	if err != nil || !formatConstraint.Check(v) {
		return ErrFormatSkew
	}
	return nil
}
