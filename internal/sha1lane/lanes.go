package sha1lane

import "golang.org/x/sys/cpu"

// CPU feature flags used to pick a default batch width. The widths mirror the
// number of 32-bit lanes in the widest vector register available.
var (
	hasAVX512 = cpu.X86.HasAVX512F
	hasAVX2   = cpu.X86.HasAVX2
)

// DefaultLanes returns a batch width suited to the host CPU.
func DefaultLanes() int {
	switch {
	case hasAVX512:
		return 16
	case hasAVX2:
		return 8
	default:
		return 4
	}
}
