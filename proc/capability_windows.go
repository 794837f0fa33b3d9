//go:build windows

package proc

func probePTYSupport() bool { return false }

// constrainedChildRuntime is always false on Windows: Windows has no
// notion of POSIX signal termination to hide, and the fallback sideband
// described in the package documentation is a POSIX-only mechanism.
func constrainedChildRuntime() bool { return false }
