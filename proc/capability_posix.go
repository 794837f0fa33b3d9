//go:build !windows

package proc

import (
	"os"

	"github.com/creack/pty"
)

// probePTYSupport attempts a throwaway pty allocation and immediately
// tears it down.
func probePTYSupport() bool {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return false
	}
	_ = ptmx.Close()
	_ = tty.Close()
	return true
}

// constrainedChildRuntime reports whether this host's wait(4)/wait(2)
// cannot be trusted to expose child signal termination. Go's standard
// POSIX runtime always can, so this is false unless explicitly forced
// for testing the fd-3 fallback sideband (see Supervisor.Start).
func constrainedChildRuntime() bool {
	return os.Getenv("PROC_FORCE_CONSTRAINED_CHILD") == "1"
}
