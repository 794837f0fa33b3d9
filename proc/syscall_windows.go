//go:build windows

package proc

import "syscall"

// windowsSuppressErrorsAttr forces CREATE_NO_WINDOW, the closest
// per-child analogue to the "suppress_errors"/"bypass_shell" spawn
// options this package's options bag always sets on Windows: it keeps a
// crashing or error-dialog-producing child from ever presenting UI back
// through the supervising process's console.
func windowsSuppressErrorsAttr() *syscall.SysProcAttr {
	const createNoWindow = 0x08000000
	return &syscall.SysProcAttr{CreationFlags: createNoWindow}
}
