package proc

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// capabilityOracle answers boolean questions about what the host platform
// and Go runtime support, caching each answer at first use. A Supervisor
// never probes the platform directly outside of this type.
type capabilityOracle struct {
	once sync.Once

	windows  bool
	ttyOnce  sync.Once
	ptyOnce  sync.Once
	ttySupported bool
	ptySupported bool

	constrainedChildOnce sync.Once
	constrainedChild     bool

	spawnFnOnce sync.Once
	missingSpawn string
}

var sharedCapabilities = &capabilityOracle{}

func capabilities() *capabilityOracle { return sharedCapabilities }

func (c *capabilityOracle) isWindows() bool {
	c.once.Do(func() {
		c.windows = runtime.GOOS == "windows"
	})
	return c.windows
}

// supportTTY probes for a usable controlling TTY device by attempting to
// open it. The result is cached: a single throwaway open is all this
// process ever performs.
func (c *capabilityOracle) supportTTY() bool {
	c.ttyOnce.Do(func() {
		if c.isWindows() {
			c.ttySupported = false
			return
		}
		f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
		if err == nil {
			_ = f.Close()
			c.ttySupported = true
		}
	})
	return c.ttySupported
}

// supportPTY probes for pseudo-terminal support by attempting a throwaway
// pty allocation.
func (c *capabilityOracle) supportPTY() bool {
	c.ptyOnce.Do(func() {
		if c.isWindows() {
			c.ptySupported = false
			return
		}
		c.ptySupported = probePTYSupport()
	})
	return c.ptySupported
}

// supportConstrainedChild reports whether this Go runtime build is one on
// which os.Process.Wait cannot reliably distinguish a signal-terminated
// child from one that exited normally (a "constrained child" runtime in
// the sense used throughout this package). Go's standard runtime always
// reports signal termination correctly on POSIX, so this oracle exists
// for hosts that sandbox wait(2) itself (e.g. certain gVisor or WASI
// process substitutes) and is expressed as a build-tag-selected function
// so a vendor build can override it.
func (c *capabilityOracle) supportConstrainedChild() bool {
	c.constrainedChildOnce.Do(func() {
		c.constrainedChild = constrainedChildRuntime()
	})
	return c.constrainedChild
}

// missingSpawnFn reports the name of the first OS spawn primitive this
// package's command construction depends on that the host is actually
// missing, or "" if every primitive it needs is present. Every command
// this package runs, on either platform, is wrapped in a shell invocation
// (posixPipeStrategy.Open's "/bin/sh -c", windowsPipeStrategy.Open's
// "cmd /V:ON /E:ON /D /C"), so the wrapping shell itself is the one spawn
// primitive whose absence would otherwise only surface as a confusing
// spawn failure deep inside Start.
func (c *capabilityOracle) missingSpawnFn() string {
	c.spawnFnOnce.Do(func() {
		if c.isWindows() {
			if _, err := exec.LookPath("cmd"); err != nil {
				c.missingSpawn = "cmd.exe"
			}
			return
		}
		if _, err := os.Stat("/bin/sh"); err != nil {
			c.missingSpawn = "/bin/sh"
		}
	})
	return c.missingSpawn
}

func isWindows() bool { return capabilities().isWindows() }
