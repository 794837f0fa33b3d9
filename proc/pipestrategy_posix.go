//go:build !windows

package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// posixPipeStrategy lays out descriptors for piped, tty, pty, and
// output_disabled modes on POSIX hosts, and wraps the command in a
// background-and-report shell snippet when the capability oracle reports
// a constrained-child runtime (one whose wait status hides signal
// termination).
type posixPipeStrategy struct {
	cmd *exec.Cmd

	stdinW  io.WriteCloser
	stdoutR io.ReadCloser
	stderrR io.ReadCloser

	fallbackR io.ReadCloser

	closers []io.Closer

	// ptyWorkaroundFile mirrors this package's ancestor, which in pty
	// mode keeps a second handle open on its own source tree for the
	// duration of the pty session as a workaround for a kernel ptmx
	// refcounting defect that can otherwise tear the slave down early.
	ptyWorkaroundFile *os.File
}

func newPOSIXPipeStrategy() PipeStrategy {
	return &posixPipeStrategy{}
}

func newPlatformPipeStrategy() PipeStrategy {
	return newPOSIXPipeStrategy()
}

// runWindowsDrain is never invoked on non-Windows platforms (Start only
// calls it when isWindows() is true); this stub exists solely so
// supervisor.go's reference to it compiles here too.
func (s *Supervisor) runWindowsDrain() error { return nil }

func (s *posixPipeStrategy) Cmd() *exec.Cmd               { return s.cmd }
func (s *posixPipeStrategy) ExtraEnv() map[string]string  { return nil }
func (s *posixPipeStrategy) StdinWriter() io.WriteCloser  { return s.stdinW }
func (s *posixPipeStrategy) StdoutReader() io.ReadCloser  { return s.stdoutR }
func (s *posixPipeStrategy) StderrReader() io.ReadCloser  { return s.stderrR }
func (s *posixPipeStrategy) FallbackReader() io.ReadCloser {
	return s.fallbackR
}

func (s *posixPipeStrategy) Open(cfg *Config, resolvedEnv map[string]string) error {
	built, err := buildPOSIXCommand(cfg, resolvedEnv)
	if err != nil {
		return err
	}

	useFallback := capabilities().supportConstrainedChild() && cfg.Mode != ModeTTY

	var shellLine string
	var fallbackWrite *os.File
	if useFallback {
		shellLine = fmt.Sprintf(
			"{ %s <&4 4<&- & } 4<&0; pid=$!; echo $pid >&3; wait $pid; code=$?; echo $code >&3; exit $code",
			built.Line,
		)
		r, w, perr := os.Pipe()
		if perr != nil {
			return runtimeError("opening fallback status pipe", perr)
		}
		s.fallbackR = r
		fallbackWrite = w
		s.closers = append(s.closers, r)
	} else {
		shellLine = "exec " + built.Line
	}

	cmd := exec.Command("/bin/sh", "-c", shellLine)
	cmd.Dir = cfg.Dir
	if fallbackWrite != nil {
		cmd.ExtraFiles = []*os.File{fallbackWrite}
	}

	switch cfg.Mode {
	case ModeTTY:
		if err := s.openTTY(cmd); err != nil {
			return err
		}
	case ModePTY:
		if err := s.openPTY(cmd); err != nil {
			return err
		}
	case ModeOutputDisabled:
		if err := s.openOutputDisabled(cmd); err != nil {
			return err
		}
	default:
		if err := s.openPiped(cmd); err != nil {
			return err
		}
	}

	if fallbackWrite != nil {
		// The child (via the shell) keeps its own copy of fd 3 open. Our
		// copy is closed together with the other handles in Close, so
		// until then reads from s.fallbackR do not observe EOF; the pid
		// and exit code still arrive as newline-terminated lines.
		s.closers = append(s.closers, fallbackWrite)
	}

	s.cmd = cmd
	return nil
}

func (s *posixPipeStrategy) openPiped(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runtimeError("opening stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runtimeError("opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return runtimeError("opening stderr pipe", err)
	}
	s.stdinW, s.stdoutR, s.stderrR = stdin, stdout, stderr
	return nil
}

func (s *posixPipeStrategy) openOutputDisabled(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runtimeError("opening stdin pipe", err)
	}
	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return runtimeError("opening null device", err)
	}
	cmd.Stdout = null
	cmd.Stderr = null
	s.stdinW = stdin
	s.closers = append(s.closers, null)
	return nil
}

func (s *posixPipeStrategy) openTTY(cmd *exec.Cmd) error {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return runtimeError("opening /dev/tty", err)
	}
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	s.closers = append(s.closers, tty)
	// No programmatic stdin/stdout pump in tty mode: the real controlling
	// terminal drives input and output directly.
	return nil
}

func (s *posixPipeStrategy) openPTY(cmd *exec.Cmd) error {
	master, slave, err := pty.Open()
	if err != nil {
		return runtimeError("opening pseudo-terminal", err)
	}
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave

	// Hold a second handle open on our own running binary for the
	// duration of the pty session; some kernels will tear down a ptmx
	// pair early if the opening process's fd table looks otherwise
	// quiescent.
	if exe, eerr := os.Executable(); eerr == nil {
		if f, ferr := os.Open(exe); ferr == nil {
			s.ptyWorkaroundFile = f
		}
	}

	s.closers = append(s.closers, slave, master)
	if s.ptyWorkaroundFile != nil {
		s.closers = append(s.closers, s.ptyWorkaroundFile)
	}

	s.stdinW = nopSyncCloser{master}
	s.stdoutR = io.NopCloser(master)
	// A pty has one shared stream; there is no independent stderr
	// channel to multiplex.
	s.stderrR = nil
	return nil
}

// nopSyncCloser adapts an *os.File (which is already a WriteCloser) to
// the io.WriteCloser the pump expects while making explicit that Close
// is handled by posixPipeStrategy.Close, not by the pump itself: the pty
// master is shared between the read and write sides, so it must only be
// closed once.
type nopSyncCloser struct {
	*os.File
}

func (nopSyncCloser) Close() error { return nil }

func (s *posixPipeStrategy) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
