package proc

import "time"

const (
	// chunkSize is the fixed read/write chunk size used by the pump and
	// the output drain loop.
	chunkSize = 8192

	// readinessTimeout bounds a single blocking transfer pass over the
	// child's pipes.
	readinessTimeout = 100 * time.Millisecond

	// defaultKillGrace bounds how long Kill waits for the child to exit
	// after its last signal (SIGTERM, then SIGKILL or the caller-supplied
	// signal) before returning.
	defaultKillGrace = 10 * time.Second

	// outputSpillThreshold is the approximate in-memory size at which an
	// OutputBuffer channel spills to a temp file.
	outputSpillThreshold = 1 << 20 // 1 MiB

	// statusPollInterval is the busy-wait interval used while waiting for
	// a child's pipes to close and for is_running() to go false.
	statusPollInterval = time.Millisecond
)
