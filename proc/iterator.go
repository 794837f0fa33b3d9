package proc

import (
	"context"
	"io"
	"time"
)

// IterFlag controls how an Iterator presents the channels it multiplexes.
type IterFlag int

const (
	// IterNonBlocking makes Valid return true immediately with a
	// synthetic empty stdout chunk when neither channel has data yet,
	// instead of blocking until the child produces output or exits.
	IterNonBlocking IterFlag = 1 << iota
	// IterSkipOut excludes stdout from the iteration.
	IterSkipOut
	// IterSkipErr excludes stderr from the iteration.
	IterSkipErr
)

type iterChunk struct {
	channel Channel
	data    []byte
}

// Iterator presents a Supervisor as a pull sequence of (channel, chunk)
// pairs drawn from its OutputBuffer, with its own private read offsets so
// multiple Iterators (or a Rewind) can replay the same process's output
// independently.
type Iterator struct {
	sup   *Supervisor
	flags IterFlag

	flagStack []IterFlag

	cache                []iterChunk
	outOffset, errOffset int64
}

// NewIterator returns an Iterator over sup with the given flags.
func NewIterator(sup *Supervisor, flags IterFlag) *Iterator {
	return &Iterator{sup: sup, flags: flags}
}

// Rewind resets the per-iteration cache and both read offsets into the
// OutputBuffer. It does not restart or otherwise affect the child.
func (it *Iterator) Rewind() {
	it.cache = nil
	it.outOffset = 0
	it.errOffset = 0
}

// SetIterFlags pushes the current flags and installs flags in their
// place, for a nested use (one Supervisor feeding another as input) that
// needs temporary filtering.
func (it *Iterator) SetIterFlags(flags IterFlag) {
	it.flagStack = append(it.flagStack, it.flags)
	it.flags = flags
}

// RestoreIterFlags pops the flags most recently pushed by SetIterFlags.
// It is a no-op if the stack is empty.
func (it *Iterator) RestoreIterFlags() {
	if len(it.flagStack) == 0 {
		return
	}
	it.flags = it.flagStack[len(it.flagStack)-1]
	it.flagStack = it.flagStack[:len(it.flagStack)-1]
}

// Valid reports whether Current/Key have a chunk to offer, starting the
// Supervisor automatically on the first call if it is still Ready.
func (it *Iterator) Valid() (bool, error) {
	if it.sup.State() == StateReady {
		if err := it.sup.Start(context.Background()); err != nil {
			return false, err
		}
	}

	for {
		if len(it.cache) > 0 {
			return true, nil
		}

		_ = it.sup.updateStatus(false)

		if it.flags&IterSkipOut == 0 {
			it.readChannel(ChannelOut, &it.outOffset)
		}
		if it.flags&IterSkipErr == 0 {
			it.readChannel(ChannelErr, &it.errOffset)
		}

		if len(it.cache) > 0 {
			return true, nil
		}

		if !it.sup.IsRunning() && it.sup.outputExhausted() {
			// The child has exited and every chunk its drains ever
			// produced has been merged into the OutputBuffer: nothing
			// more will ever arrive on either channel.
			it.sup.ensureTerminated()
			return false, nil
		}

		if it.flags&IterNonBlocking != 0 {
			it.cache = append(it.cache, iterChunk{channel: ChannelOut, data: []byte{}})
			return true, nil
		}

		if err := it.sup.checkTimeout(); err != nil {
			return false, err
		}

		if it.sup.IsRunning() {
			_ = it.sup.updateStatus(true)
		} else {
			// The child has exited but its drain goroutines haven't
			// finished flushing the last chunks into the OutputBuffer
			// yet; give them a moment rather than busy-spinning.
			time.Sleep(statusPollInterval)
		}
	}
}

func (it *Iterator) readChannel(ch Channel, offset *int64) {
	if it.sup.output == nil {
		return
	}
	buf := make([]byte, chunkSize)
	n, _ := it.sup.output.readAt(ch, *offset, buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, buf[:n])
		it.cache = append(it.cache, iterChunk{channel: ch, data: data})
		*offset += int64(n)
	}
}

// Current returns the first cached chunk's bytes. Call Valid first.
func (it *Iterator) Current() []byte {
	if len(it.cache) == 0 {
		return nil
	}
	return it.cache[0].data
}

// Key returns the first cached chunk's channel label. Call Valid first.
func (it *Iterator) Key() Channel {
	if len(it.cache) == 0 {
		return ""
	}
	return it.cache[0].channel
}

// Next drops the first cached chunk.
func (it *Iterator) Next() {
	if len(it.cache) > 0 {
		it.cache = it.cache[1:]
	}
}

// AsReader exposes sup as an io.Reader suitable for use as an InputSource
// chunk (a "Supervisor used as an InputSource" pull-through pipeline): it
// skips sup's own stderr while consumed this way, and restores sup's
// prior default-iterator flag state once exhausted.
func (s *Supervisor) AsReader() io.Reader {
	if s.defaultIterator == nil {
		s.defaultIterator = NewIterator(s, 0)
	}
	s.defaultIterator.SetIterFlags(IterSkipErr)
	return &supervisorReader{it: s.defaultIterator}
}

type supervisorReader struct {
	it       *Iterator
	restored bool
}

func (r *supervisorReader) Read(p []byte) (int, error) {
	ok, err := r.it.Valid()
	if err != nil {
		r.restoreOnce()
		return 0, err
	}
	if !ok {
		r.restoreOnce()
		return 0, io.EOF
	}

	chunk := r.it.cache[0]
	n := copy(p, chunk.data)
	if n < len(chunk.data) {
		r.it.cache[0].data = chunk.data[n:]
	} else {
		r.it.Next()
	}
	if n == 0 {
		// Only possible for the non-blocking synthetic empty chunk;
		// ask the caller to retry rather than report false EOF.
		return 0, nil
	}
	return n, nil
}

func (r *supervisorReader) restoreOnce() {
	if !r.restored {
		r.it.RestoreIterFlags()
		r.restored = true
	}
}
