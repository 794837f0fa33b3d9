//go:build linux

package proc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nwillc/goproc/internal/ptree"
)

const memoryPollInterval = time.Second

// ErrMemoryLimitExceeded is wrapped by the Err of the Event that
// WatchMemoryLimit emits, just before it kills the child, when the
// child's process tree reaches its byte limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// startMemoryWatchers launches the memory-limit enforcer and/or observer
// goroutines this Config asked for. It is a no-op if neither was
// configured.
func (s *Supervisor) startMemoryWatchers(ctx context.Context) {
	if s.cfg.memoryLimitBytes > 0 {
		go WatchMemoryLimit(ctx, s, s.cfg.memoryLimitBytes)
	}
	if s.cfg.observeMemory {
		go WatchMemoryObserver(ctx, s)
	}
}

// WatchMemoryLimit polls the RSS of the child's process tree (the child
// plus any descendants it has spawned) and kills it the first time usage
// reaches byteLimit. It runs until ctx is cancelled or the child exits,
// and should be started in its own goroutine right after Start returns.
func WatchMemoryLimit(ctx context.Context, s *Supervisor, byteLimit uint64) {
	var consecutiveErrors int

	t := time.NewTicker(memoryPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rss, err := ptree.GetProcessTreeRSSAnon(s.Pid())
			if err != nil {
				consecutiveErrors++
				if consecutiveErrors >= 2 {
					s.emit("error getting RSS", err)
				}
				continue
			}
			consecutiveErrors = 0
			if rss < byteLimit {
				continue
			}
			s.emit("process exceeded allowed memory use", fmt.Errorf("%w: rss %d bytes reached limit %d bytes", ErrMemoryLimitExceeded, rss, byteLimit))
			_, _ = s.Kill(0, 0)
			return
		}
	}
}

// WatchMemoryObserver polls the RSS of the child's process tree like
// WatchMemoryLimit but never kills it, instead emitting a single "peak
// memory usage" event once ctx is cancelled (normally when the child
// exits).
func WatchMemoryObserver(ctx context.Context, s *Supervisor) {
	var maxRSS uint64
	var samples, failures, consecutiveErrors int

	t := time.NewTicker(memoryPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cfg.eventHandler(&Event{
				Command: commandName(s.cfg),
				Msg:     "peak memory usage",
				Context: map[string]interface{}{
					"max_rss_bytes": maxRSS,
					"samples":       samples,
					"errors":        failures,
				},
			})
			return
		case <-t.C:
			rss, err := ptree.GetProcessTreeRSSAnon(s.Pid())
			if err != nil {
				failures++
				consecutiveErrors++
				if consecutiveErrors == 2 {
					s.emit("error getting RSS", err)
				}
				continue
			}
			consecutiveErrors = 0
			samples++
			if rss > maxRSS {
				maxRSS = rss
			}
		}
	}
}
