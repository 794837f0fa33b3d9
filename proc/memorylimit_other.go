//go:build !linux

package proc

import "context"

// startMemoryWatchers is a no-op outside Linux: RSS accounting here is
// built on /proc, which has no equivalent this package relies on for
// other platforms.
func (s *Supervisor) startMemoryWatchers(ctx context.Context) {}
