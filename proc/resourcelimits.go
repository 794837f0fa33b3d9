package proc

import "context"

// IsolationPolicy constrains the child's resource usage once its pid is
// known. Setup runs immediately after Start; Teardown runs on the
// Terminated transition regardless of how the process ended.
type IsolationPolicy interface {
	Setup(ctx context.Context, pid uint64) error
	Teardown(ctx context.Context) error
}
