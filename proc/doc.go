// Package proc supervises a single external process: it spawns a child,
// multiplexes a composable input source into its stdin while draining
// stdout and stderr, enforces wall-clock and idle timeouts, delivers
// signals, and reports a uniform exit status across POSIX and Windows.
//
// A Supervisor can itself be used as input to another (Supervisor.AsReader),
// and Chain composes several Configs into a Unix-style pipeline on top of
// that. On Linux, WithResourceLimits attaches a cgroups-backed
// IsolationPolicy and WithMemoryLimit/WithMemoryObserver watch a child's
// resident set size.
package proc
