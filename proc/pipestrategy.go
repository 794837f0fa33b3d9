package proc

import (
	"io"
	"os/exec"
)

// PipeStrategy chooses the descriptor layout for a supervised process
// (anonymous pipes, TTY device, pseudo-tty, or Windows temp-file
// redirection), composes the final command line, and owns every pipe
// handle it creates until Close. POSIX and Windows each have their own
// implementation; Supervisor talks only to this interface.
type PipeStrategy interface {
	// Open builds the exec.Cmd and any pipes it needs, given the
	// resolved environment map (used only for "${:NAME}" template
	// substitution).
	Open(cfg *Config, resolvedEnv map[string]string) error

	// Cmd returns the fully configured command, ready for Start. It is
	// only valid after a successful Open.
	Cmd() *exec.Cmd

	// ExtraEnv returns additional environment variables (only nonempty
	// on Windows, for the delayed-expansion placeholder scheme) that the
	// caller must install into the process environment before Start and
	// restore afterward, alongside cfg.Env.
	ExtraEnv() map[string]string

	// StdinWriter returns the write end of the child's stdin, or nil in
	// modes (tty) where this package does not pump programmatic input.
	StdinWriter() io.WriteCloser

	// StdoutReader and StderrReader return the read ends this package
	// drains into the OutputBuffer. Either may be nil: in pty mode there
	// is a single shared stream exposed as StdoutReader, and
	// StderrReader is nil because the pty has no separate channel; in
	// tty/output_disabled modes the corresponding reader is nil because
	// output never reaches this process.
	StdoutReader() io.ReadCloser
	StderrReader() io.ReadCloser

	// FallbackReader returns the read end of the sideband fd-3 pipe used
	// on constrained-child runtimes, or nil if no fallback wrapping was
	// needed.
	FallbackReader() io.ReadCloser

	// Close releases every handle this strategy opened (pipes, pty
	// masters, Windows temp files).
	Close() error
}

// resolveEnvMap merges cfg.Env overrides over the process's own
// environment, producing the lookup table used for "${:NAME}" template
// placeholder resolution. It does not mutate the process environment;
// see Supervisor.spawnWithEnvInjected for the save/set/restore dance that actually
// passes these values to the child (the "env injection" design note).
func resolveEnvMap(cfg *Config) map[string]string {
	current := currentEnviron()
	lookup := make(map[string]string, len(current)+len(cfg.Env))
	for k, v := range current {
		lookup[k] = v
	}
	for _, ev := range cfg.Env {
		if ev.Value == EnvAbsent {
			delete(lookup, ev.Key)
			continue
		}
		lookup[ev.Key] = ev.Value
	}
	return lookup
}
