package proc

import (
	"time"
)

// Mode selects how the child's stdin/stdout/stderr descriptors are laid
// out. See the mode matrix in the package documentation: piped is the
// default; tty and pty are POSIX-only; output_disabled mutes stdout and
// stderr and forbids a non-zero idle timeout.
type Mode int

const (
	// ModePiped connects stdin, stdout, and stderr to anonymous pipes.
	ModePiped Mode = iota
	// ModeTTY binds all three descriptors to the controlling TTY device.
	// POSIX only.
	ModeTTY
	// ModePTY allocates a pseudo-terminal and binds all three descriptors
	// to it. POSIX only, and only if the capability oracle reports
	// pseudo-terminal support.
	ModePTY
	// ModeOutputDisabled redirects stdout/stderr to the platform's null
	// device; stdin remains a pipe. Requires IdleTimeout == 0.
	ModeOutputDisabled
)

func (m Mode) String() string {
	switch m {
	case ModePiped:
		return "piped"
	case ModeTTY:
		return "tty"
	case ModePTY:
		return "pty"
	case ModeOutputDisabled:
		return "output_disabled"
	default:
		return "unknown"
	}
}

// EnvVar represents an environment variable override passed to the child.
// A Value of EnvAbsent removes the variable from the child's environment
// entirely, rather than setting it to the empty string.
type EnvVar struct {
	Key   string
	Value string
}

// EnvAbsent is the sentinel EnvVar.Value that removes a variable from the
// child's environment instead of setting it.
const EnvAbsent = "\x00absent\x00"

// Config holds the parameters for a supervised process, frozen once the
// Supervisor has started. Build one with New(options...); each With*
// function is a functional Option in the style of this module's
// pipeline-stage ancestor.
type Config struct {
	// Command is either a pre-tokenized argument vector (Args[0] is the
	// program) or, if Template is non-empty, a single shell string with
	// "${:NAME}" placeholders resolved against Env at spawn time.
	Args     []string
	Template string

	Dir string
	Env []EnvVar

	Timeout     time.Duration
	IdleTimeout time.Duration

	Mode Mode

	Input *InputSource

	eventHandler EventHandler

	// resourceLimits, when non-nil, is applied to the child immediately
	// after spawn and torn down on the Terminated transition.
	resourceLimits IsolationPolicy

	// memoryLimitBytes, when nonzero, kills the child (Linux only) the
	// first time its process tree's RSS reaches this many bytes.
	memoryLimitBytes uint64

	// observeMemory, when true, polls the child's process tree RSS
	// (Linux only) and emits a "peak memory usage" Event at exit.
	observeMemory bool
}

// Option is a functional option for New.
type Option func(*Config)

// New returns a Config with all of the options applied. By default the
// mode is ModePiped, no timeouts are set, and Input is an empty open
// InputSource.
func New(options ...Option) *Config {
	c := &Config{
		Mode:         ModePiped,
		Input:        NewInputSource(),
		eventHandler: emptyEventHandler,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithArgs sets the pre-tokenized argument vector form of Command.
func WithArgs(args ...string) Option {
	return func(c *Config) {
		if len(args) == 0 {
			panic("proc: attempt to configure a command with no arguments")
		}
		c.Args = args
	}
}

// WithTemplate sets the single shell-string form of Command, which may
// contain "${:NAME}" placeholders resolved against the configured Env.
func WithTemplate(template string) Option {
	return func(c *Config) {
		if len(template) == 0 {
			panic("proc: attempt to configure a command with an empty template")
		}
		c.Template = template
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithEnv appends an environment variable override.
func WithEnv(key, value string) Option {
	return func(c *Config) { c.Env = append(c.Env, EnvVar{Key: key, Value: value}) }
}

// WithEnvAbsent removes a variable from the child's environment.
func WithEnvAbsent(key string) Option {
	return func(c *Config) { c.Env = append(c.Env, EnvVar{Key: key, Value: EnvAbsent}) }
}

// WithEnvVars appends several environment variable overrides at once.
func WithEnvVars(vars []EnvVar) Option {
	return func(c *Config) { c.Env = append(c.Env, vars...) }
}

// WithTimeout sets the total wall-clock timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithIdleTimeout sets the idle timeout. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) { c.IdleTimeout = d }
}

// WithMode sets the descriptor layout mode.
func WithMode(m Mode) Option {
	return func(c *Config) { c.Mode = m }
}

// WithInput sets the InputSource that will be pumped into the child's
// stdin. If omitted, New creates a fresh, empty, open InputSource.
func WithInput(src *InputSource) Option {
	return func(c *Config) { c.Input = src }
}

// WithEventHandler installs a handler that receives the Events a
// Supervisor emits: a failure to open pipes, to launch the process or to
// set up resource limits, the transition to Terminated, and the memory
// watchers' reports. The Started and Waiting transitions, kills,
// timeouts and fallback-record merges emit no Event.
func WithEventHandler(handler EventHandler) Option {
	return func(c *Config) {
		if handler != nil {
			c.eventHandler = handler
		}
	}
}

// WithResourceLimits attaches a cgroup-backed IsolationPolicy that is set
// up right after spawn (once a pid is known) and torn down on exit.
func WithResourceLimits(policy IsolationPolicy) Option {
	return func(c *Config) { c.resourceLimits = policy }
}

// WithMemoryLimit kills the child (Linux only; a no-op elsewhere) the
// first time its process tree's resident set size reaches byteLimit.
func WithMemoryLimit(byteLimit uint64) Option {
	return func(c *Config) { c.memoryLimitBytes = byteLimit }
}

// WithMemoryObserver polls the child's process tree RSS (Linux only; a
// no-op elsewhere) and emits a "peak memory usage" Event once it exits.
func WithMemoryObserver() Option {
	return func(c *Config) { c.observeMemory = true }
}

// Clone returns an independent copy of c suitable for creating a new
// Ready Supervisor. No pipe handle, child handle, or OutputBuffer state
// is shared with the original.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Args = append([]string(nil), c.Args...)
	clone.Env = append([]EnvVar(nil), c.Env...)
	clone.Input = NewInputSource()
	return &clone
}

func (c *Config) validate() error {
	if missing := capabilities().missingSpawnFn(); missing != "" {
		return &SpawnCapabilityError{Primitive: missing}
	}
	if len(c.Args) == 0 && c.Template == "" {
		return invalidArgument("no command configured: call WithArgs or WithTemplate")
	}
	if len(c.Args) != 0 && c.Template != "" {
		return invalidArgument("command configured both as an argument vector and a template")
	}
	switch c.Mode {
	case ModeTTY, ModePTY:
		if isWindows() {
			return invalidArgument("mode %s is not supported on Windows", c.Mode)
		}
	case ModeOutputDisabled:
		if c.IdleTimeout != 0 {
			return invalidArgument("idle timeout must be zero when output is disabled")
		}
	}
	if c.Mode == ModePTY && !capabilities().supportPTY() {
		return invalidArgument("mode pty is not supported on this host")
	}
	if c.Mode == ModeTTY && !capabilities().supportTTY() {
		return invalidArgument("mode tty is not supported on this host")
	}
	return nil
}
