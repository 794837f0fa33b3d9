package proc

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is a position in the Supervisor lifecycle: Ready -> Started ->
// Waiting -> Terminated. Terminated is absorbing; rerunning the same
// command requires Config.Clone() and a fresh Supervisor.
type State int

const (
	StateReady State = iota
	StateStarted
	StateWaiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateStarted:
		return "started"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ExitRecord is the process's terminal status, merged from the spawn
// primitive's own status call and, on constrained-child runtimes, the
// fd-3 fallback sideband.
type ExitRecord struct {
	ExitCode int
	Signaled bool
	TermSig  int
	Running  bool
}

// Successful reports whether the process ran to completion with exit
// code zero and was not signal-terminated.
func (e ExitRecord) Successful() bool {
	return !e.Running && !e.Signaled && e.ExitCode == 0
}

type chunkEvent struct {
	channel Channel
	data    []byte
}

// Supervisor drives a single external process through its lifecycle: it
// spawns the child described by a Config, pumps the configured
// InputSource into stdin while draining stdout/stderr into an
// OutputBuffer (and, if a callback is supplied to Wait, streaming chunks
// to it), enforces the configured timeouts, and reports a uniform exit
// status across platforms.
type Supervisor struct {
	cfg *Config

	mu    sync.Mutex
	state State

	strategy PipeStrategy
	output   *OutputBuffer

	pid         int
	fallbackPid int

	// fallbackOverride is seeded by Signal (and by Kill's own signal
	// sends) so that status queries see a consistent signaled/termsig
	// pair even on a constrained-child runtime, where the fd-3 sideband
	// only ever carries an exit code and never signal information.
	fallbackOverride *ExitRecord

	startTime     time.Time
	exit          ExitRecord
	latestSignal  int
	timeoutErr    atomic.Value // error
	ctx           context.Context
	cancel        context.CancelFunc

	chunks     chan chunkEvent
	doneCh     chan struct{}
	outputDone chan struct{}
	waitErr    error

	waitCallback func(data []byte, ch Channel)

	fallbackLines    chan string
	fallbackExitLine string

	wg errgroup.Group

	resourceLimits       IsolationPolicy
	resourceLimitsCancel context.CancelFunc

	defaultIterator *Iterator
}

// NewSupervisor returns a Supervisor in state Ready for the given
// configuration. cfg is validated lazily, at Start.
func NewSupervisor(cfg *Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// State returns the Supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the pid of the real child process once known: the pid
// read from the fd-3 fallback sideband on a constrained-child runtime,
// or the spawned shell's own pid otherwise (the shell `exec`s into the
// target program without forking, so its pid is the target's pid).
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallbackPid != 0 {
		return s.fallbackPid
	}
	return s.pid
}

func (s *Supervisor) emit(msg string, err error) {
	s.cfg.eventHandler(&Event{Command: commandName(s.cfg), Msg: msg, Err: err})
}

func commandName(cfg *Config) string {
	if len(cfg.Args) > 0 {
		return cfg.Args[0]
	}
	return cfg.Template
}

// Start spawns the child. It must be called from state Ready.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return logicError("Start called in state %s, expected ready", s.state)
	}
	s.mu.Unlock()

	if err := s.cfg.validate(); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.strategy = newPlatformPipeStrategy()

	resolvedEnv := resolveEnvMap(s.cfg)
	if err := s.strategy.Open(s.cfg, resolvedEnv); err != nil {
		s.emit("failed to open pipe strategy", err)
		return err
	}

	s.output = NewOutputBuffer(s.cfg.Mode == ModeOutputDisabled)

	if err := s.spawnWithEnvInjected(); err != nil {
		_ = s.strategy.Close()
		s.emit("failed to launch process", err)
		return runtimeError("Unable to launch a new process.", err)
	}

	s.startTime = time.Now()

	if r := s.strategy.FallbackReader(); r != nil {
		s.startFallbackReader(r)
		s.waitForFallbackPid()
	}

	s.pid = s.strategy.Cmd().Process.Pid

	if s.cfg.resourceLimits != nil {
		s.resourceLimits = s.cfg.resourceLimits
		limitCtx, cancel := context.WithCancel(s.ctx)
		s.resourceLimitsCancel = cancel
		if err := s.resourceLimits.Setup(limitCtx, uint64(s.Pid())); err != nil {
			s.emit("failed to set up resource limits", err)
		}
	}

	s.mu.Lock()
	s.state = StateStarted
	s.mu.Unlock()

	if s.cfg.Mode == ModeTTY {
		// TTY mode returns immediately: probing status would block on
		// descriptors bound to the controlling terminal.
		return nil
	}

	s.startPumpAndDrains()
	s.startMemoryWatchers(s.ctx)

	_ = s.updateStatus(false)
	_ = s.checkTimeout()

	return nil
}

// envMu serializes the "install into process env, spawn, restore"
// sequence across concurrently-starting Supervisors, since os.Setenv is
// process-global state (the "env injection" design note in the package
// documentation).
var envMu sync.Mutex

func (s *Supervisor) spawnWithEnvInjected() error {
	envMu.Lock()
	defer envMu.Unlock()

	type saved struct {
		key      string
		hadValue bool
		value    string
	}
	var restores []saved

	apply := func(key, value string, absent bool) {
		prior, had := os.LookupEnv(key)
		restores = append(restores, saved{key: key, hadValue: had, value: prior})
		if absent {
			_ = os.Unsetenv(key)
		} else {
			_ = os.Setenv(key, value)
		}
	}

	for _, ev := range s.cfg.Env {
		apply(ev.Key, ev.Value, ev.Value == EnvAbsent)
	}
	for k, v := range s.strategy.ExtraEnv() {
		apply(k, v, false)
	}

	defer func() {
		for _, r := range restores {
			if r.hadValue {
				_ = os.Setenv(r.key, r.value)
			} else {
				_ = os.Unsetenv(r.key)
			}
		}
	}()

	return s.strategy.Cmd().Start()
}

func (s *Supervisor) startFallbackReader(r io.ReadCloser) {
	s.fallbackLines = make(chan string, 2)
	go func() {
		defer close(s.fallbackLines)
		buf := make([]byte, 0, 64)
		tmp := make([]byte, 1)
		for {
			n, err := r.Read(tmp)
			if n > 0 {
				if tmp[0] == '\n' {
					s.fallbackLines <- string(buf)
					buf = buf[:0]
				} else {
					buf = append(buf, tmp[0])
				}
			}
			if err != nil {
				if len(buf) > 0 {
					s.fallbackLines <- string(buf)
				}
				return
			}
		}
	}()
}

func (s *Supervisor) waitForFallbackPid() {
	line, ok := <-s.fallbackLines
	if !ok {
		return
	}
	s.mu.Lock()
	s.fallbackPid = atoiOr(line, 0)
	s.mu.Unlock()
}

func (s *Supervisor) startPumpAndDrains() {
	s.chunks = make(chan chunkEvent, 16)
	s.doneCh = make(chan struct{})
	s.outputDone = make(chan struct{})

	pump := NewInputPump(s.cfg.Input)
	stdinW := s.strategy.StdinWriter()

	s.wg.Go(func() error {
		return recoverToErr("input pump", func() error { return s.runPump(pump, stdinW) })
	})

	if isWindows() {
		s.wg.Go(func() error {
			return recoverToErr("output drain", s.runWindowsDrain)
		})
	} else {
		if r := s.strategy.StdoutReader(); r != nil {
			s.wg.Go(func() error {
				return recoverToErr("stdout drain", func() error { return s.drain(ChannelOut, r) })
			})
		}
		if r := s.strategy.StderrReader(); r != nil {
			s.wg.Go(func() error {
				return recoverToErr("stderr drain", func() error { return s.drain(ChannelErr, r) })
			})
		}
	}

	cmd := s.strategy.Cmd()
	go func() {
		s.waitErr = cmd.Wait()
		close(s.doneCh)
	}()

	go func() {
		_ = s.wg.Wait()
		close(s.chunks)
	}()

	// This goroutine is what makes the OutputBuffer usable by the
	// Iterator facade and AsReader even when Wait is never called (or
	// called only much later): it runs for the Supervisor's whole
	// lifetime, independent of any particular consumer.
	go func() {
		defer close(s.outputDone)
		for ev := range s.chunks {
			_ = s.output.Add(ev.channel, ev.data)
			s.deliverChunk(ev)
		}
	}()
}

func (s *Supervisor) deliverChunk(ev chunkEvent) {
	s.mu.Lock()
	cb := s.waitCallback
	s.mu.Unlock()
	if cb != nil {
		cb(ev.data, ev.channel)
	}
}

// outputExhausted reports whether every chunk the drain goroutines ever
// produced has already been merged into the OutputBuffer: the precise
// condition under which a consumer (Wait, or an Iterator driven without
// Wait) knows no further output will ever arrive.
func (s *Supervisor) outputExhausted() bool {
	if s.outputDone == nil {
		return false
	}
	select {
	case <-s.outputDone:
		return true
	default:
		return false
	}
}

// ensureTerminated transitions to Terminated once the child has exited,
// without blocking. The Iterator facade calls this on natural exhaustion
// so that a Supervisor driven purely through AsReader/Iterator (never
// through Wait) still releases its pipes and resource limits.
func (s *Supervisor) ensureTerminated() {
	if s.doneCh == nil {
		return
	}
	select {
	case <-s.doneCh:
	default:
		return
	}
	if !s.outputExhausted() {
		return
	}
	_ = s.updateStatus(true)
	s.transitionToTerminated()
}

func atoiOr(s string, fallback int) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func (s *Supervisor) runPump(pump *InputPump, w io.WriteCloser) error {
	if w == nil {
		return nil
	}
	closed := false
	defer func() {
		if !closed {
			_ = w.Close()
		}
	}()

	dw, ok := w.(deadlineWriter)
	if !ok {
		return nil
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		if pump.EndOfFlow() {
			closed = true
			_ = w.Close()
			return nil
		}

		if _, err := pump.Tick(dw); err != nil {
			// The pump gives up and drops the pipe on anything other
			// than an interrupted-write condition; the child is
			// allowed to continue regardless.
			return nil
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return nil
		case <-s.doneCh:
			// The child has exited; nothing reads its stdin any more.
			return nil
		}
	}
}

func (s *Supervisor) drain(ch Channel, r io.ReadCloser) error {
	defer r.Close()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.chunks <- chunkEvent{channel: ch, data: data}:
			case <-s.ctx.Done():
				return nil
			}
		}
		if err != nil {
			return nil
		}
	}
}

// Wait drains output until the child exits, delivering each chunk to
// callback (if non-nil) as well as to the OutputBuffer. It is illegal to
// pass a non-nil callback when the mode is ModeOutputDisabled.
func (s *Supervisor) Wait(callback func(data []byte, ch Channel)) error {
	s.mu.Lock()
	if s.state != StateStarted && s.state != StateWaiting {
		s.mu.Unlock()
		return logicError("Wait called in state %s, expected started or waiting", s.state)
	}
	if s.cfg.Mode == ModeOutputDisabled && callback != nil {
		s.mu.Unlock()
		return runtimeError("cannot stream output: this process has output disabled", nil)
	}
	s.state = StateWaiting
	s.waitCallback = callback
	s.mu.Unlock()

	if s.cfg.Mode == ModeTTY {
		return s.waitTTY()
	}

	stopTimeouts := s.runTimeoutEnforcer()
	defer stopTimeouts()

	<-s.outputDone
	<-s.doneCh
	_ = s.updateStatus(true)

	return s.finish()
}

// waitTTY blocks until the tty-attached child exits; there is no
// programmatic output to drain.
func (s *Supervisor) waitTTY() error {
	cmd := s.strategy.Cmd()
	s.waitErr = cmd.Wait()
	s.doneCh = make(chan struct{})
	close(s.doneCh)
	_ = s.updateStatus(true)
	return s.finish()
}

func (s *Supervisor) finish() error {
	s.transitionToTerminated()

	if v := s.timeoutErr.Load(); v != nil {
		return v.(error)
	}

	s.mu.Lock()
	signaled := s.exit.Signaled
	termSig := s.exit.TermSig
	latest := s.latestSignal
	s.mu.Unlock()

	if signaled && termSig != latest {
		return runtimeError(fmtSignaled(termSig), nil)
	}
	return nil
}

func fmtSignaled(sig int) string {
	return "signaled with signal " + itoa(sig)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Supervisor) runTimeoutEnforcer() (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.doneCh:
				return
			case <-ticker.C:
				if err := s.checkTimeout(); err != nil {
					s.timeoutErr.Store(err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// IsRunning reports whether the child is still running (has not exited
// yet), without blocking. It returns false before Start.
func (s *Supervisor) IsRunning() bool {
	if s.doneCh == nil {
		return false
	}
	select {
	case <-s.doneCh:
		return false
	default:
		return true
	}
}

// updateStatus refreshes the exit record. If blocking is true and the
// child is still running, it is meaningless to "drive one transfer
// pass" the way a single-threaded host would: this Go translation's
// stdout/stderr/stdin pumps already run on their own goroutines, so
// updateStatus(true) simply waits briefly for the child to exit instead.
func (s *Supervisor) updateStatus(blocking bool) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateStarted && state != StateWaiting {
		return nil
	}

	running := s.IsRunning()
	if running && blocking {
		select {
		case <-s.doneCh:
			running = false
		case <-time.After(readinessTimeout):
		}
	}

	if running {
		s.mu.Lock()
		s.exit.Running = true
		s.mu.Unlock()
		return nil
	}

	s.mergeExitRecord()
	return nil
}

func (s *Supervisor) mergeExitRecord() {
	cmd := s.strategy.Cmd()
	record := exitRecordFromProcessState(cmd.ProcessState)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The signal-seeded override only matters on a constrained-child
	// runtime: everywhere else the primitive's own wait status already
	// distinguishes a signal-terminated child from one that caught the
	// signal and exited normally, and trusting it is more accurate than
	// the override (e.g. a trap handler that catches the signal and
	// calls exit(42) is not itself signal-terminated).
	if s.fallbackOverride != nil && capabilities().supportConstrainedChild() {
		if s.fallbackOverride.ExitCode != -1 || record.ExitCode == -1 {
			record.ExitCode = s.fallbackOverride.ExitCode
		}
		if s.fallbackOverride.Signaled {
			record.Signaled = true
			record.TermSig = s.fallbackOverride.TermSig
		}
	}

	fallback, haveFallback := s.consumeFallbackRecordLocked()
	if haveFallback {
		// Sideband wins on conflict: it is the only source of truth on
		// constrained-child runtimes where the primitive would
		// otherwise report -1.
		if fallback.ExitCode != -1 || record.ExitCode == -1 {
			record.ExitCode = fallback.ExitCode
		}
		if fallback.Signaled {
			record.Signaled = true
			record.TermSig = fallback.TermSig
		}
	}

	if record.ExitCode == -1 && record.Signaled && record.TermSig > 0 {
		record.ExitCode = 128 + record.TermSig
	}

	record.Running = false
	s.exit = record
}

func (s *Supervisor) consumeFallbackRecordLocked() (ExitRecord, bool) {
	if s.fallbackExitLine == "" && s.fallbackLines != nil {
		select {
		case line, ok := <-s.fallbackLines:
			if ok {
				s.fallbackExitLine = line
			}
		default:
		}
	}
	if s.fallbackExitLine == "" {
		return ExitRecord{}, false
	}
	return ExitRecord{ExitCode: atoiOr(s.fallbackExitLine, -1)}, true
}

// checkTimeout enforces the total and idle clocks, killing the child and
// returning a typed error the instant either elapses. If both would
// trigger in the same tick, whichever deadline passed earlier wins
// (Invariant I-5).
func (s *Supervisor) checkTimeout() error {
	now := time.Now()

	var totalErr, idleErr error
	var totalDeadline, idleDeadline time.Time

	if s.cfg.Timeout > 0 {
		deadline := s.startTime.Add(s.cfg.Timeout)
		if now.After(deadline) {
			totalDeadline = deadline
			totalErr = &TimeoutError{Timeout: s.cfg.Timeout.Seconds()}
		}
	}
	if s.cfg.IdleTimeout > 0 {
		deadline := s.output.LastOutputTime().Add(s.cfg.IdleTimeout)
		if now.After(deadline) {
			idleDeadline = deadline
			idleErr = &IdleTimeoutError{IdleTimeout: s.cfg.IdleTimeout.Seconds()}
		}
	}

	switch {
	case totalErr != nil && idleErr != nil:
		_, _ = s.Kill(0, 0)
		if totalDeadline.Before(idleDeadline) {
			return totalErr
		}
		return idleErr
	case totalErr != nil:
		_, _ = s.Kill(0, 0)
		return totalErr
	case idleErr != nil:
		_, _ = s.Kill(0, 0)
		return idleErr
	default:
		return nil
	}
}

func (s *Supervisor) transitionToTerminated() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.mu.Unlock()

	if s.strategy != nil {
		_ = s.strategy.Close()
	}
	if s.output != nil {
		s.output.Close()
	}
	if s.resourceLimitsCancel != nil {
		s.resourceLimitsCancel()
	}
	if s.resourceLimits != nil {
		_ = s.resourceLimits.Teardown(context.Background())
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.emit("process terminated", nil)
}

// Kill terminates the child, sending the platform default "terminate"
// signal and waiting up to graceSeconds before escalating to signal (or
// the platform default "kill" signal if zero). It then waits for the
// process to exit, for at most defaultKillGrace, and returns the exit
// code recorded at that point.
func (s *Supervisor) Kill(graceSeconds float64, signal int) (int, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateReady || state == StateTerminated {
		return s.ExitRecord().ExitCode, nil
	}
	if !s.IsRunning() {
		_ = s.updateStatus(true)
		return s.ExitRecord().ExitCode, nil
	}

	term := defaultTermSignal()
	s.mu.Lock()
	s.latestSignal = term
	s.mu.Unlock()
	if err := s.sendSignal(term); err == nil {
		s.seedFallbackOverride(term)
	}

	if graceSeconds > 0 {
		deadline := time.Now().Add(time.Duration(graceSeconds * float64(time.Second)))
		for time.Now().Before(deadline) && s.IsRunning() {
			time.Sleep(10 * time.Millisecond)
		}
	}

	if s.IsRunning() {
		kill := signal
		if kill == 0 {
			kill = defaultKillSignal()
		}
		s.mu.Lock()
		s.latestSignal = kill
		s.mu.Unlock()
		if err := s.sendSignal(kill); err == nil {
			s.seedFallbackOverride(kill)
		}
	}

	if s.doneCh != nil {
		select {
		case <-s.doneCh:
		case <-time.After(defaultKillGrace):
		}
	}
	_ = s.updateStatus(true)
	return s.ExitRecord().ExitCode, nil
}

// Signal delivers sig to the real child directly, without the
// grace-period escalation Kill performs. On success it seeds the
// fallback record (signaled=true, exitcode=-1, termsig=sig) so a
// subsequent status query reports a consistent termination cause even
// on a constrained-child runtime, where the fd-3 sideband by itself
// never carries signal information.
func (s *Supervisor) Signal(sig int) error {
	s.mu.Lock()
	s.latestSignal = sig
	s.mu.Unlock()
	if err := s.sendSignal(sig); err != nil {
		return err
	}
	s.seedFallbackOverride(sig)
	return nil
}

// seedFallbackOverride records a successfully delivered signal as the
// fallback exit record mergeExitRecord will fall back on: a consistent
// termination cause even on a constrained-child runtime, where the fd-3
// sideband by itself only ever carries an exit code.
func (s *Supervisor) seedFallbackOverride(sig int) {
	s.mu.Lock()
	s.fallbackOverride = &ExitRecord{Signaled: true, ExitCode: -1, TermSig: sig}
	s.mu.Unlock()
}

// ExitRecord returns a snapshot of the process's exit status.
func (s *Supervisor) ExitRecord() ExitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Output returns the OutputBuffer this Supervisor writes into.
func (s *Supervisor) Output() *OutputBuffer { return s.output }
