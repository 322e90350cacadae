package debugger

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/deetdbg/deet/pkg/config"
	"github.com/deetdbg/deet/pkg/locspec"
	"github.com/deetdbg/deet/pkg/logflags"
	"github.com/deetdbg/deet/pkg/proc"
	"github.com/deetdbg/deet/pkg/proc/native"
)

// ErrNoProcess is returned by commands that need a running process.
var ErrNoProcess = errors.New("the program is not being run")

// LaunchFunc starts cmd stopped before its first instruction.
type LaunchFunc func(cmd []string, wd string, flags proc.LaunchFlags, tty string) (proc.Process, error)

// Debugger service.
//
// Debugger is the session state machine. It owns the breakpoints of the
// session and at most one traced process at a time, restarting the
// process on Run and re-arming every breakpoint in the new image.
type Debugger struct {
	config *Config
	// arguments to launch a new process.
	processArgs  []string
	processMutex sync.Mutex
	target       proc.Process
	resolver     proc.Resolver
	breakpoints  *proc.BreakpointSet
	log          *logrus.Entry
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// WorkingDir is working directory of the new process.
	WorkingDir string

	// DisableASLR launches the process without address space
	// randomization, so that addresses read from the executable are valid.
	DisableASLR bool

	// TTY is the path of the terminal handed to the process, empty means
	// the terminal of the debugger.
	TTY string

	// MaxBacktraceDepth limits the frames of Stacktrace and Backtrace.
	MaxBacktraceDepth int

	// Launch starts the process, the native backend is used when nil.
	Launch LaunchFunc
}

// State is the outcome of a command that let the process run.
type State struct {
	Status proc.Status
	Pid    int
	// PC is the address the process is stopped at. When parked on a
	// breakpoint it is the address of the breakpoint.
	PC         uint64
	Breakpoint *proc.Breakpoint

	Function string
	File     string
	Line     int

	// BreakpointsErr is set by Run when some breakpoints of the session
	// could not be armed in the new process.
	BreakpointsErr error
}

// New creates a new Debugger. ProcessArgs specify the commandline arguments for the
// new process, the first one is the path of the executable resolver was
// loaded from. The process is not started until Run.
func New(conf *Config, processArgs []string, resolver proc.Resolver) (*Debugger, error) {
	if len(processArgs) == 0 {
		return nil, errors.New("no program specified")
	}
	if conf == nil {
		conf = &Config{}
	}
	if conf.Launch == nil {
		conf.Launch = nativeLaunch
	}
	if conf.MaxBacktraceDepth <= 0 {
		conf.MaxBacktraceDepth = config.DefaultMaxBacktraceDepth
	}
	return &Debugger{
		config:      conf,
		processArgs: processArgs,
		resolver:    resolver,
		breakpoints: proc.NewBreakpointSet(),
		log:         logflags.DebuggerLogger(),
	}, nil
}

func nativeLaunch(cmd []string, wd string, flags proc.LaunchFlags, tty string) (proc.Process, error) {
	p, err := native.Launch(cmd, wd, flags, tty)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessPid returns the PID of the process
// the debugger is debugging, 0 if there is none.
func (d *Debugger) ProcessPid() int {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return 0
	}
	return d.target.Pid()
}

// Args returns the command line of the last launched process.
func (d *Debugger) Args() []string {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return append([]string(nil), d.processArgs...)
}

// Run kills the current process, if any, and starts a new one with every
// breakpoint of the session armed. It returns the status of the new
// process at its first stop. If args is empty the arguments of the
// previous run are reused.
func (d *Debugger) Run(args []string) (*State, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if d.target != nil {
		d.log.Infof("killing process %d before restart", d.target.Pid())
		if err := d.kill(); err != nil {
			if !errors.Is(err, proc.ErrKillDesync) {
				return nil, err
			}
			d.log.Warnf("restarting anyway: %v", err)
		}
	}
	if len(args) > 0 {
		d.processArgs = append([]string{d.processArgs[0]}, args...)
	}

	var flags proc.LaunchFlags
	if d.config.DisableASLR {
		flags |= proc.LaunchDisableASLR
	}
	d.log.Infof("launching process with args: %v", d.processArgs)
	p, err := d.config.Launch(d.processArgs, d.config.WorkingDir, flags, d.config.TTY)
	if err != nil {
		return nil, err
	}
	d.target = p
	applyErr := d.breakpoints.ApplyAll(p)
	if applyErr != nil {
		d.log.Warnf("process %d: %v", p.Pid(), applyErr)
	}
	state, err := d.resume()
	if err != nil {
		return nil, err
	}
	state.BreakpointsErr = applyErr
	return state, nil
}

// Continue resumes the process until its next stop, stepping over the
// breakpoint it is parked on.
func (d *Debugger) Continue() (*State, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if d.target == nil {
		return nil, ErrNoProcess
	}
	addr, parked, err := d.target.FindActiveBreakpoint()
	if err != nil {
		return d.tracerFailure(err)
	}
	if parked {
		d.log.Debugf("stepping over breakpoint at %#x", addr)
		if err := d.target.ContinueFromBreakpoint(addr); err != nil {
			var pe proc.ErrProcessExited
			if errors.As(err, &pe) {
				return d.report(d.target.Status()), nil
			}
			return d.tracerFailure(err)
		}
		if st, ok := d.target.Status().(proc.Stopped); ok && st.Signal != sys.SIGTRAP {
			// the step was interrupted before the instruction ran
			return d.report(st), nil
		}
	}
	return d.resume()
}

func (d *Debugger) resume() (*State, error) {
	if err := d.target.Resume(); err != nil {
		return d.tracerFailure(err)
	}
	st, err := d.target.Wait()
	if err != nil {
		return d.tracerFailure(err)
	}
	return d.report(st), nil
}

// tracerFailure handles a failed request to the current process. A
// process that no longer exists for the tracer is reaped and reported, so
// that the session can go on.
func (d *Debugger) tracerFailure(err error) (*State, error) {
	if !errors.Is(err, sys.ESRCH) {
		return nil, err
	}
	st, werr := d.target.Wait()
	if werr != nil || proc.Alive(st) {
		d.log.Errorf("process %d: %v", d.target.Pid(), err)
		return nil, err
	}
	d.log.Warnf("process %d died: %v", d.target.Pid(), err)
	return d.report(st), nil
}

// report builds the State for st. Processes that are gone are dropped.
func (d *Debugger) report(st proc.Status) *State {
	state := &State{Status: st, Pid: d.target.Pid()}
	switch st := st.(type) {
	case proc.Stopped:
		state.PC = st.PC
		if addr, ok, _ := d.target.FindActiveBreakpoint(); ok {
			state.PC = addr
			state.Breakpoint, _ = d.breakpoints.Find(addr)
		}
		state.Function, _ = d.resolver.PCToFunc(state.PC)
		state.File, state.Line, _ = d.resolver.PCToLine(state.PC)
	case proc.Exited, proc.Signaled:
		d.log.Debugf("process %d: %s", state.Pid, st)
		d.target = nil
	case proc.Running:
	}
	return state
}

// Break records a breakpoint at the location described by locStr and arms
// it in the current process. The second return value is false if a
// breakpoint already existed at that address.
func (d *Debugger) Break(locStr string) (*proc.Breakpoint, bool, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	spec, err := locspec.Parse(locStr)
	if err != nil {
		return nil, false, err
	}
	addr, err := proc.Resolve(spec, d.resolver)
	if err != nil {
		return nil, false, err
	}
	if bp, ok := d.breakpoints.Find(addr); ok {
		return bp, false, nil
	}
	if d.target != nil {
		if err := d.target.InsertBreakpoint(addr); err != nil {
			return nil, false, fmt.Errorf("could not set breakpoint at %#x: %w", addr, err)
		}
	}
	bp, added := d.breakpoints.AddAddr(addr, d.resolver)
	d.log.Infof("created %s", bp)
	return bp, added, nil
}

// Breakpoints returns the breakpoints of the session.
func (d *Debugger) Breakpoints() []*proc.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.breakpoints.List()
}

// Stacktrace returns the frames of the stopped process.
func (d *Debugger) Stacktrace() ([]proc.Stackframe, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return nil, ErrNoProcess
	}
	return d.target.Stacktrace(d.resolver, d.config.MaxBacktraceDepth)
}

// Backtrace prints the frames of the stopped process to w.
func (d *Debugger) Backtrace(w io.Writer) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return ErrNoProcess
	}
	return d.target.Backtrace(w, d.resolver, d.config.MaxBacktraceDepth)
}

// Quit kills the current process, if any.
func (d *Debugger) Quit() error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return nil
	}
	return d.kill()
}

// kill terminates the current process. The process is forgotten even if
// killing it failed.
func (d *Debugger) kill() error {
	p := d.target
	d.target = nil
	st, err := p.Kill()
	if err != nil {
		return fmt.Errorf("could not kill process %d: %w", p.Pid(), err)
	}
	d.log.Debugf("killed process %d: %s", p.Pid(), st)
	return nil
}
