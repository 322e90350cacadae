package proc

import (
	"errors"
	"fmt"
	"sort"
	"syscall"

	"github.com/deetdbg/deet/pkg/locspec"
)

// Breakpoint is a session level breakpoint record. It outlives the
// processes it is armed in.
type Breakpoint struct {
	// ID is the position of the breakpoint among the distinct addresses
	// recorded in the session.
	ID   int
	Addr uint64

	// File & line information for printing.
	FunctionName string
	File         string
	Line         int
}

func (bp *Breakpoint) String() string {
	if bp.File == "" {
		return fmt.Sprintf("Breakpoint %d at %#x", bp.ID, bp.Addr)
	}
	return fmt.Sprintf("Breakpoint %d at %#x for %s() %s:%d", bp.ID, bp.Addr, bp.FunctionName, bp.File, bp.Line)
}

// BreakpointSet records the breakpoints of a debugging session.
type BreakpointSet struct {
	byID   []*Breakpoint
	byAddr map[uint64]*Breakpoint
}

// NewBreakpointSet returns an empty BreakpointSet.
func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{byAddr: make(map[uint64]*Breakpoint)}
}

// Resolve returns the address spec refers to.
func Resolve(spec locspec.Spec, r Resolver) (uint64, error) {
	var (
		addr uint64
		ok   bool
	)
	switch s := spec.(type) {
	case *locspec.AddrSpec:
		addr, ok = s.Addr, true
	case *locspec.LineSpec:
		addr, ok = r.LineToPC(s.File, s.Line)
	case *locspec.FuncSpec:
		addr, ok = r.FunctionToPC(s.Name)
	default:
		return 0, fmt.Errorf("unknown location spec %T", spec)
	}
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnresolvedBreakpoint, spec)
	}
	return addr, nil
}

// Add resolves spec and records the resulting address. If the address is
// already recorded the existing breakpoint is returned and the second
// return value is false.
func (bps *BreakpointSet) Add(spec locspec.Spec, r Resolver) (*Breakpoint, bool, error) {
	addr, err := Resolve(spec, r)
	if err != nil {
		return nil, false, err
	}
	bp, added := bps.AddAddr(addr, r)
	return bp, added, nil
}

// AddAddr records addr, de-duplicating it against existing records.
func (bps *BreakpointSet) AddAddr(addr uint64, r Resolver) (*Breakpoint, bool) {
	if bp, ok := bps.byAddr[addr]; ok {
		return bp, false
	}
	bp := &Breakpoint{ID: len(bps.byID), Addr: addr}
	if r != nil {
		bp.FunctionName, _ = r.PCToFunc(addr)
		bp.File, bp.Line, _ = r.PCToLine(addr)
	}
	bps.byID = append(bps.byID, bp)
	bps.byAddr[addr] = bp
	return bp, true
}

// ApplyAll arms every recorded breakpoint in p, in ID order. A freshly
// started process image has no breakpoints armed. Breakpoints that can not
// be armed are skipped, the returned error joins their failures.
func (bps *BreakpointSet) ApplyAll(p BreakpointInserter) error {
	var errs []error
	for _, bp := range bps.byID {
		if err := p.InsertBreakpoint(bp.Addr); err != nil {
			errs = append(errs, fmt.Errorf("could not set breakpoint %d at %#x: %w", bp.ID, bp.Addr, err))
		}
	}
	return errors.Join(errs...)
}

// Find returns the breakpoint recorded at addr.
func (bps *BreakpointSet) Find(addr uint64) (*Breakpoint, bool) {
	bp, ok := bps.byAddr[addr]
	return bp, ok
}

// List returns all breakpoints in ID order.
func (bps *BreakpointSet) List() []*Breakpoint {
	r := make([]*Breakpoint, len(bps.byID))
	copy(r, bps.byID)
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// Len returns the number of recorded breakpoints.
func (bps *BreakpointSet) Len() int {
	return len(bps.byID)
}

// maxStepAttempts bounds the single steps retried when a signal that is
// not delivered to the process interrupts the step.
const maxStepAttempts = 16

// BreakpointStepper is a stopped process that can step over the software
// breakpoint it is parked on.
type BreakpointStepper interface {
	BreakpointInserter
	Pid() int
	Recover(addr uint64) error
	SetPC(pc uint64) error
	// StepInstruction executes a single instruction, delivering the signal
	// the process is stopped with when ForwardSignal allows it.
	StepInstruction() error
	Wait() (Status, error)
}

// StepOverBreakpoint executes the original instruction at addr and
// re-arms the breakpoint. The process must be parked on the trap at addr.
//
// A failure before the instruction is stepped re-arms the breakpoint, so
// the process traps at addr again when resumed. A failure while waiting
// for the step is returned as is and leaves the breakpoint disarmed.
//
// If a signal that is delivered to the process interrupts the step, the
// instruction has not run: the breakpoint is re-armed and the process is
// left stopped with that signal at addr. Other signals are dropped and the
// step is retried.
func StepOverBreakpoint(p BreakpointStepper, addr uint64) error {
	if err := p.Recover(addr); err != nil {
		return err
	}
	if err := p.SetPC(addr); err != nil {
		return rearm(p, addr, err)
	}
	for i := 0; i < maxStepAttempts; i++ {
		if err := p.StepInstruction(); err != nil {
			return rearm(p, addr, err)
		}
		st, err := p.Wait()
		if err != nil {
			return err
		}
		stop, ok := st.(Stopped)
		if !ok {
			return ExitedError(p.Pid(), st)
		}
		if stop.Signal == syscall.SIGTRAP || ForwardSignal(stop.Signal) {
			return p.InsertBreakpoint(addr)
		}
	}
	return &TracerError{Op: "single step", Addr: addr, Err: fmt.Errorf("interrupted %d times", maxStepAttempts)}
}

func rearm(p BreakpointInserter, addr uint64, cause error) error {
	if err := p.InsertBreakpoint(addr); err != nil {
		return fmt.Errorf("%w (breakpoint at %#x left disarmed: %v)", cause, addr, err)
	}
	return cause
}
