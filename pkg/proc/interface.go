package proc

import "io"

// Resolver maps between source level locations and addresses of the
// program being debugged.
type Resolver interface {
	// LineToPC returns the first statement address of line in file. An
	// empty file means the file that defines the entry function.
	LineToPC(file string, line int) (uint64, bool)
	// FunctionToPC returns the first address after the prologue of the
	// named function.
	FunctionToPC(name string) (uint64, bool)
	PCToLine(pc uint64) (file string, line int, ok bool)
	PCToFunc(pc uint64) (string, bool)
	// EntryFunction is the function where backtraces stop.
	EntryFunction() string
}

// BreakpointInserter arms breakpoints in a process image.
type BreakpointInserter interface {
	InsertBreakpoint(addr uint64) error
}

// MemoryReader reads word sized values from the memory of a stopped
// process.
type MemoryReader interface {
	ReadWord(addr uint64) (uint64, error)
}

// LaunchFlags modify how a process is started.
type LaunchFlags uint8

const (
	// LaunchDisableASLR starts the process with address space layout
	// randomization turned off.
	LaunchDisableASLR LaunchFlags = 1 << iota
)

// Process is a traced child process. Implementations are not safe for
// concurrent use and every method except Pid requires the process to be
// stopped.
type Process interface {
	BreakpointInserter

	Pid() int
	// Resume continues the process without waiting for it to stop.
	Resume() error
	// Wait blocks until the status of the process changes.
	Wait() (Status, error)
	// Status returns the status observed by the last Wait.
	Status() Status
	// ContinueFromBreakpoint steps over the breakpoint at addr, which the
	// process is currently parked on, and re-arms it.
	ContinueFromBreakpoint(addr uint64) error
	// FindActiveBreakpoint returns the address of the breakpoint the
	// process is parked on, if any.
	FindActiveBreakpoint() (uint64, bool, error)
	Stacktrace(r Resolver, depth int) ([]Stackframe, error)
	Backtrace(w io.Writer, r Resolver, depth int) error
	// Kill terminates and reaps the process.
	Kill() (Status, error)
}
