//go:build linux && amd64

package native

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/deetdbg/deet/pkg/logflags"
	"github.com/deetdbg/deet/pkg/proc"
)

// trapByte is the int3 instruction.
const trapByte = 0xCC

// Process represents all of the information the debugger
// is holding onto regarding the process we are debugging.
type Process struct {
	pid int // Process Pid

	// breakpoints maps the address of every breakpoint armed in this
	// process image to the byte the trap instruction replaced.
	breakpoints map[uint64]byte

	status proc.Status

	ctty           *os.File
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	exitOnce       sync.Once

	exited bool
	log    *logrus.Entry
}

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *Process {
	dbp := &Process{
		pid:            pid,
		breakpoints:    make(map[uint64]byte),
		status:         proc.Running{},
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.NativeLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Exited returns whether the debugged
// process has exited.
func (dbp *Process) Exited() bool {
	return dbp.exited
}

// Status returns the status observed by the last wait.
func (dbp *Process) Status() proc.Status {
	return dbp.status
}

// Breakpoints returns the addresses of the breakpoints currently armed in
// the process, sorted.
func (dbp *Process) Breakpoints() []uint64 {
	r := make([]uint64, 0, len(dbp.breakpoints))
	for addr := range dbp.breakpoints {
		r = append(r, addr)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// InsertBreakpoint arms a breakpoint at addr. Inserting an address that is
// already armed does nothing.
func (dbp *Process) InsertBreakpoint(addr uint64) error {
	if dbp.exited {
		return dbp.exitedError()
	}
	if _, armed := dbp.breakpoints[addr]; armed {
		return nil
	}
	orig, err := dbp.PatchByte(addr, trapByte)
	if err != nil {
		return err
	}
	dbp.breakpoints[addr] = orig
	dbp.log.Debugf("armed breakpoint at %#x (original byte %#02x)", addr, orig)
	return nil
}

// Recover disarms the breakpoint at addr, restoring the original byte.
func (dbp *Process) Recover(addr uint64) error {
	if dbp.exited {
		return dbp.exitedError()
	}
	orig, armed := dbp.breakpoints[addr]
	if !armed {
		return fmt.Errorf("%w %#x", proc.ErrMissingBreakpoint, addr)
	}
	if _, err := dbp.PatchByte(addr, orig); err != nil {
		return err
	}
	delete(dbp.breakpoints, addr)
	dbp.log.Debugf("disarmed breakpoint at %#x", addr)
	return nil
}

// ContinueFromBreakpoint executes the original instruction at addr, where
// the process is parked after hitting the breakpoint, and re-arms the
// breakpoint. The process is left stopped after the instruction, or before
// it if a signal interrupted the step.
func (dbp *Process) ContinueFromBreakpoint(addr uint64) error {
	return proc.StepOverBreakpoint(dbp, addr)
}

// FindActiveBreakpoint returns the address of the breakpoint the process
// is parked on. The trap leaves the instruction pointer one byte past the
// breakpoint.
func (dbp *Process) FindActiveBreakpoint() (uint64, bool, error) {
	if dbp.exited {
		return 0, false, dbp.exitedError()
	}
	st, ok := dbp.status.(proc.Stopped)
	if !ok || st.Signal != sys.SIGTRAP {
		return 0, false, nil
	}
	regs, err := dbp.Registers()
	if err != nil {
		return 0, false, err
	}
	addr := regs.Rip - 1
	if _, armed := dbp.breakpoints[addr]; !armed {
		return 0, false, nil
	}
	return addr, true, nil
}

// Stacktrace returns the frames of the stopped process.
func (dbp *Process) Stacktrace(r proc.Resolver, depth int) ([]proc.Stackframe, error) {
	if dbp.exited {
		return nil, dbp.exitedError()
	}
	regs, err := dbp.Registers()
	if err != nil {
		return nil, err
	}
	pc := regs.Rip
	if addr, ok, _ := dbp.FindActiveBreakpoint(); ok {
		pc = addr
	}
	return proc.Stacktrace(dbp, r, pc, regs.Rbp, depth)
}

// Backtrace prints the frames of the stopped process to w.
func (dbp *Process) Backtrace(w io.Writer, r proc.Resolver, depth int) error {
	frames, err := dbp.Stacktrace(r, depth)
	proc.PrintStacktrace(w, frames)
	return err
}

func (dbp *Process) exitedError() error {
	return proc.ExitedError(dbp.pid, dbp.status)
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_TRACEME to come from the thread that started the process.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

func (dbp *Process) postExit() {
	dbp.exitOnce.Do(func() {
		dbp.exited = true
		close(dbp.ptraceChan)
		if dbp.ctty != nil {
			dbp.ctty.Close()
		}
		dbp.log.Debugf("process %d gone: %s", dbp.pid, dbp.status)
	})
}
