//go:build amd64

package native

import (
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/deetdbg/deet/pkg/proc"
)

// ptraceCont executes ptrace PTRACE_CONT
func (dbp *Process) ptraceCont(sig int) (err error) {
	dbp.execPtraceFunc(func() { err = sys.PtraceCont(dbp.pid, sig) })
	if err != nil {
		return &proc.TracerError{Op: "continue", Err: err}
	}
	return nil
}

// singleStep executes ptrace PTRACE_SINGLESTEP
func (dbp *Process) singleStep(sig int) (err error) {
	dbp.execPtraceFunc(func() {
		_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(dbp.pid), 0, uintptr(sig), 0, 0)
		if e1 != 0 {
			err = e1
		}
	})
	if err != nil {
		return &proc.TracerError{Op: "single step", Err: err}
	}
	return nil
}

func (dbp *Process) peekData(addr uint64, buf []byte) (n int, err error) {
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf) })
	if err == nil && n != len(buf) {
		err = syscall.EIO
	}
	if err != nil {
		return n, &proc.TracerError{Op: "read memory", Addr: addr, Err: err}
	}
	return n, nil
}

func (dbp *Process) pokeData(addr uint64, buf []byte) (err error) {
	var n int
	dbp.execPtraceFunc(func() { n, err = sys.PtracePokeData(dbp.pid, uintptr(addr), buf) })
	if err == nil && n != len(buf) {
		err = syscall.EIO
	}
	if err != nil {
		return &proc.TracerError{Op: "write memory", Addr: addr, Err: err}
	}
	return nil
}

func (dbp *Process) getRegs() (regs *sys.PtraceRegs, err error) {
	regs = new(sys.PtraceRegs)
	dbp.execPtraceFunc(func() { err = sys.PtraceGetRegs(dbp.pid, regs) })
	if err != nil {
		return nil, &proc.TracerError{Op: "get registers", Err: err}
	}
	return regs, nil
}

func (dbp *Process) setRegs(regs *sys.PtraceRegs) (err error) {
	dbp.execPtraceFunc(func() { err = sys.PtraceSetRegs(dbp.pid, regs) })
	if err != nil {
		return &proc.TracerError{Op: "set registers", Err: err}
	}
	return nil
}
