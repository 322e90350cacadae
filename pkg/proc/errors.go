package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn is returned when the target could not be started or did not
	// stop on its first instruction.
	ErrSpawn = errors.New("could not launch process")

	// ErrUnresolvedBreakpoint is returned when a location spec does not
	// match any address of the program.
	ErrUnresolvedBreakpoint = errors.New("could not find breakpoint location")

	// ErrMissingBreakpoint is returned when a breakpoint is recovered at an
	// address that has no armed patch. It signals broken sequencing in the
	// caller.
	ErrMissingBreakpoint = errors.New("no breakpoint bookkeeping for address")

	// ErrKillDesync is returned when a killed process reports a status
	// other than termination by SIGKILL.
	ErrKillDesync = errors.New("unexpected status after kill")

	// ErrNativeBackendDisabled is returned by the native backend on
	// platforms it does not support.
	ErrNativeBackendDisabled = errors.New("native backend disabled during compilation")
)

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// ExitedError returns the ErrProcessExited for a process that ended with
// st. Termination by a signal is reported as status 128+signal.
func ExitedError(pid int, st Status) error {
	code := 0
	switch st := st.(type) {
	case Exited:
		code = st.Code
	case Signaled:
		code = 128 + int(st.Signal)
	}
	return ErrProcessExited{Pid: pid, Status: code}
}

// TracerError is a failure of a request to the OS tracer interface.
type TracerError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *TracerError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s at %#x: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TracerError) Unwrap() error {
	return e.Err
}
