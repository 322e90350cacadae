package proc

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Status is the execution status of a traced process as observed by the
// last wait. It is one of Stopped, Exited, Signaled or Running.
type Status interface {
	fmt.Stringer
	status()
}

// Stopped means the process is parked by the tracer after receiving
// Signal, with the instruction pointer at PC.
type Stopped struct {
	Signal syscall.Signal
	PC     uint64
}

// Exited means the process terminated normally with exit code Code.
type Exited struct {
	Code int
}

// Signaled means the process was terminated by Signal.
type Signaled struct {
	Signal syscall.Signal
}

// Running is the transient status between a resume and the next wait.
type Running struct{}

func (Stopped) status()  {}
func (Exited) status()   {}
func (Signaled) status() {}
func (Running) status()  {}

func (s Stopped) String() string {
	return fmt.Sprintf("Child stopped (signal %s)", SignalName(s.Signal))
}

func (s Exited) String() string {
	return fmt.Sprintf("Child exited (status %d)", s.Code)
}

func (s Signaled) String() string {
	return fmt.Sprintf("Child signaled (signal %s)", SignalName(s.Signal))
}

func (Running) String() string {
	return "Child running"
}

// SignalName returns the conventional name of sig, e.g. SIGTRAP.
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// Alive reports whether a process in status st still exists.
func Alive(st Status) bool {
	switch st.(type) {
	case Stopped, Running:
		return true
	case Exited, Signaled:
		return false
	}
	return false
}

// ForwardSignal reports whether the signal a process is stopped with
// should be delivered when it is resumed. Traps belong to the debugger and
// an interrupt typed at the terminal is meant to stop the process, not to
// terminate it.
func ForwardSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGTRAP, syscall.SIGSTOP, syscall.SIGINT:
		return false
	}
	return true
}
