//go:build !linux || !amd64

package native

import (
	"io"

	"github.com/deetdbg/deet/pkg/proc"
)

// Process is not implemented on this platform.
type Process struct{}

// Launch returns ErrNativeBackendDisabled.
func Launch(_ []string, _ string, _ proc.LaunchFlags, _ string) (*Process, error) {
	return nil, proc.ErrNativeBackendDisabled
}

func (dbp *Process) Pid() int                            { return 0 }
func (dbp *Process) Exited() bool                        { return true }
func (dbp *Process) Status() proc.Status                 { return proc.Exited{} }
func (dbp *Process) Breakpoints() []uint64               { return nil }
func (dbp *Process) Resume() error                       { return proc.ErrNativeBackendDisabled }
func (dbp *Process) Wait() (proc.Status, error)          { return nil, proc.ErrNativeBackendDisabled }
func (dbp *Process) InsertBreakpoint(uint64) error       { return proc.ErrNativeBackendDisabled }
func (dbp *Process) Recover(uint64) error                { return proc.ErrNativeBackendDisabled }
func (dbp *Process) SetPC(uint64) error                  { return proc.ErrNativeBackendDisabled }
func (dbp *Process) StepInstruction() error              { return proc.ErrNativeBackendDisabled }
func (dbp *Process) ContinueFromBreakpoint(uint64) error { return proc.ErrNativeBackendDisabled }
func (dbp *Process) FindActiveBreakpoint() (uint64, bool, error) {
	return 0, false, proc.ErrNativeBackendDisabled
}
func (dbp *Process) PatchByte(uint64, byte) (byte, error) { return 0, proc.ErrNativeBackendDisabled }
func (dbp *Process) ReadMemory([]byte, uint64) (int, error) {
	return 0, proc.ErrNativeBackendDisabled
}
func (dbp *Process) ReadWord(uint64) (uint64, error) { return 0, proc.ErrNativeBackendDisabled }
func (dbp *Process) Stacktrace(proc.Resolver, int) ([]proc.Stackframe, error) {
	return nil, proc.ErrNativeBackendDisabled
}
func (dbp *Process) Backtrace(io.Writer, proc.Resolver, int) error {
	return proc.ErrNativeBackendDisabled
}
func (dbp *Process) Kill() (proc.Status, error) { return nil, proc.ErrNativeBackendDisabled }
