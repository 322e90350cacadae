// Package proc is a low-level package that provides the types shared by
// the process backends and the session controller.
//
// proc implements:
//   - the stop status of a traced process (Status)
//   - the session level breakpoint record (BreakpointSet)
//   - frame pointer based stack unwinding (Stacktrace)
//   - address resolution from DWARF debug information (BinaryInfo)
//
// The ptrace backend lives in proc/native.
package proc
