//go:build amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/deetdbg/deet/pkg/proc"
)

const (
	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// Launch creates and begins debugging a new process. First entry in
// `cmd` is the program to run, and then rest are the arguments
// to be supplied to that process. `wd` is working directory of the program.
// If `tty` is not empty the process uses it as its controlling terminal,
// otherwise it shares the standard streams of the debugger.
// Launch returns once the process is stopped before its first instruction.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string) (*Process, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("%w: no program specified", proc.ErrSpawn)
	}
	var (
		process *exec.Cmd
		err     error
	)

	dbp := newProcess(0)
	dbp.execPtraceFunc(func() {
		if flags&proc.LaunchDisableASLR != 0 {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}

		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
		if tty != "" {
			dbp.ctty, err = attachProcessToTTY(process, tty)
			if err != nil {
				return
			}
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		dbp.postExit()
		return nil, fmt.Errorf("%w: %v", proc.ErrSpawn, err)
	}
	dbp.pid = process.Process.Pid
	dbp.log.Debugf("launched %q as pid %d", cmd, dbp.pid)

	st, err := dbp.Wait()
	if err != nil {
		dbp.Kill()
		return nil, fmt.Errorf("%w: waiting for target execve failed: %v", proc.ErrSpawn, err)
	}
	if _, stopped := st.(proc.Stopped); !stopped {
		dbp.postExit()
		return nil, fmt.Errorf("%w: unexpected initial status: %s", proc.ErrSpawn, st)
	}
	return dbp, nil
}

// Resume continues the process without waiting for it to stop.
func (dbp *Process) Resume() error {
	if dbp.exited {
		return dbp.exitedError()
	}
	if err := dbp.ptraceCont(dbp.pendingSignal()); err != nil {
		return err
	}
	dbp.status = proc.Running{}
	return nil
}

// StepInstruction executes a single instruction without waiting for the
// process to stop.
func (dbp *Process) StepInstruction() error {
	if dbp.exited {
		return dbp.exitedError()
	}
	if err := dbp.singleStep(dbp.pendingSignal()); err != nil {
		return err
	}
	dbp.status = proc.Running{}
	return nil
}

// pendingSignal is the signal delivered when the process is resumed.
func (dbp *Process) pendingSignal() int {
	if st, ok := dbp.status.(proc.Stopped); ok && proc.ForwardSignal(st.Signal) {
		return int(st.Signal)
	}
	return 0
}

// Wait blocks until the status of the process changes.
func (dbp *Process) Wait() (proc.Status, error) {
	if dbp.exited {
		return dbp.status, dbp.exitedError()
	}
	ws, err := dbp.wait()
	if err != nil {
		return nil, err
	}
	switch {
	case ws.Exited():
		dbp.status = proc.Exited{Code: ws.ExitStatus()}
		dbp.postExit()
	case ws.Signaled():
		dbp.status = proc.Signaled{Signal: ws.Signal()}
		dbp.postExit()
	case ws.Stopped():
		regs, err := dbp.Registers()
		if err != nil {
			return nil, err
		}
		dbp.status = proc.Stopped{Signal: ws.StopSignal(), PC: regs.Rip}
	default:
		return nil, &proc.TracerError{Op: "wait", Err: fmt.Errorf("unexpected wait status %#x", uint32(ws))}
	}
	dbp.log.Debugf("wait: %s", dbp.status)
	return dbp.status, nil
}

func (dbp *Process) wait() (sys.WaitStatus, error) {
	var ws sys.WaitStatus
	for {
		_, err := sys.Wait4(dbp.pid, &ws, sys.WALL, nil)
		if errors.Is(err, sys.EINTR) {
			continue
		}
		if err != nil {
			return ws, &proc.TracerError{Op: "wait", Err: err}
		}
		return ws, nil
	}
}

// Kill terminates and reaps the process. Termination by SIGKILL is
// reported as Exited with code 0.
func (dbp *Process) Kill() (proc.Status, error) {
	if dbp.exited {
		return dbp.status, nil
	}
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		dbp.postExit()
		return nil, &proc.TracerError{Op: "kill", Err: err}
	}
	for {
		ws, err := dbp.wait()
		if err != nil {
			dbp.postExit()
			return nil, err
		}
		switch {
		case ws.Stopped():
			// signal-delivery-stops queued before the kill
			continue
		case ws.Signaled() && ws.Signal() == sys.SIGKILL:
			dbp.status = proc.Exited{Code: 0}
			dbp.postExit()
			return dbp.status, nil
		case ws.Signaled():
			dbp.status = proc.Signaled{Signal: ws.Signal()}
		case ws.Exited():
			dbp.status = proc.Exited{Code: ws.ExitStatus()}
		default:
			continue
		}
		dbp.postExit()
		return dbp.status, fmt.Errorf("%w: %s", proc.ErrKillDesync, dbp.status)
	}
}
