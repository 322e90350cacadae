//go:build linux && amd64

package native

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/deetdbg/deet/pkg/proc"
	protest "github.com/deetdbg/deet/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func withTestProcess(t *testing.T, name string, fn func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture)) {
	t.Helper()
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, name)
	bi, err := proc.LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)
	p, err := Launch([]string{fixture.Path}, ".", proc.LaunchDisableASLR, "")
	require.NoError(t, err)
	defer p.Kill()
	fn(p, bi, fixture)
}

func lineAddr(t *testing.T, bi *proc.BinaryInfo, fixture protest.Fixture, marker string) uint64 {
	t.Helper()
	addr, ok := bi.LineToPC("", protest.FindLine(t, fixture, marker))
	require.True(t, ok, "no address for %s", marker)
	return addr
}

func readByte(t *testing.T, p *Process, addr uint64) byte {
	t.Helper()
	var b [1]byte
	_, err := p.ReadMemory(b[:], addr)
	require.NoError(t, err)
	return b[0]
}

func resumeAndWait(t *testing.T, p *Process) proc.Status {
	t.Helper()
	require.NoError(t, p.Resume())
	st, err := p.Wait()
	require.NoError(t, err)
	return st
}

func TestLaunchStopsBeforeFirstInstruction(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		st, ok := p.Status().(proc.Stopped)
		require.True(t, ok, "got %s", p.Status())
		assert.Equal(t, syscall.SIGTRAP, st.Signal)

		regs, err := p.Registers()
		require.NoError(t, err)
		assert.Equal(t, regs.Rip, st.PC)
		_, inProgram := bi.PCToFunc(st.PC)
		assert.False(t, inProgram, "no user code runs before the first resume")

		_, active, err := p.FindActiveBreakpoint()
		require.NoError(t, err)
		assert.False(t, active, "the exec trap is not a breakpoint")
	})
}

func TestLaunchMissingBinary(t *testing.T) {
	protest.MustSupportPtrace(t)
	_, err := Launch([]string{"/nonexistent/deet-fixture"}, "", 0, "")
	assert.True(t, errors.Is(err, proc.ErrSpawn), "got %v", err)
	_, err = Launch(nil, "", 0, "")
	assert.True(t, errors.Is(err, proc.ErrSpawn), "got %v", err)
}

func TestInsertBreakpoint(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		addr, ok := bi.FunctionToPC("inner")
		require.True(t, ok)
		orig := readByte(t, p, addr)
		require.NotEqual(t, byte(trapByte), orig)

		require.NoError(t, p.InsertBreakpoint(addr))
		assert.Equal(t, byte(trapByte), readByte(t, p, addr))
		assert.Equal(t, orig, p.breakpoints[addr])

		// Inserting twice must not record the trap as the original byte.
		require.NoError(t, p.InsertBreakpoint(addr))
		assert.Equal(t, []uint64{addr}, p.Breakpoints())
		assert.Equal(t, orig, p.breakpoints[addr])

		require.NoError(t, p.Recover(addr))
		assert.Equal(t, orig, readByte(t, p, addr))
		assert.Empty(t, p.Breakpoints())

		err := p.Recover(addr)
		assert.True(t, errors.Is(err, proc.ErrMissingBreakpoint), "got %v", err)
	})
}

func TestPatchByteKeepsNeighbours(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		addr, ok := bi.FunctionToPC("outer")
		require.True(t, ok)
		aligned := addr &^ 7

		before := make([]byte, 16)
		_, err := p.ReadMemory(before, aligned)
		require.NoError(t, err)

		for _, off := range []uint64{0, 3, 7} {
			old, err := p.PatchByte(aligned+off, 0x90)
			require.NoError(t, err)
			assert.Equal(t, before[off], old)

			after := make([]byte, 16)
			_, err = p.ReadMemory(after, aligned)
			require.NoError(t, err)
			for i := range after {
				if uint64(i) == off {
					assert.Equal(t, byte(0x90), after[i])
				} else {
					assert.Equal(t, before[i], after[i], "byte %d changed when patching %d", i, off)
				}
			}

			_, err = p.PatchByte(aligned+off, old)
			require.NoError(t, err)
		}
	})
}

func TestContinueFromBreakpoint(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		addr := lineAddr(t, bi, fixture, "inner-body")

		code := make([]byte, 16)
		_, err := p.ReadMemory(code, addr)
		require.NoError(t, err)
		inst, err := x86asm.Decode(code, 64)
		require.NoError(t, err)

		require.NoError(t, p.InsertBreakpoint(addr))

		// inner is called three times.
		for i := 0; i < 3; i++ {
			st := resumeAndWait(t, p)
			require.Equal(t, proc.Stopped{Signal: syscall.SIGTRAP, PC: addr + 1}, st, "hit %d", i)

			active, ok, err := p.FindActiveBreakpoint()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, addr, active)

			require.NoError(t, p.ContinueFromBreakpoint(addr))
			regs, err := p.Registers()
			require.NoError(t, err)
			assert.Equal(t, addr+uint64(inst.Len), regs.Rip, "the patched instruction must have executed")
			assert.Equal(t, byte(trapByte), readByte(t, p, addr), "breakpoint must be re-armed")

			_, ok, err = p.FindActiveBreakpoint()
			require.NoError(t, err)
			assert.False(t, ok)
		}

		assert.Equal(t, proc.Exited{Code: 0}, resumeAndWait(t, p))
		assert.True(t, p.Exited())
	})
}

func TestSignalStopIsNotABreakpoint(t *testing.T) {
	withTestProcess(t, "segfault", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		crash := lineAddr(t, bi, fixture, "crash")
		require.NoError(t, p.InsertBreakpoint(crash))

		st := resumeAndWait(t, p)
		require.Equal(t, proc.Stopped{Signal: syscall.SIGTRAP, PC: crash + 1}, st)
		require.NoError(t, p.ContinueFromBreakpoint(crash))

		st = resumeAndWait(t, p)
		stopped, ok := st.(proc.Stopped)
		require.True(t, ok, "got %s", st)
		assert.Equal(t, syscall.SIGSEGV, stopped.Signal)
		_, active, err := p.FindActiveBreakpoint()
		require.NoError(t, err)
		assert.False(t, active)

		// The pending SIGSEGV is delivered on resume.
		assert.Equal(t, proc.Signaled{Signal: syscall.SIGSEGV}, resumeAndWait(t, p))
	})
}

func TestStepInterruptedByFault(t *testing.T) {
	withTestProcess(t, "segfault", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		crash := lineAddr(t, bi, fixture, "crash")
		code := make([]byte, 32)
		_, err := p.ReadMemory(code, crash)
		require.NoError(t, err)
		load, err := x86asm.Decode(code, 64)
		require.NoError(t, err)
		inst, err := x86asm.Decode(code[load.Len:], 64)
		require.NoError(t, err)
		_, isStore := inst.Args[0].(x86asm.Mem)
		require.True(t, isStore, "expected a store through the null pointer, got %v", inst)
		store := crash + uint64(load.Len)

		require.NoError(t, p.InsertBreakpoint(store))
		require.Equal(t, proc.Stopped{Signal: syscall.SIGTRAP, PC: store + 1}, resumeAndWait(t, p))

		// The store faults, so the step ends before the instruction with
		// the breakpoint armed again.
		require.NoError(t, p.ContinueFromBreakpoint(store))
		assert.Equal(t, proc.Stopped{Signal: syscall.SIGSEGV, PC: store}, p.Status())
		assert.Equal(t, byte(trapByte), readByte(t, p, store))
		_, active, err := p.FindActiveBreakpoint()
		require.NoError(t, err)
		assert.False(t, active)

		assert.Equal(t, proc.Signaled{Signal: syscall.SIGSEGV}, resumeAndWait(t, p))
	})
}

func TestContinueFromBreakpointKilled(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		addr := lineAddr(t, bi, fixture, "inner-body")
		require.NoError(t, p.InsertBreakpoint(addr))
		require.Equal(t, proc.Stopped{Signal: syscall.SIGTRAP, PC: addr + 1}, resumeAndWait(t, p))

		require.NoError(t, syscall.Kill(p.Pid(), syscall.SIGKILL))
		protest.WaitZombie(t, p.Pid())

		err := p.ContinueFromBreakpoint(addr)
		var terr *proc.TracerError
		require.True(t, errors.As(err, &terr), "got %v", err)
		assert.True(t, errors.Is(err, syscall.ESRCH), "got %v", err)
		assert.Equal(t, []uint64{addr}, p.Breakpoints())

		st, err := p.Wait()
		require.NoError(t, err)
		assert.Equal(t, proc.Signaled{Signal: syscall.SIGKILL}, st)
		assert.True(t, p.Exited())

		var pe proc.ErrProcessExited
		err = p.ContinueFromBreakpoint(addr)
		require.True(t, errors.As(err, &pe), "got %v", err)
		assert.Equal(t, 128+int(syscall.SIGKILL), pe.Status)
	})
}

func TestKillMissingProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	// The pid has been reaped, kill fails.
	p := newProcess(cmd.Process.Pid)
	_, err := p.Kill()
	var terr *proc.TracerError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.True(t, errors.Is(err, syscall.ESRCH), "got %v", err)
	assert.True(t, p.Exited())

	// The ptrace goroutine is gone.
	_, ok := <-p.ptraceChan
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	withTestProcess(t, "exitcode", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		assert.Equal(t, proc.Exited{Code: 3}, resumeAndWait(t, p))

		err := p.Resume()
		var pe proc.ErrProcessExited
		require.True(t, errors.As(err, &pe), "got %v", err)
		assert.Equal(t, 3, pe.Status)
		assert.Equal(t, p.Pid(), pe.Pid)
	})
}

func TestKill(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		pid := p.Pid()
		st, err := p.Kill()
		require.NoError(t, err)
		assert.Equal(t, proc.Exited{Code: 0}, st)
		assert.True(t, p.Exited())

		// The child has been reaped.
		assert.Equal(t, syscall.ESRCH, syscall.Kill(pid, 0))

		st, err = p.Kill()
		require.NoError(t, err)
		assert.Equal(t, proc.Exited{Code: 0}, st)
	})
}

func TestStacktrace(t *testing.T) {
	withTestProcess(t, "breakpoints", func(p *Process, bi *proc.BinaryInfo, fixture protest.Fixture) {
		addr := lineAddr(t, bi, fixture, "inner-body")
		require.NoError(t, p.InsertBreakpoint(addr))
		resumeAndWait(t, p)

		frames, err := p.Stacktrace(bi, 64)
		require.NoError(t, err)
		require.Len(t, frames, 3)
		want := []struct {
			fn     string
			marker string
		}{
			{"inner", "inner-body"},
			{"outer", "outer-call"},
			{"main", "main-call"},
		}
		for i, w := range want {
			assert.Equal(t, w.fn, frames[i].Function)
			assert.Equal(t, protest.FindLine(t, fixture, w.marker), frames[i].Line, "frame %d", i)
		}

		frames, err = p.Stacktrace(bi, 1)
		require.NoError(t, err)
		assert.Len(t, frames, 1)
	})
}

func TestLaunchWithTTY(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "ttyprog")

	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := ptmx.Read(buf); err != nil {
				return
			}
		}
	}()

	p, err := Launch([]string{fixture.Path}, "", proc.LaunchDisableASLR, tty.Name())
	require.NoError(t, err)
	defer p.Kill()
	assert.Equal(t, proc.Exited{Code: 0}, resumeAndWait(t, p))

	_, err = Launch([]string{fixture.Path}, "", 0, os.DevNull)
	assert.True(t, errors.Is(err, proc.ErrSpawn), "got %v", err)
}
