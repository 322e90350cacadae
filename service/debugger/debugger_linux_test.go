//go:build linux && amd64

package debugger

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deetdbg/deet/pkg/proc"
	protest "github.com/deetdbg/deet/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func TestNativeSession(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "breakpoints")
	bi, err := proc.LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)

	d, err := New(&Config{DisableASLR: true}, []string{fixture.Path}, bi)
	require.NoError(t, err)
	defer d.Quit()

	bp, added, err := d.Break("inner")
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, 0, bp.ID)
	assert.Equal(t, "inner", bp.FunctionName)

	state, err := d.Run(nil)
	require.NoError(t, err)
	firstPid := state.Pid
	require.NotNil(t, state.Breakpoint)
	assert.Equal(t, 0, state.Breakpoint.ID)
	assert.Equal(t, "inner", state.Function)

	var buf bytes.Buffer
	require.NoError(t, d.Backtrace(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, buf.String())
	assert.True(t, strings.HasPrefix(lines[0], "inner ("))
	assert.True(t, strings.HasPrefix(lines[1], "outer ("))
	assert.True(t, strings.HasPrefix(lines[2], "main ("))

	// inner runs three times.
	for i := 0; i < 2; i++ {
		state, err = d.Continue()
		require.NoError(t, err)
		require.NotNil(t, state.Breakpoint, "iteration %d: %s", i, state.Status)
		assert.Equal(t, 0, state.Breakpoint.ID)
	}

	// A breakpoint set on a live process is armed at once.
	line := protest.FindLine(t, fixture, "main-call")
	bp, added, err = d.Break(fmt.Sprintf("%s.c:%d", fixture.Name, line))
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, 1, bp.ID)

	state, err = d.Continue()
	require.NoError(t, err)
	assert.Equal(t, proc.Exited{Code: 0}, state.Status)
	assert.Equal(t, 0, d.ProcessPid())

	// Both breakpoints are armed in the restarted process.
	state, err = d.Run(nil)
	require.NoError(t, err)
	assert.NotEqual(t, firstPid, state.Pid)
	require.NotNil(t, state.Breakpoint)
	assert.Equal(t, 1, state.Breakpoint.ID)
	assert.Equal(t, line, state.Line)

	secondPid := state.Pid
	require.NoError(t, d.Quit())
	assert.Equal(t, syscall.ESRCH, syscall.Kill(secondPid, 0))
	assert.Equal(t, 0, d.ProcessPid())
}

func TestNativeProcessKilledWhileParked(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "breakpoints")
	bi, err := proc.LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)

	d, err := New(&Config{DisableASLR: true}, []string{fixture.Path}, bi)
	require.NoError(t, err)
	defer d.Quit()

	_, _, err = d.Break("inner")
	require.NoError(t, err)
	state, err := d.Run(nil)
	require.NoError(t, err)
	require.NotNil(t, state.Breakpoint)

	pid := state.Pid
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))
	protest.WaitZombie(t, pid)

	state, err = d.Continue()
	require.NoError(t, err)
	assert.Equal(t, proc.Signaled{Signal: syscall.SIGKILL}, state.Status)
	assert.Equal(t, 0, d.ProcessPid())
	assert.Equal(t, syscall.ESRCH, syscall.Kill(pid, 0))

	// The session goes on with a new process.
	state, err = d.Run(nil)
	require.NoError(t, err)
	require.NotNil(t, state.Breakpoint)
	assert.Equal(t, "inner", state.Function)
}

func TestNativeRunWithUnmappedBreakpoint(t *testing.T) {
	protest.MustSupportPtrace(t)
	fixture := protest.BuildFixture(t, "breakpoints")
	bi, err := proc.LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)

	d, err := New(&Config{DisableASLR: true}, []string{fixture.Path}, bi)
	require.NoError(t, err)
	defer d.Quit()

	_, added, err := d.Break("*0x10")
	require.NoError(t, err)
	require.True(t, added)
	_, _, err = d.Break("inner")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		state, err := d.Run(nil)
		require.NoError(t, err, "run %d", i)
		require.Error(t, state.BreakpointsErr)
		assert.Contains(t, state.BreakpointsErr.Error(), "breakpoint 0 at 0x10")
		require.NotNil(t, state.Breakpoint, "run %d: %s", i, state.Status)
		assert.Equal(t, 1, state.Breakpoint.ID)
	}
}
