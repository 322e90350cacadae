package proc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protest "github.com/deetdbg/deet/pkg/proc/test"
)

func TestBinaryInfoC(t *testing.T) {
	fixture := protest.BuildFixture(t, "breakpoints")
	bi, err := LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)
	assert.False(t, bi.PIE())
	assert.Equal(t, "main", bi.EntryFunction())

	pc, ok := bi.FunctionToPC("inner")
	require.True(t, ok)
	fn, ok := bi.PCToFunc(pc)
	require.True(t, ok)
	assert.Equal(t, "inner", fn)
	assert.Greater(t, pc, bi.LookupFunc["inner"].Entry, "breakpoint should be after the prologue")

	line := protest.FindLine(t, fixture, "inner-body")
	for _, file := range []string{"", "breakpoints.c", fixture.Source} {
		pc, ok := bi.LineToPC(file, line)
		require.True(t, ok, "file %q", file)
		f, l, ok := bi.PCToLine(pc)
		require.True(t, ok)
		assert.Equal(t, line, l)
		assert.Equal(t, "breakpoints.c", filepath.Base(f))
		// Served from the cache the second time.
		f2, l2, _ := bi.PCToLine(pc)
		assert.Equal(t, f, f2)
		assert.Equal(t, l, l2)
	}

	_, ok = bi.LineToPC("", 9999)
	assert.False(t, ok)
	_, ok = bi.LineToPC("other.c", line)
	assert.False(t, ok)
	_, ok = bi.FunctionToPC("nosuchfunc")
	assert.False(t, ok)
	_, ok = bi.PCToFunc(0)
	assert.False(t, ok)

	assert.Contains(t, bi.FunctionsWithPrefix("in"), "inner")
	assert.NotContains(t, bi.FunctionsWithPrefix("in"), "outer")
}

func TestBinaryInfoGo(t *testing.T) {
	fixture := protest.BuildFixture(t, "gofuncs")
	bi, err := LoadBinaryInfo(fixture.Path)
	require.NoError(t, err)
	assert.Equal(t, "main.main", bi.EntryFunction())

	pc, ok := bi.FunctionToPC("helper")
	require.True(t, ok)
	fn, _ := bi.PCToFunc(pc)
	assert.Equal(t, "main.helper", fn)

	line := protest.FindLine(t, fixture, "helper-body")
	pc, ok = bi.LineToPC("", line)
	require.True(t, ok)
	_, l, ok := bi.PCToLine(pc)
	require.True(t, ok)
	assert.Equal(t, line, l)
}

func TestLoadBinaryInfoErrors(t *testing.T) {
	_, err := LoadBinaryInfo(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
