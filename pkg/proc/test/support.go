// Package test builds the fixture programs used by the debugger tests.
package test

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

var (
	fixtures   = make(map[string]Fixture)
	fixturesMu sync.Mutex
)

// FindFixturesDir walks up from the working directory to the _fixtures
// directory at the root of the module.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// MustSupportPtrace skips the test on platforms without the native backend.
func MustSupportPtrace(t testing.TB) {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("ptrace backend not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

// BuildFixture compiles _fixtures/<name>.c with frame pointers and
// without optimizations, or _fixtures/<name>.go without optimizations and
// inlining. Both are linked as position dependent executables. Binaries
// are cached for the lifetime of the test binary.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}

	fixturesDir := FindFixturesDir()

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	var cmd *exec.Cmd
	path := filepath.Join(fixturesDir, name+".c")
	if _, err := os.Stat(path); err == nil {
		cc, err := exec.LookPath("cc")
		if err != nil {
			t.Skipf("C compiler not found: %v", err)
		}
		cmd = exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-no-pie", "-o", tmpfile, name+".c")
	} else {
		path = filepath.Join(fixturesDir, name+".go")
		gocmd, err := exec.LookPath("go")
		if err != nil {
			t.Skipf("go toolchain not found: %v", err)
		}
		cmd = exec.Command(gocmd, "build", "-gcflags=all=-N -l", "-o", tmpfile, name+".go")
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOFLAGS=-buildmode=exe")
	}
	cmd.Dir = fixturesDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", path, err, out)
	}

	source, _ := filepath.Abs(path)
	source = filepath.ToSlash(source)

	fixtures[name] = Fixture{Name: name, Path: tmpfile, Source: source}
	return fixtures[name]
}

// RunTestsWithFixtures will pre-compile test fixtures before running test
// methods. Test binaries are deleted before exiting.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	for _, f := range fixtures {
		os.Remove(f.Path)
	}
	return status
}

// FindLine returns the line of the fixture source containing the comment
// "// marker".
func FindLine(t testing.TB, f Fixture, marker string) int {
	t.Helper()
	fh, err := os.Open(f.Source)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	s := bufio.NewScanner(fh)
	for n := 1; s.Scan(); n++ {
		if strings.HasSuffix(strings.TrimSpace(s.Text()), "// "+marker) {
			return n
		}
	}
	t.Fatalf("marker %q not found in %s", marker, f.Source)
	return 0
}

// WaitZombie waits until the process pid has terminated but has not been
// reaped yet. Only linux is supported.
func WaitZombie(t testing.TB, pid int) {
	t.Helper()
	stat := fmt.Sprintf("/proc/%d/stat", pid)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		buf, err := os.ReadFile(stat)
		if err != nil {
			t.Fatalf("process %d: %v", pid, err)
		}
		// the state follows the parenthesized command name
		if i := bytes.LastIndexByte(buf, ')'); i >= 0 && i+2 < len(buf) && buf[i+2] == 'Z' {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %d did not terminate", pid)
}
