package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	s := v.String()
	if !strings.HasPrefix(s, "Version: 1.2.3-rc1\n") {
		t.Fatalf("unexpected version string %q", s)
	}
	if !strings.HasSuffix(s, "Build: abc") {
		t.Fatalf("explicit build was overwritten: %q", s)
	}
}
