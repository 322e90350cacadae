package proc

import (
	"syscall"
	"testing"
)

func TestStatusString(t *testing.T) {
	for _, tc := range []struct {
		st   Status
		want string
		live bool
	}{
		{Stopped{Signal: syscall.SIGTRAP, PC: 0x401000}, "Child stopped (signal SIGTRAP)", true},
		{Stopped{Signal: syscall.SIGSEGV}, "Child stopped (signal SIGSEGV)", true},
		{Exited{Code: 3}, "Child exited (status 3)", false},
		{Signaled{Signal: syscall.SIGKILL}, "Child signaled (signal SIGKILL)", false},
		{Running{}, "Child running", true},
	} {
		if got := tc.st.String(); got != tc.want {
			t.Errorf("%#v: expected %q got %q", tc.st, tc.want, got)
		}
		if Alive(tc.st) != tc.live {
			t.Errorf("%#v: expected Alive to be %v", tc.st, tc.live)
		}
	}
}

func TestProcessExitedError(t *testing.T) {
	err := ErrProcessExited{Pid: 42, Status: 3}
	if err.Error() != "Process 42 has exited with status 3" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
