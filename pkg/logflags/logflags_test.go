package logflags

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	debugger, native, bininfo = false, false, false
	logOut = nil
}

func TestMakeLogger_withFlagFalse(t *testing.T) {
	defer resetFlags()
	actual := makeLogger(false, logrus.Fields{"foo": "bar"})
	if actual.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.ErrorLevel, actual.Logger.Level)
	}
	if len(actual.Data) != 1 || actual.Data["foo"] != "bar" {
		t.Fatalf("expected data to be {'foo':'bar'}; but was <%v>", actual.Data)
	}
}

func TestMakeLogger_withFlagTrue(t *testing.T) {
	defer resetFlags()
	logOut = &bufferWriter{}
	actual := makeLogger(true, logrus.Fields{"foo": "bar"})
	if actual.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.DebugLevel, actual.Logger.Level)
	}
	if actual.Logger.Out != logOut {
		t.Fatalf("expected out to be <%v>; but was <%v>", logOut, actual.Logger.Out)
	}
	if actual.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected formatter to be <%v>; but was <%v>", textFormatterInstance, actual.Logger.Formatter)
	}
}

func TestSetup_logstrWithoutLog(t *testing.T) {
	defer resetFlags()
	if err := Setup(false, "native", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
}

func TestSetup_components(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "native,bininfo", ""); err != nil {
		t.Fatal(err)
	}
	if Debugger() || !Native() || !BinInfo() {
		t.Fatalf("wrong flags: debugger=%v native=%v bininfo=%v", Debugger(), Native(), BinInfo())
	}
}

func TestSetup_defaultComponent(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Debugger() {
		t.Fatal("expected debugger logging to be enabled by default")
	}
}

func TestSetup_logDestFile(t *testing.T) {
	defer resetFlags()
	dest := filepath.Join(t.TempDir(), "deet.log")
	if err := Setup(true, "native", dest); err != nil {
		t.Fatal(err)
	}
	NativeLogger().Debugf("poke %#x", 0x401000)
	Close()
	buf, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	out := string(buf)
	if !strings.Contains(out, "layer=proc kind=native poke 0x401000") {
		t.Fatalf("unexpected log output %q", out)
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
