// Package logflags configures the per-component loggers used by deet.
//
// Every component gets its own *logrus.Entry tagged with a "layer" field.
// Loggers of components that were not selected with --log-output are
// created at error level so that only real failures reach the output.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugger = false
var native = false
var bininfo = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.ErrorLevel
	}
	return logger.WithFields(fields)
}

// Debugger returns true if the session controller should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the service/debugger package.
func DebuggerLogger() *logrus.Entry {
	return makeLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// Native returns true if the ptrace backend should log every request.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the pkg/proc/native package.
func NativeLogger() *logrus.Entry {
	return makeLogger(native, logrus.Fields{"layer": "proc", "kind": "native"})
}

// BinInfo returns true if loading of debug information should be logged.
func BinInfo() bool {
	return bininfo
}

// BinInfoLogger returns a logger for the debug information loader.
func BinInfoLogger() *logrus.Entry {
	return makeLogger(bininfo, logrus.Fields{"layer": "proc", "kind": "bininfo"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "deet-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "debugger":
			debugger = true
		case "native":
			native = true
		case "bininfo":
			bininfo = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'deet help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for _, key := range []string{"layer", "kind"} {
		if v, ok := entry.Data[key]; ok {
			fmt.Fprintf(&b, "%s=%v ", key, v)
		}
	}
	for key, v := range entry.Data {
		if key == "layer" || key == "kind" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", key, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
