package terminal

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// getColorableWriter returns a writer for stdout that drops escape
// sequences when stdout is not a terminal.
func getColorableWriter() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return colorable.NewNonColorable(os.Stdout)
}

// pagingWriter writes to w. If PageMaybe is called, after a large amount of
// text has been written to w it will pipe the output to a pager instead.
type pagingWriter struct {
	mode     pagingWriterMode
	w        io.Writer
	buf      []byte
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	pager    string
	lastnl   bool

	lines, columns int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (nn int, err error) {
	switch w.mode {
	default:
		fallthrough
	case pagingWriterNormal:
		return w.w.Write(p)
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.largeOutput() {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		w.cmd = exec.Command(w.pager)
		w.cmd.Stdout = os.Stdout
		w.cmd.Stderr = os.Stderr

		var err1, err2 error
		w.cmdStdin, err1 = w.cmd.StdinPipe()
		err2 = w.cmd.Start()
		if err1 != nil || err2 != nil {
			w.cmd = nil
			w.mode = pagingWriterNormal
			return w.w.Write(p)
		}
		if !w.lastnl {
			w.w.Write([]byte("\n"))
		}
		w.w.Write([]byte("Sending output to pager...\n"))
		w.cmdStdin.Write(w.buf)
		w.buf = nil
		w.mode = pagingWriterPaging
		return len(p), nil
	case pagingWriterPaging:
		return w.cmdStdin.Write(p)
	}
}

// Reset returns the pagingWriter to its normal mode.
func (w *pagingWriter) Reset() {
	if w.mode == pagingWriterNormal {
		return
	}
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
		w.cmd = nil
		w.cmdStdin = nil
	}
}

// PageMaybe configures pagingWriter to cache the output, after a large
// amount of text has been written to w it will automatically switch to
// piping output to a pager.
func (w *pagingWriter) PageMaybe() {
	if w.mode != pagingWriterNormal {
		return
	}
	pager := os.Getenv("DEET_PAGER")
	if pager == "" {
		if stdout, _ := w.w.(*os.File); stdout == nil || !isatty.IsTerminal(stdout.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		pager = os.Getenv("PAGER")
		if pager == "" {
			pager = "more"
		}
	}
	w.mode = pagingWriterMaybe
	w.pager = pager
	w.lastnl = true
	w.getWindowSize()
}

func (w *pagingWriter) largeOutput() bool {
	lines := 0
	lineStart := 0
	for i := range w.buf {
		if i-lineStart > w.columns || w.buf[i] == '\n' {
			lineStart = i
			lines++
			if lines > w.lines {
				return true
			}
		}
	}
	return false
}
