package terminal

import (
	"os"

	sys "golang.org/x/sys/unix"
)

func (w *pagingWriter) getWindowSize() {
	ws, err := sys.IoctlGetWinsize(int(os.Stdout.Fd()), sys.TIOCGWINSZ)
	if err != nil {
		w.mode = pagingWriterNormal
		return
	}
	w.lines = int(ws.Row)
	w.columns = int(ws.Col)
}
