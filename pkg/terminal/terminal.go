package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/deetdbg/deet/pkg/config"
	"github.com/deetdbg/deet/service/debugger"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// FunctionLister lists the functions of the program, it is used to
// complete the argument of break.
type FunctionLister interface {
	FunctionsWithPrefix(prefix string) []string
}

// Term represents the terminal running deet.
type Term struct {
	debugger *debugger.Debugger
	funcs    FunctionLister
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *pagingWriter
	InitFile string

	runningMutex sync.Mutex
	running      bool
}

// New returns a new Term.
func New(d *debugger.Debugger, funcs FunctionLister, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if !validColor(conf.SourceListLineColor) {
		conf.SourceListLineColor = ansiBlue
	}

	return &Term{
		debugger: d,
		funcs:    funcs,
		conf:     conf,
		prompt:   "(deet) ",
		line:     liner.NewLiner(),
		cmds:     cmds,
		dumb:     dumb,
		stdout:   &pagingWriter{w: w},
	}
}

// validColor reports whether c is an ANSI foreground color code.
func validColor(c int) bool {
	return (c >= ansiBlack && c <= ansiWhite) || (c >= ansiBrBlack && c <= ansiBrWhite)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// sigintGuard keeps SIGINT from terminating the debugger. The process
// shares our process group, so it receives the signal as well and stops.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		if t.isRunning() {
			fmt.Fprintf(os.Stderr, "received SIGINT, stopping process (will not forward signal)\n")
		}
	}
}

func (t *Term) setRunning(running bool) {
	t.runningMutex.Lock()
	t.running = running
	t.runningMutex.Unlock()
}

func (t *Term) isRunning() bool {
	t.runningMutex.Lock()
	defer t.runningMutex.Unlock()
	return t.running
}

// Run begins running deet in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println(`Type "quit" to exit`)
				continue
			}
			if err == io.EOF {
				fmt.Println("quit")
				return t.handleExit()
			}
			return 1, errors.New("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			printError(err)
		}
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// complete completes command names and, for break, function names.
func (t *Term) complete(line string) (c []string) {
	if cmdname, arg, ok := strings.Cut(line, " "); ok {
		if t.funcs == nil || !t.cmds.isBreak(cmdname) {
			return nil
		}
		arg = strings.TrimLeft(arg, " ")
		for _, fn := range t.funcs.FunctionsWithPrefix(arg) {
			c = append(c, cmdname+" "+fn)
		}
		return c
	}
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			if strings.HasPrefix(alias, strings.ToLower(line)) {
				c = append(c, alias)
			}
		}
	}
	return c
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if strings.TrimSpace(l) != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if pid := t.debugger.ProcessPid(); pid != 0 {
		fmt.Fprintf(t.stdout, "Killing process %d\n", pid)
	}
	if err := t.debugger.Quit(); err != nil {
		return 1, err
	}
	return 0, nil
}
