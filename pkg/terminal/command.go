// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/deetdbg/deet/pkg/proc"
	"github.com/deetdbg/deet/service/debugger"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the deet terminal.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <location>

A location is one of:

	*<address>	an instruction address, for example *0x401136
	<line>		a line of the file that defines main
	<file>:<line>	a line of the given file
	<function>	the first statement of a function

Breakpoints set before "run" are inserted when the program starts and are
kept across restarts.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"run", "r"}, group: runCmds, cmdFn: run, helpMsg: `Starts the program, killing it first if it is running.

	run [arguments...]

Arguments are split like a shell would, without expansion. If no
arguments are given, the arguments of the previous run are used.`},
		{aliases: []string{"continue", "c", "cont"}, group: runCmds, cmdFn: cont, helpMsg: `Run until breakpoint or program termination.

	continue`},
		{aliases: []string{"backtrace", "bt", "back"}, group: stackCmds, cmdFn: backtrace, helpMsg: `Print stack trace.

	backtrace

Frames are found by following frame pointers, up to max-backtrace-depth frames.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of deet commands.

	source <path>

Empty lines and lines starting with # are ignored.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. disable-aslr and
max-backtrace-depth take effect the next time deet starts.

	config alias <command> <alias>

Defines <alias> as an alias to <command>.`},
		{aliases: []string{"quit", "q", "exit"}, cmdFn: exitCommand, helpMsg: `Exit the debugger, killing the program.

	quit`},
	}

	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

func (c *Commands) isBreak(cmdstr string) bool {
	for _, v := range c.cmds {
		if v.aliases[0] == "break" {
			return v.match(cmdstr)
		}
	}
	return false
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func run(t *Term, args string) error {
	newArgv, err := parseNewArgv(args)
	if err != nil {
		return err
	}
	if pid := t.debugger.ProcessPid(); pid != 0 {
		fmt.Fprintf(t.stdout, "Process %d is running, killing it and restarting\n", pid)
	}
	t.setRunning(true)
	state, err := t.debugger.Run(newArgv)
	t.setRunning(false)
	if err != nil {
		return err
	}
	if state.BreakpointsErr != nil {
		fmt.Fprintf(t.stdout, "Warning: %v\n", state.BreakpointsErr)
	}
	printcontext(t, state)
	return nil
}

// parseNewArgv splits the arguments of run. Backticks are rejected
// instead of being expanded.
func parseNewArgv(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func cont(t *Term, args string) error {
	t.setRunning(true)
	state, err := t.debugger.Continue()
	t.setRunning(false)
	if err != nil {
		return err
	}
	printcontext(t, state)
	return nil
}

// printcontext prints the status of the process and, if it is stopped,
// where.
func printcontext(t *Term, state *debugger.State) {
	fmt.Fprintln(t.stdout, state.Status)
	if _, stopped := state.Status.(proc.Stopped); !stopped {
		return
	}
	if state.Breakpoint != nil {
		fmt.Fprintf(t.stdout, "Hit breakpoint %d at %#x\n", state.Breakpoint.ID, state.PC)
	}
	if state.File != "" {
		t.Println("Stopped at ", fmt.Sprintf("%s:%d", state.File, state.Line))
	} else if state.Function != "" {
		t.Println("Stopped at ", fmt.Sprintf("%s() (%#x)", state.Function, state.PC))
	}
}

func backtrace(t *Term, args string) error {
	t.stdout.PageMaybe()
	defer t.stdout.Reset()
	return t.debugger.Backtrace(t.stdout)
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	bp, added, err := t.debugger.Break(args)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(t.stdout, "Breakpoint %d already set at %#x\n", bp.ID, bp.Addr)
		return nil
	}
	fmt.Fprintf(t.stdout, "%s set\n", bp)
	return nil
}

func breakpoints(t *Term, args string) error {
	bps := t.debugger.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints set")
		return nil
	}
	for _, bp := range bps {
		fmt.Fprintln(t.stdout, bp)
	}
	return nil
}

// ExitRequestError is returned when the user
// exits Deet.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}
	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

// printError prints the diagnostic of a failed command. Exits of the
// program are not failures of the command.
func printError(err error) {
	var pe proc.ErrProcessExited
	if errors.As(err, &pe) {
		fmt.Fprintln(os.Stderr, err.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
}
