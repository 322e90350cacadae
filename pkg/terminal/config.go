package terminal

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/deetdbg/deet/pkg/config"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "aliases\t%v\n", t.conf.Aliases)
	fmt.Fprintf(w, "disable-aslr\t%v\n", t.conf.ASLRDisabled())
	fmt.Fprintf(w, "max-backtrace-depth\t%d\n", t.conf.BacktraceDepth())
	fmt.Fprintf(w, "source-list-line-color\t%d\n", t.conf.SourceListLineColor)
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := strings.Fields(args)
	name := v[0]
	if name == "alias" {
		return configureSetAlias(t, v[1:])
	}
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments: config %s <value>", name)
	}
	value := v[1]

	switch name {
	case "disable-aslr":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("argument to %q must be true or false", name)
		}
		t.conf.DisableASLR = &b
	case "max-backtrace-depth":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("argument to %q must be a positive number", name)
		}
		t.conf.MaxBacktraceDepth = n
	case "source-list-line-color":
		n, err := strconv.Atoi(value)
		if err != nil || !validColor(n) {
			return fmt.Errorf("argument to %q must be an ANSI foreground color code", name)
		}
		t.conf.SourceListLineColor = n
	default:
		return fmt.Errorf("%q is not a configuration parameter", name)
	}
	return nil
}

func configureSetAlias(t *Term, v []string) error {
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments: config alias <command> <alias>")
	}
	cmdname, alias := v[0], v[1]
	known := false
	for _, cmd := range t.cmds.cmds {
		if cmd.match(alias) {
			return fmt.Errorf("%q is already an alias of %s", alias, cmd.aliases[0])
		}
		if cmd.aliases[0] == cmdname {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown command %q", cmdname)
	}
	if t.conf.Aliases == nil {
		t.conf.Aliases = make(map[string][]string)
	}
	t.conf.Aliases[cmdname] = append(t.conf.Aliases[cmdname], alias)
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
