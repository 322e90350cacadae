package cmds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deetdbg/deet/cmd/deet/cmds/helphelpers"
	"github.com/deetdbg/deet/pkg/config"
	"github.com/deetdbg/deet/pkg/logflags"
	"github.com/deetdbg/deet/pkg/proc"
	"github.com/deetdbg/deet/pkg/terminal"
	"github.com/deetdbg/deet/pkg/version"
	"github.com/deetdbg/deet/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// workingDir is the working directory for running the program.
	workingDir string
	// tty is used to provide an alternate TTY for the program you wish to debug.
	tty string
	// disableASLR overrides the disable-aslr option of the configuration file.
	disableASLR bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const deetCommandLongDesc = `deet is a source level debugger for single threaded native programs on
linux/amd64, such as C programs.

deet starts the program under ptrace and lets you set breakpoints on
functions, lines and addresses, continue to them and print a backtrace of
the stopped program. Programs should be compiled with debug information,
frame pointers and without position independent code, for example:

	cc -g -O0 -fno-omit-frame-pointer -no-pie

Pass flags to the program you are debugging using ` + "`--`" + `, for example:

` + "`deet ./hello -- server --config conf/config.toml`"

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "deet <program> [-- args]",
		Short: "deet is a ptrace debugger for native programs.",
		Long:  deetCommandLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			deetArgs, _ := splitArgs(cmd, args)
			if len(deetArgs) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			if len(deetArgs) > 1 {
				return errors.New("program arguments must be passed after --")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			deetArgs, targetArgs := splitArgs(cmd, args)
			status := execute(cmd, append(deetArgs, targetArgs...))
			if status != 0 {
				os.Exit(status)
			}
			return nil
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'deet help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'deet help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before the first prompt.")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	rootCommand.PersistentFlags().StringVar(&tty, "tty", "", "TTY to use for the target program.")
	rootCommand.PersistentFlags().BoolVar(&disableASLR, "disable-aslr", true, "Disables address space randomization of the program (overrides the configuration file).")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deet Debugger\n%s\n", version.DeetVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	native		Log ptrace requests and breakpoint patches
	bininfo		Log loading of debug information

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	defaultHelpFunc := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		defaultHelpFunc(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}

// loadConfig reads the configuration file, falling back to the defaults
// if it can not be read.
func loadConfig() *config.Config {
	conf, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using the default configuration\n", err)
		return &config.Config{}
	}
	return conf
}

func execute(cmd *cobra.Command, processArgs []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	conf := loadConfig()

	if abs, err := filepath.Abs(processArgs[0]); err == nil {
		processArgs[0] = abs
	}
	bi, err := proc.LoadBinaryInfo(processArgs[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not load debugging information from %s: %v\n", processArgs[0], err)
		return 1
	}
	if bi.PIE() {
		fmt.Fprintf(os.Stderr, "Warning: %s is a position independent executable, breakpoint addresses will not match the running program\n", processArgs[0])
	}

	aslr := conf.ASLRDisabled()
	if cmd.Flags().Changed("disable-aslr") {
		aslr = disableASLR
	}

	d, err := debugger.New(&debugger.Config{
		WorkingDir:        workingDir,
		DisableASLR:       aslr,
		TTY:               tty,
		MaxBacktraceDepth: conf.BacktraceDepth(),
	}, processArgs, bi)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	term := terminal.New(d, bi, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
