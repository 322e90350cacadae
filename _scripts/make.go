//go:build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

const DeetMainPackagePath = "github.com/deetdbg/deet/cmd/deet"

var Verbose bool
var NOTimeout bool
var TestSet, TestRegex string

func NewMakeCommands() *cobra.Command {
	RootCommand := &cobra.Command{
		Use:   "make.go",
		Short: "make script for deet.",
	}

	RootCommand.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build deet",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "build", buildFlags(), DeetMainPackagePath)
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs deet",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "install", buildFlags(), DeetMainPackagePath)
			fmt.Println("installed", installedExecutablePath())
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Uninstalls deet",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "clean", "-i", DeetMainPackagePath)
		},
	})

	test := &cobra.Command{
		Use:   "test",
		Short: "Tests deet",
		Long: `Tests deet.

Use the flags -s and -r to specify which tests to run. Specifying nothing will run all tests.
Tests that trace fixture programs need a C compiler and permission to ptrace.
`,
		Run: testCmd,
	}
	test.PersistentFlags().BoolVarP(&Verbose, "verbose", "v", false, "Verbose tests")
	test.PersistentFlags().BoolVarP(&NOTimeout, "timeout", "t", false, "Set infinite timeouts")
	test.PersistentFlags().StringVarP(&TestSet, "test-set", "s", "", `Select the set of tests to run, one of either:
	all		tests all packages
	basic		tests proc, native, debugger and terminal
	package-name	test the specified package only
`)
	test.PersistentFlags().StringVarP(&TestRegex, "test-run", "r", "", `Only runs the tests matching the specified regex. This option can only be specified if testset is a single package`)

	RootCommand.AddCommand(test)

	return RootCommand
}

func strflatten(v []interface{}) []string {
	r := []string{}
	for _, s := range v {
		switch s := s.(type) {
		case []string:
			r = append(r, s...)
		case string:
			if s != "" {
				r = append(r, s)
			}
		}
	}
	return r
}

func executeq(cmd string, args ...interface{}) {
	x := exec.Command(cmd, strflatten(args)...)
	x.Stdout = os.Stdout
	x.Stderr = os.Stderr
	x.Env = os.Environ()
	err := x.Run()
	if x.ProcessState != nil && !x.ProcessState.Success() {
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func execute(cmd string, args ...interface{}) {
	fmt.Printf("%s %s\n", cmd, strings.Join(quotemaybe(strflatten(args)), " "))
	executeq(cmd, args...)
}

func quotemaybe(args []string) []string {
	for i := range args {
		if strings.Contains(args[i], " ") {
			args[i] = fmt.Sprintf("%q", args[i])
		}
	}
	return args
}

func getoutput(cmd string, args ...interface{}) string {
	x := exec.Command(cmd, strflatten(args)...)
	x.Env = os.Environ()
	out, err := x.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing %s %v\n", cmd, args)
		log.Fatal(err)
	}
	return string(out)
}

func installedExecutablePath() string {
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		return filepath.Join(gobin, "deet")
	}
	gopath := strings.Split(getoutput("go", "env", "GOPATH"), ":")
	return filepath.Join(strings.TrimSpace(gopath[0]), "bin", "deet")
}

func buildFlags() []string {
	buildSHA, err := exec.Command("git", "rev-parse", "HEAD").CombinedOutput()
	if err != nil {
		return nil
	}
	ldFlags := "-X main.Build=" + strings.TrimSpace(string(buildSHA))
	return []string{fmt.Sprintf("-ldflags=%s", ldFlags)}
}

func testFlags() []string {
	testFlags := []string{"-count", "1", "-p", "1"}
	if Verbose {
		testFlags = append(testFlags, "-v")
	}
	if NOTimeout {
		testFlags = append(testFlags, "-timeout", "0")
	}
	return testFlags
}

func testCmd(cmd *cobra.Command, args []string) {
	if TestSet == "" {
		if TestRegex != "" {
			fmt.Printf("Can not use --test-run without --test-set\n")
			os.Exit(1)
		}
		TestSet = "all"
	}

	testPackages := testSetToPackages(TestSet)
	if len(testPackages) == 0 {
		fmt.Printf("Unknown test set %q\n", TestSet)
		os.Exit(1)
	}

	if TestRegex != "" {
		if len(testPackages) != 1 {
			fmt.Printf("Can not use test-run with test set %q\n", TestSet)
			os.Exit(1)
		}
		execute("go", "test", testFlags(), testPackages, "-run="+TestRegex)
		return
	}
	execute("go", "test", testFlags(), testPackages)
}

func testSetToPackages(testSet string) []string {
	switch testSet {
	case "", "all":
		return allPackages()

	case "basic":
		return []string{
			"github.com/deetdbg/deet/pkg/proc",
			"github.com/deetdbg/deet/pkg/proc/native",
			"github.com/deetdbg/deet/service/debugger",
			"github.com/deetdbg/deet/pkg/terminal",
		}

	default:
		for _, pkg := range allPackages() {
			if pkg == testSet || strings.HasSuffix(pkg, "/"+testSet) {
				return []string{pkg}
			}
		}
		return nil
	}
}

func allPackages() []string {
	r := []string{}
	for _, dir := range strings.Split(getoutput("go", "list", "./..."), "\n") {
		dir = strings.TrimSpace(dir)
		if dir == "" || strings.Contains(dir, "/_scripts") {
			continue
		}
		r = append(r, dir)
	}
	sort.Strings(r)
	return r
}

func main() {
	NewMakeCommands().Execute()
}
