package locspec

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is a parsed location spec string. It is one of *AddrSpec,
// *LineSpec or *FuncSpec.
type Spec interface {
	fmt.Stringer
	locationSpec()
}

// AddrSpec represents an address when used as a location spec.
type AddrSpec struct {
	Addr uint64
}

// LineSpec represents a source line. File is empty for a bare line
// number.
type LineSpec struct {
	File string
	Line int
}

// FuncSpec represents a function in the target program.
type FuncSpec struct {
	Name string
}

func (*AddrSpec) locationSpec() {}
func (*LineSpec) locationSpec() {}
func (*FuncSpec) locationSpec() {}

func (s *AddrSpec) String() string { return fmt.Sprintf("*%#x", s.Addr) }

func (s *LineSpec) String() string {
	if s.File == "" {
		return strconv.Itoa(s.Line)
	}
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

func (s *FuncSpec) String() string { return s.Name }

// Parse will turn locStr into a parsed Spec.
func Parse(locStr string) (Spec, error) {
	rest := strings.TrimSpace(locStr)

	malformed := func(reason string) error {
		//lint:ignore ST1005 backwards compatibility
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) == 0 {
		return nil, malformed("empty string")
	}

	if rest[0] == '*' {
		rest = rest[1:]
		addr, err := parseAddress(rest)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrSpec{Addr: addr}, nil
	}

	if n, err := strconv.Atoi(rest); err == nil {
		if n <= 0 {
			return nil, malformed("line number must be positive")
		}
		return &LineSpec{Line: n}, nil
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		file := rest[:i]
		rest = rest[i+1:]
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return nil, malformed("line number negative or not a number")
		}
		if file == "" {
			return nil, malformed("empty file name")
		}
		return &LineSpec{File: file, Line: n}, nil
	}

	if strings.ContainsAny(rest, " \t") {
		return nil, malformed("function names can not contain spaces")
	}
	return &FuncSpec{Name: rest}, nil
}

func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("missing address")
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %v", err.(*strconv.NumError).Err)
	}
	return addr, nil
}
