package proc

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/deetdbg/deet/pkg/logflags"
)

// ErrUnsupportedLinuxArch is returned for executables that are not
// linux/amd64.
var ErrUnsupportedLinuxArch = errors.New("unsupported architecture - only linux/amd64 is supported")

// ErrNoDebugInfo is returned for executables without DWARF sections.
var ErrNoDebugInfo = errors.New("could not find debug information, was the program built with -g (or without -ldflags=-w)?")

const pcCacheSize = 1024

// BinaryInfo holds the line table and the function ranges of an executable.
// It implements Resolver.
type BinaryInfo struct {
	Path string

	// Functions is a list of all DW_TAG_subprogram entries in debug_info, sorted by entry point
	Functions []Function
	// Sources is a list of all source files found in debug_line.
	Sources []string
	// LookupFunc maps function names to a description of the function.
	LookupFunc map[string]*Function

	// lines is the line table of every compile unit sorted by address.
	lines []lineEntry

	entryFunction string
	entryFile     string

	pcCache  *lru.Cache
	funcTrie *trie.Trie

	pie bool
	log *logrus.Entry
}

// Function describes a function in the target program.
type Function struct {
	Name       string
	Entry, End uint64 // same as DW_AT_lowpc and DW_AT_highpc
}

type lineEntry struct {
	Addr        uint64
	File        string
	Line        int
	IsStmt      bool
	PrologueEnd bool
	EndSequence bool
}

type pcLine struct {
	file string
	line int
	ok   bool
}

// LoadBinaryInfo reads the debug information of the ELF executable at
// path.
func LoadBinaryInfo(path string) (*BinaryInfo, error) {
	bi := &BinaryInfo{
		Path:       path,
		LookupFunc: make(map[string]*Function),
		funcTrie:   trie.New(),
		log:        logflags.BinInfoLogger(),
	}
	var err error
	bi.pcCache, err = lru.New(pcCacheSize)
	if err != nil {
		return nil, err
	}

	exe, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer exe.Close()
	if exe.Machine != elf.EM_X86_64 {
		return nil, ErrUnsupportedLinuxArch
	}
	if exe.Type == elf.ET_DYN {
		bi.pie = true
		bi.log.Warnf("%s is position independent, breakpoint addresses will not match the running program", path)
	}
	dw, err := exe.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDebugInfo, err)
	}
	if err := bi.loadDebugInfo(dw); err != nil {
		return nil, err
	}
	bi.log.Debugf("loaded %d functions, %d line entries and %d source files from %s", len(bi.Functions), len(bi.lines), len(bi.Sources), path)
	return bi, nil
}

func (bi *BinaryInfo) loadDebugInfo(dw *dwarf.Data) error {
	sources := make(map[string]struct{})
	rdr := dw.Reader()
	for {
		entry, err := rdr.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		switch entry.Tag {
		case dwarf.TagCompileUnit:
			if err := bi.loadLineTable(dw, entry, sources); err != nil {
				return err
			}
		case dwarf.TagSubprogram:
			name, ok := entry.Val(dwarf.AttrName).(string)
			if !ok {
				continue
			}
			ranges, err := dw.Ranges(entry)
			if err != nil {
				bi.log.Debugf("could not read ranges of %s: %v", name, err)
				continue
			}
			for _, rng := range ranges {
				bi.Functions = append(bi.Functions, Function{Name: name, Entry: rng[0], End: rng[1]})
			}
		}
	}

	// Rows at the same address are ordered with the end of a sequence
	// first so that the row starting the next sequence wins lookups.
	sort.SliceStable(bi.lines, func(i, j int) bool {
		if bi.lines[i].Addr != bi.lines[j].Addr {
			return bi.lines[i].Addr < bi.lines[j].Addr
		}
		return bi.lines[i].EndSequence && !bi.lines[j].EndSequence
	})
	sort.Slice(bi.Functions, func(i, j int) bool { return bi.Functions[i].Entry < bi.Functions[j].Entry })
	for i := range bi.Functions {
		fn := &bi.Functions[i]
		if _, exists := bi.LookupFunc[fn.Name]; !exists {
			bi.LookupFunc[fn.Name] = fn
			bi.funcTrie.Add(fn.Name, nil)
		}
	}
	for file := range sources {
		bi.Sources = append(bi.Sources, file)
	}
	sort.Strings(bi.Sources)

	bi.entryFunction = "main"
	if _, ok := bi.LookupFunc["main.main"]; ok {
		bi.entryFunction = "main.main"
	}
	if fn, ok := bi.LookupFunc[bi.entryFunction]; ok {
		bi.entryFile, _, _ = bi.PCToLine(fn.Entry)
	}
	return nil
}

func (bi *BinaryInfo) loadLineTable(dw *dwarf.Data, cu *dwarf.Entry, sources map[string]struct{}) error {
	lr, err := dw.LineReader(cu)
	if err != nil {
		return err
	}
	if lr == nil {
		return nil
	}
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		entry := lineEntry{
			Addr:        le.Address,
			Line:        le.Line,
			IsStmt:      le.IsStmt,
			PrologueEnd: le.PrologueEnd,
			EndSequence: le.EndSequence,
		}
		if le.File != nil {
			entry.File = le.File.Name
			sources[entry.File] = struct{}{}
		}
		bi.lines = append(bi.lines, entry)
	}
}

// EntryFunction returns main.main for Go programs and main otherwise.
func (bi *BinaryInfo) EntryFunction() string {
	return bi.entryFunction
}

// PIE reports whether the executable is position independent.
func (bi *BinaryInfo) PIE() bool {
	return bi.pie
}

// PCToLine converts an instruction address to a file/line.
func (bi *BinaryInfo) PCToLine(pc uint64) (string, int, bool) {
	if v, ok := bi.pcCache.Get(pc); ok {
		r := v.(pcLine)
		return r.file, r.line, r.ok
	}
	var r pcLine
	i := sort.Search(len(bi.lines), func(i int) bool { return bi.lines[i].Addr > pc }) - 1
	if i >= 0 && !bi.lines[i].EndSequence {
		r = pcLine{file: bi.lines[i].File, line: bi.lines[i].Line, ok: true}
	}
	bi.pcCache.Add(pc, r)
	return r.file, r.line, r.ok
}

// PCToFunc returns the name of the function containing pc.
func (bi *BinaryInfo) PCToFunc(pc uint64) (string, bool) {
	fn := bi.pcToFunc(pc)
	if fn == nil {
		return "", false
	}
	return fn.Name, true
}

func (bi *BinaryInfo) pcToFunc(pc uint64) *Function {
	i := sort.Search(len(bi.Functions), func(i int) bool { return bi.Functions[i].Entry > pc }) - 1
	if i >= 0 && pc < bi.Functions[i].End {
		return &bi.Functions[i]
	}
	return nil
}

// LineToPC returns the lowest statement address for line in filename.
// filename can be the full path of a file or just a suffix, an empty
// filename means the file of the entry function.
func (bi *BinaryInfo) LineToPC(filename string, line int) (uint64, bool) {
	if filename == "" {
		filename = bi.entryFile
		if filename == "" {
			return 0, false
		}
	}
	for _, le := range bi.lines {
		if le.Line == line && le.IsStmt && !le.EndSequence && fileMatches(le.File, filename) {
			return le.Addr, true
		}
	}
	return 0, false
}

func fileMatches(file, name string) bool {
	if file == name {
		return true
	}
	if !strings.Contains(name, "/") {
		return filepath.Base(file) == name
	}
	return strings.HasSuffix(file, "/"+strings.TrimPrefix(name, "./"))
}

// FunctionToPC returns the first address after the prologue of the
// function called name. Functions of the main package of a Go program can
// be named without the package prefix.
func (bi *BinaryInfo) FunctionToPC(name string) (uint64, bool) {
	fn, ok := bi.LookupFunc[name]
	if !ok {
		fn, ok = bi.LookupFunc["main."+name]
	}
	if !ok {
		return 0, false
	}
	return bi.firstPCAfterPrologue(fn), true
}

// firstPCAfterPrologue uses the prologue_end marker when the compiler
// emits one, otherwise the first statement of a line different from the
// declaration line.
func (bi *BinaryInfo) firstPCAfterPrologue(fn *Function) uint64 {
	start := sort.Search(len(bi.lines), func(i int) bool { return bi.lines[i].Addr >= fn.Entry })
	end := start
	for end < len(bi.lines) && bi.lines[end].Addr < fn.End {
		end++
	}
	rows := bi.lines[start:end]
	for _, le := range rows {
		if le.PrologueEnd {
			return le.Addr
		}
	}
	if len(rows) == 0 {
		return fn.Entry
	}
	declLine := rows[0].Line
	for _, le := range rows[1:] {
		if le.IsStmt && !le.EndSequence && le.Line != declLine && le.Addr > fn.Entry {
			return le.Addr
		}
	}
	return fn.Entry
}

// FunctionsWithPrefix returns the names of all functions starting with
// prefix, used for completion.
func (bi *BinaryInfo) FunctionsWithPrefix(prefix string) []string {
	r := bi.funcTrie.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}
