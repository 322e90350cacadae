package proc

import (
	"fmt"
	"io"
)

// ptrSize is the size of a frame pointer and of a return address on amd64.
const ptrSize = 8

// Stackframe represents a frame in a system stack.
type Stackframe struct {
	// PC is the current instruction for the top frame and the return
	// address for every other frame.
	PC       uint64
	Function string
	File     string
	Line     int
}

func (frame Stackframe) String() string {
	if frame.File == "" {
		return fmt.Sprintf("%s (%#x)", frame.Function, frame.PC)
	}
	return fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
}

// stackIterator walks the frame pointer chain of a stopped process. The
// saved frame pointer of the caller is at [bp] and the return address is
// at [bp+ptrSize], which requires the program to be compiled with frame
// pointers.
type stackIterator struct {
	pc, bp uint64
	top    bool
	atend  bool
	frame  Stackframe
	err    error

	mem MemoryReader
	r   Resolver
}

func newStackIterator(mem MemoryReader, r Resolver, pc, bp uint64) *stackIterator {
	return &stackIterator{pc: pc, bp: bp, top: true, mem: mem, r: r}
}

// Next points the iterator to the next stack frame.
func (it *stackIterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}

	// Return addresses point after the call instruction, which may already
	// belong to the next line.
	lookup := it.pc
	if !it.top {
		lookup--
	}
	fn, ok := it.r.PCToFunc(lookup)
	if !ok {
		it.atend = true
		return false
	}
	it.frame = Stackframe{PC: it.pc, Function: fn}
	it.frame.File, it.frame.Line, _ = it.r.PCToLine(lookup)
	it.top = false

	if fn == it.r.EntryFunction() || it.bp == 0 {
		it.atend = true
		return true
	}

	ret, err := it.mem.ReadWord(it.bp + ptrSize)
	if err != nil {
		it.err = err
		return false
	}
	nextbp, err := it.mem.ReadWord(it.bp)
	if err != nil {
		it.err = err
		return false
	}
	if nextbp != 0 && nextbp <= it.bp {
		// The stack grows down, a caller frame can not be below its callee.
		it.atend = true
		return true
	}
	it.pc, it.bp = ret, nextbp
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *stackIterator) Frame() Stackframe {
	return it.frame
}

// Err returns the error encountered during stack iteration.
func (it *stackIterator) Err() error {
	return it.err
}

func (it *stackIterator) stacktrace(depth int) ([]Stackframe, error) {
	if depth < 0 {
		return nil, fmt.Errorf("negative maximum stack depth")
	}
	frames := make([]Stackframe, 0, depth)
	for len(frames) < depth && it.Next() {
		frames = append(frames, it.Frame())
	}
	if err := it.Err(); err != nil {
		return frames, err
	}
	return frames, nil
}

// Stacktrace returns up to depth frames starting at pc with frame pointer
// bp. The walk ends at the entry function of r or at the first frame r can
// not resolve, which is not an error.
func Stacktrace(mem MemoryReader, r Resolver, pc, bp uint64, depth int) ([]Stackframe, error) {
	return newStackIterator(mem, r, pc, bp).stacktrace(depth)
}

// PrintStacktrace writes one line per frame to w.
func PrintStacktrace(w io.Writer, frames []Stackframe) {
	for _, frame := range frames {
		fmt.Fprintln(w, frame)
	}
}
