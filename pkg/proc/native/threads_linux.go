//go:build amd64

package native

import (
	"encoding/binary"

	sys "golang.org/x/sys/unix"
)

const wordSize = 8

// PatchByte writes b at addr and returns the byte it replaced. The tracer
// interface only transfers whole words, so the aligned word containing
// addr is read, modified and written back.
func (dbp *Process) PatchByte(addr uint64, b byte) (byte, error) {
	if dbp.exited {
		return 0, dbp.exitedError()
	}
	aligned := addr &^ (wordSize - 1)
	shift := (addr - aligned) * 8

	var buf [wordSize]byte
	if _, err := dbp.peekData(aligned, buf[:]); err != nil {
		return 0, err
	}
	word := binary.LittleEndian.Uint64(buf[:])
	old := byte(word >> shift)
	word = word&^(0xff<<shift) | uint64(b)<<shift
	binary.LittleEndian.PutUint64(buf[:], word)
	if err := dbp.pokeData(aligned, buf[:]); err != nil {
		return 0, err
	}
	dbp.log.Debugf("patched %#x: %#02x -> %#02x", addr, old, b)
	return old, nil
}

// ReadMemory reads len(buf) bytes at addr.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if dbp.exited {
		return 0, dbp.exitedError()
	}
	if len(buf) == 0 {
		return 0, nil
	}
	return dbp.peekData(addr, buf)
}

// ReadWord reads the little endian word at addr.
func (dbp *Process) ReadWord(addr uint64) (uint64, error) {
	var buf [wordSize]byte
	if _, err := dbp.ReadMemory(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Registers returns the general purpose registers of the stopped process.
func (dbp *Process) Registers() (*sys.PtraceRegs, error) {
	if dbp.exited {
		return nil, dbp.exitedError()
	}
	return dbp.getRegs()
}

func (dbp *Process) setRegisters(regs *sys.PtraceRegs) error {
	if dbp.exited {
		return dbp.exitedError()
	}
	return dbp.setRegs(regs)
}

// SetPC moves the instruction pointer of the stopped process to pc.
func (dbp *Process) SetPC(pc uint64) error {
	regs, err := dbp.Registers()
	if err != nil {
		return err
	}
	regs.Rip = pc
	return dbp.setRegisters(regs)
}
