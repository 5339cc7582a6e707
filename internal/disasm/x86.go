package disasm

import (
	"errors"
	"fmt"

	"github.com/bnagy/gapstone"

	"github.com/paulm1024/nucleus/internal/loader"
)

var (
	// ErrUnsupportedArch is returned when the binary's CPU or bit width
	// has no sweep implementation.
	ErrUnsupportedArch = errors.New("unsupported architecture")

	// ErrOutOfSection is returned when a mutant's start address falls
	// outside its section.
	ErrOutOfSection = errors.New("basic block outside section")
)

// maxInsnLen is the longest legal x86 instruction encoding; it bounds
// the decode window handed to capstone per instruction.
const maxInsnLen = 15

func csMode(bits int) (int, error) {
	switch bits {
	case 64:
		return gapstone.CS_MODE_64, nil
	case 32:
		return gapstone.CS_MODE_32, nil
	case 16:
		return gapstone.CS_MODE_16, nil
	}
	return 0, fmt.Errorf("%w: bit width %d", ErrUnsupportedArch, bits)
}

// disasmBBX86 linearly decodes one basic block starting at bb.Start,
// stopping at a control-flow instruction, a change of nop-run polarity,
// or an invalid byte. Returns the number of instructions decoded.
//
// Runs of (effective) nops are isolated into their own blocks: a block
// that starts with a nop takes nops only, any other block stops short of
// the first nop it meets.
func disasmBBX86(bin *loader.Binary, dis *DisasmSection, bb *BB) (int, error) {
	mode, err := csMode(bin.Bits)
	if err != nil {
		return -1, err
	}

	engine, err := gapstone.New(gapstone.CS_ARCH_X86, mode)
	if err != nil {
		return -1, fmt.Errorf("initialize capstone: %w", err)
	}
	defer engine.Close()
	if err := engine.SetOption(gapstone.CS_OPT_DETAIL, gapstone.CS_OPT_ON); err != nil {
		return -1, fmt.Errorf("enable capstone detail: %w", err)
	}
	if err := engine.SetOption(gapstone.CS_OPT_SYNTAX, gapstone.CS_OPT_SYNTAX_INTEL); err != nil {
		return -1, fmt.Errorf("set capstone syntax: %w", err)
	}

	sec := dis.Section
	if bb.Start < sec.VMA || bb.Start-sec.VMA >= sec.Size {
		return -1, fmt.Errorf("%w: 0x%x not in '%s'", ErrOutOfSection, bb.Start, sec.Name)
	}
	offset := bb.Start - sec.VMA

	bb.End = bb.Start
	bb.Section = sec
	ndisassembled := 0
	onlyNop := false

	pc := offset
	addr := bb.Start
	for pc < sec.Size {
		window := sec.Bytes[pc:min(pc+maxInsnLen, sec.Size)]
		insns, err := engine.Disasm(window, addr, 1)
		if err != nil || len(insns) == 0 || insns[0].Id == gapstone.X86_INS_INVALID {
			// Invalid opcode: not an error, but the block cannot grow
			// past it. One byte of progress keeps the worklist moving.
			bb.Invalid = true
			bb.End++
			break
		}
		ins := &insns[0]
		if ins.Size == 0 {
			break
		}

		trap := isTrapIns(ins)
		// MSVC emits semantic nops only at function starts and pads
		// with int3 between functions.
		nop := isNopIns(ins) ||
			(isSemanticNopIns(ins) && bin.Type != loader.BinTypePE) ||
			(trap && bin.Type == loader.BinTypePE)
		ret := isRetIns(ins)
		jmp := isUncondJmpIns(ins) || isCondCflowIns(ins)
		cond := isCondCflowIns(ins)
		cflow := isCflowIns(ins)
		call := isCallIns(ins)
		priv := isPrivilegedIns(ins)

		if ndisassembled == 0 && nop {
			onlyNop = true
		}
		if !onlyNop && nop {
			break
		}
		if onlyNop && !nop {
			break
		}

		ndisassembled++

		bb.End += uint64(ins.Size)
		if priv {
			bb.Privileged = true
		}
		if nop {
			bb.Padding = true
		}
		if trap {
			bb.Trap = true
		}

		out := Instruction{
			Start:      uint64(ins.Address),
			Size:       int(ins.Size),
			Mnemonic:   ins.Mnemonic,
			OpStr:      ins.OpStr,
			Privileged: priv,
			Trap:       trap,
		}
		if nop {
			out.Flags |= InsFlagNop
		}
		if ret {
			out.Flags |= InsFlagRet
		}
		if jmp {
			out.Flags |= InsFlagJmp
		}
		if cond {
			out.Flags |= InsFlagCond
		}
		if cflow {
			out.Flags |= InsFlagCflow
		}
		if call {
			out.Flags |= InsFlagCall
		}

		if x86 := ins.X86; x86 != nil {
			out.AddrSize = int(x86.AddrSize)
			for i := range x86.Operands {
				csOp := &x86.Operands[i]
				op := Operand{
					Type: operandType(csOp.Type),
					Size: int(csOp.Size),
				}
				switch op.Type {
				case OpTypeImm:
					op.Imm = csOp.Imm
				case OpTypeReg:
					op.Reg = int(csOp.Reg)
					if cflow {
						out.Flags |= InsFlagIndirect
					}
				case OpTypeFP:
					op.FP = csOp.FP
				case OpTypeMem:
					op.Mem = MemOperand{
						Segment: int(csOp.Mem.Segment),
						Base:    int(csOp.Mem.Base),
						Index:   int(csOp.Mem.Index),
						Scale:   int(csOp.Mem.Scale),
						Disp:    csOp.Mem.Disp,
					}
					if cflow {
						out.Flags |= InsFlagIndirect
					}
				}
				out.Operands = append(out.Operands, op)
			}
			if cflow {
				for i := range x86.Operands {
					if x86.Operands[i].Type == gapstone.X86_OP_IMM {
						out.Target = uint64(x86.Operands[i].Imm)
					}
				}
			}
		}

		bb.Insns = append(bb.Insns, out)

		if cflow {
			// End of basic block.
			break
		}

		pc += uint64(ins.Size)
		addr += uint64(ins.Size)
	}

	if ndisassembled == 0 {
		bb.Invalid = true
		bb.End++ // ensure forward progress
	}

	return ndisassembled, nil
}

// disasmBB dispatches the sweep on the binary's architecture tag.
func disasmBB(bin *loader.Binary, dis *DisasmSection, bb *BB) (int, error) {
	switch bin.Arch {
	case loader.ArchX86:
		return disasmBBX86(bin, dis, bb)
	default:
		return -1, fmt.Errorf("%w: %s", ErrUnsupportedArch, bin.Arch)
	}
}
