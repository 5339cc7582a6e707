package disasm

import "github.com/bnagy/gapstone"

// Pure predicates over a single decoded instruction. These mirror the
// capstone instruction ids and groups; the binary-type-sensitive nop
// policy lives in the sweep, not here.

func isNopIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_NOP, gapstone.X86_INS_FNOP:
		return true
	}
	return false
}

// isSemanticNopIns recognizes the self-move idioms compilers emit as
// padding: mov reg,reg / xchg reg,reg / lea reg,[reg+0x0] (optionally
// with the eiz zero register as index).
func isSemanticNopIns(ins *gapstone.Instruction) bool {
	x86 := ins.X86
	if x86 == nil || len(x86.Operands) != 2 {
		return false
	}
	op0, op1 := &x86.Operands[0], &x86.Operands[1]

	switch ins.Id {
	case gapstone.X86_INS_MOV, gapstone.X86_INS_XCHG:
		return op0.Type == gapstone.X86_OP_REG &&
			op1.Type == gapstone.X86_OP_REG &&
			op0.Reg == op1.Reg
	case gapstone.X86_INS_LEA:
		if op0.Type != gapstone.X86_OP_REG || op1.Type != gapstone.X86_OP_MEM {
			return false
		}
		if op1.Mem.Segment != gapstone.X86_REG_INVALID {
			return false
		}
		if op1.Mem.Base != op0.Reg || op1.Mem.Disp != 0 {
			return false
		}
		// Scale is irrelevant: either the index is unused or it is the
		// zero register.
		return op1.Mem.Index == gapstone.X86_REG_INVALID ||
			op1.Mem.Index == gapstone.X86_REG_EIZ
	}
	return false
}

func isTrapIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_INT3, gapstone.X86_INS_UD2:
		return true
	}
	return false
}

func isCflowGroup(g uint) bool {
	switch g {
	case gapstone.X86_GRP_JUMP, gapstone.X86_GRP_CALL,
		gapstone.X86_GRP_RET, gapstone.X86_GRP_IRET:
		return true
	}
	return false
}

func isCflowIns(ins *gapstone.Instruction) bool {
	for _, g := range ins.Groups {
		if isCflowGroup(g) {
			return true
		}
	}
	return false
}

func isCallIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_CALL, gapstone.X86_INS_LCALL:
		return true
	}
	return false
}

func isRetIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_RET, gapstone.X86_INS_RETF:
		return true
	}
	return false
}

func isUncondJmpIns(ins *gapstone.Instruction) bool {
	return ins.Id == gapstone.X86_INS_JMP
}

// isCondCflowIns matches the conditional jumps, including the CX-zero
// family. Unconditional jmp is explicitly excluded.
func isCondCflowIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_JAE, gapstone.X86_INS_JA,
		gapstone.X86_INS_JBE, gapstone.X86_INS_JB,
		gapstone.X86_INS_JCXZ, gapstone.X86_INS_JECXZ,
		gapstone.X86_INS_JE, gapstone.X86_INS_JGE,
		gapstone.X86_INS_JG, gapstone.X86_INS_JLE,
		gapstone.X86_INS_JL, gapstone.X86_INS_JNE,
		gapstone.X86_INS_JNO, gapstone.X86_INS_JNP,
		gapstone.X86_INS_JNS, gapstone.X86_INS_JO,
		gapstone.X86_INS_JP, gapstone.X86_INS_JRCXZ,
		gapstone.X86_INS_JS:
		return true
	}
	return false
}

func isPrivilegedIns(ins *gapstone.Instruction) bool {
	switch ins.Id {
	case gapstone.X86_INS_HLT,
		gapstone.X86_INS_IN, gapstone.X86_INS_INSB,
		gapstone.X86_INS_INSW, gapstone.X86_INS_INSD,
		gapstone.X86_INS_OUT, gapstone.X86_INS_OUTSB,
		gapstone.X86_INS_OUTSW, gapstone.X86_INS_OUTSD,
		gapstone.X86_INS_RDMSR, gapstone.X86_INS_WRMSR,
		gapstone.X86_INS_RDPMC, gapstone.X86_INS_RDTSC,
		gapstone.X86_INS_LGDT, gapstone.X86_INS_LLDT,
		gapstone.X86_INS_LTR, gapstone.X86_INS_LMSW,
		gapstone.X86_INS_CLTS, gapstone.X86_INS_INVD,
		gapstone.X86_INS_INVLPG, gapstone.X86_INS_WBINVD:
		return true
	}
	return false
}

func operandType(t uint) OperandType {
	switch t {
	case gapstone.X86_OP_REG:
		return OpTypeReg
	case gapstone.X86_OP_IMM:
		return OpTypeImm
	case gapstone.X86_OP_MEM:
		return OpTypeMem
	case gapstone.X86_OP_FP:
		return OpTypeFP
	}
	return OpTypeNone
}
