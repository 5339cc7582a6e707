package strategy

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/paulm1024/nucleus/internal/disasm"
	"github.com/paulm1024/nucleus/internal/loader"
)

// hasPrologue reports whether the block opens with a recognizable
// function prologue: the classic push rbp; mov rbp, rsp frame setup, or
// the frameless sub rsp, imm stack reservation.
func hasPrologue(sec *loader.Section, bb *disasm.BB, bits int) bool {
	if bits != 32 && bits != 64 {
		return false
	}
	if !sec.Contains(bb.Start) {
		return false
	}
	code := sec.Bytes[bb.Start-sec.VMA:]

	first, err := x86asm.Decode(code, bits)
	if err != nil {
		return false
	}

	fp, sp := framePair(bits)

	// sub rsp, imm with a positive reservation.
	if first.Op == x86asm.SUB && first.Args[0] == sp {
		if imm, ok := first.Args[1].(x86asm.Imm); ok && imm > 0 {
			return true
		}
	}

	if first.Op != x86asm.PUSH || first.Args[0] != fp {
		return false
	}
	if len(code) <= first.Len {
		return false
	}
	second, err := x86asm.Decode(code[first.Len:], bits)
	if err != nil {
		return false
	}
	return second.Op == x86asm.MOV && second.Args[0] == fp && second.Args[1] == sp
}

func framePair(bits int) (x86asm.Reg, x86asm.Reg) {
	if bits == 64 {
		return x86asm.RBP, x86asm.RSP
	}
	return x86asm.EBP, x86asm.ESP
}
