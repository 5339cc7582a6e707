package strategy

import "github.com/paulm1024/nucleus/internal/disasm"

// Recursive follows control flow: committed blocks spawn candidates at
// their fall-through address and at direct branch targets, and the
// sweep falls back to the lowest unmapped address so gaps between
// reachable regions still get claimed. Blocks that begin at a function
// prologue score above plain reachable blocks.
type Recursive struct {
	// Bits is the binary's bit width, used by the prologue matcher.
	Bits int
}

const (
	scoreInvalid  = 0.0
	scoreTrapRun  = 0.25
	scorePadding  = 0.5
	scoreCode     = 1.0
	prologueBonus = 1.0
)

// Mutate proposes successors of parent: the fall-through address unless
// the block ended the flow for good (ret, unconditional jmp) or is a
// padding run, and the branch target of a direct control-flow
// terminator. The initial seed, or a parent with no viable successor,
// falls back to the lowest unmapped address (which is how the code
// after a padding run gets picked up).
func (s *Recursive) Mutate(dis *disasm.DisasmSection, parent *disasm.BB) ([]*disasm.BB, error) {
	var mutants []*disasm.BB
	seen := make(map[uint64]bool)

	propose := func(addr uint64, origin string) {
		if seen[addr] || !dis.Section.Contains(addr) || isBlockStart(dis, addr) {
			return
		}
		seen[addr] = true
		bb := disasm.NewBB(addr)
		bb.Private = origin
		mutants = append(mutants, bb)
	}

	if parent != nil {
		if last := lastInsn(parent); last != nil {
			if !last.HasFlag(disasm.InsFlagRet) && !isUncondJmp(last) && !parent.Padding {
				propose(parent.End, "fall-through")
			}
			if last.HasFlag(disasm.InsFlagCflow) && last.Target != 0 {
				propose(last.Target, "target")
			}
		} else {
			// Invalid block: resume right past the bad bytes.
			propose(parent.End, "resync")
		}
	}

	if len(mutants) == 0 {
		if start, ok := lowestUnmapped(dis); ok {
			propose(start, "sweep")
		}
	}

	return mutants, nil
}

// Score rates a mutant by what the sweep found: garbage scores zero,
// padding and trap runs score low, and real code scores full, plus a
// bonus when the block starts at a recognizable function prologue.
func (s *Recursive) Score(dis *disasm.DisasmSection, bb *disasm.BB) (float64, error) {
	switch {
	case bb.Invalid:
		return scoreInvalid, nil
	case bb.Trap:
		return scoreTrapRun, nil
	case bb.Padding:
		return scorePadding, nil
	}
	score := scoreCode
	if hasPrologue(dis.Section, bb, s.Bits) {
		score += prologueBonus
	}
	return score, nil
}

// Select commits every mutant that is not a duplicate of a committed
// block start. Invalid mutants are committed too so their bytes are
// claimed and the sweep does not revisit them.
func (s *Recursive) Select(dis *disasm.DisasmSection, mutants []*disasm.BB) (int, error) {
	for _, m := range mutants {
		if !isBlockStart(dis, m.Start) {
			m.Alive = true
		}
	}
	return len(mutants), nil
}

func lastInsn(bb *disasm.BB) *disasm.Instruction {
	if len(bb.Insns) == 0 {
		return nil
	}
	return &bb.Insns[len(bb.Insns)-1]
}

// isUncondJmp reports an unconditional jump terminator: flagged as a
// jump but not conditional and not a call.
func isUncondJmp(ins *disasm.Instruction) bool {
	return ins.HasFlag(disasm.InsFlagJmp) &&
		!ins.HasFlag(disasm.InsFlagCond) &&
		!ins.HasFlag(disasm.InsFlagCall)
}
