package strategy

import "github.com/paulm1024/nucleus/internal/disasm"

// Linear sweeps a section front to back: every mutation proposes one
// block at the lowest still-unmapped address, so committed blocks tile
// the section without gaps. Invalid runs are committed too (one or two
// bytes at a time) to keep the sweep moving through data.
type Linear struct{}

// Mutate proposes the lowest unmapped address, parent or not. Once the
// bag drains the section is fully claimed and exploration stops.
func (s *Linear) Mutate(dis *disasm.DisasmSection, parent *disasm.BB) ([]*disasm.BB, error) {
	start, ok := lowestUnmapped(dis)
	if !ok {
		return nil, nil
	}
	return []*disasm.BB{disasm.NewBB(start)}, nil
}

// Score rates any decodable block 1.0 and invalid bytes 0.0.
func (s *Linear) Score(dis *disasm.DisasmSection, bb *disasm.BB) (float64, error) {
	if bb.Invalid {
		return 0.0, nil
	}
	return 1.0, nil
}

// Select commits every mutant whose start is not already a committed
// block start. Invalid mutants are committed as well; claiming their
// bytes is what guarantees forward progress.
func (s *Linear) Select(dis *disasm.DisasmSection, mutants []*disasm.BB) (int, error) {
	for _, m := range mutants {
		if !isBlockStart(dis, m.Start) {
			m.Alive = true
		}
	}
	return len(mutants), nil
}
