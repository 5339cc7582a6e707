package disasm

import (
	"fmt"
	"io"
	"strings"

	"github.com/paulm1024/nucleus/internal/loader"
)

// BB is a recovered basic block: a straight-line run of instructions over
// [Start, End) ending at a control-flow instruction, a padding boundary,
// or an invalid byte. Mutant blocks carry Alive=false until a strategy
// commits them.
type BB struct {
	Start uint64
	End   uint64
	Insns []Instruction

	Section *loader.Section

	Invalid    bool
	Padding    bool
	Trap       bool
	Privileged bool
	Alive      bool

	Score float64

	// Private is scratch space for the active strategy; the engine never
	// reads it.
	Private any
}

// NewBB returns a mutant block seeded at start.
func NewBB(start uint64) *BB {
	return &BB{Start: start, End: start}
}

// Len returns the byte length of the block.
func (bb *BB) Len() uint64 {
	return bb.End - bb.Start
}

// Before orders blocks ascending by start address, shorter block first on
// ties. Used only for printing; commits impose no order.
func (bb *BB) Before(other *BB) bool {
	if bb.Start != other.Start {
		return bb.Start < other.Start
	}
	return bb.End < other.End
}

// Print writes a block header and its instruction listing.
func (bb *BB) Print(w io.Writer) {
	var attrs []string
	if bb.Invalid {
		attrs = append(attrs, "invalid")
	}
	if bb.Padding {
		attrs = append(attrs, "padding")
	}
	if bb.Trap {
		attrs = append(attrs, "trap")
	}
	if bb.Privileged {
		attrs = append(attrs, "privileged")
	}
	suffix := ""
	if len(attrs) > 0 {
		suffix = " " + strings.Join(attrs, ",")
	}
	fmt.Fprintf(w, "BB @0x%016x end@0x%016x (score %.5f)%s\n", bb.Start, bb.End, bb.Score, suffix)
	for i := range bb.Insns {
		bb.Insns[i].Print(w)
	}
	fmt.Fprintln(w)
}
