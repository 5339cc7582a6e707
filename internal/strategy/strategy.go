// Package strategy provides the block-recovery heuristics plugged into
// the disasm exploration loop: how candidate blocks are proposed, how
// their confidence is scored, and which of them get committed.
package strategy

import (
	"fmt"
	"sort"

	"github.com/paulm1024/nucleus/internal/disasm"
)

// New returns the named strategy configured for a binary of the given
// bit width.
func New(name string, bits int) (disasm.Strategy, error) {
	switch name {
	case "linear":
		return &Linear{}, nil
	case "recursive":
		return &Recursive{Bits: bits}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (have %v)", name, Names())
	}
}

// Names lists the available strategy names, sorted.
func Names() []string {
	names := []string{"linear", "recursive"}
	sort.Strings(names)
	return names
}

// lowestUnmapped scans the section's unmapped bag for its smallest
// address. The bag is unordered, so this is a full O(k) scan.
func lowestUnmapped(dis *disasm.DisasmSection) (uint64, bool) {
	n := dis.AddrMap.UnmappedCount()
	if n == 0 {
		return 0, false
	}
	low := dis.AddrMap.GetUnmapped(0)
	for i := 1; i < n; i++ {
		if a := dis.AddrMap.GetUnmapped(i); a < low {
			low = a
		}
	}
	return low, true
}

// isBlockStart reports whether addr is already a committed block start.
func isBlockStart(dis *disasm.DisasmSection, addr uint64) bool {
	return dis.AddrMap.Contains(addr) &&
		dis.AddrMap.AddrType(addr)&disasm.RegionBBStart != 0
}
