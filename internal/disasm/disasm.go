// Package disasm implements recursive basic-block recovery for stripped
// binaries: a per-section exploration loop that proposes candidate blocks
// through a pluggable strategy, linearly sweeps them, and commits the
// survivors while tracking every byte in an address map.
package disasm

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/paulm1024/nucleus/internal/loader"
)

// ErrStrategyFailed is returned when a strategy reports a fatal error
// from Score or Select.
var ErrStrategyFailed = errors.New("strategy failed")

// Strategy is the heuristic plugged into the exploration loop.
//
// Mutate proposes candidate blocks seeded at addresses worth exploring;
// parent is nil for the initial seed. Ownership of the returned slice
// transfers to the caller. Score assigns a confidence after the sweep has
// filled the mutant. Select inspects (and may reorder) the mutants,
// marks the ones to commit Alive, and returns the length of the prefix
// the explorer scans for committal.
//
// The engine does not deduplicate seeds; strategies are expected to
// consult the section's AddressMap to avoid proposing or selecting
// already-committed block starts.
type Strategy interface {
	Mutate(dis *DisasmSection, parent *BB) ([]*BB, error)
	Score(dis *DisasmSection, bb *BB) (float64, error)
	Select(dis *DisasmSection, mutants []*BB) (int, error)
}

// Options is the process-wide engine configuration.
type Options struct {
	// OnlyCodeSections skips DATA sections when true.
	OnlyCodeSections bool
	// Verbosity controls progress notices only; it has no semantic
	// effect. 0 is quiet, higher values log more.
	Verbosity int
	// Logger receives progress notices. Defaults to log.Default().
	Logger *log.Logger
}

func (o *Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// DisasmSection holds the recovery state and results for one section:
// the section itself (borrowed from the loader), the byte-granular
// address map, and the committed blocks.
type DisasmSection struct {
	Section *loader.Section
	AddrMap *AddressMap
	BBs     []*BB
}

// sortBBs orders the committed blocks ascending by start address.
// Exploration order is meaningless; only printing sorts.
func (dis *DisasmSection) sortBBs() {
	sort.SliceStable(dis.BBs, func(i, j int) bool {
		return dis.BBs[i].Before(dis.BBs[j])
	})
}

// PrintBBs writes the section header and every committed block, sorted
// ascending by start address.
func (dis *DisasmSection) PrintBBs(w io.Writer) {
	kind := "D"
	if dis.Section.IsCode() {
		kind = "C"
	}
	fmt.Fprintf(w, "<Section %s %s @0x%016x (size %d)>\n\n",
		dis.Section.Name, kind, dis.Section.VMA, dis.Section.Size)
	dis.sortBBs()
	for _, bb := range dis.BBs {
		bb.Print(w)
	}
}

// initDisasm creates per-section state for every in-scope section and
// seeds its address map with the full VMA range as unmapped.
func initDisasm(bin *loader.Binary, opts *Options) []*DisasmSection {
	var sections []*DisasmSection
	for i := range bin.Sections {
		sec := &bin.Sections[i]
		if sec.Type != loader.SectionTypeCode &&
			!(!opts.OnlyCodeSections && sec.Type == loader.SectionTypeData) {
			continue
		}
		dis := &DisasmSection{
			Section: sec,
			AddrMap: NewAddressMap(),
		}
		for vma := sec.VMA; vma < sec.VMA+sec.Size; vma++ {
			dis.AddrMap.Insert(vma)
		}
		sections = append(sections, dis)
	}
	if opts.Verbosity >= 1 {
		opts.logger().Info("disassembler initialized", "sections", len(sections))
	}
	return sections
}

// disasmSection drives the worklist for one section: mutate, sweep and
// score each mutant, select, then commit the survivors and enqueue them
// as parents for the next round.
func disasmSection(bin *loader.Binary, dis *DisasmSection, strat Strategy, opts *Options) error {
	if dis.Section.Type != loader.SectionTypeCode && opts.OnlyCodeSections {
		opts.logger().Warn("skipping non-code section", "section", dis.Section.Name)
		return nil
	}
	if opts.Verbosity >= 2 {
		opts.logger().Debug("disassembling section", "section", dis.Section.Name)
	}

	queue := []*BB{nil}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		mutants, err := strat.Mutate(dis, parent)
		if err != nil {
			return fmt.Errorf("%w: mutate in '%s': %v", ErrStrategyFailed, dis.Section.Name, err)
		}
		for _, m := range mutants {
			if _, err := disasmBB(bin, dis, m); err != nil {
				return err
			}
			s, err := strat.Score(dis, m)
			if err != nil || s < 0 {
				return fmt.Errorf("%w: score in '%s': %v", ErrStrategyFailed, dis.Section.Name, err)
			}
			m.Score = s
		}

		n, err := strat.Select(dis, mutants)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: select in '%s': %v", ErrStrategyFailed, dis.Section.Name, err)
		}
		if n > len(mutants) {
			n = len(mutants)
		}

		for _, m := range mutants[:n] {
			if !m.Alive {
				continue
			}
			dis.AddrMap.AddAddrFlag(m.Start, RegionBBStart)
			for i := range m.Insns {
				dis.AddrMap.AddAddrFlag(m.Insns[i].Start, RegionInsStart)
			}
			for vma := m.Start; vma < m.End; vma++ {
				dis.AddrMap.AddAddrFlag(vma, RegionCode)
			}
			dis.BBs = append(dis.BBs, m)
			queue = append(queue, m)
		}
	}

	return nil
}

// Disasm recovers basic blocks for every in-scope section of bin using
// the given strategy. An unsupported architecture or bit width fails the
// run before any section is touched; a per-section failure aborts the
// run as a whole.
func Disasm(bin *loader.Binary, strat Strategy, opts Options) ([]*DisasmSection, error) {
	if bin.Arch != loader.ArchX86 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, bin.Arch)
	}
	if _, err := csMode(bin.Bits); err != nil {
		return nil, err
	}

	sections := initDisasm(bin, &opts)
	for _, dis := range sections {
		if err := disasmSection(bin, dis, strat, &opts); err != nil {
			return nil, err
		}
	}
	if opts.Verbosity >= 1 {
		opts.logger().Info("disassembly complete")
	}
	return sections, nil
}
