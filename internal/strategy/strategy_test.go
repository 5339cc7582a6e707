package strategy

import (
	"testing"

	"github.com/paulm1024/nucleus/internal/disasm"
	"github.com/paulm1024/nucleus/internal/loader"
)

func fixture(t *testing.T, typ loader.BinType, vma uint64, code []byte) *loader.Binary {
	t.Helper()
	return &loader.Binary{
		Path: "fixture",
		Type: typ,
		Arch: loader.ArchX86,
		Bits: 64,
		Sections: []loader.Section{
			{Name: ".text", Type: loader.SectionTypeCode, VMA: vma, Size: uint64(len(code)), Bytes: code},
		},
	}
}

func explore(t *testing.T, bin *loader.Binary, name string) *disasm.DisasmSection {
	t.Helper()
	strat, err := New(name, bin.Bits)
	if err != nil {
		t.Fatalf("New(%q): %v", name, err)
	}
	sections, err := disasm.Disasm(bin, strat, disasm.Options{OnlyCodeSections: true})
	if err != nil {
		t.Fatalf("Disasm: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	return sections[0]
}

func TestNewUnknownStrategy(t *testing.T) {
	if _, err := New("branchy", 64); err == nil {
		t.Fatal("New with unknown name succeeded")
	}
}

func TestLinearCoversSection(t *testing.T) {
	// mov eax, 1 ; ret ; nop nop ; garbage
	code := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3, 0x90, 0x90, 0xff, 0xff}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			dis := explore(t, fixture(t, loader.BinTypeELF, 0x1000, code), name)
			if n := dis.AddrMap.UnmappedCount(); n != 0 {
				t.Fatalf("%d addresses left unmapped after sweep", n)
			}
			for vma := uint64(0x1000); vma < 0x1000+uint64(len(code)); vma++ {
				if dis.AddrMap.AddrType(vma)&disasm.RegionCode == 0 {
					t.Fatalf("0x%x not claimed as code", vma)
				}
			}
		})
	}
}

// After a call terminates a block, the fall-through address must be
// discovered as its own block.
func TestRecursiveSeedsCallFallThrough(t *testing.T) {
	// call 0x1005 ; ret
	code := []byte{0xe8, 0x00, 0x00, 0x00, 0x00, 0xc3}
	dis := explore(t, fixture(t, loader.BinTypeELF, 0x1000, code), "recursive")

	var callBB, retBB *disasm.BB
	for _, bb := range dis.BBs {
		switch bb.Start {
		case 0x1000:
			callBB = bb
		case 0x1005:
			retBB = bb
		}
	}
	if callBB == nil || callBB.End != 0x1005 {
		t.Fatalf("call block not recovered as [0x1000, 0x1005): %+v", callBB)
	}
	if retBB == nil || retBB.End != 0x1006 {
		t.Fatalf("fall-through ret block not recovered as [0x1005, 0x1006): %+v", retBB)
	}
	if len(retBB.Insns) != 1 || !retBB.Insns[0].HasFlag(disasm.InsFlagRet) {
		t.Fatalf("fall-through block is not a lone ret: %+v", retBB.Insns)
	}
}

func TestRecursiveFollowsBranchTarget(t *testing.T) {
	// jmp 0x1004 ; <garbage> ; ret
	code := []byte{0xeb, 0x02, 0xff, 0xff, 0xc3}
	dis := explore(t, fixture(t, loader.BinTypeELF, 0x1000, code), "recursive")

	var target *disasm.BB
	for _, bb := range dis.BBs {
		if bb.Start == 0x1004 {
			target = bb
		}
	}
	if target == nil || target.Invalid {
		t.Fatalf("branch target block at 0x1004 not recovered: %+v", target)
	}
}

func TestRecursiveNoDuplicateCommits(t *testing.T) {
	// Two blocks both flow to 0x1003: a jump and a fall-through.
	// jne 0x1003 ; nop ; ret
	code := []byte{0x75, 0x01, 0x90, 0xc3}
	dis := explore(t, fixture(t, loader.BinTypeELF, 0x1000, code), "recursive")

	starts := make(map[uint64]int)
	for _, bb := range dis.BBs {
		starts[bb.Start]++
	}
	for addr, n := range starts {
		if n > 1 {
			t.Fatalf("block start 0x%x committed %d times", addr, n)
		}
	}
}

// No committed block may mix effective nops with real instructions.
func TestNopHomogeneity(t *testing.T) {
	code := []byte{
		0x90, 0x90, // nop run
		0xb8, 0x2a, 0x00, 0x00, 0x00, // mov eax, 0x2a
		0x90,       // lone nop
		0xc3,       // ret
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			dis := explore(t, fixture(t, loader.BinTypeELF, 0x1000, code), name)
			for _, bb := range dis.BBs {
				nops, other := 0, 0
				for _, ins := range bb.Insns {
					if ins.HasFlag(disasm.InsFlagNop) {
						nops++
					} else {
						other++
					}
				}
				if nops > 0 && other > 0 {
					t.Fatalf("block [0x%x, 0x%x) mixes %d nops with %d instructions",
						bb.Start, bb.End, nops, other)
				}
			}
		})
	}
}

// Committed blocks must satisfy the engine invariants regardless of the
// strategy that produced them.
func TestCommittedBlockInvariants(t *testing.T) {
	code := []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
		0xe8, 0x00, 0x00, 0x00, 0x00, // call next
		0x5d,             // pop rbp
		0xc3,             // ret
		0xcc, 0xcc,       // int3 padding
		0xff, 0xff,       // garbage
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			bin := fixture(t, loader.BinTypeELF, 0x4000, code)
			dis := explore(t, bin, name)
			sec := dis.Section

			for _, bb := range dis.BBs {
				if bb.End <= bb.Start {
					t.Fatalf("no forward progress in [0x%x, 0x%x)", bb.Start, bb.End)
				}
				if bb.Start < sec.VMA {
					t.Fatalf("block starts before section: 0x%x", bb.Start)
				}
				if !bb.Invalid {
					if bb.End > sec.VMA+sec.Size {
						t.Fatalf("block ends past section: 0x%x", bb.End)
					}
					var total uint64
					for _, ins := range bb.Insns {
						total += uint64(ins.Size)
					}
					if total != bb.End-bb.Start {
						t.Fatalf("instruction sizes sum to %d in a %d-byte block", total, bb.End-bb.Start)
					}
				}
				if dis.AddrMap.AddrType(bb.Start)&disasm.RegionBBStart == 0 {
					t.Fatalf("block start 0x%x missing BB_START", bb.Start)
				}
				for _, ins := range bb.Insns {
					if dis.AddrMap.AddrType(ins.Start)&disasm.RegionInsStart == 0 {
						t.Fatalf("instruction at 0x%x missing INS_START", ins.Start)
					}
				}
			}
		})
	}
}

// A padding-terminated parent must not propose its fall-through; the
// code after a nop run is reached through the unmapped-bag fallback
// instead.
func TestRecursiveMutatePaddingParent(t *testing.T) {
	r := &Recursive{Bits: 64}
	sec := &loader.Section{
		Name:  ".text",
		Type:  loader.SectionTypeCode,
		VMA:   0x1000,
		Size:  4,
		Bytes: []byte{0x90, 0x90, 0x90, 0xc3},
	}
	// Empty unmapped bag so the sweep fallback cannot mask a
	// fall-through proposal.
	dis := &disasm.DisasmSection{Section: sec, AddrMap: disasm.NewAddressMap()}

	nopRun := &disasm.BB{
		Start:   0x1000,
		End:     0x1003,
		Section: sec,
		Padding: true,
		Insns: []disasm.Instruction{
			{Start: 0x1000, Size: 1, Mnemonic: "nop", Flags: disasm.InsFlagNop},
			{Start: 0x1001, Size: 1, Mnemonic: "nop", Flags: disasm.InsFlagNop},
			{Start: 0x1002, Size: 1, Mnemonic: "nop", Flags: disasm.InsFlagNop},
		},
	}
	mutants, err := r.Mutate(dis, nopRun)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(mutants) != 0 {
		t.Fatalf("padding parent proposed %d mutants, want 0: %+v", len(mutants), mutants)
	}

	// The same shape without the padding attribute does fall through.
	plain := &disasm.BB{
		Start:   0x1000,
		End:     0x1003,
		Section: sec,
		Insns: []disasm.Instruction{
			{Start: 0x1000, Size: 3, Mnemonic: "mov"},
		},
	}
	mutants, err = r.Mutate(dis, plain)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(mutants) != 1 || mutants[0].Start != 0x1003 {
		t.Fatalf("plain parent proposals = %+v, want one at 0x1003", mutants)
	}
}

func TestRecursiveScoring(t *testing.T) {
	r := &Recursive{Bits: 64}
	sec := &loader.Section{
		Name: ".text",
		Type: loader.SectionTypeCode,
		VMA:  0x1000,
		Size: 6,
		// push rbp ; mov rbp, rsp ; ret
		Bytes: []byte{0x55, 0x48, 0x89, 0xe5, 0xc3, 0x90},
	}
	dis := &disasm.DisasmSection{Section: sec, AddrMap: disasm.NewAddressMap()}

	prologueBB := &disasm.BB{Start: 0x1000, End: 0x1005, Section: sec,
		Insns: make([]disasm.Instruction, 3)}
	s, err := r.Score(dis, prologueBB)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s != scoreCode+prologueBonus {
		t.Fatalf("prologue block scored %.2f, want %.2f", s, scoreCode+prologueBonus)
	}

	plain := &disasm.BB{Start: 0x1004, End: 0x1005, Section: sec}
	if s, _ = r.Score(dis, plain); s != scoreCode {
		t.Fatalf("plain block scored %.2f, want %.2f", s, scoreCode)
	}

	invalid := &disasm.BB{Start: 0x1000, End: 0x1001, Invalid: true, Section: sec}
	if s, _ = r.Score(dis, invalid); s != scoreInvalid {
		t.Fatalf("invalid block scored %.2f, want %.2f", s, scoreInvalid)
	}

	padding := &disasm.BB{Start: 0x1005, End: 0x1006, Padding: true, Section: sec}
	if s, _ = r.Score(dis, padding); s != scorePadding {
		t.Fatalf("padding block scored %.2f, want %.2f", s, scorePadding)
	}
}

func TestHasPrologue(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		bits int
		want bool
	}{
		{
			name: "classic 64-bit frame",
			code: []byte{0x55, 0x48, 0x89, 0xe5},
			bits: 64,
			want: true,
		},
		{
			name: "frameless reservation",
			code: []byte{0x48, 0x83, 0xec, 0x20},
			bits: 64,
			want: true,
		},
		{
			name: "classic 32-bit frame",
			code: []byte{0x55, 0x89, 0xe5},
			bits: 32,
			want: true,
		},
		{
			name: "push without frame setup",
			code: []byte{0x55, 0x90},
			bits: 64,
			want: false,
		},
		{
			name: "plain code",
			code: []byte{0xb8, 0x01, 0x00, 0x00, 0x00},
			bits: 64,
			want: false,
		},
		{
			name: "garbage",
			code: []byte{0xff, 0xff},
			bits: 64,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec := &loader.Section{
				Name:  ".text",
				Type:  loader.SectionTypeCode,
				VMA:   0x1000,
				Size:  uint64(len(tt.code)),
				Bytes: tt.code,
			}
			bb := &disasm.BB{Start: 0x1000, End: 0x1000 + uint64(len(tt.code)), Section: sec}
			if got := hasPrologue(sec, bb, tt.bits); got != tt.want {
				t.Fatalf("hasPrologue() = %v, want %v", got, tt.want)
			}
		})
	}
}
