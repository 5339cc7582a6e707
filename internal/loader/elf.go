package loader

import (
	"debug/elf"
	"fmt"
)

// openELF loads the allocatable sections of an ELF executable. Sections
// without file-backed contents (.bss and friends) are skipped; sections
// flagged executable become code sections, the rest become data.
func openELF(path string) (*Binary, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	bin := &Binary{
		Path:  path,
		Type:  BinTypeELF,
		Entry: f.Entry,
	}

	switch f.Class {
	case elf.ELFCLASS64:
		bin.Bits = 64
	case elf.ELFCLASS32:
		bin.Bits = 32
	default:
		return nil, fmt.Errorf("unsupported elf class %v", f.Class)
	}

	switch f.Machine {
	case elf.EM_X86_64, elf.EM_386:
		bin.Arch = ArchX86
	default:
		return nil, fmt.Errorf("unsupported elf machine %v", f.Machine)
	}

	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if s.Type == elf.SHT_NOBITS || s.Size == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", s.Name, err)
		}
		typ := SectionTypeData
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			typ = SectionTypeCode
		}
		bin.Sections = append(bin.Sections, Section{
			Name:  s.Name,
			Type:  typ,
			VMA:   s.Addr,
			Size:  uint64(len(data)),
			Bytes: data,
		})
	}

	if len(bin.Sections) == 0 {
		// Stripped of section headers entirely; fall back to PT_LOAD.
		for i, p := range f.Progs {
			if p.Type != elf.PT_LOAD || p.Filesz == 0 {
				continue
			}
			data := make([]byte, p.Filesz)
			if _, err := p.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("read segment %d: %w", i, err)
			}
			typ := SectionTypeData
			name := fmt.Sprintf("LOAD%d", i)
			if p.Flags&elf.PF_X != 0 {
				typ = SectionTypeCode
				name = fmt.Sprintf("LOAD%d(exec)", i)
			}
			bin.Sections = append(bin.Sections, Section{
				Name:  name,
				Type:  typ,
				VMA:   p.Vaddr,
				Size:  p.Filesz,
				Bytes: data,
			})
		}
	}

	return bin, nil
}
