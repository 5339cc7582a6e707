package loader

import (
	"debug/pe"
	"fmt"
)

const (
	imageScnCntCode     = 0x00000020
	imageScnCntInitData = 0x00000040
	imageScnMemExecute  = 0x20000000
)

// openPE loads the mapped sections of a PE executable. Section VMAs are
// rebased on the image base from the optional header.
func openPE(path string) (*Binary, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pe: %w", err)
	}
	defer f.Close()

	bin := &Binary{
		Path: path,
		Type: BinTypePE,
	}

	var imageBase uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		bin.Bits = 64
		imageBase = oh.ImageBase
		bin.Entry = imageBase + uint64(oh.AddressOfEntryPoint)
	case *pe.OptionalHeader32:
		bin.Bits = 32
		imageBase = uint64(oh.ImageBase)
		bin.Entry = imageBase + uint64(oh.AddressOfEntryPoint)
	default:
		return nil, fmt.Errorf("pe optional header missing in %s", path)
	}

	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64, pe.IMAGE_FILE_MACHINE_I386:
		bin.Arch = ArchX86
	default:
		return nil, fmt.Errorf("unsupported pe machine 0x%x", f.Machine)
	}

	for _, s := range f.Sections {
		typ := peSectionType(s.Characteristics)
		if typ == SectionTypeNone {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", s.Name, err)
		}
		// The mapped size is the virtual size; raw data may be shorter
		// (zero padded at load time) or longer (file alignment slack).
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(len(data))
		}
		if uint64(len(data)) > size {
			data = data[:size]
		} else if uint64(len(data)) < size {
			padded := make([]byte, size)
			copy(padded, data)
			data = padded
		}
		bin.Sections = append(bin.Sections, Section{
			Name:  s.Name,
			Type:  typ,
			VMA:   imageBase + uint64(s.VirtualAddress),
			Size:  size,
			Bytes: data,
		})
	}

	return bin, nil
}

// peSectionType maps PE section characteristics onto a section type.
// Executable sections win over data when both bits are present.
func peSectionType(characteristics uint32) SectionType {
	if characteristics&(imageScnCntCode|imageScnMemExecute) != 0 {
		return SectionTypeCode
	}
	if characteristics&imageScnCntInitData != 0 {
		return SectionTypeData
	}
	return SectionTypeNone
}
