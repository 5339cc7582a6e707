// Package cmd implements the nucleus command line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/paulm1024/nucleus/internal/disasm"
	"github.com/paulm1024/nucleus/internal/loader"
	"github.com/paulm1024/nucleus/internal/logging"
	"github.com/paulm1024/nucleus/internal/strategy"
	"github.com/paulm1024/nucleus/internal/ui/colorize"
)

// Report is the JSON output structure for a whole run.
type Report struct {
	File     string          `json:"file" jsonschema:"title=File,description=Path of the analyzed binary"`
	Arch     string          `json:"arch" jsonschema:"title=Architecture"`
	Bits     int             `json:"bits" jsonschema:"title=Bit Width"`
	Type     string          `json:"type" jsonschema:"title=Binary Type,description=Container format (ELF or PE)"`
	Entry    string          `json:"entry" jsonschema:"title=Entry Point"`
	Sections []SectionReport `json:"sections"`
}

// SectionReport is the JSON output for one recovered section.
type SectionReport struct {
	Name   string     `json:"name"`
	VMA    string     `json:"vma"`
	Size   uint64     `json:"size"`
	Code   bool       `json:"code"`
	Blocks []BBReport `json:"blocks"`
}

// BBReport is the JSON output for one committed basic block.
type BBReport struct {
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Score        float64  `json:"score"`
	Invalid      bool     `json:"invalid,omitempty"`
	Padding      bool     `json:"padding,omitempty"`
	Trap         bool     `json:"trap,omitempty"`
	Privileged   bool     `json:"privileged,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "nucleus [flags] <binary>",
	Short: "Recover basic blocks from stripped binaries",
	Long: `Nucleus statically disassembles stripped ELF and PE x86 binaries.
Starting from candidate addresses it recursively proposes, scores, and
commits basic blocks per code section, tracking every byte in an
address map. No symbol table or function boundary information is used.`,
	Example: `
# Recover blocks from a stripped executable
nucleus /path/to/binary

# Sequential sweep, include data sections, JSON output
nucleus --strategy linear --data-sections --json /path/to/binary
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stratName, _ := cmd.Flags().GetString("strategy")
		dataSections, _ := cmd.Flags().GetBool("data-sections")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		noColor, _ := cmd.Flags().GetBool("no-color")

		if noColor {
			os.Setenv("NUCLEUS_NO_COLOR", "1")
		}

		logger := logging.NewLogger()
		defer logger.Close()
		logger.ApplyVerbosity(verbosity)

		bin, err := loader.Open(args[0])
		if err != nil {
			return err
		}
		logger.Info("loaded binary",
			"file", bin.Path, "type", bin.Type.String(),
			"arch", bin.Arch.String(), "bits", bin.Bits,
			"sections", len(bin.Sections))

		strat, err := strategy.New(stratName, bin.Bits)
		if err != nil {
			return err
		}

		sections, err := disasm.Disasm(bin, strat, disasm.Options{
			OnlyCodeSections: !dataSections,
			Verbosity:        verbosity,
			Logger:           logger.Logger,
		})
		if err != nil {
			return fmt.Errorf("disassembly of %s failed: %w", bin.Path, err)
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), bin, sections)
		}
		return writeListing(cmd.OutOrStdout(), bin, sections)
	},
}

func init() {
	rootCmd.Flags().StringP("strategy", "s", "recursive",
		fmt.Sprintf("Block selection strategy (%s)", strings.Join(strategy.Names(), ", ")))
	rootCmd.Flags().BoolP("data-sections", "D", false, "Include data sections in the sweep")
	rootCmd.Flags().CountP("verbose", "v", "Increase progress verbosity (repeatable)")
	rootCmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	rootCmd.Flags().Bool("no-color", false, "Disable colorized output")
}

func writeJSON(w io.Writer, bin *loader.Binary, sections []*disasm.DisasmSection) error {
	report := Report{
		File:  bin.Path,
		Arch:  bin.Arch.String(),
		Bits:  bin.Bits,
		Type:  bin.Type.String(),
		Entry: fmt.Sprintf("0x%x", bin.Entry),
	}
	for _, dis := range sections {
		sr := SectionReport{
			Name: dis.Section.Name,
			VMA:  fmt.Sprintf("0x%x", dis.Section.VMA),
			Size: dis.Section.Size,
			Code: dis.Section.IsCode(),
		}
		for _, bb := range dis.BBs {
			br := BBReport{
				Start:      fmt.Sprintf("0x%x", bb.Start),
				End:        fmt.Sprintf("0x%x", bb.End),
				Score:      bb.Score,
				Invalid:    bb.Invalid,
				Padding:    bb.Padding,
				Trap:       bb.Trap,
				Privileged: bb.Privileged,
			}
			for _, ins := range bb.Insns {
				br.Instructions = append(br.Instructions,
					strings.TrimSpace(fmt.Sprintf("%x %s %s", ins.Start, ins.Mnemonic, ins.OpStr)))
			}
			sr.Blocks = append(sr.Blocks, br)
		}
		report.Sections = append(report.Sections, sr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var summaryStyle = lipgloss.NewStyle().Bold(true)

func writeListing(w io.Writer, bin *loader.Binary, sections []*disasm.DisasmSection) error {
	total := 0
	for _, dis := range sections {
		var buf strings.Builder
		dis.PrintBBs(&buf)
		fmt.Fprint(w, colorize.ColorizeListing(buf.String()))
		total += len(dis.BBs)
	}

	summary := fmt.Sprintf("%s: %d basic blocks in %d sections (entry 0x%x)",
		bin.Path, total, len(sections), bin.Entry)
	if colorize.Enabled() {
		summary = summaryStyle.Render(summary)
	}
	fmt.Fprintln(w, summary)
	return nil
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
