//go:build linux || darwin

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/dtboot/internal/board"
	"github.com/tinyrange/dtboot/internal/config"
	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/devicetree"
	"github.com/tinyrange/dtboot/internal/fdt"
	"github.com/tinyrange/dtboot/internal/iomap"
	"github.com/tinyrange/dtboot/internal/probe"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dtboot: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: dtboot <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "commands:\n")
	fmt.Fprintf(os.Stderr, "  probe    discover devices and bind their interrupts\n")
	fmt.Fprintf(os.Stderr, "  compile  encode a board description as a .dtb\n")
	fmt.Fprintf(os.Stderr, "  dump     print the tree as the probe walk sees it\n")
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "probe":
		return runProbe(args[1:], stdout)
	case "compile":
		return runCompile(args[1:])
	case "dump":
		return runDump(args[1:], stdout)
	case "help", "-h", "-help", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// input is a tree plus, for boards, the simulated windows behind it.
type input struct {
	blob  []byte
	board *board.Board
}

func loadInput(boardPath, dtbPath string) (input, error) {
	switch {
	case boardPath != "" && dtbPath != "":
		return input{}, errors.New("-board and -dtb are mutually exclusive")
	case boardPath != "":
		b, err := board.Load(boardPath)
		if err != nil {
			return input{}, err
		}
		blob, err := b.Blob()
		if err != nil {
			return input{}, fmt.Errorf("encode board %q: %w", b.Name, err)
		}
		return input{blob: blob, board: &b}, nil
	case dtbPath != "":
		blob, err := os.ReadFile(dtbPath)
		if err != nil {
			return input{}, fmt.Errorf("read dtb: %w", err)
		}
		return input{blob: blob}, nil
	default:
		return input{}, errors.New("one of -board or -dtb is required")
	}
}

func runProbe(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	boardPath := fs.String("board", "", "Board description (YAML)")
	dtbPath := fs.String("dtb", "", "Flattened device tree blob")
	configPath := fs.String("config", config.DefaultFilename, "Configuration file")
	dbg := fs.Bool("debug", false, "Enable debug logging")
	progress := fs.Bool("progress", false, "Show a progress bar while walking the tree")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := cfg.Logger(os.Stderr, *dbg)
	slog.SetDefault(log)

	in, err := loadInput(*boardPath, *dtbPath)
	if err != nil {
		return err
	}
	tree, err := devicetree.Parse(in.blob)
	if err != nil {
		return err
	}

	mapper, closeMapper, err := openMapper(cfg, in.board)
	if err != nil {
		return err
	}
	defer closeMapper()

	opts := []probe.Option{
		probe.WithLogger(log),
		probe.WithRegistry(cfg.Registry()),
	}
	if *progress {
		bar := progressbar.Default(int64(tree.NodeCount()), "probing")
		defer bar.Finish()
		opts = append(opts, probe.WithNodeHook(func(string) { _ = bar.Add(1) }))
	}

	devs, err := probe.NewFromTree(tree, mapper, opts...).Build()
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	reg := device.NewRegistry()
	reg.Add(devs...)
	printReport(stdout, reg)
	return nil
}

func openMapper(cfg config.Config, b *board.Board) (iomap.Mapper, func(), error) {
	if b != nil {
		sim, err := b.Mapper()
		if err != nil {
			return nil, nil, err
		}
		return sim, func() { sim.Close() }, nil
	}
	switch cfg.Mapper.Kind {
	case config.MapperLinear:
		return iomap.Linear{Offset: cfg.Mapper.Offset}, func() {}, nil
	case config.MapperDevMem:
		return openDevMem(cfg.Mapper.Path)
	default:
		// A bare blob has no simulated windows, so every MMIO driver
		// fails to map and only CPU-local controllers are found.
		sim := iomap.NewSim()
		return sim, func() { sim.Close() }, nil
	}
}

func printReport(w io.Writer, reg *device.Registry) {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	bold := func(s string) string {
		if styled {
			return ansi.Style{}.Bold().Styled(s)
		}
		return s
	}

	rows := [][3]string{{"#", "KIND", "DRIVER"}}
	for i, d := range reg.All() {
		rows = append(rows, [3]string{fmt.Sprint(i), d.Kind().String(), d.Inner().Name()})
	}
	var widths [3]int
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], ansi.StringWidth(c))
		}
	}
	for n, r := range rows {
		var line strings.Builder
		for i, c := range r {
			line.WriteString(c)
			if i < len(r)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(c)+2))
			}
		}
		if n == 0 {
			fmt.Fprintln(w, bold(line.String()))
			continue
		}
		fmt.Fprintln(w, line.String())
	}
	fmt.Fprintf(w, "%d devices\n", reg.Len())
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	boardPath := fs.String("board", "", "Board description (YAML)")
	out := fs.String("o", "", "Output .dtb path")
	bootCPU := fs.Uint("boot-cpu", 0, "Boot CPU id written to the header")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boardPath == "" || *out == "" {
		return errors.New("compile requires -board and -o")
	}

	b, err := board.Load(*boardPath)
	if err != nil {
		return err
	}
	blob, err := fdt.BuildWithOptions(b.Tree, fdt.Options{BootCPU: uint32(*bootCPU)})
	if err != nil {
		return fmt.Errorf("encode board %q: %w", b.Name, err)
	}
	if err := os.WriteFile(*out, blob, 0o644); err != nil {
		return fmt.Errorf("write dtb: %w", err)
	}
	slog.Info("wrote device tree", "board", b.Name, "path", *out, "bytes", len(blob))
	return nil
}

func runDump(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	boardPath := fs.String("board", "", "Board description (YAML)")
	dtbPath := fs.String("dtb", "", "Flattened device tree blob")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in, err := loadInput(*boardPath, *dtbPath)
	if err != nil {
		return err
	}
	tree, err := devicetree.Parse(in.blob)
	if err != nil {
		return err
	}
	dumpTree(stdout, tree)
	return nil
}

func dumpTree(w io.Writer, tree *devicetree.Tree) {
	tree.Walk(func(n *devicetree.Node, comp devicetree.StringList, props devicetree.InheritProps) {
		fmt.Fprintf(w, "%s\n", n.Path())
		if len(comp) > 0 {
			fmt.Fprintf(w, "  compatible: %s\n", strings.Join(comp, ", "))
		}
		fmt.Fprintf(w, "  cells: address=%d size=%d", props.AddressCells, props.SizeCells)
		if props.InterruptParent != 0 {
			fmt.Fprintf(w, " interrupt-parent=%#x", props.InterruptParent)
		}
		fmt.Fprintln(w)
		if addr, size, err := devicetree.ParseReg(n, props); err == nil {
			fmt.Fprintf(w, "  reg: %#x+%#x\n", addr, size)
		}
		if wire, err := tree.ParseInterrupts(n, props); err == nil && len(wire) > 0 {
			fmt.Fprintf(w, "  interrupts: %v\n", []uint32(wire))
		} else if err != nil {
			fmt.Fprintf(w, "  interrupts: %v\n", err)
		}
		if !n.Enabled() {
			fmt.Fprintln(w, "  status: disabled")
		}
	})
}
