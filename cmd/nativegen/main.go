// nativegen CLI - translates method bodies into protected native source
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/nclabs/nativegen/config"
	"github.com/nclabs/nativegen/microvm"
	"github.com/nclabs/nativegen/pipeline"
	"github.com/nclabs/nativegen/trans"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", "", "Directory containing nativegen.toml (default: walk up from cwd)")
	snippetDir := flag.String("snippets", "", "Directory of output templates, one file per snippet name")
	dumpStream := flag.String("dump-stream", "", "Write the demo method's micro-vm stream to this file")
	seed := flag.Int64("seed", 0, "Override the configured translation seed")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nativegen [options]\n\n")
		fmt.Fprintf(os.Stderr, "Translates method bodies into protected native source using the project's\n")
		fmt.Fprintf(os.Stderr, "nativegen.toml configuration. Without other input it runs the built-in demo\n")
		fmt.Fprintf(os.Stderr, "method and prints the emitted source.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  nativegen                          # Translate the demo method\n")
		fmt.Fprintf(os.Stderr, "  nativegen -snippets ./templates    # Use the project's output templates\n")
		fmt.Fprintf(os.Stderr, "  nativegen -dump-stream demo.cbor   # Dump the micro-vm stream\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := trans.Options{}
	if cfg != nil {
		opts = trans.Options{
			Virtualization:      cfg.Protection.Virtualization,
			ConstantObfuscation: cfg.Protection.ConstantObfuscation,
			Seed:                cfg.Protection.Seed,
		}
		if *verbose {
			fmt.Printf("Config: %s\n", filepath.Join(cfg.Dir, "nativegen.toml"))
		}
	}
	if *seed != 0 {
		opts.Seed = *seed
	}

	var snippets trans.SnippetProvider
	if *snippetDir != "" {
		snippets, err = loadSnippets(*snippetDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		snippets = trans.SnippetFunc(func(name string, props map[string]string) string {
			return fmt.Sprintf("    /* %s */", name)
		})
	}

	p := pipeline.New(opts, snippets)
	res, err := p.ProcessMethod(demoMethod(), 0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(p.EmitTables())
	fmt.Print(res.Source)
	if *verbose {
		if res.Program != nil {
			fmt.Printf("// virtualized: %d vm instructions\n", len(res.Program.Code))
		} else {
			fmt.Println("// lowered per instruction")
		}
	}

	if *dumpStream != "" {
		if res.Program == nil {
			fmt.Fprintf(os.Stderr, "Error: method was not virtualized, no stream to dump\n")
			os.Exit(1)
		}
		blob, err := microvm.MarshalProgram(res.Program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*dumpStream, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("// stream: %s (%d bytes)\n", *dumpStream, len(blob))
		}
	}
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(cwd)
}

// fileSnippets serves templates from a directory, one file per snippet name.
// ${prop} references in a template expand from the lowering's property map.
type fileSnippets struct {
	byName map[string]string
}

func loadSnippets(dir string) (*fileSnippets, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read snippet directory: %w", err)
	}
	s := &fileSnippets{byName: make(map[string]string)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		s.byName[name] = strings.TrimRight(string(data), "\n")
	}
	return s, nil
}

func (s *fileSnippets) Snippet(name string, props map[string]string) string {
	tmpl, ok := s.byName[name]
	if !ok {
		return fmt.Sprintf("    /* missing snippet %s */", name)
	}
	return os.Expand(tmpl, func(key string) string {
		return props[key]
	})
}

// demoMethod is a small loop computing the factorial of its argument. It
// exercises constant loading, branching and the arithmetic strategies, and
// is simple enough to virtualize when that is enabled.
func demoMethod() *trans.Method {
	loop := &trans.Label{}
	done := &trans.Label{}
	return &trans.Method{
		Owner:     "demo/Demo",
		Name:      "factorial",
		Desc:      "(I)I",
		Static:    true,
		MaxStack:  2,
		MaxLocals: 3,
		Instructions: []*trans.Instruction{
			{Op: trans.ICONST_1, Kind: trans.KindInsn},
			{Op: trans.ISTORE, Kind: trans.KindVar, Var: 1},
			{Kind: trans.KindLabel, Label: loop},
			{Op: trans.ILOAD, Kind: trans.KindVar, Var: 0},
			{Op: trans.ICONST_0, Kind: trans.KindInsn},
			{Op: trans.IF_ICMPLE, Kind: trans.KindJump, Target: done},
			{Op: trans.ILOAD, Kind: trans.KindVar, Var: 1},
			{Op: trans.ILOAD, Kind: trans.KindVar, Var: 0},
			{Op: trans.IMUL, Kind: trans.KindInsn},
			{Op: trans.ISTORE, Kind: trans.KindVar, Var: 1},
			{Op: trans.IINC, Kind: trans.KindIinc, Var: 0, Incr: -1},
			{Op: trans.GOTO, Kind: trans.KindJump, Target: loop},
			{Kind: trans.KindLabel, Label: done},
			{Op: trans.ILOAD, Kind: trans.KindVar, Var: 1},
			{Op: trans.IRETURN, Kind: trans.KindInsn},
		},
	}
}
