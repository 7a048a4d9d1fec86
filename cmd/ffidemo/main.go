package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/internal/simnative"
	"github.com/wippyai/ffi-runtime/wasmheap"
)

// argList collects repeated -arg flags.
type argList []string

func (a *argList) String() string { return strings.Join(*a, " ") }

func (a *argList) Set(v string) error {
	*a = append(*a, v)
	return nil
}

type options struct {
	call        string
	args        argList
	list        bool
	interactive bool
	wasmHeap    bool
	verbose     bool
	timeout     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.call, "call", "", "Function to call: a symbol or the short name of a free function")
	flag.Var(&opts.args, "arg", "Argument for -call, repeated once per parameter (YAML or JSON values)")
	flag.BoolVar(&opts.list, "list", false, "List exported functions and exit")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&opts.wasmHeap, "wasm-heap", false, "Allocate buffers in WebAssembly linear memory")
	flag.BoolVar(&opts.verbose, "v", false, "Log runtime activity to stderr")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for async calls")
	flag.Parse()

	if !opts.list && !opts.interactive && opts.call == "" {
		fmt.Fprintln(os.Stderr, "Usage: ffidemo -list")
		fmt.Fprintln(os.Stderr, "       ffidemo -call add -arg 2 -arg 40")
		fmt.Fprintln(os.Stderr, "       ffidemo -call apply -arg mul -arg 6 -arg 7")
		fmt.Fprintln(os.Stderr, "       ffidemo -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	} else {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

func run(opts options) error {
	ctx := context.Background()

	log, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	var libOpts []simnative.Option
	if opts.wasmHeap {
		heap, err := wasmheap.NewBump(ctx, nil)
		if err != nil {
			return fmt.Errorf("wasm heap: %w", err)
		}
		defer func() { _ = heap.Close(ctx) }()
		libOpts = append(libOpts, simnative.WithAllocator(heap))
	}

	s, err := newSession(ctx, simnative.New(libOpts...), &ffiruntime.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			log.Warn("close runtime", zap.Error(err))
		}
		if leaks := s.rt.Leaks(); leaks.Total() > 0 {
			fmt.Fprintf(os.Stderr, "leaked bindings at exit: %d\n", leaks.Total())
		}
	}()

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(s, opts.timeout)
	}

	if opts.list {
		return list(s)
	}

	fn, err := s.resolve(opts.call)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	fmt.Printf("Calling %s(%s)...\n", fn.Symbol, strings.Join(opts.args, ", "))
	result, err := s.call(callCtx, fn, opts.args)
	if err != nil {
		return fmt.Errorf("call %s: %w", fn.Symbol, err)
	}
	fmt.Printf("Result: %s\n", result)
	return nil
}

func list(s *session) error {
	m, err := s.manifest()
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	fmt.Printf("Library: %s (contract version %d)\n", m.Library, m.Version)
	fmt.Printf("Callback interfaces: %s\n", strings.Join(m.Interfaces, ", "))
	fmt.Printf("Ops: %s\n", strings.Join(opNames(), ", "))
	fmt.Printf("\nExported functions:\n")
	for _, fn := range s.functions() {
		sym, ok := m.Lookup(fn.Symbol)
		if !ok {
			continue
		}
		fmt.Printf("  %s  [%04x]\n", sym.Signature, sym.Checksum)
		if doc := m.Docs[fn.Symbol]; doc != "" {
			fmt.Printf("      %s\n", doc)
		}
	}
	return nil
}
