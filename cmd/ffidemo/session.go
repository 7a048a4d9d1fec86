package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/contract"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/internal/simnative"
)

// binaryOp is the Go side of the library's binary-op callback interface.
type binaryOp func(a, b int64) (int64, error)

type operands struct {
	A, B int64
}

var operandsConv = codec.Record[operands]{
	Name: "Operands",
	Fields: []codec.Field[operands]{
		codec.FieldOf("a", codec.Int64, func(p *operands) *int64 { return &p.A }),
		codec.FieldOf("b", codec.Int64, func(p *operands) *int64 { return &p.B }),
	},
}

// builtinOps can be passed by name wherever a function takes an op.
var builtinOps = map[string]binaryOp{
	"add": func(a, b int64) (int64, error) { return a + b, nil },
	"sub": func(a, b int64) (int64, error) { return a - b, nil },
	"mul": func(a, b int64) (int64, error) { return a * b, nil },
	"max": func(a, b int64) (int64, error) { return max(a, b), nil },
	"mod": func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return a % b, nil
	},
}

func opNames() []string {
	names := make([]string, 0, len(builtinOps))
	for name := range builtinOps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// session is a runtime bound to the demo library.
type session struct {
	rt  *ffiruntime.Runtime
	lib *simnative.Library
	ops *callback.Interface[binaryOp]
}

func newSession(ctx context.Context, lib *simnative.Library, cfg *ffiruntime.Config) (*session, error) {
	rt, err := ffiruntime.New(ctx, lib, cfg)
	if err != nil {
		return nil, err
	}
	ops := callback.New(simnative.CallbackInterface, rt.Allocator(), []callback.Method[binaryOp]{
		callback.Func("apply", operandsConv, codec.Int64, func(_ context.Context, op binaryOp, p operands) (int64, error) {
			return op(p.A, p.B)
		}),
	}, rt.CallbackOptions())
	if err := rt.Register(ops); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	ops.Registry().Subscribe(handle.ObserverFunc[binaryOp](func(e handle.Event[binaryOp]) {
		ffiruntime.Logger().Debug("op binding",
			zap.Stringer("event", e.Type),
			zap.Uint64("handle", uint64(e.Handle)),
			zap.Int("refs", e.Refs))
	}))
	return &session{rt: rt, lib: lib, ops: ops}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.rt.Close(ctx)
}

// functions lists the catalog sorted by symbol.
func (s *session) functions() []simnative.Function {
	fns := s.lib.Functions()
	sort.Slice(fns, func(i, j int) bool { return fns[i].Symbol < fns[j].Symbol })
	return fns
}

func (s *session) manifest() (*contract.Manifest, error) {
	return contract.ManifestOf(s.lib)
}

// resolve accepts a full symbol or the short name of a free function.
func (s *session) resolve(name string) (simnative.Function, error) {
	for _, candidate := range []string{name, simnative.Symbol(name)} {
		if fn, ok := s.lib.Function(candidate); ok {
			return fn, nil
		}
	}
	return simnative.Function{}, fmt.Errorf("unknown function %q", name)
}

// call lowers raw arguments per fn's parameter types, invokes fn and
// renders its result. Async functions are awaited.
func (s *session) call(ctx context.Context, fn simnative.Function, raw []string) (string, error) {
	if len(raw) != len(fn.Params) {
		return "", fmt.Errorf("%s takes %d argument(s), got %d", fn.Symbol, len(fn.Params), len(raw))
	}

	args := make([]abi.Value, 0, len(fn.Params)+1)
	if fn.Queue {
		args = append(args, abi.Scalar(s.rt.Queue()))
	}
	var ops []uint64
	for i, p := range fn.Params {
		v, err := s.lowerArg(p, raw[i])
		if err != nil {
			s.discard(args, ops)
			return "", fmt.Errorf("argument %s: %w", p.Name, err)
		}
		if p.Name == "op" {
			ops = append(ops, v.Bits)
		}
		args = append(args, v)
	}

	check := call.DeclaredDynamic(fn.Error)
	alloc := s.rt.Allocator()
	var (
		result any
		err    error
	)
	if fn.Async {
		lift := func(v abi.Value) (any, error) { return codec.LiftReturnDynamic(alloc, fn.Result, v) }
		var task *future.Task[any]
		task, err = ffiruntime.CallAsync(s.rt, fn.Symbol, lift, check, args...)
		if err == nil {
			result, err = task.Await(ctx)
		}
	} else {
		var ret abi.Value
		ret, err = s.rt.Invoke(fn.Symbol, check, args...)
		if err == nil {
			result, err = codec.LiftReturnDynamic(alloc, fn.Result, ret)
		}
	}
	if err != nil {
		return "", err
	}
	return render(fn.Result, result), nil
}

func (s *session) lowerArg(p simnative.Param, raw string) (abi.Value, error) {
	if p.Name == "op" {
		op, ok := builtinOps[raw]
		if !ok {
			return abi.Value{}, fmt.Errorf("unknown op %q (one of %s)", raw, strings.Join(opNames(), ", "))
		}
		return s.ops.LowerValue(op)
	}
	v, err := parseArg(p.Type, raw)
	if err != nil {
		return abi.Value{}, err
	}
	return codec.LowerArgDynamic(s.rt.Allocator(), p.Type, v)
}

// discard releases arguments lowered before a later one failed.
func (s *session) discard(args []abi.Value, ops []uint64) {
	for _, a := range args {
		if a.Kind == abi.KindBuffer {
			_ = s.rt.Allocator().Free(a.Buf)
		}
	}
	for _, h := range ops {
		var out abi.Buffer
		s.ops.Dispatch(h, callback.IndexFree, abi.Buffer{}, &out)
	}
}

// parseArg reads a command-line argument as a YAML flow value, so JSON and
// bare words both work. Strings are taken verbatim.
func parseArg(t wit.Type, raw string) (any, error) {
	if _, ok := t.(wit.String); ok {
		return raw, nil
	}
	if td, ok := t.(*wit.TypeDef); ok {
		if l, ok := td.Kind.(*wit.List); ok {
			if _, ok := l.Type.(wit.U8); ok && !strings.HasPrefix(strings.TrimSpace(raw), "[") {
				return []byte(raw), nil
			}
		}
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse %q as %s: %w", raw, codec.TypeName(t), err)
	}
	return v, nil
}

func render(t wit.Type, v any) string {
	if t == nil {
		return "(no result)"
	}
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if td, ok := t.(*wit.TypeDef); ok {
			if r, ok := td.Kind.(*wit.Record); ok {
				keys = keys[:0]
				for _, f := range r.Fields {
					keys = append(keys, f.Name)
				}
			}
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	if u, ok := v.(uint64); ok && codec.TypeName(t) == "u64" {
		return fmt.Sprintf("%d (%#x)", u, u)
	}
	return fmt.Sprintf("%v", v)
}
