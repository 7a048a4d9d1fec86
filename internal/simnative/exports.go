package simnative

import (
	"fmt"
	"math"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/object"
)

// Symbol returns the exported name of a free function.
func Symbol(fn string) string {
	return "ffi_" + Name + "_fn_" + fn
}

// Calculator entry points.
var (
	CalculatorNew   = "ffi_" + Name + "_constructor_" + CalculatorClass + "_new"
	CalculatorPush  = "ffi_" + Name + "_method_" + CalculatorClass + "_push"
	CalculatorTotal = "ffi_" + Name + "_method_" + CalculatorClass + "_total"
)

type calculator struct {
	mu     sync.Mutex
	values []float64
}

func (l *Library) exports() []export {
	s64 := func(name string) Param { return Param{Name: name, Type: wit.S64{}} }
	self := Param{Name: "self", Type: wit.U64{}}

	return []export{
		{Function{Symbol: Symbol("add"), Doc: "Adds two integers.",
			Params: []Param{s64("a"), s64("b")}, Result: wit.S64{}, Error: MathError}, l.add},
		{Function{Symbol: Symbol("div"), Doc: "Divides a by b, truncating.",
			Params: []Param{s64("a"), s64("b")}, Result: wit.S64{}, Error: MathError}, l.div},
		{Function{Symbol: Symbol("greet"), Doc: "Returns a greeting.",
			Params: []Param{{Name: "name", Type: wit.String{}}}, Result: wit.String{}}, l.greet},
		{Function{Symbol: Symbol("stats"), Doc: "Summarizes a list of numbers.",
			Params: []Param{{Name: "values", Type: floatList}}, Result: Summary, Error: MathError}, l.stats},
		{Function{Symbol: Symbol("crash"), Doc: "Panics with message.",
			Params: []Param{{Name: "message", Type: wit.String{}}}}, l.crash},
		{Function{Symbol: Symbol("apply"), Doc: "Calls op.apply(a, b) through the binary-op callback interface.",
			Params: []Param{{Name: "op", Type: wit.U64{}}, s64("a"), s64("b")}, Result: wit.S64{}, Error: MathError}, l.apply},

		{Function{Symbol: CalculatorNew, Doc: "Creates an empty calculator.",
			Result: wit.U64{}}, l.newCalculator},
		{Function{Symbol: CalculatorPush, Doc: "Adds a value to the running total.",
			Params: []Param{self, {Name: "value", Type: wit.F64{}}}}, l.push},
		{Function{Symbol: CalculatorTotal, Doc: "Returns the running total.",
			Params: []Param{self}, Result: wit.F64{}}, l.total},
		{Function{Symbol: object.CloneSymbol(Name, CalculatorClass), Doc: "Clones a calculator reference.",
			Params: []Param{self}, Result: wit.U64{}}, l.cloneCalculator},
		{Function{Symbol: object.FreeSymbol(Name, CalculatorClass), Doc: "Frees a calculator reference.",
			Params: []Param{self}}, l.freeCalculator},

		{Function{Symbol: Symbol("sleep_add"), Doc: "Adds a and b after millis milliseconds.", Async: true,
			Params: []Param{s64("a"), s64("b"), {Name: "millis", Type: wit.U32{}}}, Result: wit.S64{}}, l.sleepAdd},
		{Function{Symbol: Symbol("div_async"), Doc: "Divides a by b after yielding once.", Async: true,
			Params: []Param{s64("a"), s64("b")}, Result: wit.S64{}, Error: MathError}, l.divAsync},
		{Function{Symbol: Symbol("hash"), Doc: "Hashes data on a blocking task queue.", Async: true, Queue: true,
			Params: []Param{{Name: "data", Type: byteList}}, Result: wit.U64{}}, l.hash},
		{Function{Symbol: Symbol("apply_async"), Doc: "Calls op.apply(a, b) asynchronously.", Async: true,
			Params: []Param{{Name: "op", Type: wit.U64{}}, s64("a"), s64("b")}, Result: wit.S64{}, Error: MathError}, l.applyAsync},
	}
}

func addChecked(a, b int64) (int64, error) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, mathFault(Overflow)
	}
	return sum, nil
}

func divChecked(a, b int64) (int64, error) {
	if b == 0 {
		return 0, mathFault(DivisionByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, mathFault(Overflow)
	}
	return a / b, nil
}

func (l *Library) add(args []abi.Value) (abi.Value, error) {
	v, err := addChecked(args[0].Int64(), args[1].Int64())
	return abi.Int64(v), err
}

func (l *Library) div(args []abi.Value) (abi.Value, error) {
	v, err := divChecked(args[0].Int64(), args[1].Int64())
	return abi.Int64(v), err
}

func (l *Library) greet(args []abi.Value) (abi.Value, error) {
	name, err := l.liftArg(args, 0, wit.String{})
	if err != nil {
		return abi.Void, err
	}
	return l.lowerResult(wit.String{}, fmt.Sprintf("Hello, %s!", name))
}

func (l *Library) stats(args []abi.Value) (abi.Value, error) {
	raw, err := l.liftArg(args, 0, floatList)
	if err != nil {
		return abi.Void, err
	}
	values := raw.([]any)
	if len(values) == 0 {
		return abi.Void, mathFault(DivisionByZero)
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range values {
		f := v.(float64)
		lo, hi, sum = min(lo, f), max(hi, f), sum+f
	}
	return l.lowerResult(Summary, map[string]any{
		"count": uint32(len(values)),
		"mean":  sum / float64(len(values)),
		"min":   lo,
		"max":   hi,
	})
}

func (l *Library) crash(args []abi.Value) (abi.Value, error) {
	msg, err := l.liftArg(args, 0, wit.String{})
	if err != nil {
		return abi.Void, err
	}
	panic(msg)
}

func (l *Library) newCalculator([]abi.Value) (abi.Value, error) {
	h, err := l.calculators.Insert(&calculator{})
	if err != nil {
		return abi.Void, err
	}
	return abi.Scalar(uint64(h)), nil
}

func (l *Library) calculator(v abi.Value) (*calculator, error) {
	return l.calculators.Get(handle.Handle(v.Bits))
}

func (l *Library) push(args []abi.Value) (abi.Value, error) {
	c, err := l.calculator(args[0])
	if err != nil {
		return abi.Void, err
	}
	c.mu.Lock()
	c.values = append(c.values, args[1].Float64())
	c.mu.Unlock()
	return abi.Void, nil
}

func (l *Library) total(args []abi.Value) (abi.Value, error) {
	c, err := l.calculator(args[0])
	if err != nil {
		return abi.Void, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, v := range c.values {
		sum += v
	}
	return abi.Float64(sum), nil
}

func (l *Library) cloneCalculator(args []abi.Value) (abi.Value, error) {
	h, err := l.calculators.Clone(handle.Handle(args[0].Bits))
	if err != nil {
		return abi.Void, err
	}
	return abi.Scalar(uint64(h)), nil
}

func (l *Library) freeCalculator(args []abi.Value) (abi.Value, error) {
	_, err := l.calculators.Remove(handle.Handle(args[0].Bits))
	return abi.Void, err
}
