package simnative

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/codec"
)

// Math error cases, in declaration order.
const (
	DivisionByZero uint32 = iota
	Overflow
)

func named(name string, kind wit.TypeDefKind) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: kind}
}

// MathError is the declared error type of the arithmetic functions.
var MathError = named("math-error", &wit.Enum{Cases: []wit.EnumCase{
	{Name: "division-by-zero"},
	{Name: "overflow"},
}})

// Summary is the record returned by stats.
var Summary = named("summary", &wit.Record{Fields: []wit.Field{
	{Name: "count", Type: wit.U32{}},
	{Name: "mean", Type: wit.F64{}},
	{Name: "min", Type: wit.F64{}},
	{Name: "max", Type: wit.F64{}},
}})

var floatList = &wit.TypeDef{Kind: &wit.List{Type: wit.F64{}}}

var byteList = &wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}

// Param is one function parameter.
type Param struct {
	Name string
	Type wit.Type
}

// Function describes one exported symbol for dynamic callers.
type Function struct {
	Symbol string
	Doc    string
	Params []Param
	Result wit.Type // nil when the function returns nothing
	Error  wit.Type // nil when the function cannot fail
	Async  bool

	// Queue is set when the function takes a blocking task queue handle
	// before Params. Callers pass one of the runtime's queues.
	Queue bool
}

// Signature renders the function the way its checksum is computed.
func (f Function) Signature() string {
	var b strings.Builder
	if f.Async {
		b.WriteString("async ")
	}
	b.WriteString("fn ")
	b.WriteString(f.Symbol)
	b.WriteByte('(')
	var params []string
	if f.Queue {
		params = append(params, "queue: blocking-task-queue")
	}
	for _, p := range f.Params {
		params = append(params, p.Name+": "+codec.TypeName(p.Type))
	}
	b.WriteString(strings.Join(params, ", "))
	b.WriteByte(')')
	if f.Result != nil {
		b.WriteString(" -> ")
		b.WriteString(codec.TypeName(f.Result))
	}
	if f.Error != nil {
		b.WriteString(" throws ")
		b.WriteString(codec.TypeName(f.Error))
	}
	return b.String()
}
