package codec

import (
	"reflect"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
)

func TestDynamicArgs(t *testing.T) {
	alloc := buffer.NewHeapAllocator()
	tests := []struct {
		name   string
		typ    wit.Type
		in     any
		want   any
		scalar bool
	}{
		{"bool", wit.Bool{}, true, true, true},
		{"s8 from float", wit.S8{}, float64(-5), int8(-5), true},
		{"u16", wit.U16{}, 700, uint16(700), true},
		{"s64", wit.S64{}, int64(-1 << 40), int64(-1 << 40), true},
		{"f32", wit.F32{}, 0.25, float32(0.25), true},
		{"f64", wit.F64{}, 1.5, 1.5, true},
		{"char", wit.Char{}, 'é', 'é', true},
		{"string", wit.String{}, "hello", "hello", false},
		{"list", &wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}, []any{1, 2}, []any{uint8(1), uint8(2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsScalar(tt.typ) != tt.scalar {
				t.Fatalf("IsScalar = %v", !tt.scalar)
			}
			v, err := LowerArgDynamic(alloc, tt.typ, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if tt.scalar != (v.Kind == abi.KindScalar) {
				t.Fatalf("kind = %v", v.Kind)
			}
			got, err := LiftReturnDynamic(alloc, tt.typ, v)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
	if alloc.Live() != 0 {
		t.Errorf("%d buffers leaked", alloc.Live())
	}
}

func TestDynamicArgErrors(t *testing.T) {
	alloc := buffer.NewHeapAllocator()

	if _, err := LowerArgDynamic(alloc, wit.U8{}, 300); !ffierrors.IsValidation(err) {
		t.Errorf("u8 overflow = %v", err)
	}
	if _, err := LowerArgDynamic(alloc, wit.Bool{}, "yes"); !ffierrors.IsValidation(err) {
		t.Errorf("bool from string = %v", err)
	}
	if _, err := LowerArgDynamic(alloc, wit.Char{}, 0xD800); !ffierrors.IsValidation(err) {
		t.Errorf("surrogate char = %v", err)
	}
	if _, err := LiftReturnDynamic(alloc, wit.String{}, abi.Scalar(1)); !ffierrors.IsInternal(err) {
		t.Errorf("string from scalar = %v", err)
	}
	if _, err := LiftReturnDynamic(alloc, wit.Bool{}, abi.Scalar(2)); !ffierrors.IsInternal(err) {
		t.Errorf("bool 2 = %v", err)
	}
	if v, err := LiftReturnDynamic(alloc, nil, abi.Void); v != nil || err != nil {
		t.Errorf("void = %v, %v", v, err)
	}
}
