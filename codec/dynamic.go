package codec

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

// Dynamic values use the following Go representation:
//
//	record          map[string]any
//	variant         map[string]any with exactly one key, the case name
//	result          map[string]any with key "ok" or "err"
//	enum            uint32 case index (a case name is accepted when lowering)
//	option          nil or the inner value
//	list, tuple     []any ([]byte is accepted for list<u8> when lowering)
//	own, borrow     uint64 handle
//	char            rune, encoded as u32

// LowerDynamic encodes v according to t into a fresh buffer.
func LowerDynamic(alloc abi.Allocator, t wit.Type, v any) (abi.Buffer, error) {
	w := buffer.NewWriter(alloc)
	if err := EncodeValue(w, t, v); err != nil {
		w.Abort()
		return abi.Buffer{}, err
	}
	return w.Finish()
}

// LiftDynamic decodes a whole buffer according to t and frees it.
func LiftDynamic(alloc abi.Allocator, t wit.Type, buf abi.Buffer) (any, error) {
	r, err := buffer.NewReader(alloc, buf)
	if err != nil {
		return nil, err
	}
	v, err := DecodeValue(r, t)
	relErr := r.Release()
	if err != nil {
		return nil, err
	}
	return v, relErr
}

// EncodeValue writes v according to t.
func EncodeValue(w *buffer.Writer, t wit.Type, v any) error {
	return encodeValue(w, t, v, nil)
}

// DecodeValue reads a value of type t.
func DecodeValue(r *buffer.Reader, t wit.Type) (any, error) {
	return decodeValue(r, t, nil)
}

func childPath(path []string, seg string) []string {
	return append(append(make([]string, 0, len(path)+1), path...), seg)
}

func mismatch(path []string, v any, t wit.Type) error {
	if isNumber(v) {
		return errors.Overflow(path, v, TypeName(t))
	}
	return errors.TypeMismatch(errors.PhaseValidate, path, fmt.Sprintf("%T", v), TypeName(t))
}

func encodeValue(w *buffer.Writer, t wit.Type, v any, path []string) error {
	switch t := t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(path, v, t)
		}
		return Bool.Write(w, b)
	case wit.U8:
		u, ok := coerceUint(v, math.MaxUint8)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU8(uint8(u))
	case wit.U16:
		u, ok := coerceUint(v, math.MaxUint16)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU16(uint16(u))
	case wit.U32:
		u, ok := coerceUint(v, math.MaxUint32)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU32(uint32(u))
	case wit.U64:
		u, ok := coerceUint(v, math.MaxUint64)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU64(u)
	case wit.S8:
		i, ok := coerceInt(v, math.MinInt8, math.MaxInt8)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU8(uint8(i))
	case wit.S16:
		i, ok := coerceInt(v, math.MinInt16, math.MaxInt16)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteU16(uint16(i))
	case wit.S32:
		i, ok := coerceInt(v, math.MinInt32, math.MaxInt32)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteI32(int32(i))
	case wit.S64:
		i, ok := coerceInt(v, math.MinInt64, math.MaxInt64)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteI64(i)
	case wit.F32:
		f, ok := coerceFloat(v)
		if !ok {
			return mismatch(path, v, t)
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return errors.Overflow(path, v, "f32")
		}
		return w.WriteF32(float32(f))
	case wit.F64:
		f, ok := coerceFloat(v)
		if !ok {
			return mismatch(path, v, t)
		}
		return w.WriteF64(f)
	case wit.Char:
		i, ok := coerceInt(v, 0, utf8.MaxRune)
		if !ok || !utf8.ValidRune(rune(i)) {
			return errors.New(errors.PhaseValidate, errors.KindInvalidData).
				Path(path...).
				Value(v).
				Detail("not a Unicode scalar value").
				Build()
		}
		return w.WriteU32(uint32(i))
	case wit.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, v, t)
		}
		return errors.AtPath(String.Write(w, s), path...)
	case *wit.TypeDef:
		return encodeTypeDef(w, t, v, path)
	default:
		return errors.Unsupported(errors.PhaseEncode, fmt.Sprintf("WIT type %T", t))
	}
}

func encodeTypeDef(w *buffer.Writer, t *wit.TypeDef, v any, path []string) error {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, v, t)
		}
		for _, f := range kind.Fields {
			fv, present := m[f.Name]
			if !present {
				return errors.New(errors.PhaseValidate, errors.KindFieldMissing).
					Path(childPath(path, f.Name)...).
					Detail("field %q missing", f.Name).
					Build()
			}
			if err := encodeValue(w, f.Type, fv, childPath(path, f.Name)); err != nil {
				return err
			}
		}
		return nil
	case *wit.List:
		if b, ok := v.([]byte); ok {
			if _, isU8 := kind.Type.(wit.U8); isU8 {
				return Bytes.Write(w, b)
			}
		}
		items, ok := v.([]any)
		if !ok {
			return mismatch(path, v, t)
		}
		if err := w.WriteLen(len(items)); err != nil {
			return err
		}
		for i, item := range items {
			if err := encodeValue(w, kind.Type, item, childPath(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	case *wit.Tuple:
		items, ok := v.([]any)
		if !ok || len(items) != len(kind.Types) {
			return mismatch(path, v, t)
		}
		for i, et := range kind.Types {
			if err := encodeValue(w, et, items[i], childPath(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	case *wit.Option:
		if v == nil {
			return w.WriteU8(0)
		}
		if err := w.WriteU8(1); err != nil {
			return err
		}
		return encodeValue(w, kind.Type, v, path)
	case *wit.Enum:
		idx, ok := enumIndex(kind, v)
		if !ok {
			return errors.New(errors.PhaseValidate, errors.KindInvalidVariant).
				Path(path...).
				FFIType(TypeName(t)).
				Value(v).
				Detail("unknown enum case %v", v).
				Build()
		}
		return w.WriteI32(int32(idx + 1))
	case *wit.Variant:
		name, payload, err := singleCase(v, path, t)
		if err != nil {
			return err
		}
		for i, c := range kind.Cases {
			if c.Name != name {
				continue
			}
			if err := w.WriteI32(int32(i + 1)); err != nil {
				return err
			}
			if c.Type == nil {
				return nil
			}
			return encodeValue(w, c.Type, payload, childPath(path, c.Name))
		}
		return errors.New(errors.PhaseValidate, errors.KindInvalidVariant).
			Path(path...).
			Detail("unknown variant case %q", name).
			Build()
	case *wit.Result:
		name, payload, err := singleCase(v, path, t)
		if err != nil {
			return err
		}
		var (
			tag     int32
			payType wit.Type
		)
		switch name {
		case "ok":
			tag, payType = 1, kind.OK
		case "err":
			tag, payType = 2, kind.Err
		default:
			return errors.New(errors.PhaseValidate, errors.KindInvalidVariant).
				Path(path...).
				Detail("result case must be \"ok\" or \"err\", got %q", name).
				Build()
		}
		if err := w.WriteI32(tag); err != nil {
			return err
		}
		if payType == nil {
			return nil
		}
		return encodeValue(w, payType, payload, childPath(path, name))
	case *wit.Own, *wit.Borrow:
		h, ok := coerceUint(v, math.MaxUint64)
		if !ok {
			return mismatch(path, v, t)
		}
		return errors.AtPath(Handle.Write(w, h), path...)
	case *wit.Flags:
		return errors.Unsupported(errors.PhaseEncode, "flags")
	case wit.Type:
		return encodeValue(w, kind, v, path)
	default:
		return errors.Unsupported(errors.PhaseEncode, "TypeDef kind")
	}
}

func enumIndex(e *wit.Enum, v any) (int, bool) {
	if name, ok := v.(string); ok {
		for i, c := range e.Cases {
			if c.Name == name {
				return i, true
			}
		}
		return 0, false
	}
	u, ok := coerceUint(v, uint64(len(e.Cases)))
	if !ok || u >= uint64(len(e.Cases)) {
		return 0, false
	}
	return int(u), true
}

func singleCase(v any, path []string, t wit.Type) (string, any, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, errors.New(errors.PhaseValidate, errors.KindTypeMismatch).
			Path(path...).
			GoType(fmt.Sprintf("%T", v)).
			FFIType(TypeName(t)).
			Detail("expected a map with exactly one case").
			Build()
	}
	for k, payload := range m {
		return k, payload, nil
	}
	return "", nil, nil
}

func decodeValue(r *buffer.Reader, t wit.Type, path []string) (any, error) {
	var (
		v   any
		err error
	)
	switch t := t.(type) {
	case wit.Bool:
		v, err = Bool.Read(r)
	case wit.U8:
		v, err = Uint8.Read(r)
	case wit.U16:
		v, err = Uint16.Read(r)
	case wit.U32:
		v, err = Uint32.Read(r)
	case wit.U64:
		v, err = Uint64.Read(r)
	case wit.S8:
		v, err = Int8.Read(r)
	case wit.S16:
		v, err = Int16.Read(r)
	case wit.S32:
		v, err = Int32.Read(r)
	case wit.S64:
		v, err = Int64.Read(r)
	case wit.F32:
		v, err = Float32.Read(r)
	case wit.F64:
		v, err = Float64.Read(r)
	case wit.Char:
		var u uint32
		u, err = r.ReadU32()
		if err == nil && !utf8.ValidRune(rune(u)) {
			err = errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Detail("invalid Unicode scalar value: 0x%X", u).
				Build()
		}
		v = rune(u)
	case wit.String:
		v, err = String.Read(r)
	case *wit.TypeDef:
		return decodeTypeDef(r, t, path)
	default:
		return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("WIT type %T", t))
	}
	if err != nil {
		return nil, errors.AtPath(err, path...)
	}
	return v, nil
}

func decodeTypeDef(r *buffer.Reader, t *wit.TypeDef, path []string) (any, error) {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		out := make(map[string]any, len(kind.Fields))
		for _, f := range kind.Fields {
			fv, err := decodeValue(r, f.Type, childPath(path, f.Name))
			if err != nil {
				return nil, err
			}
			out[f.Name] = fv
		}
		return out, nil
	case *wit.List:
		n, err := r.ReadLen(0)
		if err != nil {
			return nil, errors.AtPath(err, path...)
		}
		out := make([]any, 0, min(n, r.Remaining()))
		for i := 0; i < n; i++ {
			item, err := decodeValue(r, kind.Type, childPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *wit.Tuple:
		out := make([]any, 0, len(kind.Types))
		for i, et := range kind.Types {
			item, err := decodeValue(r, et, childPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *wit.Option:
		disc, err := r.ReadU8()
		if err != nil {
			return nil, errors.AtPath(err, path...)
		}
		switch disc {
		case 0:
			return nil, nil
		case 1:
			return decodeValue(r, kind.Type, path)
		default:
			return nil, errors.InvalidDiscriminant(path, int64(disc), 1)
		}
	case *wit.Enum:
		tag, err := readTag(r, len(kind.Cases), path)
		if err != nil {
			return nil, err
		}
		return uint32(tag - 1), nil
	case *wit.Variant:
		tag, err := readTag(r, len(kind.Cases), path)
		if err != nil {
			return nil, err
		}
		c := kind.Cases[tag-1]
		var payload any
		if c.Type != nil {
			payload, err = decodeValue(r, c.Type, childPath(path, c.Name))
			if err != nil {
				return nil, err
			}
		}
		return map[string]any{c.Name: payload}, nil
	case *wit.Result:
		tag, err := readTag(r, 2, path)
		if err != nil {
			return nil, err
		}
		name, payType := "ok", kind.OK
		if tag == 2 {
			name, payType = "err", kind.Err
		}
		var payload any
		if payType != nil {
			payload, err = decodeValue(r, payType, childPath(path, name))
			if err != nil {
				return nil, err
			}
		}
		return map[string]any{name: payload}, nil
	case *wit.Own, *wit.Borrow:
		h, err := Handle.Read(r)
		if err != nil {
			return nil, errors.AtPath(err, path...)
		}
		return h, nil
	case *wit.Flags:
		return nil, errors.Unsupported(errors.PhaseDecode, "flags")
	case wit.Type:
		return decodeValue(r, kind, path)
	default:
		return nil, errors.Unsupported(errors.PhaseDecode, "TypeDef kind")
	}
}

func readTag(r *buffer.Reader, cases int, path []string) (int, error) {
	tag, err := r.ReadI32()
	if err != nil {
		return 0, errors.AtPath(err, path...)
	}
	if tag < 1 || int(tag) > cases {
		return 0, errors.InvalidDiscriminant(path, int64(tag), int64(cases))
	}
	return int(tag), nil
}

// TypeName returns a short WIT spelling of t for messages and the demo CLI.
func TypeName(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return "_"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		switch k := v.Kind.(type) {
		case *wit.List:
			return "list<" + TypeName(k.Type) + ">"
		case *wit.Option:
			return "option<" + TypeName(k.Type) + ">"
		case *wit.Result:
			return "result<" + TypeName(k.OK) + ", " + TypeName(k.Err) + ">"
		case *wit.Record:
			return "record"
		case *wit.Variant:
			return "variant"
		case *wit.Enum:
			return "enum"
		case *wit.Tuple:
			return "tuple"
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}
