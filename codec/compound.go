package codec

import (
	"cmp"
	"maps"
	"slices"
	"strconv"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

// Optional encodes *T as a presence byte followed by T.
type Optional[T any] struct {
	Inner Converter[T]
}

// OptionalOf returns an Optional converter for c.
func OptionalOf[T any](c Converter[T]) Optional[T] {
	return Optional[T]{Inner: c}
}

func (c Optional[T]) Read(r *buffer.Reader) (*T, error) {
	disc, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch disc {
	case 0:
		return nil, nil
	case 1:
		v, err := c.Inner.Read(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, errors.InvalidDiscriminant(nil, int64(disc), 1)
	}
}

func (c Optional[T]) Write(w *buffer.Writer, v *T) error {
	if v == nil {
		return w.WriteU8(0)
	}
	if err := w.WriteU8(1); err != nil {
		return err
	}
	return c.Inner.Write(w, *v)
}

// Sequence encodes []T as an i32 count followed by the elements.
type Sequence[T any] struct {
	Elem Converter[T]
}

// SequenceOf returns a Sequence converter for c.
func SequenceOf[T any](c Converter[T]) Sequence[T] {
	return Sequence[T]{Elem: c}
}

func (c Sequence[T]) Read(r *buffer.Reader) ([]T, error) {
	n, err := r.ReadLen(0)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		v, err := c.Elem.Read(r)
		if err != nil {
			return nil, errors.AtPath(err, strconv.Itoa(i))
		}
		out = append(out, v)
	}
	return out, nil
}

func (c Sequence[T]) Write(w *buffer.Writer, v []T) error {
	if err := w.WriteLen(len(v)); err != nil {
		return err
	}
	for i, e := range v {
		if err := c.Elem.Write(w, e); err != nil {
			return errors.AtPath(err, strconv.Itoa(i))
		}
	}
	return nil
}

// Map encodes map[K]V as an i32 count followed by key/value pairs. Keys are
// written in ascending order so equal maps always encode identically.
type Map[K cmp.Ordered, V any] struct {
	Key   Converter[K]
	Value Converter[V]
}

// MapOf returns a Map converter.
func MapOf[K cmp.Ordered, V any](k Converter[K], v Converter[V]) Map[K, V] {
	return Map[K, V]{Key: k, Value: v}
}

func (c Map[K, V]) Read(r *buffer.Reader) (map[K]V, error) {
	n, err := r.ReadLen(0)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		k, err := c.Key.Read(r)
		if err != nil {
			return nil, errors.AtPath(err, strconv.Itoa(i), "key")
		}
		v, err := c.Value.Read(r)
		if err != nil {
			return nil, errors.AtPath(err, strconv.Itoa(i), "value")
		}
		out[k] = v
	}
	return out, nil
}

func (c Map[K, V]) Write(w *buffer.Writer, m map[K]V) error {
	if err := w.WriteLen(len(m)); err != nil {
		return err
	}
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if err := c.Key.Write(w, k); err != nil {
			return errors.AtPath(err, strconv.Itoa(i), "key")
		}
		if err := c.Value.Write(w, m[k]); err != nil {
			return errors.AtPath(err, strconv.Itoa(i), "value")
		}
	}
	return nil
}

// Field is one entry of a record's field table.
type Field[T any] struct {
	Name  string
	Read  func(r *buffer.Reader, dst *T) error
	Write func(w *buffer.Writer, src *T) error
}

// FieldOf builds a Field that accesses a struct member through get.
func FieldOf[T, F any](name string, c Converter[F], get func(*T) *F) Field[T] {
	return Field[T]{
		Name: name,
		Read: func(r *buffer.Reader, dst *T) error {
			v, err := c.Read(r)
			if err != nil {
				return err
			}
			*get(dst) = v
			return nil
		},
		Write: func(w *buffer.Writer, src *T) error {
			return c.Write(w, *get(src))
		},
	}
}

// Record encodes T as its fields in declaration order, without a tag.
type Record[T any] struct {
	Name   string
	Fields []Field[T]
}

func (c Record[T]) Read(r *buffer.Reader) (T, error) {
	var v T
	for _, f := range c.Fields {
		if err := f.Read(r, &v); err != nil {
			var zero T
			return zero, errors.AtPath(err, c.Name, f.Name)
		}
	}
	return v, nil
}

func (c Record[T]) Write(w *buffer.Writer, v T) error {
	for _, f := range c.Fields {
		if err := f.Write(w, &v); err != nil {
			return errors.AtPath(err, c.Name, f.Name)
		}
	}
	return nil
}

// Variant is one case of an Enum. Match reports whether a Go value belongs
// to this case; Read and Write handle the case's fields only.
type Variant[T any] struct {
	Name  string
	Match func(v T) bool
	Read  func(r *buffer.Reader) (T, error)
	Write func(w *buffer.Writer, v T) error
}

// UnitVariant is a case without fields that always decodes to value.
func UnitVariant[T any](name string, value T, match func(T) bool) Variant[T] {
	return Variant[T]{
		Name:  name,
		Match: match,
		Read:  func(*buffer.Reader) (T, error) { return value, nil },
		Write: func(*buffer.Writer, T) error { return nil },
	}
}

// Enum encodes T as a 1-based i32 tag followed by the case's fields.
type Enum[T any] struct {
	Name     string
	Variants []Variant[T]
}

func (c Enum[T]) Read(r *buffer.Reader) (T, error) {
	var zero T
	tag, err := r.ReadI32()
	if err != nil {
		return zero, err
	}
	if tag < 1 || int(tag) > len(c.Variants) {
		return zero, errors.AtPath(errors.InvalidDiscriminant(nil, int64(tag), int64(len(c.Variants))), c.Name)
	}
	vr := c.Variants[tag-1]
	v, err := vr.Read(r)
	if err != nil {
		return zero, errors.AtPath(err, c.Name, vr.Name)
	}
	return v, nil
}

func (c Enum[T]) Write(w *buffer.Writer, v T) error {
	for i, vr := range c.Variants {
		if !vr.Match(v) {
			continue
		}
		if err := w.WriteI32(int32(i + 1)); err != nil {
			return err
		}
		if err := vr.Write(w, v); err != nil {
			return errors.AtPath(err, c.Name, vr.Name)
		}
		return nil
	}
	return errors.New(errors.PhaseValidate, errors.KindInvalidVariant).
		Path(c.Name).
		GoType(typeName[T]()).
		Value(v).
		Detail("value matches no variant").
		Build()
}

// CEnum encodes a fieldless enum as the 1-based position of the value in
// Cases.
type CEnum[T comparable] struct {
	Name  string
	Cases []T
}

func (c CEnum[T]) Read(r *buffer.Reader) (T, error) {
	var zero T
	tag, err := r.ReadI32()
	if err != nil {
		return zero, err
	}
	if tag < 1 || int(tag) > len(c.Cases) {
		return zero, errors.AtPath(errors.InvalidDiscriminant(nil, int64(tag), int64(len(c.Cases))), c.Name)
	}
	return c.Cases[tag-1], nil
}

func (c CEnum[T]) Write(w *buffer.Writer, v T) error {
	i := slices.Index(c.Cases, v)
	if i < 0 {
		return errors.New(errors.PhaseValidate, errors.KindInvalidVariant).
			Path(c.Name).
			Value(v).
			Detail("unknown case %v", v).
			Build()
	}
	return w.WriteI32(int32(i + 1))
}
