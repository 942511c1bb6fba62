package convert

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// FieldConverter stores values of T as JSON text.
type FieldConverter[T any] struct {
	codec Codec
}

// NewFieldConverter returns a converter for T using codec.
func NewFieldConverter[T any](codec Codec) *FieldConverter[T] {
	return &FieldConverter[T]{codec: codec}
}

// Encode marshals v to JSON text.
func (f *FieldConverter[T]) Encode(v T) (string, error) {
	b, err := f.codec.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s encode %T: %w", f.codec.Name(), v, err)
	}
	return string(b), nil
}

// Decode unmarshals JSON text into a new T.
func (f *FieldConverter[T]) Decode(s string) (T, error) {
	var v T
	if err := f.codec.Unmarshal([]byte(s), &v); err != nil {
		return v, fmt.Errorf("%s decode %T: %w", f.codec.Name(), v, err)
	}
	return v, nil
}

// ToColumn implements types.FieldConverter. value must be a T.
func (f *FieldConverter[T]) ToColumn(value any) (any, error) {
	v, ok := value.(T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("expected %T, got %T: %w", zero, value, types.ErrInvalidValues)
	}
	return f.Encode(v)
}

// FromColumn implements types.FieldConverter. NULL decodes to the zero T.
func (f *FieldConverter[T]) FromColumn(raw any) (any, error) {
	s, isNull, err := columnText(raw)
	if err != nil {
		return nil, err
	}
	if isNull {
		var zero T
		return zero, nil
	}
	return f.Decode(s)
}

// ColumnType implements types.FieldConverter.
func (f *FieldConverter[T]) ColumnType() types.ColumnType { return types.ColumnText }

// TypeConverter stores values of a runtime type as JSON text. Factories return
// it when the Go type is only known through reflection.
type TypeConverter struct {
	typ   reflect.Type
	codec Codec
}

// NewTypeConverter returns a converter for typ using codec.
func NewTypeConverter(typ reflect.Type, codec Codec) *TypeConverter {
	return &TypeConverter{typ: typ, codec: codec}
}

// Dynamic returns a converter that decodes into generic JSON values
// (map[string]any, []any, float64, string, bool, nil).
func Dynamic(codec Codec) *TypeConverter {
	return NewTypeConverter(reflect.TypeFor[any](), codec)
}

// ToColumn implements types.FieldConverter.
func (c *TypeConverter) ToColumn(value any) (any, error) {
	b, err := c.codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%s encode %T: %w", c.codec.Name(), value, err)
	}
	return string(b), nil
}

// FromColumn implements types.FieldConverter.
func (c *TypeConverter) FromColumn(raw any) (any, error) {
	s, isNull, err := columnText(raw)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(c.typ)
	if isNull {
		return ptr.Elem().Interface(), nil
	}
	if err := c.codec.Unmarshal([]byte(s), ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%s decode %s: %w", c.codec.Name(), c.typ, err)
	}
	return ptr.Elem().Interface(), nil
}

// ColumnType implements types.FieldConverter.
func (c *TypeConverter) ColumnType() types.ColumnType { return types.ColumnText }

// columnText normalizes the TEXT representations drivers return.
func columnText(raw any) (string, bool, error) {
	switch v := raw.(type) {
	case nil:
		return "", true, nil
	case string:
		return v, false, nil
	case []byte:
		return string(v), false, nil
	default:
		return "", false, fmt.Errorf("json column holds %T: %w", raw, types.ErrInvalidValues)
	}
}

// ListFactory creates converters for slice and array types. Byte slices are
// left to the driver as BLOBs.
type ListFactory struct {
	Codec Codec
}

// Create implements types.ConverterFactory.
func (f ListFactory) Create(t reflect.Type) types.FieldConverter {
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return nil
		}
		return NewTypeConverter(t, f.Codec)
	}
	return nil
}

// ObjectFactory creates converters for maps and structs. time.Time is left to
// the driver.
type ObjectFactory struct {
	Codec Codec
}

var timeType = reflect.TypeFor[time.Time]()

// Create implements types.ConverterFactory.
func (f ObjectFactory) Create(t reflect.Type) types.FieldConverter {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map:
		return NewTypeConverter(t, f.Codec)
	case reflect.Struct:
		if t == timeType {
			return nil
		}
		return NewTypeConverter(t, f.Codec)
	}
	return nil
}

// Factories returns the default factory chain for codec: lists first, then
// maps and structs.
func Factories(codec Codec) []types.ConverterFactory {
	return []types.ConverterFactory{ListFactory{Codec: codec}, ObjectFactory{Codec: codec}}
}

// Lookup returns the first converter any factory creates for t.
func Lookup(factories []types.ConverterFactory, t reflect.Type) types.FieldConverter {
	for _, f := range factories {
		if c := f.Create(t); c != nil {
			return c
		}
	}
	return nil
}
