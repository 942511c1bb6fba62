// Package convert provides field converters that store Go values as JSON
// text columns. Two interchangeable JSON implementations are offered:
// github.com/goccy/go-json and github.com/json-iterator/go.
package convert

import (
	"bytes"
	"fmt"

	gojson "github.com/goccy/go-json"
	jsoniter "github.com/json-iterator/go"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// Codec is a JSON implementation.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// UnmarshalNumbers is Unmarshal with numbers held as json.Number so
	// integers keep full int64 precision.
	UnmarshalNumbers(data []byte, v any) error
}

type goccyCodec struct{}

func (goccyCodec) Name() string                       { return types.CodecGoccy }
func (goccyCodec) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (goccyCodec) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

func (goccyCodec) UnmarshalNumbers(data []byte, v any) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

type iterCodec struct {
	api jsoniter.API
}

func (iterCodec) Name() string                         { return types.CodecJSONIter }
func (c iterCodec) Marshal(v any) ([]byte, error)      { return c.api.Marshal(v) }
func (c iterCodec) Unmarshal(data []byte, v any) error { return c.api.Unmarshal(data, v) }

func (c iterCodec) UnmarshalNumbers(data []byte, v any) error {
	dec := c.api.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Built-in codecs.
var (
	Goccy    Codec = goccyCodec{}
	JSONIter Codec = iterCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
)

// CodecByName returns the codec registered under name. An empty name selects
// Goccy.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", types.CodecGoccy:
		return Goccy, nil
	case types.CodecJSONIter:
		return JSONIter, nil
	default:
		return nil, fmt.Errorf("%q: %w", name, types.ErrCodecUnknown)
	}
}
