package channel

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Decoder reads successive values from a stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes successive values to a stream.
type Encoder interface {
	Encode(v any) error
}

// Codec frames calls and responses on a byte stream.
type Codec interface {
	NewDecoder(r io.Reader) Decoder
	NewEncoder(w io.Writer) Encoder
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns the codec called name. The empty name selects JSON.
func GetCodec(name string) (Codec, error) {
	switch name {
	case CodecNameJSON, "":
		return JSONCodec{}, nil
	case CodecNameMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("channel: unknown codec %q", name)
	}
}

// JSONCodec reads and writes newline-delimited JSON values.
type JSONCodec struct{}

func (JSONCodec) NewDecoder(r io.Reader) Decoder { return json.NewDecoder(r) }
func (JSONCodec) NewEncoder(w io.Writer) Encoder { return json.NewEncoder(w) }
func (JSONCodec) Name() string                   { return CodecNameJSON }

// MsgpackCodec reads and writes concatenated MessagePack values.
type MsgpackCodec struct{}

// Nested maps decode as map[string]any, matching JSON.
func (MsgpackCodec) NewDecoder(r io.Reader) Decoder { return msgpack.NewDecoder(r) }
func (MsgpackCodec) NewEncoder(w io.Writer) Encoder { return msgpack.NewEncoder(w) }
func (MsgpackCodec) Name() string                   { return CodecNameMsgpack }
