package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// All messages use the protobuf wire format. Decoding is strict: unknown
// field numbers, unexpected wire types and truncated input are errors.

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(msg string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &DecodeError{Message: msg, Err: protowire.ParseError(n)}
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func unknownField(msg string, num protowire.Number, typ protowire.Type) error {
	return &DecodeError{
		Message: msg,
		Field:   fmt.Sprintf("%d", num),
		Err:     fmt.Errorf("unknown field with wire type %d", typ),
	}
}

func wireTypeError(msg, field string, got protowire.Type) error {
	return &DecodeError{
		Message: msg,
		Field:   field,
		Err:     fmt.Errorf("unexpected wire type %d", got),
	}
}

func parseError(msg, field string, n int) error {
	return &DecodeError{Message: msg, Field: field, Err: protowire.ParseError(n)}
}

func consumeVarint(msg, field string, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wireTypeError(msg, field, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, parseError(msg, field, n)
	}
	return v, n, nil
}

func consumeInt32(msg, field string, typ protowire.Type, b []byte) (int32, int, error) {
	v, n, err := consumeVarint(msg, field, typ, b)
	if err != nil {
		return 0, 0, err
	}
	return int32(v), n, nil
}

func consumeFloat(msg, field string, typ protowire.Type, b []byte) (float32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, wireTypeError(msg, field, typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, parseError(msg, field, n)
	}
	return math.Float32frombits(v), n, nil
}

// consumeBytes returns a copy; the input may alias guest-derived buffers.
func consumeBytes(msg, field string, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wireTypeError(msg, field, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, parseError(msg, field, n)
	}
	if len(v) == 0 {
		return nil, n, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeString(msg, field string, typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytes(msg, field, typ, b)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

// consumeFloats accepts both packed and unpacked encodings.
func consumeFloats(msg, field string, typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n, err := consumeFloat(msg, field, typ, b)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, parseError(msg, field, n)
		}
		if len(packed)%4 != 0 {
			return 0, &DecodeError{
				Message: msg,
				Field:   field,
				Err:     fmt.Errorf("packed float length %d is not a multiple of 4", len(packed)),
			}
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			*dst = append(*dst, math.Float32frombits(v))
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, wireTypeError(msg, field, typ)
	}
}

// consumeInt32s accepts both packed and unpacked encodings.
func consumeInt32s(msg, field string, typ protowire.Type, b []byte, dst *[]int32) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n, err := consumeInt32(msg, field, typ, b)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, parseError(msg, field, n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, parseError(msg, field, m)
			}
			*dst = append(*dst, int32(v))
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, wireTypeError(msg, field, typ)
	}
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendInt32s(b []byte, num protowire.Number, vs []int32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// decodeEmpty is shared by request and response messages without fields.
func decodeEmpty(msg string, b []byte) error {
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, _ []byte) (int, error) {
		return 0, unknownField(msg, num, typ)
	})
}
