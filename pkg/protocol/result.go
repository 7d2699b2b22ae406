package protocol

import (
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Result is the envelope every host call returns to the guest.
//
//	field 1  error_code     varint
//	field 2  error_message  bytes
//	field 3  data           bytes
//
// A failed result carries fields 1 and 2; a successful one carries field 3.
type Result struct {
	Code    Code
	Message string
	Data    []byte
}

// Success wraps an encoded response message.
func Success(data []byte) Result {
	return Result{Data: data}
}

// Failure converts err into a failed result. The message is the full error
// text so the cause survives the boundary.
func Failure(err error) Result {
	e := AsError(err)
	if e == nil {
		e = Internal("failure without error")
	}
	return Result{Code: e.Code, Message: e.Error()}
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Code == CodeOK
}

// Err returns the failure as an *Error, or nil for a successful result.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Code: r.Code, Message: strings.TrimPrefix(r.Message, r.Code.prefix()+": ")}
}

// Marshal encodes the result.
func (r Result) Marshal() []byte {
	if !r.OK() {
		b := protowire.AppendTag(nil, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Code))
		if r.Message != "" {
			b = protowire.AppendTag(b, 2, protowire.BytesType)
			b = protowire.AppendString(b, r.Message)
		}
		return b
	}
	b := protowire.AppendTag(nil, 3, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

// Unmarshal decodes a result and enforces that it is exactly one of a
// failure or a success. Empty input is rejected.
func (r *Result) Unmarshal(b []byte) error {
	const msg = "Result"
	*r = Result{}

	var hasCode, hasMessage, hasData bool
	err := decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(msg, "error_code", typ, b)
			if err != nil {
				return 0, err
			}
			if v == 0 || v > 0xFFFFFFFF {
				return 0, &DecodeError{Message: msg, Field: "error_code", Err: errInvalidCode}
			}
			r.Code = Code(v)
			hasCode = true
			return n, nil
		case 2:
			v, n, err := consumeString(msg, "error_message", typ, b)
			if err != nil {
				return 0, err
			}
			r.Message = v
			hasMessage = true
			return n, nil
		case 3:
			v, n, err := consumeBytes(msg, "data", typ, b)
			if err != nil {
				return 0, err
			}
			r.Data = v
			hasData = true
			return n, nil
		}
		return 0, unknownField(msg, num, typ)
	})
	if err != nil {
		return err
	}

	if !hasCode && !hasData && !hasMessage {
		return &DecodeError{Message: msg, Err: errEmptyResult}
	}
	if hasMessage && !hasCode {
		return &DecodeError{Message: msg, Field: "error_message", Err: errMessageWithoutCode}
	}
	if hasCode && hasData {
		return &DecodeError{Message: msg, Err: errBothPopulated}
	}
	return nil
}

// DecodeResult is a convenience wrapper around Result.Unmarshal.
func DecodeResult(b []byte) (Result, error) {
	var r Result
	err := r.Unmarshal(b)
	return r, err
}

type codecError string

func (e codecError) Error() string { return string(e) }

const (
	errInvalidCode        codecError = "error code must be a non-zero uint32"
	errMessageWithoutCode codecError = "error message present without error code"
	errBothPopulated      codecError = "both error and data are populated"
	errEmptyResult        codecError = "neither error nor data is present"
)
