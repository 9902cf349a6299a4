// Package rpcerr recognises JSON-RPC style failures by shape. A value counts
// as an RPC error when it carries both a code and a message, whatever its
// concrete type: go-ethereum rpc errors, decoded JSON maps, or any struct
// with Code and Message fields.
package rpcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Standard JSON-RPC 2.0 and EIP-1193 codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUserRejected   = 4001
)

// InternalErrorMessage is the message of the fallback shape.
const InternalErrorMessage = "Internal error"

// Error is the {code, message} shape. Code and Message are the typed views
// used by go-ethereum; RawCode and RawMessage keep the values exactly as
// they were found when the source did not carry an int and a string.
// Code is zero when RawCode has no integer representation.
type Error struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	RawCode    any    `json:"-"`
	RawMessage any    `json:"-"`
}

func (e Error) Error() string {
	return fmt.Sprintf("rpc error %v: %s", e.CodeValue(), e.Message)
}

// CodeValue returns the code as it was found.
func (e Error) CodeValue() any {
	if e.RawCode != nil {
		return e.RawCode
	}
	return e.Code
}

// MessageValue returns the message as it was found.
func (e Error) MessageValue() any {
	if e.RawMessage != nil {
		return e.RawMessage
	}
	return e.Message
}

// Numeric reports whether Code carries the original code.
func (e Error) Numeric() bool {
	if e.RawCode == nil {
		return true
	}
	_, ok := integerCode(reflect.ValueOf(e.RawCode))
	return ok
}

// MarshalJSON writes the original code and message values.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code    any `json:"code"`
		Message any `json:"message"`
		Data    any `json:"data,omitempty"`
	}{e.CodeValue(), e.MessageValue(), e.Data})
}

// ErrorCode implements go-ethereum's rpc.Error.
func (e Error) ErrorCode() int { return e.Code }

// ErrorData implements go-ethereum's rpc.DataError.
func (e Error) ErrorData() interface{} { return e.Data }

var (
	_ gethrpc.Error     = Error{}
	_ gethrpc.DataError = Error{}
)

// Fallback is the shape reported for values that are not RPC errors.
func Fallback() Error {
	return Error{Code: CodeInternalError, Message: InternalErrorMessage}
}

// IsRPCError reports whether v structurally carries a code and a message.
func IsRPCError(v any) bool {
	_, ok := shapeOf(v)
	return ok
}

// ParseRPCError returns v as an Error when IsRPCError holds and Fallback
// otherwise. It never fails.
func ParseRPCError(v any) Error {
	if shape, ok := shapeOf(v); ok {
		return shape
	}
	return Fallback()
}

// As walks the wrap chain of err and returns the first link that is an RPC
// error. Unlike IsRPCError it looks through fmt.Errorf("%w") wrappers.
func As(err error) (Error, bool) {
	for err != nil {
		if shape, ok := shapeOf(err); ok {
			return shape, true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if shape, ok := As(inner); ok {
					return shape, true
				}
			}
			return Error{}, false
		}
		err = errors.Unwrap(err)
	}
	return Error{}, false
}

// CodeOf returns the integer code of the first RPC error in the chain of err.
// Errors without one, or whose code is not an integer, report the fallback
// code.
func CodeOf(err error) int {
	if shape, ok := As(err); ok && shape.Numeric() {
		return shape.Code
	}
	return CodeInternalError
}

// IsRequestError reports codes that describe a malformed request. Retrying
// such calls cannot succeed.
func IsRequestError(err error) bool {
	shape, ok := As(err)
	if !ok || !shape.Numeric() {
		return false
	}
	switch shape.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams, CodeUserRejected:
		return true
	}
	return false
}

func shapeOf(v any) (Error, bool) {
	if v == nil {
		return Error{}, false
	}
	switch e := v.(type) {
	case Error:
		return e, true
	case *Error:
		if e == nil {
			return Error{}, false
		}
		return *e, true
	case gethrpc.Error:
		shape := Error{Code: e.ErrorCode(), Message: e.Error()}
		if data, ok := e.(gethrpc.DataError); ok {
			shape.Data = data.ErrorData()
		}
		return shape, true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Error{}, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		return mapShape(rv)
	case reflect.Struct:
		return structShape(rv)
	}
	return Error{}, false
}

func mapShape(rv reflect.Value) (Error, bool) {
	if rv.Type().Key().Kind() != reflect.String {
		return Error{}, false
	}
	var code, msg, data reflect.Value
	iter := rv.MapRange()
	for iter.Next() {
		switch iter.Key().String() {
		case "code":
			code = iter.Value()
		case "message":
			msg = iter.Value()
		case "data":
			data = iter.Value()
		}
	}
	if !code.IsValid() || !msg.IsValid() {
		return Error{}, false
	}
	shape := newShape(code, msg)
	if data.IsValid() && data.CanInterface() {
		shape.Data = data.Interface()
	}
	return shape, true
}

func structShape(rv reflect.Value) (Error, bool) {
	code, okCode := field(rv, "Code", "code")
	msg, okMsg := field(rv, "Message", "message")
	if !okCode || !okMsg {
		return Error{}, false
	}
	shape := newShape(code, msg)
	if data, ok := field(rv, "Data", "data"); ok && data.CanInterface() {
		shape.Data = data.Interface()
	}
	return shape, true
}

func field(rv reflect.Value, name, tag string) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonName, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Name == name || jsonName == tag {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// newShape keeps code and message untouched in the raw fields unless they
// already are an int and a string.
func newShape(code, msg reflect.Value) Error {
	var shape Error
	if code.CanInterface() {
		raw := code.Interface()
		if n, ok := raw.(int); ok {
			shape.Code = n
		} else {
			shape.RawCode = raw
			shape.Code, _ = integerCode(code)
		}
	}
	if msg.CanInterface() {
		raw := msg.Interface()
		if text, ok := raw.(string); ok {
			shape.Message = text
		} else {
			shape.RawMessage = raw
			shape.Message = messageValue(msg)
		}
	}
	return shape
}

// integerCode reports v as an int when it holds an integer that fits.
func integerCode(v reflect.Value) (int, bool) {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

func messageValue(v reflect.Value) string {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		if v.CanInterface() {
			if s, ok := v.Interface().(fmt.Stringer); ok {
				return s.String()
			}
			if e, ok := v.Interface().(error); ok {
				return e.Error()
			}
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.String {
		return v.String()
	}
	if v.CanInterface() {
		return fmt.Sprint(v.Interface())
	}
	return ""
}
