package toolcall

import (
	"encoding/json"
	"fmt"
	"reflect"

	"rhythm/functions"
)

const (
	// NoOutput stands in for nil and intentionally empty results.
	NoOutput = "(No output)"

	// Unserializable replaces results that cannot be encoded.
	Unserializable = "[unserializable result]"
)

// SerializeResult turns a tool result into tool message content. It never
// panics: nil and empty markers become NoOutput, strings and scalars are
// formatted, everything else is JSON, and encoding failures (cycles,
// channels, NaN) become Unserializable.
func SerializeResult(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = Unserializable
		}
	}()

	if isNil(v) {
		return NoOutput
	}

	switch r := v.(type) {
	case *functions.Result:
		return serializeToolResult(*r)
	case functions.Result:
		return serializeToolResult(r)
	case map[string]any:
		if truthy(r["_empty"]) {
			return NoOutput
		}
	case string:
		return r
	case []byte:
		return string(r)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(r)
	case fmt.Stringer:
		return r.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return Unserializable
	}
	return string(b)
}

func serializeToolResult(r functions.Result) string {
	if r.Empty || isNil(r.Data) {
		return NoOutput
	}
	return SerializeResult(r.Data)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
