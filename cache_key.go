package quotaguard

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// CacheKey builds the canonical cache key for a call to api with params.
//
// params is normalized through a JSON round trip and re-encoded, so object
// keys are sorted at every depth. A struct and a map carrying the same
// fields therefore share one key, and map iteration order never leaks in.
// Structs with unexported fields are refused since JSON would drop them and
// different params could collide. A nil params, typed or not, keys as "api:".
func CacheKey(api string, params any) (string, error) {
	if params == nil {
		return api + ":", nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	if err := checkEncodable(reflect.ValueOf(params)); err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return "", fmt.Errorf("normalize params: %w", err)
	}
	if normalized == nil {
		return api + ":", nil
	}

	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode normalized params: %w", err)
	}

	var buf []byte
	buf = append(buf, api...)
	buf = append(buf, ':')
	buf = append(buf, canonical...)
	return string(buf), nil
}

// UnexportedFieldError reports a params struct field that JSON encoding
// would silently drop.
type UnexportedFieldError struct {
	Type  reflect.Type
	Field string
}

func (e *UnexportedFieldError) Error() string {
	return fmt.Sprintf("params type %s has unexported field %s", e.Type, e.Field)
}

// checkEncodable walks v looking for struct fields that the JSON encoding
// ignores. It runs after json.Marshal succeeded, so v holds no cycles.
// Types with their own marshaling are trusted as is.
func checkEncodable(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	t := v.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) ||
		reflect.PointerTo(t).Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType) {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkEncodable(v.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Tag.Get("json") == "-" {
				continue
			}
			if !f.IsExported() && !embedsStruct(f) {
				return &UnexportedFieldError{Type: t, Field: f.Name}
			}
			if err := checkEncodable(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkEncodable(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkEncodable(iter.Value()); err != nil {
				return err
			}
		}
	}
	return nil
}

// embedsStruct reports whether f is an embedded struct, whose exported
// fields JSON promotes even when the embedded type itself is unexported.
func embedsStruct(f reflect.StructField) bool {
	if !f.Anonymous {
		return false
	}
	t := f.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
