package handler

import (
	"reflect"
	"strings"
)

// sanitize trims whitespace from string fields in a request struct, walking
// nested structs, pointers and slices so visitor payloads get the same
// treatment as top-level fields.
func sanitize(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return
	}
	sanitizeValue(val.Elem())
}

func sanitizeValue(val reflect.Value) {
	switch val.Kind() {
	case reflect.String:
		if val.CanSet() {
			val.SetString(strings.TrimSpace(val.String()))
		}
	case reflect.Struct:
		if val.Type().PkgPath() == "time" {
			return
		}
		for i := 0; i < val.NumField(); i++ {
			sanitizeValue(val.Field(i))
		}
	case reflect.Ptr:
		if !val.IsNil() {
			sanitizeValue(val.Elem())
		}
	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			sanitizeValue(val.Index(i))
		}
	}
}
