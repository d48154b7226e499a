package script

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/risor-io/risor/object"
)

// fromRisor converts a Risor object into the Go value stored on activity
// inputs. Sets become lists; unknown objects become their Inspect string.
func fromRisor(obj object.Object) any {
	switch o := obj.(type) {
	case nil, *object.NilType:
		return nil
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.List:
		items := o.Value()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromRisor(item)
		}
		return out
	case *object.Set:
		out := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			out = append(out, fromRisor(item))
		}
		return out
	case *object.Map:
		out := make(map[string]any, len(o.Value()))
		for k, v := range o.Value() {
			out[k] = fromRisor(v)
		}
		return out
	}
	return obj.Inspect()
}

// Truthy reports whether a value counts as true in a condition. Zero
// numbers, empty strings and collections, nil and the string "false" (in any
// case) are false.
func Truthy(value any) bool {
	if obj, ok := value.(object.Object); ok {
		return Truthy(fromRisor(obj))
	}
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && !strings.EqualFold(v, "false")
	case time.Time:
		return !v.IsZero()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// format renders a value for template interpolation.
func format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case float32:
		return fmt.Sprintf("%g", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", value)
}
