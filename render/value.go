package render

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FormatValue renders a runtime value for display, sampling large containers
// instead of dumping them whole.
func (r *Renderer) FormatValue(v any) (out string) {
	// A hostile String/GoString method must not take the report down with it.
	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("<%T value>", v)
		}
	}()

	max := r.MaxValueLen
	if max <= 0 {
		max = 100
	}

	full := fmt.Sprintf("%#v", v)
	if len(full) <= max {
		return full
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		if n > 5 {
			var sample []string
			for i := 0; i < 3; i++ {
				sample = append(sample, fmt.Sprintf("%v", rv.Index(i).Interface()))
			}
			return fmt.Sprintf("[%s, ... +%d more]", strings.Join(sample, ", "), n-3)
		}
	case reflect.Map:
		n := rv.Len()
		if n > 3 {
			keys := rv.MapKeys()
			sort.Slice(keys, func(i, j int) bool {
				return fmt.Sprintf("%v", keys[i].Interface()) < fmt.Sprintf("%v", keys[j].Interface())
			})
			var sample []string
			for _, key := range keys[:2] {
				sample = append(sample, fmt.Sprintf("%v:%v", key.Interface(), rv.MapIndex(key).Interface()))
			}
			return fmt.Sprintf("map[%s, ... +%d more]", strings.Join(sample, ", "), n-2)
		}
	case reflect.String:
		s := rv.String()
		if len(s) > 50 {
			return fmt.Sprintf("%q", s[:47]+"...")
		}
	}

	if len(full) > max {
		return full[:max-3] + "..."
	}
	return full
}
