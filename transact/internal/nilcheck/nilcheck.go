// Package nilcheck detects typed-nil values hidden behind interfaces.
package nilcheck

import "reflect"

// Interface reports whether value is nil, including typed-nil pointers stored
// in an interface (a nil *redis.Store passed as transaction.Store).
func Interface(value any) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)

	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
