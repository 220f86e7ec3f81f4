package val

// DeepMerge applies patch on top of base and returns a new Object.
//
// Rules, applied per key of patch:
//   - Null deletes the key from the result
//   - Object merged into Object recurses with the same rules
//   - any other value replaces the base value
//
// Keys absent from patch keep the base value. Neither input is mutated and
// the result shares no mutable structure with them.
func DeepMerge(base, patch Object) Object {
	out := Clone(base).(Object)
	if out == nil {
		out = Object{}
	}
	for k, pv := range patch {
		switch p := pv.(type) {
		case Null, nil:
			delete(out, k)
		case Object:
			if bo, ok := out[k].(Object); ok {
				out[k] = DeepMerge(bo, p)
				continue
			}
			out[k] = stripNulls(p)
		default:
			out[k] = Clone(p)
		}
	}
	return out
}

// stripNulls copies an object dropping null leaves, so a patch applied to an
// absent key never materializes deletions as stored nulls.
func stripNulls(obj Object) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		switch x := v.(type) {
		case Null, nil:
		case Object:
			out[k] = stripNulls(x)
		default:
			out[k] = Clone(x)
		}
	}
	return out
}

// Clone returns a deep copy of v. Clone(nil Object) returns a nil Object.
func Clone(v Value) Value {
	switch x := v.(type) {
	case Object:
		if x == nil {
			return Object(nil)
		}
		out := make(Object, len(x))
		for k, elem := range x {
			out[k] = Clone(elem)
		}
		return out
	case Array:
		if x == nil {
			return Array(nil)
		}
		out := make(Array, len(x))
		for i, elem := range x {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// CloneObject is Clone for the common Object case.
func CloneObject(obj Object) Object {
	return Clone(obj).(Object)
}

// Equal reports whether two values are structurally identical.
// A nil Object and an empty Object are equal.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case nil, Null:
		switch b.(type) {
		case nil, Null:
			return true
		}
		return false
	default:
		return a == b
	}
}
