package track

import (
	"fmt"
	"reflect"

	"docsession/pkg/document"
)

// Serialize converts a value graph, raw or proxy-wrapped, into plain
// documents, slices and scalars. It is the structural dual of proxy wrapping:
// Serialize(wrap(x)) equals Serialize(x) for every supported shape.
func Serialize(v any) any {
	switch p := v.(type) {
	case *Tracked:
		return serializeReflect(p.structValue())
	case *Object:
		return serializeReflect(p.v)
	case *List:
		return serializeReflect(p.v)
	case *Map:
		return serializeReflect(p.v)
	case nil:
		return nil
	default:
		return serializeReflect(reflect.ValueOf(v))
	}
}

// serializeRecord dumps a struct to a document, optionally omitting the
// identifier field (insert payloads and diff baselines always omit it).
func serializeRecord(info *structInfo, v reflect.Value, includeID bool) document.D {
	out := make(document.D, len(info.fields))
	for i := range info.fields {
		f := &info.fields[i]
		if f.id && !includeID {
			continue
		}
		out[f.name] = serializeReflect(v.Field(f.index))
	}
	return out
}

func serializeReflect(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return serializeReflect(v.Elem())
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface()
		}
		info, err := describeStruct(v.Type())
		if err != nil {
			// Unsupported struct shapes surface at registration; values that
			// sneak in through interface fields travel opaquely.
			return v.Interface()
		}
		return serializeRecord(info, v, true)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 && v.Kind() == reflect.Slice {
			cp := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(cp), v)
			return cp
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = serializeReflect(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(document.D, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = serializeReflect(iter.Value())
		}
		return out
	default:
		return v.Interface()
	}
}

// deepCopyReflect produces an independent structural copy of v. Scalars pass
// through; slices, maps and struct pointers are reallocated all the way down.
func deepCopyReflect(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		cp := deepCopyReflect(v.Elem())
		out := reflect.New(v.Type()).Elem()
		out.Set(cp)
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopyReflect(v.Elem()))
		return out
	case reflect.Struct:
		if v.Type() == timeType {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !out.Field(i).CanSet() {
				continue
			}
			switch v.Field(i).Kind() {
			case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Struct, reflect.Interface:
				out.Field(i).Set(deepCopyReflect(v.Field(i)))
			}
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopyReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopyReflect(iter.Value()))
		}
		return out
	default:
		return v
	}
}

// deepCopyFields replaces every container and nested-record field of a record
// with an independent copy. Applied on Session.Add so that two records
// constructed from one shared mutable value cannot cross-contaminate.
func deepCopyFields(info *structInfo, v reflect.Value) {
	for i := range info.fields {
		f := &info.fields[i]
		if f.kind == kindScalar {
			continue
		}
		fv := v.Field(f.index)
		if fv.CanSet() {
			fv.Set(deepCopyReflect(fv))
		}
	}
}

// convertValue adapts an arbitrary Go value to the destination field or
// element type. Assignability and numeric convertibility are accepted;
// lossy cross-kind conversions (numeric to string and back) are not.
func convertValue(dst reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		switch dst.Kind() {
		case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface:
			return reflect.Zero(dst), nil
		default:
			return reflect.Value{}, fmt.Errorf("docsession: cannot assign nil to %s", dst)
		}
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(dst) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(dst) {
		if (dst.Kind() == reflect.String) != (rv.Kind() == reflect.String) {
			return reflect.Value{}, fmt.Errorf("docsession: cannot assign %T to %s", v, dst)
		}
		return rv.Convert(dst), nil
	}
	return reflect.Value{}, fmt.Errorf("docsession: cannot assign %T to %s", v, dst)
}
