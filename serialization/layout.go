package serialization

import (
	"reflect"
)

// fieldSpan is one field of an on disk record as the compiler laid it
// out in memory.
type fieldSpan struct {
	name   string
	offset uintptr
	size   uintptr
}

// recordLayout describes the memory layout of a struct that mirrors an
// on disk record. The header codec addresses fields by fixed offsets,
// so such a struct must keep every field at its wire offset with no
// padding in between.
type recordLayout struct {
	size   uintptr
	fields []fieldSpan
}

// layoutOf inspects a struct, or a pointer to one, and reports how its
// fields are laid out.
func layoutOf(v any) recordLayout {

	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("not a struct")
	}

	layout := recordLayout{
		size:   t.Size(),
		fields: make([]fieldSpan, 0, t.NumField()),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		layout.fields = append(layout.fields, fieldSpan{
			name:   field.Name,
			offset: field.Offset,
			size:   field.Type.Size(),
		})
	}

	return layout
}

// packed reports whether the fields cover the struct back to back, no
// holes between them and no tail padding.
func (l recordLayout) packed() bool {

	var next uintptr
	for _, field := range l.fields {
		if field.offset != next {
			return false
		}
		next = field.offset + field.size
	}

	return next == l.size
}

// offsetOf returns the memory offset of a named field, -1 when no such
// field exists.
func (l recordLayout) offsetOf(name string) int {

	for _, field := range l.fields {
		if field.name == name {
			return int(field.offset)
		}
	}

	return -1
}
