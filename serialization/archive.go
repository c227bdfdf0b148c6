package serialization

import (
	"fmt"
	"reflect"
	"sort"
	"unsafe"

	"github.com/grailbio/base/errors"
	"golang.org/x/exp/constraints"
)

// Archive is the streaming end values are serialized through, either a
// SaveArchive, a LoadArchive or a SizeArchive. Values go through the
// free functions Value, Slice, Map, Bytes and Numbers, which pick the
// wire form from the Go type. The same dispatch call sequence must be
// replayed on load that was recorded on save, the stream carries no
// type information of its own.
type Archive interface {
	// Saving reports the direction of the pass. Size passes count as
	// saving.
	Saving() bool

	// Object carries caller state across nested Serialize calls.
	Object() any
	SetObject(obj any)

	scalar(p []byte) error
	binary(p []byte) error
}

// Serializable types declare their wire layout once by touching their
// fields in a fixed order. The archive supplies the direction.
type Serializable interface {
	Serialize(ar Archive) error
}

// Number covers the element types Numbers can move as raw memory.
type Number interface {
	constraints.Integer | constraints.Float
}

// scalarBytes views a value as its in memory bytes, host order, no
// conversion.
func scalarBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// clampCount bounds what a count read from the wire may allocate up
// front. A count is only proven once its elements actually arrive, so
// preallocation stays within one block of plaintext and anything larger
// grows as further blocks are decoded.
func clampCount(count, elemSize uint64) int {
	if elemSize == 0 {
		elemSize = 1
	}

	if limit := uint64(BlockBytes) / elemSize; count > limit {
		return int(limit)
	}

	return int(count)
}

// Value dispatches a single value of any supported type.
func Value[T any](ar Archive, v *T) error {

	switch any(v).(type) {
	case *bool,
		*int8, *int16, *int32, *int64, *int,
		*uint8, *uint16, *uint32, *uint64, *uint,
		*float32, *float64:
		return ar.scalar(scalarBytes(v))

	case *string:
		return stringValue(ar, any(v).(*string))
	}

	if s, ok := any(v).(Serializable); ok {
		return s.Serialize(ar)
	}

	return reflectValue(ar, v)
}

// reflectValue handles named scalar types, enums mostly, plus fixed
// arrays and nested slices of them. Everything is moved at its declared
// size.
func reflectValue[T any](ar Archive, v *T) error {
	return reflectDispatch(ar, reflect.ValueOf(v).Elem())
}

// reflectDispatch moves one addressable value picked apart at runtime,
// producing the same bytes the typed paths produce.
func reflectDispatch(ar Archive, rv reflect.Value) error {

	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Float32, reflect.Float64:
		return ar.scalar(unsafe.Slice((*byte)(rv.Addr().UnsafePointer()), rv.Type().Size()))

	case reflect.String:
		return stringValue(ar, (*string)(rv.Addr().UnsafePointer()))

	case reflect.Array:
		switch rv.Type().Elem().Kind() {
		case reflect.Bool,
			reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
			reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
			reflect.Float32, reflect.Float64:
			return ar.binary(unsafe.Slice((*byte)(rv.Addr().UnsafePointer()), rv.Type().Size()))
		}

	case reflect.Slice:
		return reflectSlice(ar, rv)

	case reflect.Pointer:
		// pointers are never archived
		return nil
	}

	return errors.E(errors.Invalid, fmt.Sprintf("cannot serialize type %s", rv.Type()))
}

// reflectSlice replays the count plus elements layout of Slice for
// slices reached inside other values.
func reflectSlice(ar Archive, rv reflect.Value) error {

	count := uint64(rv.Len())
	if err := ar.scalar(scalarBytes(&count)); err != nil {
		return err
	}

	if ar.Saving() == false {

		elemType := rv.Type().Elem()
		out := reflect.MakeSlice(rv.Type(), 0, clampCount(count, uint64(elemType.Size())))

		for i := uint64(0); i < count; i++ {
			elem := reflect.New(elemType).Elem()

			if err := reflectElem(ar, elem); err != nil {
				return err
			}

			out = reflect.Append(out, elem)
		}

		rv.Set(out)

		return nil
	}

	for i := 0; i < rv.Len(); i++ {
		if err := reflectElem(ar, rv.Index(i)); err != nil {
			return err
		}
	}

	return nil
}

// reflectElem dispatches one slice element, honoring Serialize when the
// element type declares it.
func reflectElem(ar Archive, elem reflect.Value) error {

	if s, ok := elem.Addr().Interface().(Serializable); ok {
		return s.Serialize(ar)
	}

	return reflectDispatch(ar, elem)
}

func stringValue(ar Archive, s *string) error {

	length := uint64(len(*s))
	if err := ar.scalar(scalarBytes(&length)); err != nil {
		return err
	}

	if ar.Saving() {
		if length == 0 {
			return nil
		}
		return ar.binary(unsafe.Slice(unsafe.StringData(*s), len(*s)))
	}

	if length == 0 {
		*s = ""
		return nil
	}

	// pull the bytes in block sized steps, a corrupt length then fails
	// on the stream instead of on one huge allocation
	raw := make([]byte, clampCount(length, 1))
	if err := ar.binary(raw); err != nil {
		return err
	}

	for uint64(len(raw)) < length {
		part := length - uint64(len(raw))
		if part > BlockBytes {
			part = BlockBytes
		}

		chunk := make([]byte, part)
		if err := ar.binary(chunk); err != nil {
			return err
		}
		raw = append(raw, chunk...)
	}

	*s = string(raw)

	return nil
}

// Slice dispatches a slice as an element count followed by the elements
// one by one. Loading resizes the destination, reusing its backing
// array when it is large enough.
func Slice[T any](ar Archive, v *[]T) error {

	count := uint64(len(*v))
	if err := ar.scalar(scalarBytes(&count)); err != nil {
		return err
	}

	if ar.Saving() == false {

		if *v == nil || uint64(cap(*v)) < count {
			var sample T
			*v = make([]T, 0, clampCount(count, uint64(unsafe.Sizeof(sample))))
		} else {
			*v = (*v)[:0]
		}

		for i := uint64(0); i < count; i++ {
			var elem T
			if err := Value(ar, &elem); err != nil {
				return err
			}
			*v = append(*v, elem)
		}

		return nil
	}

	for i := range *v {
		if err := Value(ar, &(*v)[i]); err != nil {
			return err
		}
	}

	return nil
}

// Map dispatches a map as an entry count followed by key value pairs in
// ascending key order, so the same map always produces the same bytes.
// Loading replaces the destination map.
func Map[K constraints.Ordered, V any](ar Archive, m *map[K]V) error {

	count := uint64(len(*m))
	if err := ar.scalar(scalarBytes(&count)); err != nil {
		return err
	}

	if ar.Saving() {

		keys := make([]K, 0, len(*m))
		for key := range *m {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, key := range keys {
			if err := Value(ar, &key); err != nil {
				return err
			}

			value := (*m)[key]
			if err := Value(ar, &value); err != nil {
				return err
			}
		}

		return nil
	}

	var pair struct {
		key   K
		value V
	}
	*m = make(map[K]V, clampCount(count, uint64(unsafe.Sizeof(pair))))

	for i := uint64(0); i < count; i++ {
		var key K
		if err := Value(ar, &key); err != nil {
			return err
		}

		var value V
		if err := Value(ar, &value); err != nil {
			return err
		}

		(*m)[key] = value
	}

	return nil
}

// Bytes moves a raw byte range through the archive unchanged. The
// caller owns the length, nothing is written alongside the bytes.
func Bytes(ar Archive, p []byte) error {
	return ar.binary(p)
}

// Numbers moves a numeric slice as its raw in memory bytes. Like Bytes
// the length is the caller's business.
func Numbers[T Number](ar Archive, v []T) error {

	if len(v) == 0 {
		return nil
	}

	var sample T
	total := len(v) * int(unsafe.Sizeof(sample))

	return ar.binary(unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), total))
}

// archiveState is shared by all archive kinds.
type archiveState struct {
	object any
}

func (s *archiveState) Object() any {
	return s.object
}

func (s *archiveState) SetObject(obj any) {
	s.object = obj
}
