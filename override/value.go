// Package override implements the "first non-blank wins" cascade used to
// resolve every effective field of a license.
//
// Blank is an explicit sentinel carried by Value, distinct from the zero
// value of T: a zero price or a false flag is a real override and wins
// over lower tiers.
package override

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Value is an optionally-set T. The zero Value is blank.
type Value[T any] struct {
	v   T
	set bool
}

// Of returns a set Value holding v.
func Of[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Blank returns an unset Value.
func Blank[T any]() Value[T] {
	return Value[T]{}
}

// IsBlank reports whether no value has been set.
func (o Value[T]) IsBlank() bool { return !o.set }

// IsSet reports whether a value has been set.
func (o Value[T]) IsSet() bool { return o.set }

// Get returns the value and whether it is set.
func (o Value[T]) Get() (T, bool) { return o.v, o.set }

// Or returns the value, or fallback when blank.
func (o Value[T]) Or(fallback T) T {
	if o.set {
		return o.v
	}
	return fallback
}

// MarshalJSON encodes a blank Value as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON decodes null as blank.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Of(v)
	return nil
}

// MarshalBSONValue encodes a blank Value as BSON null.
func (o Value[T]) MarshalBSONValue() (byte, []byte, error) {
	if !o.set {
		return byte(bson.TypeNull), nil, nil
	}
	typ, data, err := bson.MarshalValue(o.v)
	return byte(typ), data, err
}

// UnmarshalBSONValue decodes BSON null as blank.
func (o *Value[T]) UnmarshalBSONValue(typ byte, data []byte) error {
	if bson.Type(typ) == bson.TypeNull || bson.Type(typ) == bson.TypeUndefined {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := bson.UnmarshalValue(bson.Type(typ), data, &v); err != nil {
		return err
	}
	*o = Of(v)
	return nil
}
