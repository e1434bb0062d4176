package override

// Source names the tier a resolved value came from.
type Source string

const (
	SourceInstance Source = "instance"
	SourceCoupon   Source = "coupon"
	SourceTemplate Source = "template"
	SourceDefault  Source = "default"
	SourceNone     Source = ""
)

// Tier is one link of a resolution chain.
type Tier[T any] struct {
	Source Source
	Value  Value[T]
}

// At builds a Tier.
func At[T any](src Source, v Value[T]) Tier[T] {
	return Tier[T]{Source: src, Value: v}
}

// Resolution is the outcome of resolving one field.
type Resolution[T any] struct {
	Value  T
	Source Source
}

// Found reports whether any tier supplied a value.
func (r Resolution[T]) Found() bool { return r.Source != SourceNone }

// Resolve returns the first non-blank value in chain order.
// When every tier is blank the zero T is returned with SourceNone.
func Resolve[T any](chain ...Tier[T]) Resolution[T] {
	for _, tier := range chain {
		if v, ok := tier.Value.Get(); ok {
			return Resolution[T]{Value: v, Source: tier.Source}
		}
	}
	var zero T
	return Resolution[T]{Value: zero, Source: SourceNone}
}
