package events

// Optional distinguishes "not provided" from a provided zero value. For
// pointer types Some(nil) means "explicitly set to null".
type Optional[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// apply overwrites *dst when o is set.
func (o Optional[T]) apply(dst *T) {
	if o.set {
		*dst = o.value
	}
}
