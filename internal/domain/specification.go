package domain

// Specification is a reusable, composable business predicate.
type Specification[T any] interface {
	IsSatisfiedBy(candidate T) bool
}

// SpecFunc adapts a plain predicate function to a Specification.
type SpecFunc[T any] func(T) bool

// IsSatisfiedBy evaluates the predicate.
func (f SpecFunc[T]) IsSatisfiedBy(candidate T) bool { return f(candidate) }

// And satisfies when both specifications satisfy.
func And[T any](a, b Specification[T]) Specification[T] {
	return SpecFunc[T](func(c T) bool {
		return a.IsSatisfiedBy(c) && b.IsSatisfiedBy(c)
	})
}

// Or satisfies when either specification satisfies.
func Or[T any](a, b Specification[T]) Specification[T] {
	return SpecFunc[T](func(c T) bool {
		return a.IsSatisfiedBy(c) || b.IsSatisfiedBy(c)
	})
}

// Not inverts a specification.
func Not[T any](s Specification[T]) Specification[T] {
	return SpecFunc[T](func(c T) bool {
		return !s.IsSatisfiedBy(c)
	})
}
