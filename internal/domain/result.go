package domain

import "fmt"

// Result is the explicit success/failure type for expected business outcomes.
// Validation and rule failures travel through Result; only infrastructure
// faults use plain errors.
type Result[T any] struct {
	value  T
	errMsg string
	detail any
	ok     bool
}

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Fail wraps a failure message.
func Fail[T any](msg string) Result[T] {
	return Result[T]{errMsg: msg}
}

// Failf wraps a formatted failure message.
func Failf[T any](format string, args ...any) Result[T] {
	return Result[T]{errMsg: fmt.Sprintf(format, args...)}
}

// FailWithDetail attaches structured detail to a failure (e.g. expected/actual
// versions on a concurrency conflict).
func FailWithDetail[T any](msg string, detail any) Result[T] {
	return Result[T]{errMsg: msg, detail: detail}
}

// IsOk reports whether the result is a success.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports whether the result is a failure.
func (r Result[T]) IsErr() bool { return !r.ok }

// Value returns the success value (zero value on failure).
func (r Result[T]) Value() T { return r.value }

// Err returns the failure message (empty on success).
func (r Result[T]) Err() string { return r.errMsg }

// Detail returns structured failure detail, if any.
func (r Result[T]) Detail() any { return r.detail }

// Map transforms the success value; failures pass through untouched.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Result[U]{errMsg: r.errMsg, detail: r.detail}
	}
	return Ok(fn(r.value))
}

// FlatMap chains a transformation that can itself fail.
func FlatMap[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.ok {
		return Result[U]{errMsg: r.errMsg, detail: r.detail}
	}
	return fn(r.value)
}

// Combine collects the values of all results, failing fast on the first failure.
func Combine[T any](results ...Result[T]) Result[[]T] {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if !r.ok {
			return Result[[]T]{errMsg: r.errMsg, detail: r.detail}
		}
		out = append(out, r.value)
	}
	return Ok(out)
}
