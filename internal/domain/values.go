package domain

import "strings"

// Value objects validate their invariants at construction and never expose
// mutation. Equality is structural.

// TenantID identifies a tenant. Never empty.
type TenantID struct {
	value string
}

// NewTenantID validates and wraps a tenant identifier.
func NewTenantID(v string) Result[TenantID] {
	v = strings.TrimSpace(v)
	if v == "" {
		return Fail[TenantID]("tenant id must not be empty")
	}
	return Ok(TenantID{value: v})
}

// String returns the underlying identifier.
func (t TenantID) String() string { return t.value }

// Percentage is a completion percentage in [0, 100].
type Percentage struct {
	value float64
}

// NewPercentage validates the range.
func NewPercentage(v float64) Result[Percentage] {
	if v < 0 || v > 100 {
		return Failf[Percentage]("percentage must be between 0 and 100, got %v", v)
	}
	return Ok(Percentage{value: v})
}

// Float returns the underlying value.
func (p Percentage) Float() float64 { return p.value }

// Rating is a review score in [1, 5].
type Rating struct {
	value int
}

// NewRating validates the range.
func NewRating(v int) Result[Rating] {
	if v < 1 || v > 5 {
		return Failf[Rating]("rating must be between 1 and 5, got %d", v)
	}
	return Ok(Rating{value: v})
}

// Int returns the underlying score.
func (r Rating) Int() int { return r.value }

// GoalWeight is the relative importance of a goal in [1, 5].
type GoalWeight struct {
	value int
}

// NewGoalWeight validates the range.
func NewGoalWeight(v int) Result[GoalWeight] {
	if v < 1 || v > 5 {
		return Failf[GoalWeight]("goal weight must be between 1 and 5, got %d", v)
	}
	return Ok(GoalWeight{value: v})
}

// Int returns the underlying weight.
func (w GoalWeight) Int() int { return w.value }
