// Package quantize maps continuous controller values onto the small level
// sets the devices support, and back.
package quantize

import (
	"errors"
	"fmt"
)

// Bucket covers the values between the previous bucket's upper edge and
// Upper. Inclusive selects (prev, Upper]; otherwise the bucket is [prev, Upper).
type Bucket struct {
	Upper     float64
	Inclusive bool
	Code      int
	Value     float64 // canonical representative
}

func (b Bucket) contains(v float64) bool {
	if b.Inclusive {
		return v <= b.Upper
	}
	return v < b.Upper
}

// Table is an ordered, exhaustive, non-overlapping bucket list over [Min, Max].
type Table struct {
	Name    string
	Min     float64
	Max     float64
	Buckets []Bucket
}

// Code maps a continuous value to its device code. Values outside
// [Min, Max] clamp to the nearest bucket.
func (t Table) Code(v float64) int {
	if v < t.Min {
		v = t.Min
	}
	if v > t.Max {
		v = t.Max
	}
	for _, b := range t.Buckets {
		if b.contains(v) {
			return b.Code
		}
	}
	return t.Buckets[len(t.Buckets)-1].Code
}

// Value returns the canonical representative of code.
func (t Table) Value(code int) (float64, bool) {
	for _, b := range t.Buckets {
		if b.Code == code {
			return b.Value, true
		}
	}
	return 0, false
}

// Snap returns the representative of the bucket containing v.
func (t Table) Snap(v float64) float64 {
	r, _ := t.Value(t.Code(v))
	return r
}

// Valid reports whether code belongs to the table.
func (t Table) Valid(code int) bool {
	_, ok := t.Value(code)
	return ok
}

// Codes returns the codes in bucket order.
func (t Table) Codes() []int {
	out := make([]int, len(t.Buckets))
	for i, b := range t.Buckets {
		out[i] = b.Code
	}
	return out
}

// Validate checks the table is ordered, exhaustive over [Min, Max], uses
// each code once, and that every representative falls in its own bucket.
func (t Table) Validate() error {
	if len(t.Buckets) == 0 {
		return errors.New("table has no buckets")
	}

	seen := make(map[int]bool, len(t.Buckets))
	for i, b := range t.Buckets {
		if seen[b.Code] {
			return fmt.Errorf("%s: duplicate code %d", t.Name, b.Code)
		}
		seen[b.Code] = true

		if i > 0 && b.Upper <= t.Buckets[i-1].Upper {
			return fmt.Errorf("%s: bucket %d is not above bucket %d", t.Name, i, i-1)
		}
		if got := t.Code(b.Value); got != b.Code {
			return fmt.Errorf("%s: representative %v of code %d maps to %d", t.Name, b.Value, b.Code, got)
		}
	}

	last := t.Buckets[len(t.Buckets)-1]
	if last.Upper < t.Max || (last.Upper == t.Max && !last.Inclusive) {
		return fmt.Errorf("%s: buckets do not reach %v", t.Name, t.Max)
	}
	return nil
}
