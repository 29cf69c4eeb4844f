package models

import (
	"fmt"
	"sort"
	"time"
)

// Precision is the timestamp resolution a batch of points is written with
type Precision int

const (
	PrecisionSeconds Precision = iota
	PrecisionMilliseconds
	PrecisionMicroseconds
	PrecisionNanoseconds
	PrecisionHours
)

// Duration returns the unit of the precision
func (p Precision) Duration() time.Duration {
	switch p {
	case PrecisionMilliseconds:
		return time.Millisecond
	case PrecisionMicroseconds:
		return time.Microsecond
	case PrecisionNanoseconds:
		return time.Nanosecond
	case PrecisionHours:
		return time.Hour
	default:
		return time.Second
	}
}

// String returns the short form used by line-protocol writers ("s", "ms", ...)
func (p Precision) String() string {
	switch p {
	case PrecisionMilliseconds:
		return "ms"
	case PrecisionMicroseconds:
		return "us"
	case PrecisionNanoseconds:
		return "ns"
	case PrecisionHours:
		return "h"
	default:
		return "s"
	}
}

// ParsePrecision converts "s", "ms", "us", "ns" or "h" to a Precision
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "s", "":
		return PrecisionSeconds, nil
	case "ms":
		return PrecisionMilliseconds, nil
	case "us":
		return PrecisionMicroseconds, nil
	case "ns":
		return PrecisionNanoseconds, nil
	case "h":
		return PrecisionHours, nil
	default:
		return PrecisionSeconds, fmt.Errorf("unknown precision %q", s)
	}
}

// Point is one measurement record destined for a time-series sink
type Point struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Time        time.Time          `json:"time"`
}

// NewPoint returns a point with empty tag and field maps
func NewPoint(measurement string, ts time.Time) Point {
	return Point{
		Measurement: measurement,
		Tags:        make(map[string]string),
		Fields:      make(map[string]float64),
		Time:        ts,
	}
}

// Columns returns the legacy column-oriented view of the point: tag keys
// then field keys, each sorted, with their values in the same order. Both
// slices always have the same length.
func (p Point) Columns() ([]string, []any) {
	columns := make([]string, 0, len(p.Tags)+len(p.Fields))
	values := make([]any, 0, len(p.Tags)+len(p.Fields))

	for _, k := range sortedKeys(p.Tags) {
		columns = append(columns, k)
		values = append(values, p.Tags[k])
	}
	for _, k := range sortedKeys(p.Fields) {
		columns = append(columns, k)
		values = append(values, p.Fields[k])
	}
	return columns, values
}

// ID returns the identifying tag of the point (structure_id or device_id),
// or "unknown"
func (p Point) ID() string {
	for _, k := range []string{"device_id", "structure_id"} {
		if v, ok := p.Tags[k]; ok && v != "" {
			return v
		}
	}
	return "unknown"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
