package ua

import "time"

// DataValue carries a Variant with a StatusCode and two optional
// timestamps (source, server) — the idempotent read surface for node
// attributes.
type DataValue struct {
	Value           Variant
	Status          StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
	HasSourceTime   bool
	HasServerTime   bool
}

// NewGoodDataValue wraps a value with StatusCode Good and both
// timestamps set to now.
func NewGoodDataValue(v Variant, now time.Time) DataValue {
	return DataValue{
		Value:           v,
		Status:          Good,
		SourceTimestamp: now,
		ServerTimestamp: now,
		HasSourceTime:   true,
		HasServerTime:   true,
	}
}

// BadDataValue wraps a StatusCode failure with a null Variant — the
// shape expected for BadWaitingForInitialData and similar
// attribute-read failures.
func BadDataValue(status StatusCode) DataValue {
	return DataValue{Value: NullVariant, Status: status}
}
