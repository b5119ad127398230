// Package expiry implements the ingress-expiry clock model: a pure
// function from a millisecond delta and drift correction to a nanosecond
// absolute timestamp, plus a round-trip-safe serialisation carrier.
package expiry

// Ns is an absolute ingress-expiry timestamp in nanoseconds since the Unix
// epoch. It is a value type: two Ns with the same integer value are
// interchangeable.
type Ns uint64

const (
	minuteMs = int64(60_000)
	msToNs   = int64(1_000_000)
)

// Compute implements the expiryNs pure function:
//
//	corrected = now_ms + drift_ms
//	target_ms = corrected + delta_ms
//	if target_ms - corrected >= 60_000 and floor_to_minute(target_ms) - corrected >= 60_000:
//	    return floor_to_minute(target_ms) * 1e6
//	else:
//	    return floor_to_second(target_ms) * 1e6
//
// deltaMs and driftMs may be negative (a negative drift corrects a client
// clock running ahead of the network); nowMs is the caller's current wall
// clock in milliseconds.
func Compute(nowMs, deltaMs, driftMs int64) Ns {
	corrected := nowMs + driftMs
	targetMs := corrected + deltaMs

	if targetMs-corrected >= minuteMs {
		flooredMinute := floorToMinute(targetMs)
		if flooredMinute-corrected >= minuteMs {
			return Ns(flooredMinute * msToNs)
		}
	}
	return Ns(floorToSecond(targetMs) * msToNs)
}

func floorToMinute(ms int64) int64 {
	return ms - ms%minuteMs
}

func floorToSecond(ms int64) int64 {
	return ms - ms%1000
}

// Carrier is an opaque, JSON-round-trip-safe wrapper around a single
// 64-bit Ns value, serialised as a decimal integer with a distinguishing
// type tag. Using a named struct field instead of a bare number lets
// decoders distinguish an ingress-expiry carrier from any other raw
// integer in the same document.
type Carrier struct {
	Type  string `json:"type"`
	Value uint64 `json:"value"`
}

const carrierType = "ingress_expiry_ns"

// NewCarrier wraps an Ns value for serialisation.
func NewCarrier(v Ns) Carrier {
	return Carrier{Type: carrierType, Value: uint64(v)}
}

// Unwrap returns the carrier's Ns value, preserving the exact bit pattern
// of the original integer.
func (c Carrier) Unwrap() Ns {
	return Ns(c.Value)
}
