package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Well-known carrier keys.
const (
	TraceParentKey   = "traceparent"
	TraceStateKey    = "tracestate"
	BaggageKey       = "baggage"
	CorrelationIDKey = "correlation-id"
)

// Carrier is the wire form of a trace context: a flat header mapping that
// travels with one message.
type Carrier map[string]string

var _ propagation.TextMapCarrier = Carrier(nil)

// Get returns the value for key, or "" when absent.
func (c Carrier) Get(key string) string {
	return c[key]
}

// Set stores value under key.
func (c Carrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the keys stored in the carrier.
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns an independent copy. Cloning nil yields an empty carrier.
func (c Carrier) Clone() Carrier {
	out := make(Carrier, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// TraceParent returns the W3C traceparent value, if any.
func (c Carrier) TraceParent() string {
	return c[TraceParentKey]
}

// CarrierFromHeaders builds a carrier from loosely typed broker headers.
// Byte slices and Stringers are converted, other scalars are formatted,
// and nil values are dropped. Keys are lower-cased.
func CarrierFromHeaders(headers map[string]any) Carrier {
	c := make(Carrier, len(headers))
	for k, v := range headers {
		if v == nil {
			continue
		}
		if s, ok := headerString(v); ok {
			c[strings.ToLower(k)] = s
		}
	}
	return c
}

func headerString(v any) (s string, ok bool) {
	// A typed nil Stringer panics on String.
	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()

	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}
