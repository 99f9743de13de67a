package k648x

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

// Kind is the representation a caller asks a parameter to be read or
// written as.
type Kind int

const (
	KindOctet Kind = iota + 1
	KindFloat64
	KindInt32
)

func (k Kind) String() string {
	switch k {
	case KindOctet:
		return "octet"
	case KindFloat64:
		return "float64"
	case KindInt32:
		return "int32"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps user-facing names ("int", "float", "string", ...) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "int", "int32", "i":
		return KindInt32, nil
	case "float", "float64", "double", "f":
		return KindFloat64, nil
	case "string", "octet", "text", "s":
		return KindOctet, nil
	}
	return 0, fmt.Errorf("k648x: unknown value kind %q", s)
}

// maxOctetLen is the longest string handed back to callers. Downstream
// consumers store text in 40-byte fields including the terminator.
const maxOctetLen = 39

// Value carries one typed parameter value in either direction.
type Value struct {
	Kind    Kind
	Int32   int32
	Float64 float64
	Octet   string

	// Length is the number of octet bytes produced by a read.
	Length int
	// EOM is the end-of-message reason reported for octet reads.
	EOM transport.EOMReason
	// Valid is false when a read succeeded without producing a value,
	// e.g. a kind the parameter does not serve.
	Valid bool
}

func Int32Value(v int32) Value     { return Value{Kind: KindInt32, Int32: v, Valid: true} }
func Float64Value(v float64) Value { return Value{Kind: KindFloat64, Float64: v, Valid: true} }
func OctetValue(v string) Value    { return Value{Kind: KindOctet, Octet: v, Length: len(v), Valid: true} }

// ParseValue converts console or API text into a Value of kind k.
func ParseValue(k Kind, s string) (Value, error) {
	switch k {
	case KindInt32:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("k648x: bad int32 %q: %w", s, err)
		}
		return Int32Value(int32(n)), nil
	case KindFloat64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("k648x: bad float64 %q: %w", s, err)
		}
		return Float64Value(f), nil
	case KindOctet:
		return OctetValue(s), nil
	}
	return Value{}, fmt.Errorf("k648x: unknown value kind %d", int(k))
}

// String renders the value for consoles and logs.
func (v Value) String() string {
	if !v.Valid {
		return "<none>"
	}
	switch v.Kind {
	case KindInt32:
		return fmt.Sprintf("%d", v.Int32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float64)
	case KindOctet:
		return v.Octet
	}
	return "<invalid>"
}

// noValue is the result of a read that succeeded without output.
func noValue(k Kind) Value { return Value{Kind: k} }

// octetResult caps s at maxOctetLen and records length and eom.
func octetResult(s string, eom transport.EOMReason) Value {
	if len(s) > maxOctetLen {
		s = s[:maxOctetLen]
	}
	return Value{Kind: KindOctet, Octet: s, Length: len(s), EOM: eom, Valid: true}
}
