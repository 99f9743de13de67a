// Package k648x drives Keithley 6485 and 6487 picoammeters over SCPI.
//
// A Session owns one instrument connection. Parameters are addressed by
// symbolic tags ("RANGE", "STATUS_OVERFLOW", ...) that are resolved once
// into a Handle; every later read or write goes through that handle with a
// requested value kind (int32, float64 or octet string).
//
//	sess, err := k648x.Open(k648x.Config{Name: "EP0", Variant: k648x.Variant6485}, tr)
//	h, err := sess.Resolve("RANGE")
//	err = sess.WriteInt32(h, 3)     // ":RANGE 2.0e-6"
//	code, err := sess.ReadInt32(h)  // 3
package k648x

import (
	"fmt"
	"strings"
	"time"
)

// Variant identifies the hardware model a session talks to.
type Variant int

const (
	// VariantAny marks registry entries legal on every model. It is not a
	// valid session variant.
	VariantAny Variant = iota
	Variant6485
	Variant6487
)

func (v Variant) String() string {
	switch v {
	case Variant6485:
		return "6485"
	case Variant6487:
		return "6487"
	default:
		return "any"
	}
}

// ParseVariant accepts "6485"/"A" and "6487"/"B".
func ParseVariant(s string) (Variant, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "6485", "A":
		return Variant6485, nil
	case "6487", "B":
		return Variant6487, nil
	}
	return VariantAny, fmt.Errorf("k648x: type has to be either '6485' or '6487', got %q", s)
}

// DefaultTimeout is the per-exchange timeout for the model family.
func (v Variant) DefaultTimeout() time.Duration {
	if v == Variant6485 {
		return 1 * time.Second
	}
	return 5 * time.Second
}

// permits reports whether an entry restricted to v may be used on a
// session of variant session.
func (v Variant) permits(session Variant) bool {
	return v == VariantAny || v == session
}
