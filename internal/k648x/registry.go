package k648x

import (
	"sort"
	"strings"
)

// Class selects which handler family serves a registry entry.
type Class int

const (
	ClassGeneral Class = iota // per-parameter read/write logic
	ClassSimple               // uniform "CMD?" / "CMD value" pattern
	ClassCache                // locally held state, no I/O
)

func (c Class) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassSimple:
		return "simple"
	case ClassCache:
		return "cache"
	}
	return "unknown"
}

// entry is one row of the command registry. op indexes the class's own
// operation space (generalOp, simple table index, or cacheOp).
type entry struct {
	tag     string
	variant Variant
	class   Class
	op      int
}

// General operations.
type generalOp int

const (
	genVoid generalOp = iota
	genRead
	genRange
	genRangeAutoULimit
	genRangeAutoLLimit
	genRate
	genFilterControl
	genVoltRange
)

// Cache operations.
type cacheOp int

const (
	cacheTimestamp cacheOp = iota
	cacheStatusRaw
	cacheStatusOverflow
	cacheStatusFilter
	cacheStatusMath
	cacheStatusNull
	cacheStatusLimits
	cacheStatusOvervoltage
	cacheStatusZeroCheck
	cacheStatusZeroCorrect
	cacheModel
	cacheSerial
	cacheDigRev
	cacheDispRev
	cacheBrdRev
)

var registry = []entry{
	{"VOID", VariantAny, ClassGeneral, int(genVoid)},
	{"READ", VariantAny, ClassGeneral, int(genRead)},
	{"RANGE", VariantAny, ClassGeneral, int(genRange)},
	{"RANGE_AUTO_ULIMIT", VariantAny, ClassGeneral, int(genRangeAutoULimit)},
	{"RANGE_AUTO_LLIMIT", VariantAny, ClassGeneral, int(genRangeAutoLLimit)},
	{"RATE", VariantAny, ClassGeneral, int(genRate)},
	{"DIGITAL_FILTER_CONTROL", Variant6487, ClassGeneral, int(genFilterControl)},
	{"VOLT_RANGE", Variant6487, ClassGeneral, int(genVoltRange)},

	{"RESET", VariantAny, ClassSimple, simpleReset},
	{"RANGE_AUTO", VariantAny, ClassSimple, simpleRangeAuto},
	{"ZERO_CHECK", VariantAny, ClassSimple, simpleZeroCheck},
	{"ZERO_CORRECT", VariantAny, ClassSimple, simpleZeroCorrect},
	{"ZERO_CORRECT_ACQUIRE", VariantAny, ClassSimple, simpleZeroCorrectAcquire},
	{"MEDIAN_FILTER", VariantAny, ClassSimple, simpleMedianFilter},
	{"MEDIAN_FILTER_RANK", VariantAny, ClassSimple, simpleMedianFilterRank},
	{"DIGITAL_FILTER", VariantAny, ClassSimple, simpleDigitalFilter},
	{"DIGITAL_FILTER_COUNT", VariantAny, ClassSimple, simpleDigitalFilterCount},

	{"MODEL", VariantAny, ClassCache, int(cacheModel)},
	{"SERIAL", VariantAny, ClassCache, int(cacheSerial)},
	{"DIG_REV", VariantAny, ClassCache, int(cacheDigRev)},
	{"DISP_REV", VariantAny, ClassCache, int(cacheDispRev)},
	{"BRD_REV", VariantAny, ClassCache, int(cacheBrdRev)},
	{"TIMESTAMP", VariantAny, ClassCache, int(cacheTimestamp)},
	{"STATUS_RAW", VariantAny, ClassCache, int(cacheStatusRaw)},
	{"STATUS_OVERFLOW", VariantAny, ClassCache, int(cacheStatusOverflow)},
	{"STATUS_FILTER", VariantAny, ClassCache, int(cacheStatusFilter)},
	{"STATUS_MATH", VariantAny, ClassCache, int(cacheStatusMath)},
	{"STATUS_NULL", VariantAny, ClassCache, int(cacheStatusNull)},
	{"STATUS_LIMITS", VariantAny, ClassCache, int(cacheStatusLimits)},
	{"STATUS_OVERVOLTAGE", VariantAny, ClassCache, int(cacheStatusOvervoltage)},
	{"STATUS_ZERO_CHECK", VariantAny, ClassCache, int(cacheStatusZeroCheck)},
	{"STATUS_ZERO_CORRECT", VariantAny, ClassCache, int(cacheStatusZeroCorrect)},
}

// lookup finds the entry for tag, ignoring case.
func lookup(tag string) (entry, bool) {
	for _, e := range registry {
		if strings.EqualFold(e.tag, tag) {
			return e, true
		}
	}
	return entry{}, false
}

// Tags lists the tags usable on variant v, sorted.
func Tags(v Variant) []string {
	var tags []string
	for _, e := range registry {
		if e.variant.permits(v) {
			tags = append(tags, e.tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// Handle is a resolved parameter binding. It is immutable; the zero
// Handle is unbound.
type Handle struct {
	tag     string
	class   Class
	op      int
	variant Variant // the entry's gate, checked again on every call
	bound   bool
}

func (h Handle) Tag() string    { return h.tag }
func (h Handle) Class() Class   { return h.class }
func (h Handle) Bound() bool    { return h.bound }
func (h Handle) String() string { return h.tag + "/" + h.class.String() }
