package k648x

import (
	"fmt"
	"strconv"
)

// simpleKind is the declared value type of a simple command. Triggers take
// no argument and have no readable state.
type simpleKind int

const (
	simpleTrigger simpleKind = iota
	simpleOctet
	simpleFloat64
	simpleInt32
)

func (k simpleKind) kind() Kind {
	switch k {
	case simpleOctet:
		return KindOctet
	case simpleFloat64:
		return KindFloat64
	case simpleInt32:
		return KindInt32
	}
	return 0
}

type simpleCommand struct {
	kind simpleKind
	stem string
}

// Simple operations, indexing simpleTable.
const (
	simpleReset = iota
	simpleRangeAuto
	simpleZeroCheck
	simpleZeroCorrect
	simpleZeroCorrectAcquire
	simpleMedianFilter
	simpleMedianFilterRank
	simpleDigitalFilter
	simpleDigitalFilterCount
)

var simpleTable = [...]simpleCommand{
	simpleReset:              {simpleTrigger, "*RST"},
	simpleRangeAuto:          {simpleInt32, ":RANGE:AUTO"},
	simpleZeroCheck:          {simpleInt32, "SYST:ZCH"},
	simpleZeroCorrect:        {simpleInt32, "SYST:ZCOR"},
	simpleZeroCorrectAcquire: {simpleTrigger, "SYST:ZCOR:ACQ"},
	simpleMedianFilter:       {simpleInt32, "MED"},
	simpleMedianFilterRank:   {simpleInt32, "MED:RANK"},
	simpleDigitalFilter:      {simpleInt32, "AVER"},
	simpleDigitalFilterCount: {simpleInt32, "AVER:COUN"},
}

// readSimple queries "<stem>?". Triggers and kind mismatches succeed
// without I/O.
func (s *Session) readSimple(op int, k Kind) (Value, error) {
	cmd := simpleTable[op]
	if cmd.kind == simpleTrigger || cmd.kind.kind() != k {
		return noValue(k), nil
	}

	resp, eom, err := s.writeRead(cmd.stem + "?")
	if err != nil {
		return noValue(k), err
	}

	switch k {
	case KindFloat64:
		return Float64Value(atof(resp)), nil
	case KindInt32:
		return Int32Value(int32(atoi(resp))), nil
	default:
		return octetResult(resp, eom), nil
	}
}

// writeSimple sends "<stem>" for triggers, whatever the kind, and
// "<stem> <value>" when the kind matches the command's declared type.
// Other kinds are accepted and dropped.
func (s *Session) writeSimple(op int, v Value) error {
	cmd := simpleTable[op]
	if cmd.kind == simpleTrigger {
		return s.writeOnly(cmd.stem)
	}
	if cmd.kind.kind() != v.Kind {
		return nil
	}

	var out string
	switch v.Kind {
	case KindFloat64:
		out = cmd.stem + " " + formatG(v.Float64)
	case KindInt32:
		out = cmd.stem + " " + strconv.FormatInt(int64(v.Int32), 10)
	default:
		out = cmd.stem + " " + v.Octet
	}
	return s.writeOnly(out)
}

// formatG renders v like C's "%g": six significant digits, trailing zeros
// dropped, exponent form outside [1e-4, 1e6).
func formatG(v float64) string {
	return fmt.Sprintf("%.6g", v)
}
