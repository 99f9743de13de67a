package k648x

import (
	"fmt"
	"strings"
)

// Range commands share one codec: a discrete code c in [0,7] is the
// full-scale current 2.0e(c-9) A, i.e. 2 nA through 20 mA.
var rangeStems = map[generalOp]string{
	genRange:           ":RANGE",
	genRangeAutoULimit: ":RANGE:AUTO:ULIM",
	genRangeAutoLLimit: ":RANGE:AUTO:LLIM",
}

const (
	rangeCodeMin    = 0
	rangeCodeMax    = 7
	rangeCodeOffset = 9
)

// Integration rates, in power-line cycles, written for codes 0 (slow),
// 1 (medium) and 2 (fast).
var rateNPLC = [...]float64{6.0, 1.0, 0.1}

// enumCommand maps small integer codes to the tokens an instrument setting
// accepts. numeric tokens are compared by value on read, because the
// instrument echoes them in exponent form.
type enumCommand struct {
	stem    string
	tokens  []string
	numeric bool
}

var enumCommands = map[generalOp]enumCommand{
	genFilterControl: {stem: "AVER:TCON", tokens: []string{"MOV", "REP"}},
	genVoltRange:     {stem: "SOUR:VOLT:RANG", tokens: []string{"10", "50", "500"}, numeric: true},
}

func (s *Session) readGeneral(op generalOp, k Kind) (Value, error) {
	switch op {
	case genVoid:
		return noValue(k), nil
	case genRead:
		return s.readSensor(k)
	case genRange, genRangeAutoULimit, genRangeAutoLLimit:
		return s.readRange(op, k)
	case genRate:
		return s.readRate(k)
	case genFilterControl, genVoltRange:
		return s.readEnum(op, k)
	}
	return noValue(k), fmt.Errorf("k648x: unknown general operation %d", op)
}

func (s *Session) writeGeneral(op generalOp, v Value) error {
	switch op {
	case genVoid, genRead:
		return nil
	case genRange, genRangeAutoULimit, genRangeAutoLLimit:
		return s.writeRange(op, v)
	case genRate:
		return s.writeRate(v)
	case genFilterControl, genVoltRange:
		return s.writeEnum(op, v)
	}
	return fmt.Errorf("k648x: unknown general operation %d", op)
}

// readSensor triggers a measurement with READ? and caches the
// "<reading>,<timestamp>,<status>" triple. The cache is updated whatever
// kind was requested; an int32 request yields no value.
func (s *Session) readSensor(k Kind) (Value, error) {
	resp, eom, err := s.writeRead("READ?")
	if err != nil {
		return noValue(k), err
	}

	tokens := strings.FieldsFunc(resp, func(r rune) bool { return r == ',' })
	if len(tokens) < 3 {
		return noValue(k), protocolErrorf("READ? returned %d elements in %q, want 3", len(tokens), resp)
	}

	s.reading = Reading{
		Value:     atof(tokens[0]),
		Timestamp: int32(atof(tokens[1])),
		Status:    Status(int(atof(tokens[2]))),
	}

	switch k {
	case KindOctet:
		return Value{Kind: KindOctet, Octet: tokens[0], Length: len(tokens[0]), EOM: eom, Valid: true}, nil
	case KindFloat64:
		return Float64Value(s.reading.Value), nil
	default:
		return noValue(k), nil
	}
}

// readRange decodes a range query. As float64 the full-scale value is
// returned (zero is rejected); as int32 the decade code 9+exponent.
func (s *Session) readRange(op generalOp, k Kind) (Value, error) {
	if k == KindOctet {
		return noValue(k), nil
	}

	stem := rangeStems[op]
	resp, _, err := s.writeRead(stem + "?")
	if err != nil {
		return noValue(k), err
	}

	if k == KindFloat64 {
		val := atof(resp)
		if val == 0 {
			return noValue(k), protocolErrorf("%s? returned zero range %q", stem, resp)
		}
		return Float64Value(val), nil
	}

	i := strings.IndexByte(resp, 'E')
	if i < 0 {
		return noValue(k), protocolErrorf("%s? returned %q without exponent", stem, resp)
	}
	return Int32Value(int32(rangeCodeOffset + atoi(resp[i+1:]))), nil
}

// writeRange accepts only int32 codes in [0,7].
func (s *Session) writeRange(op generalOp, v Value) error {
	if v.Kind != KindInt32 {
		return nil
	}
	if v.Int32 < rangeCodeMin || v.Int32 > rangeCodeMax {
		return domainErrorf("range code %d not in [%d,%d]", v.Int32, rangeCodeMin, rangeCodeMax)
	}
	return s.writeOnly(fmt.Sprintf("%s 2.0e%d", rangeStems[op], int(v.Int32)-rangeCodeOffset))
}

// readRate buckets the integration time: above 1 PLC is slow (0), above
// 0.1 PLC medium (1), anything else fast (2). Thresholds apply to the
// decoded NPLC value.
func (s *Session) readRate(k Kind) (Value, error) {
	if k != KindInt32 {
		return noValue(k), nil
	}

	resp, _, err := s.writeRead(":NPLC?")
	if err != nil {
		return noValue(k), err
	}

	val := atof(resp)
	var rate int32
	switch {
	case val > 1.0:
		rate = 0
	case val > 0.1:
		rate = 1
	default:
		rate = 2
	}
	return Int32Value(rate), nil
}

func (s *Session) writeRate(v Value) error {
	if v.Kind != KindInt32 {
		return nil
	}
	if v.Int32 < 0 || int(v.Int32) >= len(rateNPLC) {
		return domainErrorf("rate %d not in [0,%d]", v.Int32, len(rateNPLC)-1)
	}
	return s.writeOnly(":NPLC " + formatG(rateNPLC[v.Int32]))
}

func (s *Session) readEnum(op generalOp, k Kind) (Value, error) {
	if k != KindInt32 {
		return noValue(k), nil
	}

	cmd := enumCommands[op]
	resp, _, err := s.writeRead(cmd.stem + "?")
	if err != nil {
		return noValue(k), err
	}

	for i, tok := range cmd.tokens {
		if cmd.numeric {
			if floatPrefix(resp) > 0 && atof(resp) == atof(tok) {
				return Int32Value(int32(i)), nil
			}
		} else if resp == tok {
			return Int32Value(int32(i)), nil
		}
	}
	return noValue(k), protocolErrorf("%s? returned unknown token %q", cmd.stem, resp)
}

func (s *Session) writeEnum(op generalOp, v Value) error {
	if v.Kind != KindInt32 {
		return nil
	}

	cmd := enumCommands[op]
	if v.Int32 < 0 || int(v.Int32) >= len(cmd.tokens) {
		return domainErrorf("%s code %d not in [0,%d]", cmd.stem, v.Int32, len(cmd.tokens)-1)
	}
	return s.writeOnly(cmd.stem + " " + cmd.tokens[v.Int32])
}
