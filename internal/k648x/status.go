package k648x

// Status is the measurement status word returned as the third READ?
// element. Bit positions follow the 6485/6487 reference manual.
type Status uint16

const (
	StatusOverflow    Status = 1 << 0 // reading taken over range
	StatusFilter      Status = 1 << 1 // averaging or median filter enabled
	StatusMath        Status = 1 << 2 // CALC1 enabled
	StatusNull        Status = 1 << 3 // CALC2 null enabled
	StatusLimitTest   Status = 1 << 4 // CALC2 limit test enabled
	StatusLimitResult Status = 3 << 5 // 0 pass, 1 LIM1 fail, 2 LIM2 fail
	StatusOvervoltage Status = 1 << 7 // input overvoltage
	statusReserved    Status = 1 << 8
	StatusZeroCheck   Status = 1 << 9
	StatusZeroCorrect Status = 1 << 10

	limitResultShift = 5
)

// LimitNoTest is reported as the limit outcome while the limit test is off.
const LimitNoTest = 3

func (s Status) bit(mask Status) int32 {
	if s&mask != 0 {
		return 1
	}
	return 0
}

func (s Status) Overflow() int32    { return s.bit(StatusOverflow) }
func (s Status) Filter() int32      { return s.bit(StatusFilter) }
func (s Status) Math() int32        { return s.bit(StatusMath) }
func (s Status) Null() int32        { return s.bit(StatusNull) }
func (s Status) LimitTest() int32   { return s.bit(StatusLimitTest) }
func (s Status) Overvoltage() int32 { return s.bit(StatusOvervoltage) }
func (s Status) ZeroCheck() int32   { return s.bit(StatusZeroCheck) }
func (s Status) ZeroCorrect() int32 { return s.bit(StatusZeroCorrect) }

// Limits returns the limit test outcome, or LimitNoTest when the test is
// disabled. The raw result bits are meaningless in that case.
func (s Status) Limits() int32 {
	if s&StatusLimitTest == 0 {
		return LimitNoTest
	}
	return int32((s & StatusLimitResult) >> limitResultShift)
}
