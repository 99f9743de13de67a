package transport

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sim is an in-process picoammeter that answers the SCPI subset the driver
// uses. It backs demo mode and tests.
type Sim struct {
	mu     sync.Mutex
	model  string
	t      float64 // virtual time accumulator, seconds
	closed bool

	idn       string
	rng       float64 // current range, amps
	ulim      float64
	llim      float64
	autoRange int
	nplc      float64
	zeroCheck int
	zeroCorr  int
	median    int
	medRank   int
	average   int
	avgCount  int
	avgTCon   string
	voltRange float64

	sent []string
}

// NewSim creates a simulator for model "6485" or "6487" (default 6485).
func NewSim(model string) *Sim {
	if model != "6487" {
		model = "6485"
	}
	s := &Sim{
		model: model,
		idn: fmt.Sprintf("KEITHLEY INSTRUMENTS INC.,MODEL %s,4105223,B04   Jun 22 2004 12:19:31/A02  /E",
			model),
	}
	s.reset()
	return s
}

// *RST defaults.
func (s *Sim) reset() {
	s.rng = 2e-3
	s.ulim = 2e-2
	s.llim = 2e-9
	s.autoRange = 1
	s.nplc = 6.0
	s.zeroCheck = 1
	s.zeroCorr = 0
	s.median = 0
	s.medRank = 1
	s.average = 0
	s.avgCount = 10
	s.avgTCon = "REP"
	s.voltRange = 10
}

// SetIDN replaces the identification string returned by *IDN?.
func (s *Sim) SetIDN(idn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idn = idn
}

// Sent returns every command line received so far.
func (s *Sim) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *Sim) Server() string  { return "sim:" + s.model }
func (s *Sim) Address() string { return "0" }

func (s *Sim) Write(out []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.sent = append(s.sent, string(out))
	s.command(string(out))
	return len(out), nil
}

func (s *Sim) WriteRead(out []byte, maxIn int, timeout time.Duration) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Response{}, ErrClosed
	}
	s.sent = append(s.sent, string(out))

	reply, ok := s.query(string(out))
	if !ok {
		// A real instrument stays silent on an unknown query.
		return Response{Written: len(out)}, ErrTimeout
	}
	resp := Response{Data: []byte(reply), Written: len(out), EOM: EOMDelimiter}
	if maxIn > 0 && len(resp.Data) > maxIn {
		resp.Data = resp.Data[:maxIn]
		resp.EOM = EOMCount
	}
	return resp, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// command applies a setting. Unknown headers are ignored, as the
// instrument only queues an error for them.
func (s *Sim) command(line string) {
	header, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	f, _ := strconv.ParseFloat(arg, 64)
	n := int(f)

	switch strings.ToUpper(header) {
	case "*RST":
		s.reset()
	case ":RANGE":
		s.rng = f
		s.autoRange = 0
	case ":RANGE:AUTO":
		s.autoRange = n
	case ":RANGE:AUTO:ULIM":
		s.ulim = f
	case ":RANGE:AUTO:LLIM":
		s.llim = f
	case ":NPLC":
		s.nplc = f
	case "SYST:ZCH":
		s.zeroCheck = n
	case "SYST:ZCOR":
		s.zeroCorr = n
	case "MED":
		s.median = n
	case "MED:RANK":
		s.medRank = n
	case "AVER":
		s.average = n
	case "AVER:COUN":
		s.avgCount = n
	case "AVER:TCON":
		s.avgTCon = strings.ToUpper(arg)
	case "SOUR:VOLT:RANG":
		if s.model == "6487" {
			s.voltRange = f
		}
	}
}

func (s *Sim) query(line string) (string, bool) {
	switch strings.TrimSpace(line) {
	case "*IDN?":
		return s.idn, true
	case "READ?":
		return s.reading(), true
	case ":RANGE?":
		return sci(s.rng), true
	case ":RANGE:AUTO?":
		return strconv.Itoa(s.autoRange), true
	case ":RANGE:AUTO:ULIM?":
		return sci(s.ulim), true
	case ":RANGE:AUTO:LLIM?":
		return sci(s.llim), true
	case ":NPLC?":
		return sci(s.nplc), true
	case "SYST:ZCH?":
		return strconv.Itoa(s.zeroCheck), true
	case "SYST:ZCOR?":
		return strconv.Itoa(s.zeroCorr), true
	case "MED?":
		return strconv.Itoa(s.median), true
	case "MED:RANK?":
		return strconv.Itoa(s.medRank), true
	case "AVER?":
		return strconv.Itoa(s.average), true
	case "AVER:COUN?":
		return strconv.Itoa(s.avgCount), true
	case "AVER:TCON?":
		return s.avgTCon, true
	case "SOUR:VOLT:RANG?":
		if s.model != "6487" {
			return "", false
		}
		return sci(s.voltRange), true
	}
	return "", false
}

// reading fabricates "<amps>A,<seconds>,<status>" in the instrument's
// ASCII element format.
func (s *Sim) reading() string {
	s.t += 0.05

	amps := 0.0
	if s.zeroCheck == 0 {
		// Slow drift across a decade with a little noise on top.
		amps = s.rng * 0.5 * (1 + 0.8*math.Sin(s.t*0.3))
		amps += s.rng * 0.01 * (rand.Float64() - 0.5)
	}

	var status int
	if amps > s.rng*1.05 {
		status |= 1 << 0
	}
	if s.average != 0 || s.median != 0 {
		status |= 1 << 1
	}
	if s.zeroCheck != 0 {
		status |= 1 << 9
	}
	if s.zeroCorr != 0 {
		status |= 1 << 10
	}

	return fmt.Sprintf("%+.6EA,%+.6E,%+.6E", amps, s.t, float64(status))
}

// sci renders the instrument's numeric response format, e.g. 2.000000E-09.
func sci(v float64) string {
	return strconv.FormatFloat(v, 'E', 6, 64)
}
