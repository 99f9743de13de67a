package k648x

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

const testIDN = "MODEL,SERIALNUM,DIGREV/DISPREV/BRDREV"

// fakeTransport answers queries from a fixed table and records every line.
type fakeTransport struct {
	replies map[string]string
	fail    map[string]error
	short   bool
	sent    []string
	closed  bool
}

func newFake(replies map[string]string) *fakeTransport {
	if replies == nil {
		replies = map[string]string{}
	}
	if _, ok := replies["*IDN?"]; !ok {
		replies["*IDN?"] = testIDN
	}
	return &fakeTransport{replies: replies, fail: map[string]error{}}
}

func (f *fakeTransport) Server() string  { return "fake0" }
func (f *fakeTransport) Address() string { return "7" }

func (f *fakeTransport) Write(out []byte, _ time.Duration) (int, error) {
	f.sent = append(f.sent, string(out))
	if err := f.fail[string(out)]; err != nil {
		return 0, err
	}
	if f.short && len(out) > 0 {
		return len(out) - 1, nil
	}
	return len(out), nil
}

func (f *fakeTransport) WriteRead(out []byte, maxIn int, _ time.Duration) (transport.Response, error) {
	f.sent = append(f.sent, string(out))
	if err := f.fail[string(out)]; err != nil {
		return transport.Response{}, err
	}
	reply, ok := f.replies[string(out)]
	if !ok {
		return transport.Response{Written: len(out)}, transport.ErrTimeout
	}
	if len(reply) > maxIn {
		return transport.Response{Data: []byte(reply[:maxIn]), Written: len(out), EOM: transport.EOMCount}, nil
	}
	return transport.Response{Data: []byte(reply), Written: len(out), EOM: transport.EOMDelimiter}, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// openFake opens an initialized session and clears the init traffic.
func openFake(t *testing.T, v Variant, replies map[string]string) (*Session, *fakeTransport) {
	t.Helper()
	f := newFake(replies)
	s, err := Open(Config{Name: "EP0", Variant: v}, f)
	require.NoError(t, err)
	f.sent = nil
	return s, f
}

func mustResolve(t *testing.T, s *Session, tag string) Handle {
	t.Helper()
	h, err := s.Resolve(tag)
	require.NoError(t, err)
	return h
}

func TestParseIdentity(t *testing.T) {
	id, err := parseIdentity(testIDN)
	require.NoError(t, err)
	assert.Equal(t, Identity{
		Model:   "MODEL",
		Serial:  "SERIALNUM",
		DigRev:  "DIGREV",
		DispRev: "DISPREV",
		BrdRev:  "BRDREV",
	}, id)
}

func TestParseIdentity_ManufacturerPrefix(t *testing.T) {
	id, err := parseIdentity("KEITHLEY INSTRUMENTS INC.,MODEL 6485,1008167,C01   Sep 25 2002 09:22:40/A02  /J")
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY INSTRUMENTS INC.,MODEL 6485", id.Model)
	assert.Equal(t, "1008167", id.Serial)
	assert.Equal(t, "C01   Sep 25 2002 09:22:40", id.DigRev)
	assert.Equal(t, "A02  ", id.DispRev)
	assert.Equal(t, "J", id.BrdRev)
}

func TestParseIdentity_ExtraCommasStayInModel(t *testing.T) {
	id, err := parseIdentity("A,B,C,D,E/F/G")
	require.NoError(t, err)
	assert.Equal(t, "A,B,C", id.Model)
	assert.Equal(t, "D", id.Serial)
	assert.Equal(t, "E", id.DigRev)
}

func TestParseIdentity_Malformed(t *testing.T) {
	for _, idn := range []string{
		"",
		"NOCOMMAS",
		"MODEL,DIG/DISP/BRD",
		"MODEL,SERIAL,DIGREV/DISPREV",
	} {
		_, err := parseIdentity(idn)
		assert.ErrorIs(t, err, ErrProtocol, idn)
	}
}

func TestNewSession_RejectsVariantAny(t *testing.T) {
	_, err := NewSession(Config{Name: "EP0"}, newFake(nil))
	assert.Error(t, err)
}

func TestNewSession_DefaultTimeoutPerModel(t *testing.T) {
	a, err := NewSession(Config{Name: "A", Variant: Variant6485}, newFake(nil))
	require.NoError(t, err)
	b, err := NewSession(Config{Name: "B", Variant: Variant6487}, newFake(nil))
	require.NoError(t, err)
	assert.Equal(t, time.Second, a.cfg.Timeout)
	assert.Equal(t, 5*time.Second, b.cfg.Timeout)
}

func TestOpen_InitSequence(t *testing.T) {
	f := newFake(nil)
	s, err := Open(Config{Name: "EP0", Variant: Variant6485}, f)
	require.NoError(t, err)

	assert.Equal(t, []string{"*CLS", "*IDN?"}, f.sent)
	assert.True(t, s.Initialized())
	assert.Equal(t, "SERIALNUM", s.Identity().Serial)
}

func TestOpen_BusWakeSendsEmptyLineFirst(t *testing.T) {
	f := newFake(nil)
	_, err := Open(Config{Name: "EP0", Variant: Variant6485, BusWake: true}, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "*CLS", "*IDN?"}, f.sent)
}

func TestOpen_FailureLeavesNoSession(t *testing.T) {
	f := newFake(nil)
	f.fail["*CLS"] = errors.New("line down")

	s, err := Open(Config{Name: "EP0", Variant: Variant6485}, f)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, []string{"*CLS"}, f.sent, "identification must not be attempted")
}

func TestInit_BadIdentificationStaysUninitialized(t *testing.T) {
	f := newFake(map[string]string{"*IDN?": "garbage"})
	s, err := NewSession(Config{Name: "EP0", Variant: Variant6485}, f)
	require.NoError(t, err)

	err = s.Init()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.False(t, s.Initialized())
}

func TestInit_FailedRetryClearsReady(t *testing.T) {
	s, f := openFake(t, Variant6485, nil)
	require.True(t, s.Initialized())
	h := mustResolve(t, s, "RANGE")

	f.fail["*IDN?"] = transport.ErrTimeout
	assert.ErrorIs(t, s.Init(), ErrTransport)
	assert.False(t, s.Initialized())

	f.sent = nil
	_, err := s.Read(h, KindInt32)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.WriteInt32(h, 1), ErrNotReady)
	assert.Empty(t, f.sent)

	delete(f.fail, "*IDN?")
	require.NoError(t, s.Init())
	assert.True(t, s.Initialized())
}

func TestReadWrite_HandleFromOtherModelRejected(t *testing.T) {
	s87, _ := openFake(t, Variant6487, map[string]string{"SOUR:VOLT:RANG?": "5.000000E+01"})
	h := mustResolve(t, s87, "VOLT_RANGE")
	v, ok, err := s87.ReadInt32(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(1), v)

	s85, f := openFake(t, Variant6485, nil)
	_, err = s85.Read(h, KindInt32)
	assert.ErrorIs(t, err, ErrWrongVariant)
	assert.ErrorIs(t, err, ErrResolution)
	assert.ErrorIs(t, s85.WriteInt32(h, 0), ErrWrongVariant)
	assert.Empty(t, f.sent)

	// Tags legal on every model travel between sessions.
	r := mustResolve(t, s87, "RESET")
	assert.NoError(t, s85.WriteInt32(r, 1))
}

func TestReadWrite_NotReadyBeforeInit(t *testing.T) {
	f := newFake(nil)
	s, err := NewSession(Config{Name: "EP0", Variant: Variant6485}, f)
	require.NoError(t, err)

	for _, tag := range []string{"READ", "RANGE", "MODEL", "RESET"} {
		h := mustResolve(t, s, tag)
		for _, k := range []Kind{KindInt32, KindFloat64, KindOctet} {
			_, err := s.Read(h, k)
			assert.ErrorIs(t, err, ErrNotReady)
		}
		assert.ErrorIs(t, s.WriteInt32(h, 1), ErrNotReady)
		assert.ErrorIs(t, s.WriteFloat64(h, 1), ErrNotReady)
		_, err := s.WriteOctet(h, "x")
		assert.ErrorIs(t, err, ErrNotReady)
	}
	assert.Empty(t, f.sent)
}

func TestReadWrite_UnboundHandle(t *testing.T) {
	s, f := openFake(t, Variant6485, nil)
	_, err := s.Read(Handle{}, KindInt32)
	assert.ErrorIs(t, err, ErrResolution)
	assert.ErrorIs(t, s.Write(Handle{}, Int32Value(1)), ErrResolution)
	assert.Empty(t, f.sent)
}

func TestClose_ClosesTransportAndDisables(t *testing.T) {
	s, f := openFake(t, Variant6485, nil)
	require.NoError(t, s.Close())
	assert.True(t, f.closed)

	_, err := s.Read(mustResolve(t, s, "MODEL"), KindOctet)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestResolve(t *testing.T) {
	s, _ := openFake(t, Variant6485, nil)

	h, err := s.Resolve("range")
	require.NoError(t, err)
	assert.Equal(t, "RANGE", h.Tag())
	assert.Equal(t, ClassGeneral, h.Class())
	assert.True(t, h.Bound())

	_, err = s.Resolve("NO_SUCH_TAG")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrResolution)
	assert.False(t, errors.Is(err, ErrWrongVariant))

	_, err = s.Resolve("VOLT_RANGE")
	assert.ErrorIs(t, err, ErrWrongVariant)
	assert.ErrorIs(t, err, ErrResolution)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestResolve_ModelSpecificTagsOn6487(t *testing.T) {
	s, _ := openFake(t, Variant6487, nil)
	for _, tag := range []string{"VOLT_RANGE", "DIGITAL_FILTER_CONTROL"} {
		_, err := s.Resolve(tag)
		assert.NoError(t, err, tag)
	}
}

func TestTags(t *testing.T) {
	a := Tags(Variant6485)
	b := Tags(Variant6487)
	assert.Len(t, b, len(registry))
	assert.Len(t, a, len(registry)-2)
	assert.NotContains(t, a, "VOLT_RANGE")
	assert.Contains(t, b, "VOLT_RANGE")
}

func TestTransportError_CountsAndWraps(t *testing.T) {
	s, f := openFake(t, Variant6485, nil)
	h := mustResolve(t, s, "RANGE")

	// No reply scripted: the fake times out.
	_, err := s.Read(h, KindInt32)
	assert.ErrorIs(t, err, ErrTransport)

	f.short = true
	err = s.WriteInt32(h, 3)
	assert.ErrorIs(t, err, ErrTransport)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.IOErrors)
	assert.Equal(t, uint64(1), st.WriteReads, "only *IDN? succeeded")
	assert.Equal(t, uint64(1), st.WriteOnlys, "only *CLS succeeded")
}

func TestObserver_SeesEveryExchange(t *testing.T) {
	var seen []Exchange
	f := newFake(nil)
	_, err := Open(Config{Name: "EP0", Variant: Variant6485}, f,
		WithObserver(func(ex Exchange) { seen = append(seen, ex) }))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "*CLS", seen[0].Out)
	assert.False(t, seen[0].WriteRead)
	assert.Equal(t, "*IDN?", seen[1].Out)
	assert.Equal(t, testIDN, seen[1].In)
	assert.True(t, seen[1].WriteRead)
	assert.Equal(t, "EP0", seen[1].Port)
	assert.Equal(t, "fake0", seen[1].Server)
}

func TestReport(t *testing.T) {
	s, _ := openFake(t, Variant6487, nil)

	var short bytes.Buffer
	require.NoError(t, s.Report(&short, false))
	assert.Equal(t, "Keithley648x port: EP0\n", short.String())

	var long bytes.Buffer
	require.NoError(t, s.Report(&long, true))
	assert.Equal(t, "Keithley648x port: EP0\n"+
		"    model:      6487\n"+
		"    server:     fake0\n"+
		"    address:    7\n"+
		"    ioErrors:   0\n"+
		"    writeReads: 1\n"+
		"    writeOnlys: 1\n"+
		"    support IS initialized\n", long.String())
}

func TestReport_Uninitialized(t *testing.T) {
	s, err := NewSession(Config{Name: "EP1", Variant: Variant6485}, newFake(nil))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf, true))
	assert.Contains(t, buf.String(), "support IS NOT initialized")
}
