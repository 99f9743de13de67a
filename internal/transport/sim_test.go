package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func query(t *testing.T, s *Sim, cmd string) string {
	t.Helper()
	resp, err := s.WriteRead([]byte(cmd), 99, time.Second)
	require.NoError(t, err, cmd)
	return string(resp.Data)
}

func TestSim_Identification(t *testing.T) {
	s := NewSim("6487")
	assert.True(t, strings.HasPrefix(query(t, s, "*IDN?"), "KEITHLEY INSTRUMENTS INC.,MODEL 6487,"))

	s.SetIDN("A,B,C/D/E")
	assert.Equal(t, "A,B,C/D/E", query(t, s, "*IDN?"))
}

func TestSim_UnknownModelDefaultsTo6485(t *testing.T) {
	assert.Equal(t, "sim:6485", NewSim("").Server())
}

func TestSim_SettingsAndReset(t *testing.T) {
	s := NewSim("6485")

	for _, cmd := range []string{":RANGE 2.0e-6", "MED 1", "MED:RANK 4", "AVER:TCON mov", ":NPLC 0.1"} {
		_, err := s.Write([]byte(cmd), time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, "2.000000E-06", query(t, s, ":RANGE?"))
	assert.Equal(t, "0", query(t, s, ":RANGE:AUTO?"))
	assert.Equal(t, "1", query(t, s, "MED?"))
	assert.Equal(t, "4", query(t, s, "MED:RANK?"))
	assert.Equal(t, "MOV", query(t, s, "AVER:TCON?"))
	assert.Equal(t, "1.000000E-01", query(t, s, ":NPLC?"))

	_, err := s.Write([]byte("*RST"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2.000000E-03", query(t, s, ":RANGE?"))
	assert.Equal(t, "1", query(t, s, ":RANGE:AUTO?"))
	assert.Equal(t, "REP", query(t, s, "AVER:TCON?"))
}

func TestSim_ReadingFormat(t *testing.T) {
	s := NewSim("6485")
	fields := strings.Split(query(t, s, "READ?"), ",")
	require.Len(t, fields, 3)
	assert.True(t, strings.HasSuffix(fields[0], "A"))
	assert.Equal(t, "+5.120000E+02", fields[2], "zero check on after reset")
}

func TestSim_VoltRangeOnlyOn6487(t *testing.T) {
	a := NewSim("6485")
	_, err := a.WriteRead([]byte("SOUR:VOLT:RANG?"), 99, time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	b := NewSim("6487")
	_, err = b.Write([]byte("SOUR:VOLT:RANG 500"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "5.000000E+02", query(t, b, "SOUR:VOLT:RANG?"))
}

func TestSim_MaxInAndClose(t *testing.T) {
	s := NewSim("6485")
	resp, err := s.WriteRead([]byte("*IDN?"), 8, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY", string(resp.Data))
	assert.Equal(t, EOMCount, resp.EOM)

	require.NoError(t, s.Close())
	_, err = s.Write([]byte("*RST"), time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, []string{"*IDN?"}, s.Sent())
}
