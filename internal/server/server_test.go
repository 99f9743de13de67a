package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/logger"
	"github.com/shaunagostinho/k648x-driver/internal/metrics"
	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

type fixture struct {
	srv   *Server
	http  *httptest.Server
	cfg   *Config
	trace *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")
	cfg.Trace.Path = t.TempDir()

	m := metrics.New()
	trace := logger.New(cfg.Trace)

	var devs []*device.Device
	for _, dc := range []device.Config{
		{Name: "EP0", Model: "6485", Config: transport.Config{Kind: "sim"}},
		{Name: "EP1", Model: "6487", Config: transport.Config{Kind: "sim"}},
		{Name: "EP2", Model: "6485", Config: transport.Config{Kind: "sim"}},
	} {
		d, err := device.New(dc)
		require.NoError(t, err)
		m.Add(d)
		devs = append(devs, d)
	}
	// EP2 stays disconnected.
	require.NoError(t, devs[0].Connect())
	require.NoError(t, devs[1].Connect())

	srv := New(cfg, devs, m, trace, nil)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		trace.Close()
	})
	return &fixture{srv: srv, http: hs, cfg: cfg, trace: trace}
}

func (f *fixture) dial(t *testing.T) (*websocket.Conn, Message) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readMsg(t, conn)
	require.Equal(t, "hello", hello.Type)
	return conn, hello
}

func readMsg(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func call(t *testing.T, conn *websocket.Conn, req Request) Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	msg := readMsg(t, conn)
	require.Equal(t, "response", msg.Type)
	require.Equal(t, req.ID, msg.ID)
	return msg
}

func TestWS_Hello(t *testing.T) {
	f := newFixture(t)
	_, hello := f.dial(t)

	assert.NotEmpty(t, hello.Client)
	require.Len(t, hello.Devices, 3)
	assert.True(t, hello.Devices[0].Connected)
	assert.False(t, hello.Devices[2].Connected)
}

func TestWS_ReadWrite(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t)

	resp := call(t, conn, Request{ID: "1", Op: "read", Device: "EP0", Tag: "model", Kind: "string"})
	require.True(t, resp.OK, resp.Error)
	assert.Equal(t, "KEITHLEY INSTRUMENTS INC.,MODEL 6485", resp.Value)
	assert.Equal(t, "MODEL/cache", resp.Handle)

	resp = call(t, conn, Request{ID: "2", Op: "write", Device: "EP0", Tag: "RANGE", Kind: "int", Value: "3"})
	require.True(t, resp.OK, resp.Error)

	resp = call(t, conn, Request{ID: "3", Op: "read", Device: "ep0", Tag: "RANGE", Kind: "int"})
	require.True(t, resp.OK, resp.Error)
	assert.True(t, resp.Valid)
	assert.Equal(t, "3", resp.Value)

	resp = call(t, conn, Request{ID: "4", Op: "read", Device: "EP0", Tag: "RANGE", Kind: "string"})
	require.True(t, resp.OK, resp.Error)
	assert.False(t, resp.Valid)
}

func TestWS_Errors(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t)

	cases := []struct {
		req  Request
		kind string
	}{
		{Request{ID: "a", Op: "read", Device: "EP0", Tag: "NOPE", Kind: "int"}, "notFound"},
		{Request{ID: "b", Op: "read", Device: "EP0", Tag: "VOLT_RANGE", Kind: "int"}, "wrongVariant"},
		{Request{ID: "c", Op: "write", Device: "EP0", Tag: "RANGE", Kind: "int", Value: "8"}, "domain"},
		{Request{ID: "d", Op: "read", Device: "EP2", Tag: "RANGE", Kind: "int"}, "notConnected"},
		{Request{ID: "e", Op: "read", Device: "EP9", Tag: "RANGE", Kind: "int"}, "request"},
		{Request{ID: "f", Op: "write", Device: "EP0", Tag: "RANGE", Kind: "int", Value: "x"}, "request"},
		{Request{ID: "g", Op: "explode", Device: "EP0", Tag: "RANGE"}, "request"},
	}
	for _, tc := range cases {
		resp := call(t, conn, tc.req)
		assert.False(t, resp.OK, tc.req.ID)
		assert.Equal(t, tc.kind, resp.ErrorKind, tc.req.ID)
		assert.NotEmpty(t, resp.Error, tc.req.ID)
	}
}

func TestWS_TagsAndReport(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t)

	resp := call(t, conn, Request{ID: "1", Op: "tags", Device: "EP1"})
	require.True(t, resp.OK)
	assert.Contains(t, resp.Tags, "VOLT_RANGE")

	resp = call(t, conn, Request{ID: "2", Op: "report", Device: "EP1", Verbose: true})
	require.True(t, resp.OK, resp.Error)
	assert.Contains(t, resp.Report, "Keithley648x port: EP1")
	assert.Contains(t, resp.Report, "support IS initialized")
}

func TestWS_WriteEventReachesOtherClients(t *testing.T) {
	f := newFixture(t)
	a, helloA := f.dial(t)
	b, _ := f.dial(t)

	resp := call(t, a, Request{ID: "1", Op: "write", Device: "EP1", Tag: "VOLT_RANGE", Kind: "int", Value: "2"})
	require.True(t, resp.OK, resp.Error)

	ev := readMsg(t, b)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, helloA.Client, ev.Client)
	assert.Equal(t, "EP1", ev.Device)
	assert.Equal(t, "VOLT_RANGE", ev.Tag)
	assert.Equal(t, "2", ev.Value)
}

func TestAPI_Devices(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.http.URL + "/api/devices")
	require.NoError(t, err)
	defer res.Body.Close()

	var infos []DeviceInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "6487", infos[1].Model)
	assert.Equal(t, "4105223", infos[1].Identity.Serial)
	assert.Equal(t, uint64(1), infos[1].Stats.WriteReads)
	assert.Nil(t, infos[2].Identity)
}

func TestAPI_Report(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.http.URL + "/api/report")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, "Keithley648x port: EP0\n"+
		"Keithley648x port: EP1\n"+
		"Keithley648x port: EP2 (not connected)\n", string(body))

	res, err = http.Get(f.http.URL + "/api/report?device=ep1&verbose=1")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), "    model:      6487\n")
	assert.NotContains(t, string(body), "EP0")
}

func TestAPI_ConfigUpdateTogglesTrace(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.trace.IsEnabled())

	res, err := http.Post(f.http.URL+"/api/config", "application/json",
		strings.NewReader(`{"trace":{"enabled":true},"logging":{"level":"debug"}}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, 200, res.StatusCode)

	assert.True(t, f.trace.IsEnabled())
	assert.Equal(t, "debug", f.cfg.LoggingSettings().Level)
	SetupLogger(LoggingConfig{Level: "info"})

	saved, err := os.ReadFile(f.cfg.path)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "enabled: true")

	res, err = http.Get(f.http.URL + "/api/config")
	require.NoError(t, err)
	defer res.Body.Close()
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	devs := got["devices"].([]interface{})
	require.Len(t, devs, 1)
	assert.Equal(t, "sim", devs[0].(map[string]interface{})["transport"])
}

func TestAPI_Metrics(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), `k648x_connected{model="6485",port="EP2"} 0`)
	assert.Contains(t, string(body), `k648x_write_reads_total{model="6487",port="EP1"} 1`)
}

func TestSendTo_FullBufferDropsClient(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t)

	// No writer drains this channel, so the send can never complete.
	stuck := &wsClient{id: "stuck", conn: conn, send: make(chan []byte)}
	done := make(chan struct{})
	go func() {
		f.srv.sendTo(stuck, Message{Type: "response", ID: "1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sendTo blocked on a full send buffer")
	}
	assert.Error(t, conn.WriteMessage(websocket.TextMessage, []byte("{}")), "conn closed")
}
