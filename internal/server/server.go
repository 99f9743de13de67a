package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/k648x"
	"github.com/shaunagostinho/k648x-driver/internal/logger"
	"github.com/shaunagostinho/k648x-driver/internal/metrics"
)

// Server exposes the configured instruments over HTTP: a WebSocket
// parameter console, a JSON status API, Prometheus metrics and the
// embedded web page.
type Server struct {
	cfg     *Config
	devices []*device.Device
	byName  map[string]*device.Device
	metrics *metrics.Metrics
	trace   *logger.Logger
	webFS   fs.FS
	log     *logrus.Entry

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	handles map[string]k648x.Handle // device/TAG -> resolved handle
}

// Request is one console command received over /ws.
type Request struct {
	ID      string `json:"id"`
	Op      string `json:"op"` // resolve, read, write, tags, report, devices
	Device  string `json:"device"`
	Tag     string `json:"tag"`
	Kind    string `json:"kind"` // int, float, string
	Value   string `json:"value"`
	Verbose bool   `json:"verbose"`
}

// Message is every frame the server sends on /ws.
type Message struct {
	Type string `json:"type"` // hello, response, event
	ID   string `json:"id,omitempty"`

	Client    string `json:"client,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`

	Device string `json:"device,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Handle string `json:"handle,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Value  string `json:"value,omitempty"`
	Valid  bool   `json:"valid,omitempty"`
	Length int    `json:"length,omitempty"`
	EOM    string `json:"eom,omitempty"`

	Tags    []string     `json:"tags,omitempty"`
	Report  string       `json:"report,omitempty"`
	Devices []DeviceInfo `json:"devices,omitempty"`
}

// DeviceInfo is the status of one instrument as served by /api/devices.
type DeviceInfo struct {
	Name        string          `json:"name"`
	Model       string          `json:"model"`
	Connected   bool            `json:"connected"`
	Server      string          `json:"server,omitempty"`
	Address     string          `json:"address,omitempty"`
	Identity    *k648x.Identity `json:"identity,omitempty"`
	LastReading *k648x.Reading  `json:"lastReading,omitempty"`
	Stats       k648x.Stats     `json:"stats"`
}

// New creates a new Server.
func New(cfg *Config, devices []*device.Device, m *metrics.Metrics, trace *logger.Logger, webFS fs.FS) *Server {
	s := &Server{
		cfg:     cfg,
		devices: devices,
		byName:  make(map[string]*device.Device, len(devices)),
		metrics: m,
		trace:   trace,
		webFS:   webFS,
		log:     logrus.WithField("component", "server"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, d := range devices {
		s.byName[strings.ToUpper(d.Name())] = d
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// Parameter console
	mux.HandleFunc("/ws", s.handleWS)

	// Status and config API
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run starts the HTTP server and blocks until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	s.log.Infof("listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("ws upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, 64),
		handles: make(map[string]k648x.Handle),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log := s.log.WithField("client", client.id)
	log.Infof("ws client connected (%d total)", n)

	s.sendTo(client, Message{Type: "hello", OK: true, Client: client.id, Devices: s.deviceInfos()})

	// Writer goroutine
	go func() {
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		conn.Close()
		// Keep the reader from blocking until it sees the closed conn.
		for range client.send {
		}
	}()

	// Reader goroutine: one request at a time per client
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Infof("ws client disconnected (%d total)", n)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				s.sendTo(client, Message{Type: "response", Error: "bad request: " + err.Error(), ErrorKind: "request"})
				continue
			}
			s.sendTo(client, s.execute(client, req))
		}
	}()
}

// execute runs one console request for client.
func (s *Server) execute(client *wsClient, req Request) Message {
	resp := Message{Type: "response", ID: req.ID, Device: req.Device, Tag: req.Tag}

	if req.Op == "devices" {
		resp.OK = true
		resp.Devices = s.deviceInfos()
		return resp
	}

	d, ok := s.byName[strings.ToUpper(req.Device)]
	if !ok {
		return fail(resp, errors.New("unknown device "+req.Device))
	}

	switch req.Op {
	case "tags":
		resp.OK = true
		resp.Tags = k648x.Tags(d.Variant())
		return resp

	case "report":
		sess, err := d.Session()
		if err != nil {
			return fail(resp, err)
		}
		var buf bytes.Buffer
		if err := sess.Report(&buf, req.Verbose); err != nil {
			return fail(resp, err)
		}
		resp.OK = true
		resp.Report = buf.String()
		return resp
	}

	sess, err := d.Session()
	if err != nil {
		return fail(resp, err)
	}
	h, err := client.resolve(sess, d.Name(), req.Tag)
	if err != nil {
		return fail(resp, err)
	}
	resp.Handle = h.String()

	switch req.Op {
	case "resolve":
		resp.OK = true
		return resp

	case "read":
		k, err := k648x.ParseKind(req.Kind)
		if err != nil {
			return fail(resp, err)
		}
		v, err := sess.Read(h, k)
		if err != nil {
			return fail(resp, err)
		}
		return withValue(resp, v)

	case "write":
		k, err := k648x.ParseKind(req.Kind)
		if err != nil {
			return fail(resp, err)
		}
		v, err := k648x.ParseValue(k, req.Value)
		if err != nil {
			return fail(resp, err)
		}
		if err := sess.Write(h, v); err != nil {
			return fail(resp, err)
		}
		resp.OK = true
		resp.Kind = k.String()
		resp.Value = v.String()
		s.broadcast(client, Message{
			Type: "event", OK: true, Client: client.id,
			Device: d.Name(), Tag: h.Tag(), Kind: k.String(), Value: v.String(),
		})
		return resp
	}

	return fail(resp, errors.New("unknown op "+req.Op))
}

// resolve returns the cached handle for device/tag, resolving on first use.
func (c *wsClient) resolve(sess *k648x.Session, dev, tag string) (k648x.Handle, error) {
	key := strings.ToUpper(dev + "/" + tag)
	if h, ok := c.handles[key]; ok {
		return h, nil
	}
	h, err := sess.Resolve(tag)
	if err != nil {
		return k648x.Handle{}, err
	}
	c.handles[key] = h
	return h, nil
}

func withValue(resp Message, v k648x.Value) Message {
	resp.OK = true
	resp.Kind = v.Kind.String()
	resp.Valid = v.Valid
	if v.Valid {
		resp.Value = v.String()
	}
	if v.Kind == k648x.KindOctet && v.Valid {
		resp.Length = v.Length
		resp.EOM = v.EOM.String()
	}
	return resp
}

func fail(resp Message, err error) Message {
	resp.OK = false
	resp.Error = err.Error()
	resp.ErrorKind = errorKind(err)
	return resp
}

// errorKind names the error class for API clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, k648x.ErrNotFound):
		return "notFound"
	case errors.Is(err, k648x.ErrWrongVariant):
		return "wrongVariant"
	case errors.Is(err, k648x.ErrResolution):
		return "resolution"
	case errors.Is(err, k648x.ErrNotReady):
		return "notReady"
	case errors.Is(err, device.ErrNotConnected):
		return "notConnected"
	case errors.Is(err, k648x.ErrTransport):
		return "transport"
	case errors.Is(err, k648x.ErrProtocol):
		return "protocol"
	case errors.Is(err, k648x.ErrDomain):
		return "domain"
	}
	return "request"
}

func (s *Server) deviceInfos() []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		info := DeviceInfo{Name: d.Name(), Model: d.Model(), Stats: d.Stats()}
		if sess, err := d.Session(); err == nil {
			id, rd := sess.Identity(), sess.LastReading()
			info.Connected = true
			info.Server = sess.Server()
			info.Address = sess.Address()
			info.Identity = &id
			info.LastReading = &rd
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, s.deviceInfos())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	verbose := r.URL.Query().Get("verbose") != ""
	name := r.URL.Query().Get("device")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, d := range s.devices {
		if name != "" && !strings.EqualFold(name, d.Name()) {
			continue
		}
		sess, err := d.Session()
		if err != nil {
			io.WriteString(w, "Keithley648x port: "+d.Name()+" (not connected)\n")
			continue
		}
		sess.Report(w, verbose)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warnf("config save failed: %v", err)
		}

		// Logging and tracing apply immediately.
		SetupLogger(s.cfg.LoggingSettings())
		if s.trace != nil {
			s.trace.SetEnabled(s.cfg.TraceEnabled())
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) sendTo(client *wsClient, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		// Send buffer full: the writer is stuck, so drop the client.
		s.log.WithField("client", client.id).Warn("ws send buffer full, closing")
		client.conn.Close()
	}
}

// broadcast tells every client except from about a change.
func (s *Server) broadcast(from *wsClient, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		if client == from {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.conn.Close()
	}
}
