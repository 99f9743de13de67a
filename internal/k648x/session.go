package k648x

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

// bufferSize bounds every command and response line.
const bufferSize = 100

// Config describes one instrument connection.
type Config struct {
	Name    string        // port name shown in reports, e.g. "EP0"
	Variant Variant       // Variant6485 or Variant6487
	Timeout time.Duration // per exchange; zero selects the model default
	// BusWake sends one empty line before *CLS. Some serial cards drop the
	// first *IDN? after a cold boot without it.
	BusWake bool
}

// Identity holds the five fields of the *IDN? response.
type Identity struct {
	Model   string `json:"model"`
	Serial  string `json:"serial"`
	DigRev  string `json:"digRev"`
	DispRev string `json:"dispRev"`
	BrdRev  string `json:"brdRev"`
}

// Reading is the most recent decoded READ? response.
type Reading struct {
	Value     float64 `json:"value"`
	Timestamp int32   `json:"timestamp"`
	Status    Status  `json:"status"`
}

// Stats are the session's I/O counters. They only ever increase.
type Stats struct {
	IOErrors   uint64 `json:"ioErrors"`
	WriteReads uint64 `json:"writeReads"`
	WriteOnlys uint64 `json:"writeOnlys"`
}

// Exchange describes one completed transport operation, for tracing.
type Exchange struct {
	Port      string
	Server    string
	WriteRead bool
	Out       string
	In        string
	EOM       transport.EOMReason
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// Observer is called after every transport operation, with the session
// lock held. It must not call back into the session.
type Observer func(Exchange)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's log entry.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Session) { s.log = l }
}

// WithObserver registers fn to see every exchange.
func WithObserver(fn Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// Session is the shared state of one instrument connection. All exported
// methods are safe for concurrent use; they are serialized by one lock,
// so at most one exchange is ever in flight on the transport.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	tr        transport.Transport
	log       *logrus.Entry
	observers []Observer

	initialized bool
	identity    Identity
	reading     Reading
	stats       Stats
}

// NewSession creates an uninitialized session. Every read and write fails
// with ErrNotReady until Init succeeds.
func NewSession(cfg Config, tr transport.Transport, opts ...Option) (*Session, error) {
	if cfg.Variant != Variant6485 && cfg.Variant != Variant6487 {
		return nil, errors.Errorf("k648x: port %s: type has to be either '6485' or '6487'", cfg.Name)
	}
	if tr == nil {
		return nil, errors.Errorf("k648x: port %s: no transport", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Variant.DefaultTimeout()
	}
	s := &Session{
		cfg: cfg,
		tr:  tr,
		log: logrus.WithField("component", "k648x"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("port", cfg.Name)
	return s, nil
}

// Open creates a session and initializes it.
func Open(cfg Config, tr transport.Transport, opts ...Option) (*Session, error) {
	s, err := NewSession(cfg, tr, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init clears the instrument status, reads its identification and marks
// the session ready. It may be repeated; a failed Init leaves the session
// uninitialized even if an earlier one succeeded.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false

	if s.cfg.BusWake {
		if err := s.writeOnly(""); err != nil {
			return errors.Wrapf(err, "port %s failed to write", s.cfg.Name)
		}
	}

	if err := s.writeOnly("*CLS"); err != nil {
		return errors.Wrapf(err, "port %s failed to clear", s.cfg.Name)
	}

	resp, _, err := s.writeRead("*IDN?")
	if err != nil {
		return errors.Wrapf(err, "port %s failed to acquire identification", s.cfg.Name)
	}
	id, err := parseIdentity(resp)
	if err != nil {
		return errors.Wrapf(err, "port %s", s.cfg.Name)
	}

	s.identity = id
	s.reading = Reading{}
	s.initialized = true
	s.log.WithFields(logrus.Fields{
		"model":  id.Model,
		"serial": id.Serial,
	}).Info("instrument initialized")
	return nil
}

// Close releases the transport. The session is unusable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return s.tr.Close()
}

// parseIdentity splits "<model>,<serial>,<digRev>/<dispRev>/<brdRev>".
// Fields are taken from the right: the model is everything before the
// second-to-last comma, so the manufacturer prefix of a real reply
// ("KEITHLEY INSTRUMENTS INC.,MODEL 6485,...") stays part of it and the
// bare three-field form parses too. A reply with extra commas keeps them
// in the model, where a left-to-right split at the second comma would
// move them into the serial.
func parseIdentity(resp string) (Identity, error) {
	last := strings.LastIndexByte(resp, ',')
	if last < 0 {
		return Identity{}, protocolErrorf("identification %q has no firmware field", resp)
	}
	head, firmware := resp[:last], resp[last+1:]

	prev := strings.LastIndexByte(head, ',')
	if prev < 0 {
		return Identity{}, protocolErrorf("identification %q has no serial field", resp)
	}

	revs := strings.SplitN(firmware, "/", 3)
	if len(revs) != 3 {
		return Identity{}, protocolErrorf("identification %q has malformed revisions", resp)
	}

	return Identity{
		Model:   head[:prev],
		Serial:  head[prev+1:],
		DigRev:  revs[0],
		DispRev: revs[1],
		BrdRev:  revs[2],
	}, nil
}

// Resolve binds tag to a Handle. Lookup is case-insensitive. The binding
// depends only on the static registry and the session's variant, so it
// may happen before Init.
func (s *Session) Resolve(tag string) (Handle, error) {
	e, ok := lookup(tag)
	if !ok {
		s.log.Errorf("failed to find tag %s", tag)
		return Handle{}, errors.Wrapf(ErrNotFound, "tag %q", tag)
	}
	if !e.variant.permits(s.cfg.Variant) {
		s.log.Errorf("tag %s is for a %s, not a %s", tag, e.variant, s.cfg.Variant)
		return Handle{}, errors.Wrapf(ErrWrongVariant, "tag %q", tag)
	}
	return Handle{tag: e.tag, class: e.class, op: e.op, variant: e.variant, bound: true}, nil
}

func (s *Session) Name() string     { return s.cfg.Name }
func (s *Session) Variant() Variant { return s.cfg.Variant }
func (s *Session) Server() string   { return s.tr.Server() }
func (s *Session) Address() string  { return s.tr.Address() }
func (s *Session) Tags() []string   { return Tags(s.cfg.Variant) }

// Initialized reports whether Init has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Identity returns the parsed identification fields.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// LastReading returns the most recent READ? result.
func (s *Session) LastReading() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

// Stats returns a snapshot of the I/O counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// writeOnly sends cmd. Callers hold s.mu.
func (s *Session) writeOnly(cmd string) error {
	started := time.Now()
	n, err := s.tr.Write([]byte(cmd), s.cfg.Timeout)
	if err == nil && n != len(cmd) {
		err = errors.Errorf("wrote %d of %d bytes", n, len(cmd))
	}

	if err != nil {
		s.stats.IOErrors++
		err = errors.Wrapf(ErrTransport, "writeOnly %q: %v", cmd, err)
		s.log.WithError(err).Error("writeOnly failed")
	} else {
		s.stats.WriteOnlys++
	}
	s.log.Debugf("writeOnly: wrote %q", cmd)

	s.notify(Exchange{
		Out:      cmd,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	})
	return err
}

// writeRead sends cmd and returns the response line with the transport's
// end-of-message reason. Callers hold s.mu.
func (s *Session) writeRead(cmd string) (string, transport.EOMReason, error) {
	started := time.Now()
	resp, err := s.tr.WriteRead([]byte(cmd), bufferSize-1, s.cfg.Timeout)
	if err == nil && resp.Written != len(cmd) {
		err = errors.Errorf("wrote %d of %d bytes", resp.Written, len(cmd))
	}

	in := ""
	if err != nil {
		s.stats.IOErrors++
		err = errors.Wrapf(ErrTransport, "writeRead %q: %v", cmd, err)
		s.log.WithError(err).Error("writeRead failed")
	} else {
		in = string(resp.Data)
		s.stats.WriteReads++
	}
	s.log.Debugf("writeRead: wrote %q read %q", cmd, in)

	s.notify(Exchange{
		WriteRead: true,
		Out:       cmd,
		In:        in,
		EOM:       resp.EOM,
		Err:       err,
		Started:   started,
		Duration:  time.Since(started),
	})
	return in, resp.EOM, err
}

func (s *Session) notify(ex Exchange) {
	if len(s.observers) == 0 {
		return
	}
	ex.Port = s.cfg.Name
	ex.Server = s.tr.Server()
	for _, fn := range s.observers {
		fn(ex)
	}
}
