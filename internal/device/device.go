// Package device manages the lifecycle of one configured picoammeter:
// dialing its transport, opening the driver session and reconnecting.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/k648x"
	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

// ErrNotConnected is returned by Session while no session is open.
var ErrNotConnected = errors.New("device not connected")

// Config describes one instrument in the daemon configuration.
type Config struct {
	Name             string `yaml:"name" json:"name"`
	Model            string `yaml:"model" json:"model"` // "6485" or "6487"
	transport.Config `yaml:",inline"`
	TimeoutMs        int  `yaml:"timeout_ms" json:"timeoutMs"` // 0 = model default
	BusWake          bool `yaml:"bus_wake" json:"busWake"`
}

// Device owns at most one open session at a time.
type Device struct {
	mu      sync.Mutex
	cfg     Config
	variant k648x.Variant
	opts    []k648x.Option
	log     *logrus.Entry
	sess    *k648x.Session

	// Counters of sessions already closed, so exported totals never go
	// backwards across reconnects.
	retired k648x.Stats

	dial         func(transport.Config) (transport.Transport, error)
	initialDelay time.Duration
	maxDelay     time.Duration
}

// New validates cfg. opts are applied to every session the device opens.
func New(cfg Config, opts ...k648x.Option) (*Device, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("device: missing name")
	}
	v, err := k648x.ParseVariant(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
	}
	log := logrus.WithFields(logrus.Fields{"component": "device", "device": cfg.Name})
	return &Device{
		cfg:          cfg,
		variant:      v,
		opts:         append([]k648x.Option{k648x.WithLogger(logrus.WithField("component", "k648x"))}, opts...),
		log:          log,
		dial:         transport.Dial,
		initialDelay: 1 * time.Second,
		maxDelay:     60 * time.Second,
	}, nil
}

func (d *Device) Name() string           { return d.cfg.Name }
func (d *Device) Model() string          { return d.variant.String() }
func (d *Device) Variant() k648x.Variant { return d.variant }
func (d *Device) Config() Config         { return d.cfg }

// Connect dials the transport and initializes a session. It is a no-op
// while connected.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil {
		return nil
	}

	tcfg := d.cfg.Config
	tcfg.Model = d.variant.String()
	tr, err := d.dial(tcfg)
	if err != nil {
		return fmt.Errorf("device %s: %w", d.cfg.Name, err)
	}

	sess, err := k648x.Open(k648x.Config{
		Name:    d.cfg.Name,
		Variant: d.variant,
		Timeout: time.Duration(d.cfg.TimeoutMs) * time.Millisecond,
		BusWake: d.cfg.BusWake,
	}, tr, d.opts...)
	if err != nil {
		tr.Close()
		return fmt.Errorf("device %s: %w", d.cfg.Name, err)
	}

	d.sess = sess
	return nil
}

// Close shuts the session down. The device may be connected again.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == nil {
		return nil
	}
	st := d.sess.Stats()
	d.retired.IOErrors += st.IOErrors
	d.retired.WriteReads += st.WriteReads
	d.retired.WriteOnlys += st.WriteOnlys

	err := d.sess.Close()
	d.sess = nil
	return err
}

// IsConnected returns whether the device has an initialized session.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess != nil
}

// Session returns the open session.
func (d *Device) Session() (*k648x.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return nil, errors.Wrapf(ErrNotConnected, "device %s", d.cfg.Name)
	}
	return d.sess, nil
}

// Stats returns the I/O counters summed over every session this device
// has opened.
func (d *Device) Stats() k648x.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.retired
	if d.sess != nil {
		cur := d.sess.Stats()
		st.IOErrors += cur.IOErrors
		st.WriteReads += cur.WriteReads
		st.WriteOnlys += cur.WriteOnlys
	}
	return st
}

// ConnectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, logs the attempt count up
// to maxAttempts then continues at max interval indefinitely. It returns
// the context error if ctx ends first.
func (d *Device) ConnectWithRetry(ctx context.Context, maxAttempts int) error {
	delay := d.initialDelay
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.Connect()
		if err == nil {
			d.log.Infof("connected successfully (attempt %d)", attempt+1)
			return nil
		}

		attempt++
		if attempt <= maxAttempts {
			d.log.Warnf("connect attempt %d/%d failed: %v (retry in %v)",
				attempt, maxAttempts, err, delay)
		} else {
			d.log.Warnf("connect attempt %d failed: %v (retry in %v)",
				attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > d.maxDelay {
			delay = d.maxDelay
		}
	}
}
