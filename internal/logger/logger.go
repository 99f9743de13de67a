package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/k648x"
)

// Logger records every instrument exchange to CSV files with automatic
// rotation. Its Record method is a k648x.Observer.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	log     *logrus.Entry

	file   *os.File
	writer *csv.Writer
	rows   int
	seq    int
}

// Config holds trace configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const defaultMaxRows = 100_000

var csvHeader = []string{
	"timestamp", "port", "server", "kind",
	"out", "in", "eom", "duration_us", "ok", "error",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/k648x"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		log:     logrus.WithField("component", "trace"),
	}
}

// SetEnabled allows toggling tracing at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether tracing is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one exchange.
func (l *Logger) Record(ex k648x.Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(ex.Started); err != nil {
			l.log.WithError(err).Error("rotate failed")
			return
		}
	}

	if err := l.writer.Write(buildRow(ex)); err != nil {
		l.log.WithError(err).Error("write failed")
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current trace file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	// Several files may be opened within one second under heavy traffic.
	l.seq++
	filename := fmt.Sprintf("k648x_%s_%03d.csv", now.Format("2006-01-02_150405"), l.seq)
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Infof("opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ex k648x.Exchange) []string {
	row := make([]string, len(csvHeader))

	row[0] = ex.Started.Format(time.RFC3339Nano)
	row[1] = ex.Port
	row[2] = ex.Server
	row[3] = "write"
	if ex.WriteRead {
		row[3] = "writeRead"
		row[6] = ex.EOM.String()
	}
	row[4] = ex.Out
	row[5] = ex.In
	row[7] = strconv.FormatInt(ex.Duration.Microseconds(), 10)
	row[8] = boolStr(ex.Err == nil)
	if ex.Err != nil {
		row[9] = ex.Err.Error()
	}
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
