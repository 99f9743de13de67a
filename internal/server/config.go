package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/logger"
	"github.com/shaunagostinho/k648x-driver/internal/transport"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	// Instruments
	Devices []device.Config `yaml:"devices" json:"devices"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	// Process logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// CSV I/O trace
	Trace logger.Config `yaml:"trace" json:"trace"`

	path string // file path for save/load
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`   // logrus level name
	Format   string `yaml:"format" json:"format"` // "text" or "json"
	Output   string `yaml:"output" json:"output"` // "stdout" or "file"
	FilePath string `yaml:"file_path" json:"filePath"`
}

// DefaultConfig returns a config with sensible defaults: one simulated
// 6485 so the daemon is usable out of the box.
func DefaultConfig() *Config {
	return &Config{
		Devices: []device.Config{{
			Name:  "EP0",
			Model: "6485",
			Config: transport.Config{
				Kind:     "sim",
				PortPath: "/dev/ttyUSB0",
				BaudRate: 9600,
			},
		}},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Trace: logger.Config{
			Enabled: false,
			Path:    "/var/log/k648x",
			MaxRows: 100_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	log := logrus.WithField("component", "config")

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warnf("error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Infof("loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	logrus.WithField("component", "config").Infof("loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: K648X_LISTEN_ADDR, K648X_LOG_LEVEL, K648X_LOG_FORMAT,
// K648X_TRACE_ENABLED, K648X_TRACE_PATH, K648X_TRACE_MAX_ROWS, and for the
// first device K648X_DEVICE_MODEL, K648X_DEVICE_TRANSPORT, K648X_DEVICE_PORT,
// K648X_DEVICE_BAUD, K648X_DEVICE_ADDRESS, K648X_DEVICE_GPIB_ADDR.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("K648X_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("K648X_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("K648X_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("K648X_TRACE_ENABLED"); v != "" {
		c.Trace.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("K648X_TRACE_PATH"); v != "" {
		c.Trace.Path = v
	}
	if v := os.Getenv("K648X_TRACE_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trace.MaxRows = n
		}
	}

	if len(c.Devices) == 0 {
		return
	}
	d := &c.Devices[0]
	if v := os.Getenv("K648X_DEVICE_MODEL"); v != "" {
		d.Model = v
	}
	if v := os.Getenv("K648X_DEVICE_TRANSPORT"); v != "" {
		d.Kind = v
	}
	if v := os.Getenv("K648X_DEVICE_PORT"); v != "" {
		d.PortPath = v
	}
	if v := os.Getenv("K648X_DEVICE_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.BaudRate = n
		}
	}
	if v := os.Getenv("K648X_DEVICE_ADDRESS"); v != "" {
		d.Address = v
	}
	if v := os.Getenv("K648X_DEVICE_GPIB_ADDR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.GPIBAddr = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/k648x/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. Device changes take effect on restart.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// LoggingSettings returns the current logging section.
func (c *Config) LoggingSettings() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// TraceEnabled returns whether the CSV trace is switched on.
func (c *Config) TraceEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Trace.Enabled
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// SetupLogger configures the standard logrus logger every component
// derives its entry from.
func SetupLogger(cfg LoggingConfig) {
	log := logrus.StandardLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logOutMu.Lock()
	defer logOutMu.Unlock()
	if cfg.Output != "file" || cfg.FilePath == "" {
		log.SetOutput(os.Stdout)
		closeLogFile()
		return
	}
	if logFile != nil && logFile.Name() == cfg.FilePath {
		return
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Warnf("failed to open log file: %v, using stdout", err)
		return
	}
	log.SetOutput(file)
	closeLogFile()
	logFile = file
}

// The log file opened by SetupLogger, replaced when the path changes.
var (
	logOutMu sync.Mutex
	logFile  *os.File
)

func closeLogFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
