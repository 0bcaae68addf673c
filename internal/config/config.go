// Package config provides application configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file to load when no path is given.
const EnvConfigFile = "WARDLINE_CONFIG"

// Config holds all application configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Relay  RelayConfig  `yaml:"relay"`
}

// ClientConfig configures the console side: the request pipeline, the
// connectivity monitor and the chat channel.
type ClientConfig struct {
	APIBaseURL     string        `yaml:"api_base_url"`
	SocketURL      string        `yaml:"socket_url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor"`
	RetryExcludedPath  string        `yaml:"retry_excluded_path"`
	NotificationWindow time.Duration `yaml:"notification_window"`

	Debounce          time.Duration `yaml:"debounce"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	HealthPath        string        `yaml:"health_path"`
	WatchInterval     time.Duration `yaml:"watch_interval"`
	GRPCHealthAddr    string        `yaml:"grpc_health_addr"`
	GRPCHealthService string        `yaml:"grpc_health_service"`

	// AppendInbound adds received socket messages to the visible list
	// instead of re-posting them.
	AppendInbound bool `yaml:"append_inbound"`

	Identity IdentityConfig `yaml:"identity"`
}

// IdentityConfig is stamped on outbound chat messages.
type IdentityConfig struct {
	SenderID           string `yaml:"sender_id"`
	SenderDepartmentID string `yaml:"sender_department_id"`
	AdminID            string `yaml:"admin_id"`
	InstitutionID      string `yaml:"institution_id"`
}

// RelayConfig configures the development relay server.
type RelayConfig struct {
	Port              string              `yaml:"port"`
	GRPCPort          string              `yaml:"grpc_port"`
	FrontendURL       string              `yaml:"frontend_url"`
	DBPath            string              `yaml:"db_path"`
	APIToken          string              `yaml:"api_token"`
	Retention         time.Duration       `yaml:"retention"`
	RetentionInterval time.Duration       `yaml:"retention_interval"`
	HistoryLimit      int                 `yaml:"history_limit"`
	Departments       []domain.Department `yaml:"departments"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIBaseURL:         "http://localhost:8080/api/v1",
			SocketURL:          "ws://localhost:8080/ws",
			RequestTimeout:     30 * time.Second,
			MaxRetries:         3,
			RetryBaseDelay:     time.Second,
			RetryBackoffFactor: 2,
			RetryExcludedPath:  "auth",
			NotificationWindow: 3 * time.Second,
			Debounce:           time.Second,
			ProbeTimeout:       5 * time.Second,
			HealthPath:         "/health-check",
			WatchInterval:      2 * time.Second,
		},
		Relay: RelayConfig{
			Port:              "8080",
			DBPath:            "./data/wardline.db",
			Retention:         30 * 24 * time.Hour,
			RetentionInterval: 5 * time.Minute,
			HistoryLimit:      500,
			Departments: []domain.Department{
				{ID: "icu", Name: "Intensive Care"},
				{ID: "er", Name: "Emergency"},
				{ID: "pharmacy", Name: "Pharmacy"},
			},
		},
	}
}

// Load builds the configuration. path names an optional YAML file; when
// empty, the WARDLINE_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	cl := &c.Client
	cl.APIBaseURL = getEnv("API_BASE_URL", cl.APIBaseURL)
	cl.SocketURL = getEnv("CHAT_SOCKET_URL", cl.SocketURL)
	cl.Token = getEnv("API_TOKEN", cl.Token)
	cl.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cl.RequestTimeout)
	cl.MaxRetries = getEnvInt("RETRY_MAX", cl.MaxRetries)
	cl.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", cl.RetryBaseDelay)
	cl.RetryBackoffFactor = getEnvFloat("RETRY_BACKOFF_FACTOR", cl.RetryBackoffFactor)
	cl.RetryExcludedPath = getEnv("RETRY_EXCLUDED_PATH", cl.RetryExcludedPath)
	cl.NotificationWindow = getEnvDuration("RETRY_NOTIFICATION_WINDOW", cl.NotificationWindow)
	cl.Debounce = getEnvDuration("CONNECTIVITY_DEBOUNCE", cl.Debounce)
	cl.ProbeTimeout = getEnvDuration("CONNECTIVITY_PROBE_TIMEOUT", cl.ProbeTimeout)
	cl.HealthPath = getEnv("HEALTH_PATH", cl.HealthPath)
	cl.WatchInterval = getEnvDuration("CONNECTIVITY_WATCH_INTERVAL", cl.WatchInterval)
	cl.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", cl.GRPCHealthAddr)
	cl.GRPCHealthService = getEnv("GRPC_HEALTH_SERVICE", cl.GRPCHealthService)
	cl.AppendInbound = getEnvBool("CHAT_APPEND_INBOUND", cl.AppendInbound)
	cl.Identity.SenderID = getEnv("USER_ID", cl.Identity.SenderID)
	cl.Identity.SenderDepartmentID = getEnv("USER_DEPARTMENT_ID", cl.Identity.SenderDepartmentID)
	cl.Identity.AdminID = getEnv("ADMIN_ID", cl.Identity.AdminID)
	cl.Identity.InstitutionID = getEnv("INSTITUTION_ID", cl.Identity.InstitutionID)

	r := &c.Relay
	r.Port = getEnv("PORT", r.Port)
	r.GRPCPort = getEnv("GRPC_PORT", r.GRPCPort)
	r.FrontendURL = getEnv("FRONTEND_URL", r.FrontendURL)
	r.DBPath = getEnv("DB_PATH", r.DBPath)
	r.APIToken = getEnv("RELAY_API_TOKEN", r.APIToken)
	r.Retention = getEnvDuration("MESSAGE_RETENTION", r.Retention)
	r.RetentionInterval = getEnvDuration("RETENTION_INTERVAL", r.RetentionInterval)
	r.HistoryLimit = getEnvInt("HISTORY_LIMIT", r.HistoryLimit)
	if v, ok := os.LookupEnv("RELAY_DEPARTMENTS"); ok {
		if depts := parseDepartments(v); len(depts) > 0 {
			r.Departments = depts
		}
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	cl := c.Client
	if cl.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL cannot be empty"))
	} else if u, err := url.Parse(cl.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL %q is not an absolute URL", cl.APIBaseURL))
	}
	if cl.SocketURL == "" {
		errs = append(errs, errors.New("CHAT_SOCKET_URL cannot be empty"))
	}
	if cl.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be > 0"))
	}
	if cl.MaxRetries < 0 {
		errs = append(errs, errors.New("RETRY_MAX must be >= 0"))
	}
	if cl.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must be >= 0"))
	}
	if cl.RetryBackoffFactor < 1 {
		errs = append(errs, errors.New("RETRY_BACKOFF_FACTOR must be >= 1"))
	}
	if cl.NotificationWindow <= 0 {
		errs = append(errs, errors.New("RETRY_NOTIFICATION_WINDOW must be > 0"))
	}
	if cl.Debounce <= 0 {
		errs = append(errs, errors.New("CONNECTIVITY_DEBOUNCE must be > 0"))
	}
	if !strings.HasPrefix(cl.HealthPath, "/") {
		errs = append(errs, errors.New("HEALTH_PATH must start with /"))
	}

	r := c.Relay
	if r.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if r.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if r.Retention <= 0 {
		errs = append(errs, errors.New("MESSAGE_RETENTION must be > 0"))
	}
	if r.RetentionInterval <= 0 {
		errs = append(errs, errors.New("RETENTION_INTERVAL must be > 0"))
	}
	if r.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if the relay serves a local frontend.
func (c *Config) IsDevelopment() bool {
	u := c.Relay.FrontendURL
	return u == "" ||
		strings.Contains(u, "localhost") ||
		strings.Contains(u, "127.0.0.1")
}

// parseDepartments reads "id:Name,id:Name". A bare id is its own name.
func parseDepartments(v string) []domain.Department {
	var out []domain.Department
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok {
			name = id
		}
		if id == "" {
			continue
		}
		out = append(out, domain.Department{ID: domain.ID(id), Name: strings.TrimSpace(name)})
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
