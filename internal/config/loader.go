package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves one environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct populates tagged fields, recursing into nested structs. Every
// bad variable is reported, not just the first.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	var errs []error
	t := v.Type()

	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fv, lookup); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		value, ok := firstSet(lookup, name, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}
		if err := setField(fv, value); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, value, err))
		}
	}
	return errors.Join(errs...)
}

// firstSet returns the first non-empty variable among names.
func firstSet(lookup LookupFunc, names ...string) (string, bool) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v, ok := lookup(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var p problems

	// The database is only needed when the import backend runs in-process.
	if !c.Backend.Remote() {
		p.check(c.Database.URL != "", "DATABASE_URL is required unless BACKEND_URL is set")
		p.check(c.Database.MaxConns > 0, "DB_MAX_CONNS must be positive")
		p.check(c.Database.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
		p.check(c.Database.MaxConns >= c.Database.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}

	s := c.Server
	p.check(s.Port > 0 && s.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", s.Port)
	p.check(s.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(s.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	im := c.Import
	p.check(im.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.check(im.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(im.MaxSessions > 0, "IMPORT_MAX_SESSIONS must be positive")
	p.check(im.SessionTTL > 0, "IMPORT_SESSION_TTL must be positive")
	p.check(im.JanitorInterval > 0, "IMPORT_JANITOR_INTERVAL must be positive")
	p.check(im.ValidateTimeout > 0, "IMPORT_VALIDATE_TIMEOUT must be positive")
	p.check(im.ExecuteTimeout > 0, "IMPORT_EXECUTE_TIMEOUT must be positive")
	p.check(im.MinAge >= 0 && im.MaxAge > im.MinAge,
		"IMPORT_MIN_AGE (%d) and IMPORT_MAX_AGE (%d) must form a non-empty range", im.MinAge, im.MaxAge)

	if c.Cache.Enabled {
		p.check(c.Cache.Size > 0, "CACHE_SIZE must be positive when the cache is enabled")
		p.check(c.Cache.TTL > 0, "CACHE_TTL must be positive when the cache is enabled")
	}
	if c.Rate.Enabled {
		p.check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.check(c.Rate.UploadLimit > 0, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}
	if c.Redis.URL != "" {
		p.check(c.Redis.LockTTL >= im.ExecuteTimeout, "REDIS_LOCK_TTL (%s) must be >= IMPORT_EXECUTE_TIMEOUT (%s)",
			c.Redis.LockTTL, im.ExecuteTimeout)
	}
	if c.Backend.Remote() {
		u := c.Backend.URL
		p.check(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://"),
			"BACKEND_URL (%q) must be an http or https URL", u)
	}
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		p.check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String returns the configuration with secrets masked, for logging.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ", c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, MaxConcurrent: %d, SessionTTL: %s, ExecuteTimeout: %s}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.SessionTTL, c.Import.ExecuteTimeout)
	fmt.Fprintf(&b, "Cache: {Enabled: %v, Size: %d, TTL: %s}, ", c.Cache.Enabled, c.Cache.Size, c.Cache.TTL)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Redis: {Enabled: %v}, ", c.Redis.URL != "")
	fmt.Fprintf(&b, "Backend: {Remote: %v, Token: [MASKED]}, ", c.Backend.Remote())
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}}", c.Logging.Level, c.Logging.Format)
	return b.String()
}
