// Package config loads and validates the runtime configuration. Values come
// from environment variables first and may then be overridden by command
// line flags before Validate is called.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/caarlos0/env/v11"
)

// DateLayout is the format of query dates.
const DateLayout = "2006-01-02"

// Config is the full runtime configuration.
type Config struct {
	// BaseURL is the upstream site.
	BaseURL string `env:"DISNEY_BASE_URL" envDefault:"https://disneyland.disney.go.com"`

	// Date is the query date. Empty means today.
	Date string `env:"DISNEY_API_DATE"`

	// CacheEnabled turns cache reuse on or off. When off every entry is
	// treated as stale, but fetched payloads are still written.
	CacheEnabled bool `env:"CACHE_ENABLED" envDefault:"true"`

	// CacheTTL is how long an entry stays fresh.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"6h"`

	// CacheRetention is the age at which cleanup deletes an entry.
	CacheRetention time.Duration `env:"CACHE_RETENTION" envDefault:"168h"`

	// CacheDir is the cache root directory.
	CacheDir string `env:"CACHE_DIR" envDefault:"disney_responses"`

	// MaxAttempts is the retry budget per upstream call.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay is the first retry wait.
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`

	// RetryMaxDelay caps every retry wait.
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`

	// Concurrency bounds parallel detail fetches.
	Concurrency int `env:"FETCH_CONCURRENCY" envDefault:"4"`

	// RequestTimeout bounds each upstream request.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// MaxDaysAhead is how far into the future a query date may be.
	MaxDaysAhead int `env:"MAX_DAYS_AHEAD" envDefault:"7"`

	// UserAgent is sent with every upstream request.
	UserAgent string `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"`

	// LogLevel is one of trace, debug, info, warn, error, critical, off.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogDir enables a rotating log file in this directory.
	LogDir string `env:"LOG_DIR"`

	// LogFile overrides the log file name inside LogDir.
	LogFile string `env:"LOG_FILE"`

	// MaxLogFiles is the number of rotated log files kept.
	MaxLogFiles int `env:"MAX_LOG_FILES" envDefault:"10"`

	// MaxLogFileSize is the rotation threshold in megabytes.
	MaxLogFileSize int `env:"MAX_LOG_FILE_SIZE" envDefault:"20"`

	// OTelEndpoint is the OTLP/HTTP collector. Empty disables tracing.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{Environment: vars})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// QueryDate returns the configured date, or today's date at now when none
// is set.
func (c Config) QueryDate(now time.Time) string {
	if c.Date != "" {
		return c.Date
	}

	return now.Format(DateLayout)
}

// Validate checks every field and reports all violations at once. The
// date is only checked for format: a past date is still valid for status
// and cleanup, and the fetch window is enforced where a fetch happens.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := validateBaseURL(c.BaseURL); err != nil {
		add("%v", err)
	}
	if c.CacheTTL < 0 {
		add("CACHE_TTL must not be negative, got %v", c.CacheTTL)
	}
	if c.CacheRetention < 0 {
		add("CACHE_RETENTION must not be negative, got %v",
			c.CacheRetention)
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		add("CACHE_DIR must not be empty")
	}
	if c.MaxAttempts < 1 {
		add("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay < 0 {
		add("RETRY_BASE_DELAY must not be negative, got %v",
			c.RetryBaseDelay)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		add("RETRY_MAX_DELAY %v is below RETRY_BASE_DELAY %v",
			c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.Concurrency < 1 {
		add("FETCH_CONCURRENCY must be at least 1, got %d",
			c.Concurrency)
	}
	if c.RequestTimeout < time.Second {
		add("REQUEST_TIMEOUT must be at least 1s, got %v",
			c.RequestTimeout)
	}
	if c.MaxDaysAhead < 0 {
		add("MAX_DAYS_AHEAD must not be negative, got %d",
			c.MaxDaysAhead)
	}
	if _, ok := btclog.LevelFromString(c.LogLevel); !ok {
		add("LOG_LEVEL %q is not a known level", c.LogLevel)
	}
	if c.MaxLogFiles < 0 {
		add("MAX_LOG_FILES must not be negative, got %d", c.MaxLogFiles)
	}
	if c.MaxLogFileSize < 1 {
		add("MAX_LOG_FILE_SIZE must be at least 1, got %d",
			c.MaxLogFileSize)
	}
	if c.Date != "" {
		var dateErr *Error
		if errors.As(ValidateDateFormat(c.Date), &dateErr) {
			problems = append(problems, dateErr.Problems...)
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}

	return nil
}

// ValidateDateFormat checks that date is a well-formed YYYY-MM-DD date.
func ValidateDateFormat(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return &Error{Problems: []string{
			fmt.Sprintf("date %q is not in YYYY-MM-DD format", date),
		}}
	}

	return nil
}

// ValidateDate checks that date is a well-formed YYYY-MM-DD date between
// today and today plus maxDaysAhead, both inclusive, in now's time zone.
func ValidateDate(date string, now time.Time, maxDaysAhead int) error {
	day, err := time.ParseInLocation(DateLayout, date, now.Location())
	if err != nil {
		return &Error{Problems: []string{
			fmt.Sprintf("date %q is not in YYYY-MM-DD format", date),
		}}
	}

	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	last := today.AddDate(0, 0, maxDaysAhead)

	switch {
	case day.Before(today):
		return &Error{Problems: []string{
			fmt.Sprintf("date %s is in the past", date),
		}}

	case day.After(last):
		return &Error{Problems: []string{
			fmt.Sprintf("date %s is more than %d days ahead", date,
				maxDaysAhead),
		}}
	}

	return nil
}

// validateBaseURL requires an absolute http or https URL.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("DISNEY_BASE_URL %q is not a URL: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DISNEY_BASE_URL %q must be an absolute "+
			"http(s) URL", raw)
	}

	return nil
}

// Error is returned for invalid configuration or an out of range query
// date. It lists every problem found.
type Error struct {
	Problems []string
}

// Error returns the error message.
func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}
