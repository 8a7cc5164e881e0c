// Package config loads the verification runner's configuration from
// environment variables. Command-line flags override individual fields after
// Load; Validate is called once both sources have been applied.
package config

import (
	"fmt"
	"io"
	"net/mail"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/exambuilder-verify/internal/harness"
)

const (
	defaultBaseURL    = "http://localhost:3000"
	defaultOutputDir  = "verification"
	defaultS3Region   = "auto"
	defaultNotifyFrom = "verify@exambuilder.app"
)

// Config holds all runner configuration.
type Config struct {
	// Target and output
	BaseURL   string
	OutputDir string
	LogLevel  string

	// Browser
	Headless bool
	Viewport string // WxH, empty for the browser default
	Device   string // Playwright device descriptor name
	Timeout  time.Duration
	SlowMo   time.Duration
	StepRate float64 // steps per second, 0 = unlimited

	// S3 artifact mirror, enabled when S3Bucket is set
	S3Endpoint         string
	S3Region           string
	S3Bucket           string
	S3Prefix           string
	S3PublicURL        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Failure notification, enabled when NotifyTo is non-empty
	NotifyTo     []string
	NotifyFrom   string
	ResendAPIKey string
	NoEmail      bool // capture and log emails instead of sending (--no-email)
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads configuration from the environment. Malformed numeric, boolean
// and duration values fall back to their defaults.
func Load() *Config {
	cfg := &Config{}

	cfg.BaseURL = getEnvOrDefault("EXAMBUILDER_BASE_URL", defaultBaseURL)
	cfg.OutputDir = getEnvOrDefault("VERIFY_OUTPUT_DIR", defaultOutputDir)
	cfg.LogLevel = getEnvOrDefault("VERIFY_LOG_LEVEL", "info")

	cfg.Headless = parseBoolOrDefault("VERIFY_HEADLESS", true)
	cfg.Viewport = getEnvOrDefault("VERIFY_VIEWPORT", "")
	cfg.Device = getEnvOrDefault("VERIFY_DEVICE", "")
	cfg.Timeout = parseDurationOrDefault("VERIFY_TIMEOUT", harness.DefaultTimeout)
	cfg.SlowMo = parseDurationOrDefault("VERIFY_SLOW_MO", 0)
	cfg.StepRate = parseFloat64OrDefault("VERIFY_STEP_RATE", 0)

	cfg.S3Endpoint = getEnvOrDefault("VERIFY_S3_ENDPOINT", "")
	cfg.S3Region = getEnvOrDefault("VERIFY_S3_REGION", defaultS3Region)
	cfg.S3Bucket = getEnvOrDefault("VERIFY_S3_BUCKET", "")
	cfg.S3Prefix = getEnvOrDefault("VERIFY_S3_PREFIX", "")
	cfg.S3PublicURL = getEnvOrDefault("VERIFY_S3_PUBLIC_URL", "")
	if cfg.S3PublicURL == "" && cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		cfg.S3PublicURL = strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
	}
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")

	cfg.NotifyTo = SplitList(os.Getenv("VERIFY_NOTIFY_TO"))
	cfg.NotifyFrom = getEnvOrDefault("VERIFY_NOTIFY_FROM", defaultNotifyFrom)
	cfg.ResendAPIKey = getEnvOrDefault("RESEND_API_KEY", "")
	cfg.NoEmail = parseBoolOrDefault("VERIFY_NO_EMAIL", false)

	return cfg
}

// Validate checks that the configuration is usable and reports every problem
// at once.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("EXAMBUILDER_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, "VERIFY_OUTPUT_DIR must not be empty")
	}

	if c.Viewport != "" {
		if _, err := harness.ParseViewport(c.Viewport); err != nil {
			errs = append(errs, fmt.Sprintf("VERIFY_VIEWPORT: %v", err))
		}
		if c.Device != "" {
			errs = append(errs, "VERIFY_VIEWPORT and VERIFY_DEVICE are mutually exclusive")
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, "VERIFY_TIMEOUT must be positive")
	}
	if c.SlowMo < 0 {
		errs = append(errs, "VERIFY_SLOW_MO must not be negative")
	}
	if c.StepRate < 0 {
		errs = append(errs, "VERIFY_STEP_RATE must not be negative")
	}

	if c.S3Bucket == "" && c.S3Endpoint != "" {
		errs = append(errs, "VERIFY_S3_BUCKET is required when VERIFY_S3_ENDPOINT is set")
	}
	if c.S3Enabled() && (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	if c.NotifyEnabled() {
		for _, addr := range c.NotifyTo {
			if _, err := mail.ParseAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("VERIFY_NOTIFY_TO: invalid address %q", addr))
			}
		}
		if !c.NoEmail && c.ResendAPIKey == "" {
			errs = append(errs, "RESEND_API_KEY is required to send notifications (set env var or use --no-email)")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ViewportSize returns the parsed viewport, zero when unset.
func (c *Config) ViewportSize() harness.Viewport {
	v, _ := harness.ParseViewport(c.Viewport)
	return v
}

// S3Enabled reports whether artifacts are mirrored to S3.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// NotifyEnabled reports whether failing runs send an email.
func (c *Config) NotifyEnabled() bool {
	return len(c.NotifyTo) > 0
}

// Summary returns the non-secret settings of a run, stored alongside its
// results.
func (c *Config) Summary() map[string]string {
	m := map[string]string{
		"base_url":   c.BaseURL,
		"output_dir": c.OutputDir,
		"headless":   strconv.FormatBool(c.Headless),
		"timeout":    c.Timeout.String(),
	}
	if c.Viewport != "" {
		m["viewport"] = c.Viewport
	}
	if c.Device != "" {
		m["device"] = c.Device
	}
	if c.SlowMo > 0 {
		m["slow_mo"] = c.SlowMo.String()
	}
	if c.StepRate > 0 {
		m["step_rate"] = strconv.FormatFloat(c.StepRate, 'g', -1, 64)
	}
	if c.S3Enabled() {
		m["s3_bucket"] = c.S3Bucket
		if c.S3Prefix != "" {
			m["s3_prefix"] = c.S3Prefix
		}
		if c.S3Endpoint != "" {
			m["s3_endpoint"] = c.S3Endpoint
		}
	}
	if c.NotifyEnabled() {
		m["notify_to"] = strings.Join(c.NotifyTo, ",")
		if c.NoEmail {
			m["notify_mode"] = "mock"
		}
	}
	return m
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "exambuilder-verify starting...")
	fmt.Fprintf(w, "  Target:   %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Output:   %s\n", c.OutputDir)

	mode := "headed"
	if c.Headless {
		mode = "headless"
	}
	switch {
	case c.Device != "":
		fmt.Fprintf(w, "  Browser:  chromium (%s, device %q)\n", mode, c.Device)
	case c.Viewport != "":
		fmt.Fprintf(w, "  Browser:  chromium (%s, viewport %s)\n", mode, c.Viewport)
	default:
		fmt.Fprintf(w, "  Browser:  chromium (%s)\n", mode)
	}
	fmt.Fprintf(w, "  Timeout:  %s\n", c.Timeout)

	if c.S3Enabled() {
		fmt.Fprintf(w, "  Mirror:   s3://%s/%s\n", c.S3Bucket, strings.Trim(c.S3Prefix, "/"))
	} else {
		fmt.Fprintln(w, "  Mirror:   disabled")
	}

	switch {
	case !c.NotifyEnabled():
		fmt.Fprintln(w, "  Notify:   disabled")
	case c.NoEmail:
		fmt.Fprintf(w, "  Notify:   Mock (--no-email), to %s\n", strings.Join(c.NotifyTo, ", "))
	default:
		fmt.Fprintf(w, "  Notify:   Resend (from %s), to %s\n", c.NotifyFrom, strings.Join(c.NotifyTo, ", "))
	}
	fmt.Fprintln(w, "")
}

// SortedKeys returns the keys of a summary map in order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationOrDefault accepts Go durations ("15s") or a bare integer number
// of milliseconds.
func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
