package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		BaseURL:    defaultBaseURL,
		OutputDir:  defaultOutputDir,
		Headless:   true,
		Timeout:    10 * time.Second,
		S3Region:   defaultS3Region,
		NotifyFrom: defaultNotifyFrom,
	}
}

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"EXAMBUILDER_BASE_URL", "VERIFY_OUTPUT_DIR", "VERIFY_LOG_LEVEL", "VERIFY_HEADLESS",
		"VERIFY_VIEWPORT", "VERIFY_DEVICE", "VERIFY_TIMEOUT", "VERIFY_SLOW_MO", "VERIFY_STEP_RATE",
		"VERIFY_S3_ENDPOINT", "VERIFY_S3_REGION", "VERIFY_S3_BUCKET", "VERIFY_S3_PREFIX",
		"VERIFY_S3_PUBLIC_URL", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"VERIFY_NOTIFY_TO", "VERIFY_NOTIFY_FROM", "RESEND_API_KEY", "VERIFY_NO_EMAIL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, "verification", cfg.OutputDir)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.SlowMo)
	assert.Zero(t, cfg.StepRate)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.NotifyEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXAMBUILDER_BASE_URL", " https://staging.exambuilder.app ")
	t.Setenv("VERIFY_HEADLESS", "false")
	t.Setenv("VERIFY_VIEWPORT", "375x667")
	t.Setenv("VERIFY_TIMEOUT", "15s")
	t.Setenv("VERIFY_SLOW_MO", "250")
	t.Setenv("VERIFY_STEP_RATE", "2.5")
	t.Setenv("VERIFY_S3_ENDPOINT", "https://fly.storage.tigris.dev/")
	t.Setenv("VERIFY_S3_BUCKET", "verify-artifacts")
	t.Setenv("VERIFY_NOTIFY_TO", "qa@example.com, ,lead@example.com")
	t.Setenv("VERIFY_NO_EMAIL", "true")

	cfg := Load()
	assert.Equal(t, "https://staging.exambuilder.app", cfg.BaseURL)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 375, cfg.ViewportSize().Width)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowMo)
	assert.Equal(t, 2.5, cfg.StepRate)
	assert.Equal(t, "https://fly.storage.tigris.dev/verify-artifacts", cfg.S3PublicURL)
	assert.Equal(t, []string{"qa@example.com", "lead@example.com"}, cfg.NotifyTo)
	require.NoError(t, cfg.Validate())
}

func TestValidate_MinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.BaseURL = "localhost:3000"
	cfg.OutputDir = " "
	cfg.Viewport = "wide"
	cfg.Device = "iPhone 12"
	cfg.Timeout = 0
	cfg.S3Endpoint = "https://s3.example"
	cfg.NotifyTo = []string{"not-an-address"}

	err := cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	msg := err.Error()
	for _, expected := range []string{
		"EXAMBUILDER_BASE_URL",
		"VERIFY_OUTPUT_DIR",
		"VERIFY_VIEWPORT:",
		"mutually exclusive",
		"VERIFY_TIMEOUT",
		"VERIFY_S3_BUCKET",
		"invalid address",
		"RESEND_API_KEY",
	} {
		assert.Contains(t, msg, expected)
	}
	assert.Len(t, verr.Errors, 8)
}

func TestValidate_PartialCredentials(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.S3Bucket = "artifacts"
	cfg.AWSAccessKeyID = "AKIA"
	assert.ErrorContains(t, cfg.Validate(), "must be set together")

	cfg.AWSSecretAccessKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_NotifyNeedsKeyUnlessMocked(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NotifyTo = []string{"qa@example.com"}
	assert.ErrorContains(t, cfg.Validate(), "RESEND_API_KEY")

	cfg.NoEmail = true
	assert.NoError(t, cfg.Validate())

	cfg.NoEmail = false
	cfg.ResendAPIKey = "re_123"
	assert.NoError(t, cfg.Validate())
}

func testValidate_RejectsNonPositiveTimeout(t *rapid.T) {
	cfg := validTestConfig()
	cfg.Timeout = time.Duration(rapid.Int64Range(-int64(time.Hour), 0).Draw(t, "timeout"))

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "VERIFY_TIMEOUT") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestValidate_RejectsNonPositiveTimeout(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsNonPositiveTimeout)
}

func TestSummary_OmitsSecrets(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.S3Bucket = "artifacts"
	cfg.S3Prefix = "nightly"
	cfg.AWSAccessKeyID = "AKIAEXAMPLE"
	cfg.AWSSecretAccessKey = "very-secret"
	cfg.NotifyTo = []string{"qa@example.com"}
	cfg.ResendAPIKey = "re_secret"
	cfg.StepRate = 4

	sum := cfg.Summary()
	assert.Equal(t, "artifacts", sum["s3_bucket"])
	assert.Equal(t, "nightly", sum["s3_prefix"])
	assert.Equal(t, "4", sum["step_rate"])
	assert.Equal(t, "qa@example.com", sum["notify_to"])
	for k, v := range sum {
		assert.NotContains(t, v, "secret", k)
		assert.NotContains(t, v, "AKIA", k)
	}
	assert.Equal(t, SortedKeys(sum)[0], "base_url")
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Device = "iPhone 12"
	cfg.NotifyTo = []string{"qa@example.com"}
	cfg.NoEmail = true

	var buf bytes.Buffer
	cfg.PrintStartupSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "Target:   http://localhost:3000")
	assert.Contains(t, out, `device "iPhone 12"`)
	assert.Contains(t, out, "Mirror:   disabled")
	assert.Contains(t, out, "Mock (--no-email)")
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true); !got {
		t.Fatal("parseBoolOrDefault fallback mismatch")
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   value   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
	t.Setenv("CFG_TEST_STR", "   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("blank value should fall back, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a,,b ,"))
}
