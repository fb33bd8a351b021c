package config

import (
	"flag"
	"image"
	"image/color"
	"image/draw"
	"io"
	"mockup-check/internal/capture"
	diffimage "mockup-check/internal/diff/image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), c)
	require.NoError(t, c.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockup-check.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targetURL: http://frontend:8080/
viewportWidth: 1280
threshold: 0.2
timeout: 45s
headers:
  Authorization: Bearer token
`), 0644))

	t.Setenv("VIEWPORT_WIDTH", "1920")
	t.Setenv("DELAY", "250ms")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://frontend:8080/", c.TargetURL)
	require.Equal(t, 1920, c.ViewportWidth)
	require.Equal(t, 1600, c.ViewportHeight)
	require.Equal(t, 0.2, c.Threshold)
	require.Equal(t, 45*time.Second, c.Timeout)
	require.Equal(t, 250*time.Millisecond, c.Delay)
	require.Equal(t, map[string]string{"Authorization": "Bearer token"}, c.Headers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidEnvKeepsValue(t *testing.T) {
	t.Setenv("THRESHOLD", "not-a-number")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0.1, c.Threshold)
}

func TestBindFlags(t *testing.T) {
	c := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-threshold", "0.05",
		"-engine", "rod",
		"-H", "X-Test: 1",
		"-H", "Cookie: a=b",
	}))
	require.Equal(t, 0.05, c.Threshold)
	require.Equal(t, capture.EngineRod, c.Engine)
	require.Equal(t, map[string]string{"X-Test": "1", "Cookie": "a=b"}, c.Headers)
	require.Equal(t, 2560, c.ViewportWidth)
}

func TestBindFlags_InvalidHeader(t *testing.T) {
	c := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c.BindFlags(fs)

	require.Error(t, fs.Parse([]string{"-H", "no-colon"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"threshold below zero", func(c *Config) { c.Threshold = -0.1 }},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"zero width", func(c *Config) { c.ViewportWidth = 0 }},
		{"negative height", func(c *Config) { c.ViewportHeight = -1 }},
		{"relative url", func(c *Config) { c.TargetURL = "/index.html" }},
		{"non http url", func(c *Config) { c.TargetURL = "file:///tmp/index.html" }},
		{"empty reference", func(c *Config) { c.ReferencePath = "" }},
		{"same artifact names", func(c *Config) { c.DiffName = c.CapturedName }},
		{"unknown engine", func(c *Config) { c.Engine = "selenium" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"non s3 bucket", func(c *Config) { c.ArtifactBucket = "mockups" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"alpha above one", func(c *Config) { c.Alpha = 2 }},
		{"negative merge distance", func(c *Config) { c.MergeDistance = -1 }},
		{"empty diff colour", func(c *Config) { c.DiffColor = "" }},
		{"invalid diff colour", func(c *Config) { c.DiffColor = "red" }},
		{"invalid alternate diff colour", func(c *Config) { c.DiffColorAlt = "#12345" }},
		{"unknown retry condition", func(c *Config) { c.CallbackRetryOn = "gateway-error,sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestValidate_BoundaryThresholds(t *testing.T) {
	for _, threshold := range []float64{0, 1} {
		c := DefaultConfig()
		c.Threshold = threshold
		require.NoError(t, c.Validate())
	}
}

func TestDefaultConfig_CaptureDefaults(t *testing.T) {
	c := DefaultConfig()
	captureConfig := c.CaptureConfig()
	require.Equal(t, capture.DefaultConfig(), captureConfig)
}

func TestLoad_ComparisonAndCallbackEnv(t *testing.T) {
	t.Setenv("DIFF_COLOR_ALT", "#00ff00")
	t.Setenv("ALPHA", "0.5")
	t.Setenv("MERGE_DISTANCE", "0")
	t.Setenv("RETRY_ON", "5xx")
	t.Setenv("CALLBACK_MAX_RETRIES", "2")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "#00ff00", c.DiffColorAlt)
	require.Equal(t, 0.5, c.Alpha)
	require.Equal(t, 0, c.MergeDistance)
	require.Equal(t, "5xx", c.CallbackRetryOn)
	require.Equal(t, uint(2), c.CallbackMaxRetries)
	require.NoError(t, c.Validate())
}

func TestParseColor(t *testing.T) {
	got, err := ParseColor("#ff8000")
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 255, G: 128, A: 255}, got)

	got, err = ParseColor("00ff00")
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{G: 255, A: 255}, got)

	for _, s := range []string{"", "red", "#gg0000", "#ff00", "#1234567"} {
		_, err := ParseColor(s)
		require.Error(t, err, s)
	}
}

func TestDiffOptions(t *testing.T) {
	c := DefaultConfig()
	c.DiffColor = "#0000ff"
	c.DiffColorAlt = "#00ff00"

	opts, err := c.DiffOptions()
	require.NoError(t, err)

	reference := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	captured := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	draw.Draw(reference, reference.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(captured, captured.Bounds(), image.White, image.Point{}, draw.Src)
	reference.Set(1, 1, color.Black)
	captured.Set(3, 3, color.Black)

	result, err := diffimage.NewPixelDiff(c.Threshold, opts...).Calculate(reference, captured)
	require.NoError(t, err)
	require.Equal(t, 2, result.DiffPixels)
	// Lighter in the capture.
	require.Equal(t, color.NRGBA{B: 255, A: 255}, result.Image.NRGBAAt(1, 1))
	// Darker in the capture.
	require.Equal(t, color.NRGBA{G: 255, A: 255}, result.Image.NRGBAAt(3, 3))
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MOCKUP_CHECK_DOTENV_TEST=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("MOCKUP_CHECK_DOTENV_TEST") })

	require.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), "missing.env"), path))
	require.Equal(t, "from-file", os.Getenv("MOCKUP_CHECK_DOTENV_TEST"))
}

func TestEnvOrDefaultValue(t *testing.T) {
	t.Setenv("MOCKUP_CHECK_INT", "42")
	t.Setenv("MOCKUP_CHECK_BOOL", "true")
	t.Setenv("MOCKUP_CHECK_DURATION", "3s")

	require.Equal(t, 42, EnvOrDefaultValue("MOCKUP_CHECK_INT", 1))
	require.Equal(t, true, EnvOrDefaultValue("MOCKUP_CHECK_BOOL", false))
	require.Equal(t, 3*time.Second, EnvOrDefaultValue("MOCKUP_CHECK_DURATION", time.Second))
	require.Equal(t, "fallback", EnvOrDefaultValue("MOCKUP_CHECK_UNSET", "fallback"))
}

func TestFromArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockup-check.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.3\nviewportWidth: 1280\nengine: rod\n"), 0644))
	t.Setenv("VIEWPORT_WIDTH", "1440")

	c, err := FromArgs("mockup-check", []string{"-config", path, "-threshold", "0.05", "-H", "X-Test: 1"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, 0.05, c.Threshold)
	require.Equal(t, 1440, c.ViewportWidth)
	require.Equal(t, capture.EngineRod, c.Engine)
	require.Equal(t, map[string]string{"X-Test": "1"}, c.Headers)
}

func TestFromArgs_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockup-check.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targetURL: http://frontend:8080/\n"), 0644))
	t.Setenv("CONFIG", path)

	c, err := FromArgs("mockup-check", nil, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "http://frontend:8080/", c.TargetURL)
}

func TestFromArgs_Errors(t *testing.T) {
	_, err := FromArgs("mockup-check", []string{"-h"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)

	_, err = FromArgs("mockup-check", []string{"http://localhost:4200"}, io.Discard)
	require.Error(t, err)

	_, err = FromArgs("mockup-check", []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	require.Error(t, err)
}
