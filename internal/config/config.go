package config

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"mockup-check/internal/capture"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/retry"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Name          string `yaml:"name"`
	TargetURL     string `yaml:"targetURL"`
	ReferencePath string `yaml:"referencePath"`

	ScratchDirectory string `yaml:"scratchDirectory"`
	CapturedName     string `yaml:"capturedName"`
	DiffName         string `yaml:"diffName"`

	ViewportWidth  int `yaml:"viewportWidth"`
	ViewportHeight int `yaml:"viewportHeight"`

	Threshold           float64 `yaml:"threshold"`
	IncludeAntiAliasing bool    `yaml:"includeAntiAliasing"`
	DiffMask            bool    `yaml:"diffMask"`
	// Alpha is the opacity of unchanged pixels in the diff image.
	Alpha             float64 `yaml:"alpha"`
	DiffColor         string  `yaml:"diffColor"`
	AntiAliasingColor string  `yaml:"antiAliasingColor"`
	// DiffColorAlt, when set, marks pixels that got darker in the capture.
	DiffColorAlt  string `yaml:"diffColorAlt"`
	MergeDistance int    `yaml:"mergeDistance"`

	Engine                    string            `yaml:"engine"`
	Timeout                   time.Duration     `yaml:"timeout"`
	Delay                     time.Duration     `yaml:"delay"`
	Headless                  bool              `yaml:"headless"`
	ChromeDevtoolsProtocolURL string            `yaml:"chromeDevtoolsProtocolURL"`
	Headers                   map[string]string `yaml:"headers"`

	// ArtifactBucket, when set, is an s3:// URL the diff image is published to on failure.
	ArtifactBucket string `yaml:"artifactBucket"`
	CallbackURL    string `yaml:"callbackURL"`
	// CallbackRetryOn uses the condition names of retry.ParseOn.
	CallbackRetryOn    string `yaml:"callbackRetryOn"`
	CallbackMaxRetries uint   `yaml:"callbackMaxRetries"`

	LogFormat string `yaml:"logFormat"`
}

func DefaultConfig() Config {
	captureConfig := capture.DefaultConfig()
	return Config{
		Name:                "homepage",
		TargetURL:           "http://localhost:4200",
		ReferencePath:       "docs/mockups/homepage.png",
		ScratchDirectory:    "screenshots",
		CapturedName:        "homepage-current.png",
		DiffName:            "homepage-diff.png",
		ViewportWidth:       captureConfig.ViewportWidth,
		ViewportHeight:      captureConfig.ViewportHeight,
		Threshold:           0.1,
		IncludeAntiAliasing: false,
		DiffMask:            false,
		Alpha:               0.1,
		DiffColor:           "#ff0000",
		AntiAliasingColor:   "#ffff00",
		MergeDistance:       10,
		Engine:              capture.EnginePlaywright,
		Timeout:             captureConfig.Timeout,
		Headless:            captureConfig.Headless,
		CallbackRetryOn:     "gateway-error,connect-failure,retriable-4xx",
		CallbackMaxRetries:  5,
		LogFormat:           "text",
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty) and finally the environment.
func Load(path string) (Config, error) {
	c := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	c.applyEnv()

	return c, nil
}

func (c *Config) applyEnv() {
	c.Name = EnvOrDefaultValue("NAME", c.Name)
	c.TargetURL = EnvOrDefaultValue("TARGET_URL", c.TargetURL)
	c.ReferencePath = EnvOrDefaultValue("REFERENCE_PATH", c.ReferencePath)
	c.ScratchDirectory = EnvOrDefaultValue("SCRATCH_DIRECTORY", c.ScratchDirectory)
	c.CapturedName = EnvOrDefaultValue("CAPTURED_NAME", c.CapturedName)
	c.DiffName = EnvOrDefaultValue("DIFF_NAME", c.DiffName)
	c.ViewportWidth = EnvOrDefaultValue("VIEWPORT_WIDTH", c.ViewportWidth)
	c.ViewportHeight = EnvOrDefaultValue("VIEWPORT_HEIGHT", c.ViewportHeight)
	c.Threshold = EnvOrDefaultValue("THRESHOLD", c.Threshold)
	c.IncludeAntiAliasing = EnvOrDefaultValue("INCLUDE_ANTI_ALIASING", c.IncludeAntiAliasing)
	c.DiffMask = EnvOrDefaultValue("DIFF_MASK", c.DiffMask)
	c.Alpha = EnvOrDefaultValue("ALPHA", c.Alpha)
	c.DiffColor = EnvOrDefaultValue("DIFF_COLOR", c.DiffColor)
	c.AntiAliasingColor = EnvOrDefaultValue("ANTI_ALIASING_COLOR", c.AntiAliasingColor)
	c.DiffColorAlt = EnvOrDefaultValue("DIFF_COLOR_ALT", c.DiffColorAlt)
	c.MergeDistance = EnvOrDefaultValue("MERGE_DISTANCE", c.MergeDistance)
	c.Engine = EnvOrDefaultValue("ENGINE", c.Engine)
	c.Timeout = EnvOrDefaultValue("TIMEOUT", c.Timeout)
	c.Delay = EnvOrDefaultValue("DELAY", c.Delay)
	c.Headless = EnvOrDefaultValue("HEADLESS", c.Headless)
	c.ChromeDevtoolsProtocolURL = EnvOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", c.ChromeDevtoolsProtocolURL)
	c.ArtifactBucket = EnvOrDefaultValue("ARTIFACT_BUCKET", c.ArtifactBucket)
	c.CallbackURL = EnvOrDefaultValue("CALLBACK_URL", c.CallbackURL)
	c.CallbackRetryOn = EnvOrDefaultValue("RETRY_ON", c.CallbackRetryOn)
	c.CallbackMaxRetries = EnvOrDefaultValue("CALLBACK_MAX_RETRIES", c.CallbackMaxRetries)
	c.LogFormat = EnvOrDefaultValue("LOG_FORMAT", c.LogFormat)
}

// FromArgs parses args twice: once to find the -config file (CONFIG in the
// environment by default), then again on top of the loaded configuration so
// that flags take precedence over it.
func FromArgs(name string, args []string, output io.Writer) (Config, error) {
	first := DefaultConfig()
	var path string
	fs := newFlagSet(name, &first, &path, output)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	c, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	fs = newFlagSet(name, &c, &path, io.Discard)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return c, nil
}

func newFlagSet(name string, c *Config, path *string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(path, "config", EnvOrDefaultValue("CONFIG", ""), "Path of a YAML configuration file")
	c.BindFlags(fs)
	return fs
}

// BindFlags registers a flag for every setting on fs, using the current values
// as defaults so that flags override whatever Load produced.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Name, "name", c.Name, "Name reported in the result")
	fs.StringVar(&c.TargetURL, "url", c.TargetURL, "URL of the page to capture")
	fs.StringVar(&c.ReferencePath, "reference", c.ReferencePath, "Path of the reference mockup image")
	fs.StringVar(&c.ScratchDirectory, "scratch-directory", c.ScratchDirectory, "Directory the captured and diff images are written to")
	fs.StringVar(&c.CapturedName, "captured-name", c.CapturedName, "File name of the captured image")
	fs.StringVar(&c.DiffName, "diff-name", c.DiffName, "File name of the diff image")
	fs.IntVar(&c.ViewportWidth, "width", c.ViewportWidth, "Viewport width in pixels")
	fs.IntVar(&c.ViewportHeight, "height", c.ViewportHeight, "Viewport height in pixels")
	fs.Float64Var(&c.Threshold, "threshold", c.Threshold, "Per-pixel colour tolerance between 0 and 1")
	fs.BoolVar(&c.IncludeAntiAliasing, "include-anti-aliasing", c.IncludeAntiAliasing, "Count anti-aliased pixels as differences")
	fs.BoolVar(&c.DiffMask, "diff-mask", c.DiffMask, "Draw only differing pixels in the diff image")
	fs.Float64Var(&c.Alpha, "alpha", c.Alpha, "Opacity of unchanged pixels in the diff image")
	fs.StringVar(&c.DiffColor, "diff-color", c.DiffColor, "Colour of differing pixels in the diff image, e.g. #ff0000")
	fs.StringVar(&c.AntiAliasingColor, "anti-aliasing-color", c.AntiAliasingColor, "Colour of anti-aliased pixels in the diff image")
	fs.StringVar(&c.DiffColorAlt, "diff-color-alt", c.DiffColorAlt, "Colour of pixels that got darker in the captured image (defaults to -diff-color)")
	fs.IntVar(&c.MergeDistance, "merge-distance", c.MergeDistance, "Distance in pixels within which difference regions are merged")
	fs.StringVar(&c.Engine, "engine", c.Engine, "Browser automation engine (playwright or rod)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Timeout for navigation and screenshot")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "Wait after the network is idle before taking the screenshot")
	fs.BoolVar(&c.Headless, "headless", c.Headless, "Run the browser headless")
	fs.StringVar(&c.ChromeDevtoolsProtocolURL, "cdp-url", c.ChromeDevtoolsProtocolURL, "Connect to an existing browser at this Chrome DevTools Protocol URL")
	fs.Var((*headerFlag)(&c.Headers), "H", "Extra HTTP header sent with every request, e.g. -H 'Authorization: Bearer x' (repeatable)")
	fs.StringVar(&c.ArtifactBucket, "artifact-bucket", c.ArtifactBucket, "s3:// URL the diff image is published to on failure")
	fs.StringVar(&c.CallbackURL, "callback-url", c.CallbackURL, "URL the result JSON is POSTed to")
	fs.StringVar(&c.CallbackRetryOn, "retry-on", c.CallbackRetryOn, "Conditions on which the callback is retried, e.g. gateway-error,connect-failure,429")
	fs.UintVar(&c.CallbackMaxRetries, "callback-max-retries", c.CallbackMaxRetries, "Maximum number of callback retries")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text or json)")
}

func (c Config) Validate() error {
	var errs []error

	if c.TargetURL == "" {
		errs = append(errs, errors.New("target URL is required"))
	} else if u, err := url.Parse(c.TargetURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid target URL: %w", err))
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("target URL must be an absolute http(s) URL: %s", c.TargetURL))
	}

	if c.ReferencePath == "" {
		errs = append(errs, errors.New("reference path is required"))
	}
	if c.ScratchDirectory == "" {
		errs = append(errs, errors.New("scratch directory is required"))
	}
	if c.CapturedName == "" || c.DiffName == "" {
		errs = append(errs, errors.New("captured and diff file names are required"))
	} else if c.CapturedName == c.DiffName {
		errs = append(errs, fmt.Errorf("captured and diff file names must differ: %s", c.CapturedName))
	}

	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive: %dx%d", c.ViewportWidth, c.ViewportHeight))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be between 0 and 1: %v", c.Threshold))
	}
	if _, err := c.DiffOptions(); err != nil {
		errs = append(errs, err)
	}

	switch c.Engine {
	case capture.EnginePlaywright, capture.EngineRod:
	default:
		errs = append(errs, fmt.Errorf("unknown engine: %s", c.Engine))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive: %s", c.Timeout))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative: %s", c.Delay))
	}

	if c.ArtifactBucket != "" && !strings.HasPrefix(c.ArtifactBucket, "s3://") {
		errs = append(errs, fmt.Errorf("artifact bucket must be an s3:// URL: %s", c.ArtifactBucket))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format: %s", c.LogFormat))
	}
	if c.CallbackURL != "" {
		if u, err := url.Parse(c.CallbackURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid callback URL: %s", c.CallbackURL))
		}
	}
	if _, err := retry.ParseOn(c.CallbackRetryOn); err != nil {
		errs = append(errs, fmt.Errorf("invalid callback retry conditions: %w", err))
	}

	return errors.Join(errs...)
}

// DiffOptions returns the comparator options beyond the threshold.
func (c Config) DiffOptions() ([]diffimage.Option, error) {
	var errs []error

	if c.Alpha < 0 || c.Alpha > 1 {
		errs = append(errs, fmt.Errorf("alpha must be between 0 and 1: %v", c.Alpha))
	}
	if c.MergeDistance < 0 {
		errs = append(errs, fmt.Errorf("merge distance must not be negative: %d", c.MergeDistance))
	}

	opts := []diffimage.Option{
		diffimage.WithIncludeAntiAliasing(c.IncludeAntiAliasing),
		diffimage.WithDiffMask(c.DiffMask),
		diffimage.WithAlpha(c.Alpha),
		diffimage.WithMergeDistance(c.MergeDistance),
	}

	colors := []struct {
		name     string
		value    string
		optional bool
		opt      func(color.NRGBA) diffimage.Option
	}{
		{"diff colour", c.DiffColor, false, diffimage.WithDiffColor},
		{"anti-aliasing colour", c.AntiAliasingColor, false, diffimage.WithAntiAliasingColor},
		{"alternate diff colour", c.DiffColorAlt, true, diffimage.WithDiffColorAlt},
	}
	for _, col := range colors {
		if col.value == "" {
			if !col.optional {
				errs = append(errs, fmt.Errorf("%s is required", col.name))
			}
			continue
		}
		nrgba, err := ParseColor(col.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", col.name, err))
			continue
		}
		opts = append(opts, col.opt(nrgba))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return opts, nil
}

// CaptureConfig returns the browser settings of c.
func (c Config) CaptureConfig() capture.Config {
	return capture.Config{
		ViewportWidth:             c.ViewportWidth,
		ViewportHeight:            c.ViewportHeight,
		Timeout:                   c.Timeout,
		Delay:                     c.Delay,
		Headless:                  c.Headless,
		ChromeDevtoolsProtocolURL: c.ChromeDevtoolsProtocolURL,
		Headers:                   c.Headers,
	}
}

// ParseColor reads an opaque colour in #rrggbb notation. The # is optional.
func ParseColor(s string) (color.NRGBA, error) {
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != len("#rrggbb") {
		return color.NRGBA{}, fmt.Errorf("%q is not a hex colour", s)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%q is not a hex colour: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

type headerFlag map[string]string

func (h *headerFlag) String() string {
	if h == nil || *h == nil {
		return ""
	}
	pairs := make([]string, 0, len(*h))
	for k, v := range *h {
		pairs = append(pairs, k+": "+v)
	}
	return strings.Join(pairs, ", ")
}

func (h *headerFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("invalid header format: %s (expected 'Key: Value')", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("invalid header format: %s (empty key)", value)
	}
	if *h == nil {
		*h = make(map[string]string)
	}
	(*h)[key] = strings.TrimSpace(val)
	return nil
}
