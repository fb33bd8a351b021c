package main

import (
	"context"
	"flag"
	"log"
	"mockup-check/internal/check"
	"mockup-check/internal/config"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/logging"
	"mockup-check/internal/report"
	"mockup-check/internal/storage"
	"os"
)

func main() {
	c, err := config.Load(config.EnvOrDefaultValue("CONFIG", ""))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var directory string
	flag.StringVar(&directory, "directory", config.EnvOrDefaultValue("DIRECTORY", c.ScratchDirectory), "Output directory of the diff image")
	flag.StringVar(&c.DiffName, "diff-name", c.DiffName, "File name of the diff image")
	flag.Float64Var(&c.Threshold, "threshold", c.Threshold, "Per-pixel colour tolerance between 0 and 1")
	flag.BoolVar(&c.IncludeAntiAliasing, "include-anti-aliasing", c.IncludeAntiAliasing, "Count anti-aliased pixels as differences")
	flag.BoolVar(&c.DiffMask, "diff-mask", c.DiffMask, "Draw only differing pixels in the diff image")
	flag.Float64Var(&c.Alpha, "alpha", c.Alpha, "Opacity of unchanged pixels in the diff image")
	flag.StringVar(&c.DiffColor, "diff-color", c.DiffColor, "Colour of differing pixels in the diff image")
	flag.StringVar(&c.DiffColorAlt, "diff-color-alt", c.DiffColorAlt, "Colour of pixels that got darker in the captured image")
	flag.StringVar(&c.AntiAliasingColor, "anti-aliasing-color", c.AntiAliasingColor, "Colour of anti-aliased pixels in the diff image")
	flag.IntVar(&c.MergeDistance, "merge-distance", c.MergeDistance, "Distance in pixels within which difference regions are merged")
	flag.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text or json)")

	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("reference, captured not specified")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		log.Fatalf("threshold must be between 0 and 1: %v", c.Threshold)
	}
	diffOptions, err := c.DiffOptions()
	if err != nil {
		log.Fatalf("Invalid comparison options: %v", err)
	}

	slogger, err := logging.New(os.Stderr, c.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger := logging.Logr(slogger)

	ctx := context.Background()
	referencePath := args[0]
	capturedPath := args[1]

	s, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}
	reporter := report.NewReporter(s, os.Stdout, logger, report.WithDiffName(c.DiffName))

	// CapturedPath stays empty so that a match never deletes an input file.
	outcome := report.Outcome{
		Name:          capturedPath,
		ReferencePath: referencePath,
	}

	os.Exit(report.ExitCode(compare(ctx, reporter, outcome, referencePath, capturedPath, diffimage.NewPixelDiff(c.Threshold, diffOptions...))))
}

func compare(ctx context.Context, reporter *report.Reporter, outcome report.Outcome, referencePath string, capturedPath string, differ diffimage.Differ) error {
	reference, err := load(ctx, referencePath)
	if err != nil {
		_, err = reporter.Fail(outcome, err)
		return err
	}
	captured, err := load(ctx, capturedPath)
	if err != nil {
		_, err = reporter.Fail(outcome, err)
		return err
	}

	result, err := check.Compare(reference, captured, differ)
	if err != nil {
		_, err = reporter.Fail(outcome, err)
		return err
	}

	_, err = reporter.Report(ctx, outcome, result)
	return err
}

func load(ctx context.Context, path string) ([]byte, error) {
	s, err := storage.ForURL(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, path)
}
