package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"mockup-check/internal/capture"
	"mockup-check/internal/check"
	"mockup-check/internal/config"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/logging"
	"mockup-check/internal/notify"
	"mockup-check/internal/report"
	"mockup-check/internal/retry"
	"mockup-check/internal/storage"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	if err := config.LoadDotenv(".env"); err != nil {
		log.Printf("Failed to load .env: %v", err)
		return report.ExitFatal
	}

	c, err := config.FromArgs("mockup-check", args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return report.ExitPass
		}
		log.Printf("Failed to load configuration: %v", err)
		return report.ExitFatal
	}
	if err := c.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return report.ExitFatal
	}

	slogger, err := logging.New(os.Stderr, c.LogFormat)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return report.ExitFatal
	}
	logger := logging.Logr(slogger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	captureConfig := c.CaptureConfig()
	if display := os.Getenv("DISPLAY"); display != "" && os.Getenv("HEADLESS") == "" {
		captureConfig.Headless = false
	}

	capturer, err := capture.New(ctx, c.Engine, captureConfig)
	if err != nil {
		logger.Error(err, "Failed to create capturer")
		return report.ExitFatal
	}

	scratch, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: c.ScratchDirectory,
	})
	if err != nil {
		logger.Error(err, "Failed to create scratch storage")
		return report.ExitFatal
	}

	reference, err := storage.ForURL(ctx, c.ReferencePath)
	if err != nil {
		logger.Error(err, "Failed to create reference storage", "referencePath", c.ReferencePath)
		return report.ExitFatal
	}

	reportOptions := []report.Option{report.WithDiffName(c.DiffName)}
	if c.ArtifactBucket != "" {
		publisher, err := storage.NewS3StorageForPrefix(ctx, c.ArtifactBucket)
		if err != nil {
			logger.Error(err, "Failed to create artifact storage", "artifactBucket", c.ArtifactBucket)
			return report.ExitFatal
		}
		reportOptions = append(reportOptions, report.WithPublisher(publisher))
	}

	diffOptions, err := c.DiffOptions()
	if err != nil {
		logger.Error(err, "Invalid comparison options")
		return report.ExitFatal
	}

	runner := check.NewRunner(
		check.Target{
			Name:          c.Name,
			URL:           c.TargetURL,
			ReferencePath: c.ReferencePath,
			CapturedName:  c.CapturedName,
		},
		capturer,
		diffimage.NewPixelDiff(c.Threshold, diffOptions...),
		reference,
		scratch,
		report.NewReporter(scratch, os.Stdout, logger, reportOptions...),
		logger,
	)

	outcome, err := runner.Run(ctx)

	if c.CallbackURL != "" {
		retryOn, err := retry.ParseOn(c.CallbackRetryOn)
		if err != nil {
			logger.Error(err, "Invalid callback retry conditions")
			return report.ExitFatal
		}
		notifier := notify.NewNotifier(c.CallbackURL, logger,
			notify.WithRetryOn(retryOn),
			notify.WithRetryStrategy(retry.NewExponentialBackOff(500*time.Millisecond, 10*time.Second, c.CallbackMaxRetries, nil)),
		)
		if err := notifier.Notify(ctx, outcome); err != nil {
			logger.Error(err, "Failed to send callback", "callbackURL", c.CallbackURL)
		}
	}

	return report.ExitCode(err)
}
