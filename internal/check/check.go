package check

import (
	"context"
	"mockup-check/internal/capture"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/raster"
	"mockup-check/internal/report"
	"mockup-check/internal/storage"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

type Target struct {
	Name          string
	URL           string
	ReferencePath string
	CapturedName  string
}

// Runner performs one capture, compare and report cycle for a Target.
type Runner struct {
	target    Target
	capturer  capture.Capturer
	differ    diffimage.Differ
	reference storage.Storage
	scratch   storage.Storage
	reporter  *report.Reporter
	logger    logr.Logger
}

func NewRunner(
	target Target,
	capturer capture.Capturer,
	differ diffimage.Differ,
	reference storage.Storage,
	scratch storage.Storage,
	reporter *report.Reporter,
	logger logr.Logger,
) *Runner {
	return &Runner{
		target:    target,
		capturer:  capturer,
		differ:    differ,
		reference: reference,
		scratch:   scratch,
		reporter:  reporter,
		logger:    logger.WithValues("name", target.Name),
	}
}

// Run returns nil only when the captured page matches the reference. Use
// report.ExitCode to classify any other result.
func (r *Runner) Run(ctx context.Context) (report.Outcome, error) {
	outcome := report.Outcome{
		Name:          r.target.Name,
		ReferencePath: r.target.ReferencePath,
	}

	r.logger.V(1).Info("Capturing page", "url", r.target.URL)
	captureResult, err := r.capturer.Capture(ctx, r.target.URL)
	if err != nil {
		return r.reporter.Fail(outcome, xerrors.Errorf("failed to capture %s: %w", r.target.URL, err))
	}

	capturedPath, err := r.scratch.Put(ctx, r.target.CapturedName, captureResult.Screenshot)
	if err != nil {
		return r.reporter.Fail(outcome, xerrors.Errorf("failed to write captured image: %w", err))
	}
	outcome.CapturedPath = capturedPath
	r.logger.V(1).Info("Captured page", "capturedPath", capturedPath)

	referenceData, err := r.reference.Get(ctx, r.target.ReferencePath)
	if err != nil {
		return r.reporter.Fail(outcome, xerrors.Errorf("failed to load reference image: %w", err))
	}

	result, err := Compare(referenceData, captureResult.Screenshot, r.differ)
	if err != nil {
		return r.reporter.Fail(outcome, err)
	}

	return r.reporter.Report(ctx, outcome, result)
}

// Compare decodes both encoded images and compares them with differ.
func Compare(reference []byte, captured []byte, differ diffimage.Differ) (*diffimage.DiffResult, error) {
	referenceImage, _, err := raster.Decode(reference)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode reference image: %w", err)
	}

	capturedImage, _, err := raster.Decode(captured)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode captured image: %w", err)
	}

	result, err := differ.Calculate(referenceImage, capturedImage)
	if err != nil {
		return nil, xerrors.Errorf("failed to compare images: %w", err)
	}

	return result, nil
}
