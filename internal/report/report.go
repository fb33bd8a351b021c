package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/raster"
	"mockup-check/internal/storage"
	"path"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// ErrContentMismatch is returned by Report when at least one pixel differs.
var ErrContentMismatch = errors.New("captured page does not match the reference")

const (
	ExitPass              = 0
	ExitContentMismatch   = 1
	ExitDimensionMismatch = 2
	ExitFatal             = 3
)

// ExitCode maps the error returned by a run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitPass
	case errors.Is(err, ErrContentMismatch):
		return ExitContentMismatch
	case errors.Is(err, diffimage.ErrDimensionMismatch):
		return ExitDimensionMismatch
	default:
		return ExitFatal
	}
}

type Outcome struct {
	Name                 string                `json:"name"`
	Passed               bool                  `json:"passed"`
	DiffPixels           int                   `json:"diffPixels"`
	TotalPixels          int                   `json:"totalPixels"`
	DiffAmount           float64               `json:"diffAmount"`
	ReferencePath        string                `json:"referencePath"`
	CapturedPath         string                `json:"capturedPath,omitempty"`
	DiffPath             string                `json:"diffPath,omitempty"`
	PublishedDiffURL     string                `json:"publishedDiffURL,omitempty"`
	PublishedCapturedURL string                `json:"publishedCapturedURL,omitempty"`
	Regions              []diffimage.Rectangle `json:"regions,omitempty"`
	Error                string                `json:"error,omitempty"`
}

type Reporter struct {
	scratch   storage.Storage
	publisher storage.Storage
	diffName  string
	out       io.Writer
	logger    logr.Logger
	now       func() time.Time
}

type Option func(*Reporter)

// WithPublisher also uploads the artifacts of a failed run to s.
func WithPublisher(s storage.Storage) Option {
	return func(r *Reporter) {
		r.publisher = s
	}
}

func WithDiffName(name string) Option {
	return func(r *Reporter) {
		r.diffName = name
	}
}

// NewReporter writes artifacts to scratch and the Outcome JSON to out.
func NewReporter(scratch storage.Storage, out io.Writer, logger logr.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		scratch:  scratch,
		diffName: "diff.png",
		out:      out,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report turns a comparison result into a verdict. A match removes the
// captured artifact. A mismatch writes the diff image next to it and returns
// an error wrapping ErrContentMismatch. Errors while handling the artifacts
// are reported through Fail.
func (r *Reporter) Report(ctx context.Context, outcome Outcome, result *diffimage.DiffResult) (Outcome, error) {
	outcome.DiffPixels = result.DiffPixels
	outcome.TotalPixels = result.TotalPixels
	outcome.DiffAmount = result.DiffAmount()
	outcome.Regions = result.Regions

	if result.DiffPixels == 0 {
		if outcome.CapturedPath != "" {
			if err := r.scratch.Delete(ctx, outcome.CapturedPath); err != nil {
				return r.Fail(outcome, xerrors.Errorf("failed to remove captured image: %w", err))
			}
			outcome.CapturedPath = ""
		}
		outcome.Passed = true

		r.logger.Info("Page matches the reference", "name", outcome.Name, "totalPixels", outcome.TotalPixels)
		if err := r.write(outcome); err != nil {
			return outcome, err
		}
		return outcome, nil
	}

	diffData, err := raster.EncodePNG(result.Image)
	if err != nil {
		return r.Fail(outcome, xerrors.Errorf("failed to encode diff image: %w", err))
	}
	diffPath, err := r.scratch.Put(ctx, r.diffName, diffData)
	if err != nil {
		return r.Fail(outcome, xerrors.Errorf("failed to write diff image: %w", err))
	}
	outcome.DiffPath = diffPath

	if r.publisher != nil {
		if err := r.publish(ctx, &outcome, diffData); err != nil {
			return r.Fail(outcome, err)
		}
	}

	r.logger.Info("Page does not match the reference",
		"name", outcome.Name,
		"diffPixels", outcome.DiffPixels,
		"diffAmount", outcome.DiffAmount,
		"regions", len(outcome.Regions),
		"diffPath", outcome.DiffPath,
	)
	if err := r.write(outcome); err != nil {
		return outcome, err
	}

	return outcome, fmt.Errorf("%w: %d of %d pixels differ, see %s", ErrContentMismatch, outcome.DiffPixels, outcome.TotalPixels, outcome.DiffPath)
}

// Fail records a run that ended before a verdict could be reached, e.g. a
// capture failure or a dimension mismatch. The captured artifact is kept.
func (r *Reporter) Fail(outcome Outcome, cause error) (Outcome, error) {
	outcome.Passed = false
	outcome.Error = cause.Error()

	r.logger.Error(cause, "Check failed", "name", outcome.Name, "exitCode", ExitCode(cause))
	if err := r.write(outcome); err != nil {
		return outcome, errors.Join(cause, err)
	}
	return outcome, cause
}

func (r *Reporter) publish(ctx context.Context, outcome *Outcome, diffData []byte) error {
	prefix := fmt.Sprintf("%s/%s", outcome.Name, r.now().UTC().Format("20060102150405"))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		u, err := r.publisher.Put(ctx, path.Join(prefix, r.diffName), diffData)
		if err != nil {
			return xerrors.Errorf("failed to publish diff image: %w", err)
		}
		outcome.PublishedDiffURL = u
		return nil
	})
	if outcome.CapturedPath != "" {
		eg.Go(func() error {
			data, err := r.scratch.Get(ctx, outcome.CapturedPath)
			if err != nil {
				return xerrors.Errorf("failed to read captured image: %w", err)
			}
			u, err := r.publisher.Put(ctx, path.Join(prefix, path.Base(outcome.CapturedPath)), data)
			if err != nil {
				return xerrors.Errorf("failed to publish captured image: %w", err)
			}
			outcome.PublishedCapturedURL = u
			return nil
		})
	}
	return eg.Wait()
}

func (r *Reporter) write(outcome Outcome) error {
	if r.out == nil {
		return nil
	}
	if err := json.NewEncoder(r.out).Encode(outcome); err != nil {
		return xerrors.Errorf("failed to encode outcome: %w", err)
	}
	return nil
}
