package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/raster"
	"mockup-check/internal/storage"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	url := "s3://artifacts/" + key
	m.objects[url] = data
	return url, nil
}

func (m *memoryStorage) Get(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[url]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memoryStorage) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, url)
	return nil
}

func newScratch(t *testing.T) (storage.Storage, string) {
	t.Helper()
	directory := filepath.Join(t.TempDir(), "screenshots")
	s, err := storage.NewFileStorage(context.Background(), storage.FileConfig{Directory: directory})
	require.NoError(t, err)
	return s, directory
}

func diffImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	return img
}

func TestExitCode(t *testing.T) {
	type in struct {
		first error
	}

	type want struct {
		first int
	}

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				nil,
			},
			want{
				ExitPass,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				fmt.Errorf("%w: 1 of 4 pixels differ", ErrContentMismatch),
			},
			want{
				ExitContentMismatch,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				fmt.Errorf("failed to compare: %w", diffimage.ErrDimensionMismatch),
			},
			want{
				ExitDimensionMismatch,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				errors.New("failed to navigate to http://localhost:4200"),
			},
			want{
				ExitFatal,
			},
		},
	}
	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(want.first, ExitCode(in.first)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestReport_Pass(t *testing.T) {
	ctx := context.Background()
	scratch, directory := newScratch(t)
	capturedPath, err := scratch.Put(ctx, "homepage-current.png", []byte("png"))
	require.NoError(t, err)

	var out bytes.Buffer
	r := NewReporter(scratch, &out, logr.Discard(), WithDiffName("homepage-diff.png"))

	outcome, err := r.Report(ctx, Outcome{
		Name:          "homepage",
		ReferencePath: "docs/mockups/homepage.png",
		CapturedPath:  capturedPath,
	}, &diffimage.DiffResult{TotalPixels: 4})
	require.NoError(t, err)
	require.True(t, outcome.Passed)
	require.Empty(t, outcome.CapturedPath)

	_, err = os.Stat(capturedPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(directory, "homepage-diff.png"))
	require.ErrorIs(t, err, os.ErrNotExist)

	var printed Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	if diff := cmp.Diff(Outcome{
		Name:          "homepage",
		Passed:        true,
		TotalPixels:   4,
		ReferencePath: "docs/mockups/homepage.png",
	}, printed); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestReport_Mismatch(t *testing.T) {
	ctx := context.Background()
	scratch, directory := newScratch(t)
	capturedPath, err := scratch.Put(ctx, "homepage-current.png", []byte("png"))
	require.NoError(t, err)

	var out bytes.Buffer
	r := NewReporter(scratch, &out, logr.Discard(), WithDiffName("homepage-diff.png"))

	outcome, err := r.Report(ctx, Outcome{
		Name:         "homepage",
		CapturedPath: capturedPath,
	}, &diffimage.DiffResult{
		Image:       diffImage(),
		DiffPixels:  1,
		TotalPixels: 4,
		Regions:     []diffimage.Rectangle{{X: 1, Y: 1, Width: 1, Height: 1}},
	})
	require.ErrorIs(t, err, ErrContentMismatch)
	require.Equal(t, ExitContentMismatch, ExitCode(err))
	require.False(t, outcome.Passed)
	require.Equal(t, 0.25, outcome.DiffAmount)
	require.Equal(t, filepath.Join(directory, "homepage-diff.png"), outcome.DiffPath)

	// The captured image stays for inspection.
	_, err = os.Stat(capturedPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outcome.DiffPath)
	require.NoError(t, err)
	img, format, err := raster.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, color.NRGBA{R: 255, A: 255}, color.NRGBAModel.Convert(img.At(1, 1)))

	var printed Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Equal(t, 1, printed.DiffPixels)
	require.Equal(t, outcome.DiffPath, printed.DiffPath)
	require.Equal(t, []diffimage.Rectangle{{X: 1, Y: 1, Width: 1, Height: 1}}, printed.Regions)
}

func TestReport_Publish(t *testing.T) {
	ctx := context.Background()
	scratch, _ := newScratch(t)
	capturedPath, err := scratch.Put(ctx, "homepage-current.png", []byte("captured"))
	require.NoError(t, err)

	publisher := &memoryStorage{}
	r := NewReporter(scratch, nil, logr.Discard(), WithDiffName("homepage-diff.png"), WithPublisher(publisher))
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	outcome, err := r.Report(ctx, Outcome{
		Name:         "homepage",
		CapturedPath: capturedPath,
	}, &diffimage.DiffResult{Image: diffImage(), DiffPixels: 1, TotalPixels: 4})
	require.ErrorIs(t, err, ErrContentMismatch)
	require.Equal(t, "s3://artifacts/homepage/20240501120000/homepage-diff.png", outcome.PublishedDiffURL)
	require.Equal(t, "s3://artifacts/homepage/20240501120000/homepage-current.png", outcome.PublishedCapturedURL)

	data, err := publisher.Get(ctx, outcome.PublishedCapturedURL)
	require.NoError(t, err)
	require.Equal(t, []byte("captured"), data)
}

func TestReport_PublishFailure(t *testing.T) {
	ctx := context.Background()
	scratch, _ := newScratch(t)

	var out bytes.Buffer
	r := NewReporter(scratch, &out, logr.Discard(), WithPublisher(&memoryStorage{err: errors.New("access denied")}))

	_, err := r.Report(ctx, Outcome{Name: "homepage"}, &diffimage.DiffResult{Image: diffImage(), DiffPixels: 1, TotalPixels: 4})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrContentMismatch)
	require.Equal(t, ExitFatal, ExitCode(err))

	var printed Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.False(t, printed.Passed)
	require.Contains(t, printed.Error, "access denied")
	require.NotEmpty(t, printed.DiffPath)
}

func TestFail(t *testing.T) {
	var out bytes.Buffer
	scratch, _ := newScratch(t)
	r := NewReporter(scratch, &out, logr.Discard())

	cause := fmt.Errorf("failed to compare: %w", diffimage.ErrDimensionMismatch)
	outcome, err := r.Fail(Outcome{Name: "homepage", CapturedPath: "screenshots/homepage-current.png"}, cause)
	require.ErrorIs(t, err, diffimage.ErrDimensionMismatch)
	require.False(t, outcome.Passed)

	var printed Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Equal(t, cause.Error(), printed.Error)
	require.Equal(t, "screenshots/homepage-current.png", printed.CapturedPath)
}
