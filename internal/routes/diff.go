package routes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	diffimage "mockup-check/internal/diff/image"
	"mockup-check/internal/myhttp"
	"mockup-check/internal/raster"
	"net/http"
	"strconv"
)

const maxUploadSize = 64 << 20

// maxImageSide bounds each side of an uploaded image. A few bytes of PNG can
// declare dimensions that would not fit in memory once decoded.
const maxImageSide = 16384

var errImageTooLarge = errors.New("image is too large")

type DiffResponse struct {
	DiffData    string                `json:"diffData"`
	DiffPixels  int                   `json:"diffPixels"`
	TotalPixels int                   `json:"totalPixels"`
	DiffAmount  float64               `json:"diffAmount"`
	Regions     []diffimage.Rectangle `json:"regions"`
}

// Diff compares the multipart files "reference" and "captured". The optional
// form value "threshold" overrides defaultThreshold.
func Diff(defaultThreshold float64, opts ...diffimage.Option) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		threshold := defaultThreshold
		if v := r.FormValue("threshold"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil || t < 0 || t > 1 {
				http.Error(w, "threshold must be a number between 0 and 1", http.StatusBadRequest)
				return
			}
			threshold = t
		}

		reference, err := readFormImage(r, "reference")
		if err != nil {
			http.Error(w, err.Error(), formImageStatus(err))
			return
		}
		captured, err := readFormImage(r, "captured")
		if err != nil {
			http.Error(w, err.Error(), formImageStatus(err))
			return
		}

		result, err := diffimage.NewPixelDiff(threshold, opts...).Calculate(reference, captured)
		if err != nil {
			if errors.Is(err, diffimage.ErrDimensionMismatch) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			myhttp.Logger(r.Context()).Error(fmt.Sprintf("failed to compare images: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		response := DiffResponse{
			DiffPixels:  result.DiffPixels,
			TotalPixels: result.TotalPixels,
			DiffAmount:  result.DiffAmount(),
			Regions:     result.Regions,
		}
		if result.Image != nil {
			data, err := raster.EncodePNG(result.Image)
			if err != nil {
				myhttp.Logger(r.Context()).Error(fmt.Sprintf("failed to encode diff image: %s", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			response.DiffData = base64.StdEncoding.EncodeToString(data)
		}
		if response.Regions == nil {
			response.Regions = []diffimage.Rectangle{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			myhttp.Logger(r.Context()).Error(fmt.Sprintf("failed to encode response: %s", err))
		}
	}
}

func readFormImage(r *http.Request, field string) (image.Image, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s file", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file", field)
	}

	config, _, err := raster.DecodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s is not a supported image", field)
	}
	if config.Width > maxImageSide || config.Height > maxImageSide {
		return nil, fmt.Errorf("%w: %s is %dx%d, at most %dx%d is accepted", errImageTooLarge, field, config.Width, config.Height, maxImageSide, maxImageSide)
	}

	img, _, err := raster.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s is not a supported image", field)
	}
	return img, nil
}

func formImageStatus(err error) int {
	if errors.Is(err, errImageTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
}
