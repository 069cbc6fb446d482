// Package descriptor converts a face region into a fixed-length numeric
// descriptor used for similarity comparison.
//
// The extractor is deterministic: identical input pixels and an identical
// bounding box always yield a bit-identical vector. The transform is a
// histogram of oriented gradients over a spatial grid of a normalized
// grayscale patch; no trained model is involved.
package descriptor

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/photoevent/facematch/internal/imaging"
)

// ErrInvalidRegion is returned when a bounding box lies outside the image
// bounds or has zero area. It indicates a contract violation between the
// locator and the extractor.
var ErrInvalidRegion = errors.New("invalid face region")

// Patch and grid geometry. Dim follows from these and is fixed for the
// lifetime of the process; descriptors of different lengths must never
// be compared.
const (
	patchSize = 64 // face patch side after crop + resize
	cellSize  = 8  // HOG cell side within the patch
	cells     = patchSize / cellSize
	bins      = 9 // unsigned orientation bins over 180 degrees

	// Dim is the length of every descriptor vector produced by Extract.
	Dim = cells * cells * bins
)

// Descriptor is a fixed-length embedding of one face region.
type Descriptor struct {
	Vector []float32       `json:"vector"`
	Box    image.Rectangle `json:"box"` // region within the source photo, for debugging/UI
}

// Extractor computes a descriptor for a face region of an image.
type Extractor interface {
	Extract(img image.Image, box image.Rectangle) (Descriptor, error)
}

// HOGExtractor implements Extractor with the gradient-orientation
// histogram transform.
type HOGExtractor struct{}

// NewHOGExtractor creates the default extractor.
func NewHOGExtractor() *HOGExtractor {
	return &HOGExtractor{}
}

// Extract crops the region, normalizes it into a fixed-size patch and
// computes the descriptor vector.
func (e *HOGExtractor) Extract(img image.Image, box image.Rectangle) (Descriptor, error) {
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return Descriptor{}, fmt.Errorf("%w: degenerate box %v", ErrInvalidRegion, box)
	}
	if !box.In(img.Bounds()) {
		return Descriptor{}, fmt.Errorf("%w: box %v outside image bounds %v", ErrInvalidRegion, box, img.Bounds())
	}

	patch := imaging.Resize(imaging.Crop(img, box), patchSize, patchSize)
	gray := imaging.Grayscale(patch)
	normalizeIllumination(gray)

	return Descriptor{
		Vector: hogVector(gray),
		Box:    box,
	}, nil
}

// normalizeIllumination applies gamma compression followed by mean/variance
// normalization, flattening lighting and contrast differences between
// photos of the same face.
func normalizeIllumination(gray [][]float64) {
	var sum, sumSq float64
	n := float64(patchSize * patchSize)

	for x := range gray {
		for y := range gray[x] {
			v := math.Sqrt(gray[x][y])
			gray[x][y] = v
			sum += v
			sumSq += v * v
		}
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 1e-6 {
		variance = 1e-6
	}
	std := math.Sqrt(variance)

	for x := range gray {
		for y := range gray[x] {
			gray[x][y] = (gray[x][y] - mean) / std
		}
	}
}

// hogVector computes per-cell gradient-orientation histograms and
// normalizes the concatenated vector (L2 with clipping).
func hogVector(gray [][]float64) []float32 {
	hist := make([]float64, Dim)

	for x := 1; x < patchSize-1; x++ {
		for y := 1; y < patchSize-1; y++ {
			gx := gray[x+1][y] - gray[x-1][y]
			gy := gray[x][y+1] - gray[x][y-1]
			magnitude := math.Hypot(gx, gy)
			if magnitude == 0 {
				continue
			}

			// Unsigned orientation in [0, 180).
			angle := math.Atan2(gy, gx) * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			if angle >= 180 {
				angle -= 180
			}
			bin := int(angle * bins / 180)
			if bin >= bins {
				bin = bins - 1
			}

			cell := (y/cellSize)*cells + x/cellSize
			hist[cell*bins+bin] += magnitude
		}
	}

	normalizeVector(hist)

	vec := make([]float32, Dim)
	for i, v := range hist {
		vec[i] = float32(v)
	}
	return vec
}

// normalizeVector applies L2 normalization, clips large components and
// renormalizes, reducing the influence of dominant edges.
func normalizeVector(v []float64) {
	const clip = 0.2

	norm := l2norm(v)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
		if v[i] > clip {
			v[i] = clip
		}
	}

	norm = l2norm(v)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

func l2norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
