// Package locate finds candidate face regions in an image.
//
// The locator is a hand-engineered detector: it downscales the image,
// builds a skin-probability mask, groups skin pixels into connected
// components and keeps the components whose geometry is face-like.
// It is a pure function of the input pixels, so identical images always
// produce identical boxes.
package locate

import (
	"image"
	"sort"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/imaging"
)

// Locator finds candidate face regions. Boxes are reported in
// original-image coordinates. An empty slice means no face was found;
// that is a valid outcome, not a failure.
type Locator interface {
	Locate(img image.Image) []image.Rectangle
}

// SkinLocator implements Locator using skin-tone segmentation.
type SkinLocator struct {
	maxDim          int
	minFaceFraction float64
}

// NewSkinLocator creates a locator with the given tuning.
func NewSkinLocator(cfg config.LocatorConfig) *SkinLocator {
	return &SkinLocator{
		maxDim:          cfg.MaxDim,
		minFaceFraction: cfg.MinFaceFraction,
	}
}

// Geometry filters for face-like components.
const (
	minAspect    = 0.4  // width / height lower bound
	maxAspect    = 1.8  // width / height upper bound
	minFillRatio = 0.35 // skin pixels / bounding box area
	boxMargin    = 0.1  // expansion applied to accepted boxes
)

// Locate returns face-like regions in original-image coordinates,
// largest first.
func (l *SkinLocator) Locate(img image.Image) []image.Rectangle {
	scaled, scale := imaging.Downscale(img, l.maxDim)
	bounds := scaled.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	mask := skinMask(scaled)

	minSide := int(l.minFaceFraction * float64(min(width, height)))
	if minSide < 2 {
		minSide = 2
	}

	var boxes []image.Rectangle
	visited := make([]bool, width*height)
	for y := range height {
		for x := range width {
			idx := y*width + x
			if visited[idx] || !mask[idx] {
				continue
			}
			box, count := floodFill(mask, visited, x, y, width, height)
			if accepted, ok := l.acceptComponent(box, count, minSide, width, height); ok {
				boxes = append(boxes, accepted)
			}
		}
	}

	// Largest region first; ties resolved by position for determinism.
	sort.Slice(boxes, func(i, j int) bool {
		ai := boxes[i].Dx() * boxes[i].Dy()
		aj := boxes[j].Dx() * boxes[j].Dy()
		if ai != aj {
			return ai > aj
		}
		if boxes[i].Min.Y != boxes[j].Min.Y {
			return boxes[i].Min.Y < boxes[j].Min.Y
		}
		return boxes[i].Min.X < boxes[j].Min.X
	})

	// Map back to original coordinates.
	orig := img.Bounds()
	out := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		r := image.Rect(
			orig.Min.X+int(float64(b.Min.X)*scale),
			orig.Min.Y+int(float64(b.Min.Y)*scale),
			orig.Min.X+int(float64(b.Max.X)*scale),
			orig.Min.Y+int(float64(b.Max.Y)*scale),
		).Intersect(orig)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// acceptComponent applies the geometric filters and returns the expanded,
// clamped box when the component looks like a face.
func (l *SkinLocator) acceptComponent(box image.Rectangle, count, minSide, width, height int) (image.Rectangle, bool) {
	w := box.Dx()
	h := box.Dy()
	if w < minSide || h < minSide {
		return image.Rectangle{}, false
	}
	aspect := float64(w) / float64(h)
	if aspect < minAspect || aspect > maxAspect {
		return image.Rectangle{}, false
	}
	if float64(count)/float64(w*h) < minFillRatio {
		return image.Rectangle{}, false
	}

	mx := int(boxMargin * float64(w))
	my := int(boxMargin * float64(h))
	expanded := image.Rect(box.Min.X-mx, box.Min.Y-my, box.Max.X+mx, box.Max.Y+my)
	return expanded.Intersect(image.Rect(0, 0, width, height)), true
}

// skinMask classifies each pixel of an RGBA image as skin or not.
// Uses the classic explicit RGB rule for skin detection.
func skinMask(img *image.RGBA) []bool {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	mask := make([]bool, width*height)

	for y := range height {
		for x := range width {
			c := img.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			mask[y*width+x] = isSkin(c.R, c.G, c.B)
		}
	}
	return mask
}

// isSkin applies the explicit RGB skin classification rule.
func isSkin(r, g, b uint8) bool {
	if r <= 95 || g <= 40 || b <= 20 {
		return false
	}
	maxC := max(r, g, b)
	minC := min(r, g, b)
	if int(maxC)-int(minC) <= 15 {
		return false
	}
	if abs(int(r)-int(g)) <= 15 {
		return false
	}
	return r > g && r > b
}

// floodFill walks the 4-connected skin component containing (x, y) and
// returns its bounding box and pixel count. Visited pixels are marked so
// each component is reported once.
func floodFill(mask, visited []bool, x, y, width, height int) (image.Rectangle, int) {
	stack := []image.Point{{X: x, Y: y}}
	visited[y*width+x] = true

	minX, minY, maxX, maxY := x, y, x, y
	count := 0

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++

		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}

		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx < 0 || ny < 0 || nx >= width || ny >= height {
				continue
			}
			idx := ny*width + nx
			if visited[idx] || !mask[idx] {
				continue
			}
			visited[idx] = true
			stack = append(stack, image.Point{X: nx, Y: ny})
		}
	}

	return image.Rect(minX, minY, maxX+1, maxY+1), count
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
