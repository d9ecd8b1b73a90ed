package retention

import (
	"fmt"
	"image"
)

// maxSamples bounds how many pixels per axis PixelComparator inspects.
const maxSamples = 160

// PixelComparator scores frames by their mean luminance difference over a
// sampled grid. It is a coarse stand-in for a perceptual metric.
type PixelComparator struct{}

var _ Comparator = PixelComparator{}

// Compare returns 100 for identical frames and approaches 0 as the average
// per-pixel luminance difference approaches full scale.
func (PixelComparator) Compare(a, b image.Image) (float64, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, fmt.Errorf("frame sizes differ: %dx%d vs %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}
	if ab.Empty() {
		return 0, fmt.Errorf("empty frame")
	}

	stepX := max(1, ab.Dx()/maxSamples)
	stepY := max(1, ab.Dy()/maxSamples)

	var total float64
	var n int
	for y := 0; y < ab.Dy(); y += stepY {
		for x := 0; x < ab.Dx(); x += stepX {
			la := luminance(a, ab.Min.X+x, ab.Min.Y+y)
			lb := luminance(b, bb.Min.X+x, bb.Min.Y+y)
			d := la - lb
			if d < 0 {
				d = -d
			}
			total += d
			n++
		}
	}

	mean := total / float64(n)
	return 100 * (1 - mean/0xffff), nil
}

// luminance returns the Rec. 601 luma of a pixel on a 16-bit scale.
func luminance(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}
