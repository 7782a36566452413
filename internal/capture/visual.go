package capture

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
)

// maxChannelDistance is the largest possible Euclidean distance between two
// 8-bit RGB colors: sqrt(3 * 255^2). The configured fractional threshold is
// scaled by it to obtain the comparator's native units.
const maxChannelDistance = 441.6729559300637

// DiffPixelCount decodes both PNGs and counts pixels whose color distance
// exceeds threshold (a 0..1 fraction of maxChannelDistance). Images of
// different dimensions are wholly different: the count is the larger area.
func DiffPixelCount(refPNG, newPNG []byte, threshold float64) (int, error) {
	refImg, err := png.Decode(bytes.NewReader(refPNG))
	if err != nil {
		return 0, fmt.Errorf("decode reference png: %w", err)
	}
	newImg, err := png.Decode(bytes.NewReader(newPNG))
	if err != nil {
		return 0, fmt.Errorf("decode new png: %w", err)
	}

	rb, nb := refImg.Bounds(), newImg.Bounds()
	if rb.Dx() != nb.Dx() || rb.Dy() != nb.Dy() {
		return maxInt(rb.Dx()*rb.Dy(), nb.Dx()*nb.Dy()), nil
	}

	limit := threshold * maxChannelDistance
	count := 0
	for y := 0; y < rb.Dy(); y++ {
		for x := 0; x < rb.Dx(); x++ {
			if colorDistance(refImg.At(rb.Min.X+x, rb.Min.Y+y), newImg.At(nb.Min.X+x, nb.Min.Y+y)) > limit {
				count++
			}
		}
	}
	return count, nil
}

func colorDistance(a, b color.Color) float64 {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	dr := float64(ar>>8) - float64(br>>8)
	dg := float64(ag>>8) - float64(bg>>8)
	db := float64(ab>>8) - float64(bb>>8)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
