// Package phash computes 64-bit perceptual image hashes and the distance
// metrics built on top of them (C1). The bit layout is fixed — resize to
// 32x32, grayscale, DCT-II, median-threshold the low 8x8 block — so it is
// implemented directly against the standard image library rather than an
// opaque third-party phash package: any third-party implementation would
// not be guaranteed to reproduce this exact bit layout.
package phash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
)

// ErrDecode is returned when the input bytes cannot be decoded as an image.
var ErrDecode = errors.New("phash: unreadable image")

// ErrLengthMismatch is returned by HammingDistance when the two hashes are
// not the same length.
var ErrLengthMismatch = errors.New("phash: hash length mismatch")

const (
	resizeDim  = 32
	dctBlock   = 8
	maxBitDist = 64
)

// Hash computes the 16-hex-character perceptual hash of the given image
// bytes. Same input bytes always produce the same hash.
func Hash(imageBytes []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	gray := resizeGrayscale(img, resizeDim, resizeDim)
	dct := dct2D(gray)

	coeffs := make([]float64, 0, dctBlock*dctBlock-1)
	for v := 0; v < dctBlock; v++ {
		for u := 0; u < dctBlock; u++ {
			if u == 0 && v == 0 {
				continue // exclude the DC coefficient
			}
			coeffs = append(coeffs, dct[v][u])
		}
	}

	median := medianOf(coeffs)

	var bits uint64
	idx := 0
	for v := 0; v < dctBlock; v++ {
		for u := 0; u < dctBlock; u++ {
			if u == 0 && v == 0 {
				continue
			}
			if dct[v][u] > median {
				bits |= 1 << uint(63-idx)
			}
			idx++
		}
	}

	return fmt.Sprintf("%016x", bits), nil
}

// HammingDistance counts differing bits between two equal-length hex hashes.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	av, err := parseHex64(a)
	if err != nil {
		return 0, err
	}
	bv, err := parseHex64(b)
	if err != nil {
		return 0, err
	}
	return popcount(av ^ bv), nil
}

// Similarity maps a Hamming distance to a [0,1] similarity score.
func Similarity(distance int, maxDistance ...int) float64 {
	max := maxBitDist
	if len(maxDistance) > 0 && maxDistance[0] > 0 {
		max = maxDistance[0]
	}
	s := 1 - float64(distance)/float64(max)
	if s < 0 {
		return 0
	}
	return s
}

func parseHex64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%016x", &v)
	if err != nil {
		return 0, fmt.Errorf("phash: invalid hash %q: %w", s, err)
	}
	return v, nil
}

func popcount(v uint64) int {
	count := 0
	for v != 0 {
		v &= v - 1
		count++
	}
	return count
}

// resizeGrayscale performs nearest-neighbor-free box-average resizing to
// w x h and converts to a float64 luminance grid. Box averaging (rather than
// nearest-neighbor) keeps the hash stable under minor source-resolution
// jitter, matching the determinism contract in §4.1.
func resizeGrayscale(img image.Image, w, h int) [][]float64 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
	}

	for y := 0; y < h; y++ {
		y0 := bounds.Min.Y + y*srcH/h
		y1 := bounds.Min.Y + (y+1)*srcH/h
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for x := 0; x < w; x++ {
			x0 := bounds.Min.X + x*srcW/w
			x1 := bounds.Min.X + (x+1)*srcW/w
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum float64
			var n int
			for sy := y0; sy < y1 && sy < bounds.Max.Y; sy++ {
				for sx := x0; sx < x1 && sx < bounds.Max.X; sx++ {
					r, g, b, _ := img.At(sx, sy).RGBA()
					// Rec. 601 luma, inputs are 16-bit
					lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
					sum += lum
					n++
				}
			}
			if n == 0 {
				out[y][x] = 0
				continue
			}
			out[y][x] = sum / float64(n)
		}
	}
	return out
}

// dct2D applies a 2-D DCT-II over the resizeDim x resizeDim grid and returns
// the dctBlock x dctBlock top-left block of coefficients.
func dct2D(grid [][]float64) [dctBlock][dctBlock]float64 {
	n := len(grid)

	var result [dctBlock][dctBlock]float64
	for v := 0; v < dctBlock; v++ {
		for u := 0; u < dctBlock; u++ {
			var sum float64
			for y := 0; y < n; y++ {
				for x := 0; x < n; x++ {
					sum += grid[y][x] *
						math.Cos(math.Pi/float64(n)*(float64(x)+0.5)*float64(u)) *
						math.Cos(math.Pi/float64(n)*(float64(y)+0.5)*float64(v))
				}
			}
			result[v][u] = alpha(u) * alpha(v) * sum
		}
	}
	return result
}

func alpha(k int) float64 {
	if k == 0 {
		return 1 / math.Sqrt2
	}
	return 1
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
