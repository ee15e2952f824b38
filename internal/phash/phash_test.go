package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func checkerboardPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/4+y/4)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 20})
			} else {
				img.SetGray(x, y, color.Gray{Y: 235})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode checkerboard: %v", err)
	}
	return buf.Bytes()
}

func solidPNG(t *testing.T, size int, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode solid: %v", err)
	}
	return buf.Bytes()
}

func TestHashRoundTrip(t *testing.T) {
	bytesIn := checkerboardPNG(t, 128)

	h1, err := Hash(bytesIn)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(bytesIn)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected deterministic hash, got %q then %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("expected 16 hex chars, got %d (%q)", len(h1), h1)
	}
}

func TestHashDecodeError(t *testing.T) {
	_, err := Hash([]byte("not an image"))
	if err == nil {
		t.Fatal("expected a decode error for garbage input")
	}
}

func TestHammingSymmetryAndZero(t *testing.T) {
	a := "00000000ffffffff"
	b := "ffffffff00000000"

	d1, err := HammingDistance(a, b)
	if err != nil {
		t.Fatalf("HammingDistance: %v", err)
	}
	d2, err := HammingDistance(b, a)
	if err != nil {
		t.Fatalf("HammingDistance: %v", err)
	}
	if d1 != d2 {
		t.Errorf("hamming not symmetric: %d vs %d", d1, d2)
	}
	if d1 != 64 {
		t.Errorf("expected fully-inverted hashes to differ by 64 bits, got %d", d1)
	}

	dzero, err := HammingDistance(a, a)
	if err != nil {
		t.Fatalf("HammingDistance: %v", err)
	}
	if dzero != 0 {
		t.Errorf("expected hamming(a,a) == 0, got %d", dzero)
	}
}

func TestHammingLengthMismatch(t *testing.T) {
	_, err := HammingDistance("abcd", "abcdef12")
	if err == nil {
		t.Fatal("expected a length-mismatch error")
	}
}

func TestSimilarityBounds(t *testing.T) {
	if s := Similarity(0); s != 1 {
		t.Errorf("similarity(0) = %v, want 1", s)
	}
	if s := Similarity(64); s != 0 {
		t.Errorf("similarity(64) = %v, want 0", s)
	}
	for _, d := range []int{0, 10, 32, 50, 64, 100} {
		s := Similarity(d)
		if s < 0 || s > 1 {
			t.Errorf("similarity(%d) = %v out of [0,1]", d, s)
		}
	}
}

func TestDistinctImagesDiffer(t *testing.T) {
	a, err := Hash(solidPNG(t, 64, 10))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := Hash(checkerboardPNG(t, 64))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	d, err := HammingDistance(a, b)
	if err != nil {
		t.Fatalf("HammingDistance: %v", err)
	}
	if d == 0 {
		t.Error("expected visually distinct images to produce different hashes")
	}
}
