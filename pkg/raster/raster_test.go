package raster

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/bayinformatics/croppie/pkg/transform"
)

// createTestImage builds a gradient image so crops are distinguishable.
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestOutputSizeViewportDefault(t *testing.T) {
	viewport := transform.Dimensions{Width: 300, Height: 200}
	crop := transform.Rect{BottomRightX: 150, BottomRightY: 100}

	w, h, err := OutputSize(Size{}, viewport, crop)
	if err != nil {
		t.Fatalf("OutputSize failed: %v", err)
	}
	if w != 300 || h != 200 {
		t.Errorf("expected viewport size 300x200, got %dx%d", w, h)
	}
}

func TestOutputSizeOriginalRounding(t *testing.T) {
	// Non-integer crop dimensions round half away from zero via math.Round:
	// 37.5 -> 38, 50 -> 50.
	viewport := transform.Dimensions{Width: 100, Height: 100}
	crop := transform.Rect{TopLeftX: 10, TopLeftY: 20, BottomRightX: 47.5, BottomRightY: 70}

	w, h, err := OutputSize(Size{Mode: SizeOriginal}, viewport, crop)
	if err != nil {
		t.Fatalf("OutputSize failed: %v", err)
	}
	if w != 38 || h != 50 {
		t.Errorf("expected 38x50, got %dx%d", w, h)
	}
}

func TestOutputSizeCustom(t *testing.T) {
	viewport := transform.Dimensions{Width: 100, Height: 100}

	w, h, err := OutputSize(Size{Width: 640, Height: 480}, viewport, transform.Rect{})
	if err != nil {
		t.Fatalf("OutputSize failed: %v", err)
	}
	if w != 640 || h != 480 {
		t.Errorf("expected literal 640x480, got %dx%d", w, h)
	}

	if _, _, err := OutputSize(Size{Mode: SizeCustom, Width: -1, Height: 100}, viewport, transform.Rect{}); err == nil {
		t.Error("expected error for non-positive custom size")
	}
}

func TestOutputSizeUnknownMode(t *testing.T) {
	if _, _, err := OutputSize(Size{Mode: "banner"}, transform.Dimensions{Width: 10, Height: 10}, transform.Rect{}); err == nil {
		t.Error("expected error for unknown size mode")
	}
}

func TestRenderDimensions(t *testing.T) {
	src := createTestImage(400, 300)
	crop := transform.Rect{TopLeftX: 100, TopLeftY: 50, BottomRightX: 300, BottomRightY: 250}

	out, err := Render(src, crop, 100, 100, Options{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	b := out.Bounds()
	if b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("expected 100x100 output, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRenderEmptyCrop(t *testing.T) {
	src := createTestImage(100, 100)

	if _, err := Render(src, transform.Rect{}, 50, 50, Options{}); err == nil {
		t.Error("expected error for an empty crop region")
	}
	if _, err := Render(src, transform.Rect{BottomRightX: 50, BottomRightY: 50}, 0, 50, Options{}); err == nil {
		t.Error("expected error for a non-positive output size")
	}
}

func TestRenderCircleMask(t *testing.T) {
	src := createTestImage(200, 200)
	crop := transform.Rect{BottomRightX: 200, BottomRightY: 200}

	out, err := Render(src, crop, 100, 100, Options{Circle: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Corners lie outside the inscribed circle and must be transparent.
	for _, pt := range []image.Point{{0, 0}, {99, 0}, {0, 99}, {99, 99}} {
		if _, _, _, a := out.At(pt.X, pt.Y).RGBA(); a != 0 {
			t.Errorf("expected transparent corner at %v, alpha=%d", pt, a)
		}
	}
	// The center is inside the circle and stays opaque.
	if _, _, _, a := out.At(50, 50).RGBA(); a == 0 {
		t.Error("expected opaque center pixel")
	}
}

func TestRenderBackgroundFill(t *testing.T) {
	src := createTestImage(200, 200)
	crop := transform.Rect{BottomRightX: 200, BottomRightY: 200}

	out, err := Render(src, crop, 100, 100, Options{Background: color.NRGBA{R: 255, A: 255}})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if _, _, _, a := out.At(50, 50).RGBA(); a == 0 {
		t.Error("expected opaque output with a background fill")
	}
}

func TestEncodeFormats(t *testing.T) {
	img := createTestImage(40, 40)

	for _, format := range []Format{FormatJPEG, FormatPNG, FormatWebP, ""} {
		var buf bytes.Buffer
		if err := Encode(&buf, img, format, 85, false); err != nil {
			t.Errorf("Encode(%q) failed: %v", format, err)
			continue
		}
		if buf.Len() == 0 {
			t.Errorf("Encode(%q) wrote no bytes", format)
		}
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, createTestImage(10, 10), "tiff", 85, false); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestEncodeBase64DataURI(t *testing.T) {
	s, err := EncodeBase64(createTestImage(10, 10), FormatPNG, 0, false)
	if err != nil {
		t.Fatalf("EncodeBase64 failed: %v", err)
	}
	if !strings.HasPrefix(s, "data:image/png;base64,") {
		t.Errorf("unexpected data URI prefix: %.40s", s)
	}
}

func BenchmarkRender(b *testing.B) {
	src := createTestImage(1920, 1080)
	crop := transform.Rect{TopLeftX: 400, TopLeftY: 200, BottomRightX: 1400, BottomRightY: 900}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Render(src, crop, 300, 300, Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
