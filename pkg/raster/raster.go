// Package raster turns a crop rectangle into output pixels: it selects the
// output canvas size, draws the cropped source region into it, applies the
// optional circle mask and background fill, and encodes the result.
//
// The transform model treats this package as an external collaborator; no
// crop algebra lives here beyond rounding continuous coordinates onto the
// pixel grid.
package raster

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/bayinformatics/croppie/pkg/transform"
)

// Format selects the encoding of a rendered result.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// DefaultQuality is used for JPEG and WebP encoding when no quality is given.
const DefaultQuality = 90

// SizeMode selects how the output canvas dimensions are derived.
type SizeMode string

const (
	// SizeViewport emits at the viewport's own dimensions. This is the
	// default when no size request is given.
	SizeViewport SizeMode = "viewport"
	// SizeOriginal emits at the crop rectangle's own dimensions, i.e. the
	// native image resolution of the cropped region.
	SizeOriginal SizeMode = "original"
	// SizeCustom uses the literal Width and Height.
	SizeCustom SizeMode = "custom"
)

// Size is an output-size request. The zero value means SizeViewport unless
// both Width and Height are set, in which case the literal dimensions win.
type Size struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Mode   SizeMode `json:"mode"`
}

// OutputSize resolves a size request against the viewport and the already
// derived crop rectangle. Non-integer crop dimensions are rounded with
// math.Round, half away from zero; rasters have integer bounds.
func OutputSize(req Size, viewport transform.Dimensions, crop transform.Rect) (width, height int, err error) {
	mode := req.Mode
	if mode == "" {
		if req.Width > 0 && req.Height > 0 {
			mode = SizeCustom
		} else {
			mode = SizeViewport
		}
	}

	switch mode {
	case SizeCustom:
		if req.Width <= 0 || req.Height <= 0 {
			return 0, 0, fmt.Errorf("custom output size must be positive, got %dx%d", req.Width, req.Height)
		}
		return req.Width, req.Height, nil
	case SizeViewport:
		return int(math.Round(viewport.Width)), int(math.Round(viewport.Height)), nil
	case SizeOriginal:
		return int(math.Round(crop.Width())), int(math.Round(crop.Height())), nil
	default:
		return 0, 0, fmt.Errorf("unknown output size mode %q", mode)
	}
}

// Options control how the cropped region is drawn onto the output canvas.
type Options struct {
	// Circle masks everything outside the inscribed ellipse to transparent.
	Circle bool
	// Background, when set, is flattened beneath the drawn pixels.
	Background color.Color
}

// Render draws the given source-image region into a width x height canvas.
// The crop rectangle is in source pixel coordinates and is rounded onto the
// pixel grid with math.Round before cropping.
func Render(src image.Image, crop transform.Rect, width, height int, opts Options) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("output size must be positive, got %dx%d", width, height)
	}

	rect := image.Rect(
		int(math.Round(crop.TopLeftX)),
		int(math.Round(crop.TopLeftY)),
		int(math.Round(crop.BottomRightX)),
		int(math.Round(crop.BottomRightY)),
	).Add(src.Bounds().Min).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop region %+v is empty", crop)
	}

	out := imaging.Resize(imaging.Crop(src, rect), width, height, imaging.Lanczos)

	if opts.Background != nil {
		canvas := imaging.New(width, height, opts.Background)
		out = imaging.Overlay(canvas, out, image.Pt(0, 0), 1.0)
	}
	if opts.Circle {
		out = applyEllipseMask(out)
	}
	return out, nil
}

// Encode writes img in the requested format. Quality applies to JPEG and
// lossy WebP; zero means DefaultQuality. An empty format defaults to PNG,
// which keeps the circle mask's transparency intact.
func Encode(w io.Writer, img image.Image, format Format, quality int, lossless bool) error {
	if quality <= 0 {
		quality = DefaultQuality
	}
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG, "":
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// EncodeBase64 encodes img and returns it as a base64 data URI.
func EncodeBase64(img image.Image, format Format, quality int, lossless bool) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality, lossless); err != nil {
		return "", err
	}
	mime := "image/png"
	switch format {
	case FormatJPEG:
		mime = "image/jpeg"
	case FormatWebP:
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// applyEllipseMask zeroes every pixel outside the ellipse inscribed in the
// image bounds.
func applyEllipseMask(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.DrawMask(out, b, img, b.Min, &ellipseAlpha{bounds: b}, b.Min, draw.Src)
	return out
}

// ellipseAlpha is an alpha mask opaque inside the inscribed ellipse.
type ellipseAlpha struct {
	bounds image.Rectangle
}

func (e *ellipseAlpha) ColorModel() color.Model { return color.AlphaModel }

func (e *ellipseAlpha) Bounds() image.Rectangle { return e.bounds }

func (e *ellipseAlpha) At(x, y int) color.Color {
	rx := float64(e.bounds.Dx()) / 2
	ry := float64(e.bounds.Dy()) / 2
	cx := float64(e.bounds.Min.X) + rx
	cy := float64(e.bounds.Min.Y) + ry
	dx := (float64(x) + 0.5 - cx) / rx
	dy := (float64(y) + 0.5 - cy) / ry
	if dx*dx+dy*dy <= 1 {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}
