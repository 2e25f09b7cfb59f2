// Package source decodes crop sources into bound images with known natural
// pixel dimensions. It accepts raw bytes, file paths and http(s) URLs, with
// WebP fallbacks on every path.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/bayinformatics/croppie/pkg/transform"
)

// Image is a decoded source image carrying its natural dimensions.
type Image struct {
	img  image.Image
	dims transform.Dimensions
}

func newImage(img image.Image) *Image {
	b := img.Bounds()
	return &Image{
		img:  img,
		dims: transform.Dimensions{Width: float64(b.Dx()), Height: float64(b.Dy())},
	}
}

// Image returns the decoded pixels.
func (i *Image) Image() image.Image { return i.img }

// Dimensions returns the natural pixel dimensions.
func (i *Image) Dimensions() transform.Dimensions { return i.dims }

// Spec names one source. Exactly one of Bytes, URL or Path should be set;
// they are consulted in that order.
type Spec struct {
	Bytes []byte
	URL   string
	Path  string
}

// Loader decodes source specs. The zero Loader is not usable; construct with
// NewLoader.
type Loader struct {
	client    *http.Client
	userAgent string
}

// NewLoader returns a loader with a 30 second download timeout.
func NewLoader() *Loader {
	return &Loader{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "croppie/1.0 (+https://github.com/bayinformatics/croppie)",
	}
}

// Load decodes the given spec into an Image. Decode failures leave nothing
// partially constructed; callers keep any previously bound image.
func (l *Loader) Load(ctx context.Context, spec Spec) (*Image, error) {
	switch {
	case len(spec.Bytes) > 0:
		return decodeBytes(spec.Bytes)
	case spec.URL != "":
		return l.loadURL(ctx, spec.URL)
	case spec.Path != "":
		return loadFile(spec.Path)
	default:
		return nil, fmt.Errorf("empty image source")
	}
}

func (l *Loader) loadURL(ctx context.Context, imageURL string) (*Image, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q (only http and https)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return decodeBytes(data)
}

func loadFile(path string) (*Image, error) {
	// imaging handles the registered formats and EXIF reorientation.
	if img, err := imaging.Open(path, imaging.AutoOrientation(true)); err == nil {
		return newImage(img), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return newImage(img), nil
	}
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return newImage(img), nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

func decodeBytes(data []byte) (*Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return newImage(img), nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return newImage(img), nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}
