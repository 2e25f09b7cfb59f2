package focus

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// SaliencyConfig holds tuning parameters for the heuristic detector.
type SaliencyConfig struct {
	// EdgeWeight and BrightnessWeight blend local color contrast against
	// absolute brightness when scoring pixels.
	EdgeWeight       float64
	BrightnessWeight float64
	// WorkingSize is the long side the image is downscaled to before
	// analysis; the full-resolution image is never scanned.
	WorkingSize int
}

// SaliencyDetector locates the dominant region of an image with a local
// contrast heuristic. It needs no external service and serves as the default
// focus backend.
type SaliencyDetector struct {
	config SaliencyConfig
}

// NewSaliency creates a detector with default tuning.
func NewSaliency() *SaliencyDetector {
	return &SaliencyDetector{
		config: SaliencyConfig{
			EdgeWeight:       0.7,
			BrightnessWeight: 0.3,
			WorkingSize:      160,
		},
	}
}

// NewSaliencyWithConfig creates a detector with custom tuning.
func NewSaliencyWithConfig(config SaliencyConfig) *SaliencyDetector {
	if config.WorkingSize <= 0 {
		config.WorkingSize = 160
	}
	return &SaliencyDetector{config: config}
}

// DetectSubject scores sliding windows over an energy map built from
// 8-neighbor color differences and brightness, returning the best-scoring
// window as a normalized box.
func (d *SaliencyDetector) DetectSubject(ctx context.Context, img image.Image) (Subject, error) {
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}

	small := d.downscale(img)
	energy := d.energyMap(small)

	w := len(energy[0])
	h := len(energy)
	best := Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}
	bestScore := 0.0

	// Window sizes span a quarter to three quarters of the short side.
	short := w
	if h < short {
		short = h
	}
	for _, frac := range []float64{0.25, 0.4, 0.55, 0.75} {
		win := int(float64(short) * frac)
		if win < 8 {
			continue
		}
		step := win / 4
		if step < 1 {
			step = 1
		}
		for y := 0; y+win <= h; y += step {
			for x := 0; x+win <= w; x += step {
				score := windowScore(energy, x, y, win, win)
				if score > bestScore {
					bestScore = score
					best = Box{
						X: float64(x) / float64(w),
						Y: float64(y) / float64(h),
						W: float64(win) / float64(w),
						H: float64(win) / float64(h),
					}
				}
			}
		}
	}

	return Subject{
		Label:      "salient region",
		Confidence: clamp(bestScore, 0, 1),
		Box:        best,
	}, nil
}

func (d *SaliencyDetector) downscale(img image.Image) *image.NRGBA {
	b := img.Bounds()
	max := d.config.WorkingSize
	if b.Dx() <= max && b.Dy() <= max {
		return imaging.Clone(img)
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, max, 0, imaging.Box)
	}
	return imaging.Resize(img, 0, max, imaging.Box)
}

// energyMap combines the color difference against the 8 neighbors with the
// pixel's own brightness.
func (d *SaliencyDetector) energyMap(img *image.NRGBA) [][]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	energy := make([][]float64, h)
	for i := range energy {
		energy[i] = make([]float64, w)
	}

	at := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := at(x, y)

			var edge float64
			for _, n := range neighbors {
				r2, g2, b2 := at(x+n[1], y+n[0])
				dr, dg, db := r1-r2, g1-g2, b1-b2
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= 8 * 255 * math.Sqrt(3)

			brightness := (r1 + g1 + b1) / (3 * 255)
			energy[y][x] = d.config.EdgeWeight*edge + d.config.BrightnessWeight*brightness
		}
	}
	return energy
}

func windowScore(energy [][]float64, x, y, w, h int) float64 {
	var total float64
	for ry := y; ry < y+h; ry++ {
		for rx := x; rx < x+w; rx++ {
			total += energy[ry][rx]
		}
	}
	return total / float64(w*h)
}
