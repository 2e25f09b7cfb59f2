// Package transform owns the pan/zoom state applied to a bound source image
// and the algebra converting that state into a crop rectangle expressed in
// source-image pixel coordinates.
//
// The model is the single place where zoom clamping happens: every gesture
// source and every API-level zoom request is funneled through SetZoom, which
// enforces the effective minimum zoom for the currently bound image.
//
// The model itself is not safe for concurrent use; callers running it from
// multiple goroutines must serialize access (the widget facade does).
package transform

import (
	"fmt"
	"math"
)

// Shape selects the visible form of the viewport mask.
type Shape string

const (
	ShapeSquare Shape = "square"
	ShapeCircle Shape = "circle"
)

// DefaultBoundaryPadding is added to each viewport axis when no explicit
// boundary is configured.
const DefaultBoundaryPadding = 100

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether both axes are unset.
func (d Dimensions) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}

// Viewport is the fixed crop window, always centered within the boundary.
type Viewport struct {
	Dimensions
	Shape Shape `json:"shape"`
}

// ZoomRange holds the user-configured zoom bounds. When EnforceCoverage is
// set, the effective minimum is raised per bound image to the smallest scale
// that still fully covers the viewport.
type ZoomRange struct {
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	EnforceCoverage bool    `json:"enforce_coverage"`
}

// DefaultZoomRange returns the stock zoom bounds.
func DefaultZoomRange() ZoomRange {
	return ZoomRange{Min: 0.1, Max: 10, EnforceCoverage: true}
}

// State is the continuous transform applied to the source image: pan offsets
// in boundary-space pixels, applied after centering, plus a uniform scale.
type State struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// Rect is a crop rectangle in source-image pixel coordinates, clamped to the
// image bounds. It is always derived from the transform state, never stored
// as a source of truth.
type Rect struct {
	TopLeftX     float64 `json:"top_left_x"`
	TopLeftY     float64 `json:"top_left_y"`
	BottomRightX float64 `json:"bottom_right_x"`
	BottomRightY float64 `json:"bottom_right_y"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.BottomRightX - r.TopLeftX }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.BottomRightY - r.TopLeftY }

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Slice returns the rectangle in its four-element wire form.
func (r Rect) Slice() []float64 {
	return []float64{r.TopLeftX, r.TopLeftY, r.BottomRightX, r.BottomRightY}
}

// RectFromSlice converts the four-element wire form into a Rect. Any other
// arity is rejected outright rather than coerced.
func RectFromSlice(vals []float64) (Rect, error) {
	if len(vals) != 4 {
		return Rect{}, fmt.Errorf("crop points must have exactly 4 elements, got %d", len(vals))
	}
	return Rect{
		TopLeftX:     vals[0],
		TopLeftY:     vals[1],
		BottomRightX: vals[2],
		BottomRightY: vals[3],
	}, nil
}

// Config describes the fixed geometry of a transform model. A zero Boundary
// defaults to the viewport plus DefaultBoundaryPadding on each axis; a zero
// ZoomRange defaults to DefaultZoomRange.
type Config struct {
	Viewport Viewport
	Boundary Dimensions
	Zoom     ZoomRange
}

// Model tracks the current transform for one bound image and knows how to
// turn it into a crop rectangle.
type Model struct {
	viewport     Viewport
	boundary     Dimensions
	zoom         ZoomRange
	effectiveMin float64
	image        Dimensions
	bound        bool
	state        State
}

// NewModel builds a model from the given geometry, filling in boundary and
// zoom-range defaults.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return nil, fmt.Errorf("viewport dimensions must be positive, got %gx%g",
			cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.Viewport.Shape == "" {
		cfg.Viewport.Shape = ShapeSquare
	}
	if cfg.Viewport.Shape != ShapeSquare && cfg.Viewport.Shape != ShapeCircle {
		return nil, fmt.Errorf("unknown viewport shape %q", cfg.Viewport.Shape)
	}
	if cfg.Boundary.IsZero() {
		cfg.Boundary = Dimensions{
			Width:  cfg.Viewport.Width + DefaultBoundaryPadding,
			Height: cfg.Viewport.Height + DefaultBoundaryPadding,
		}
	}
	if cfg.Boundary.Width < cfg.Viewport.Width || cfg.Boundary.Height < cfg.Viewport.Height {
		return nil, fmt.Errorf("boundary %gx%g smaller than viewport %gx%g",
			cfg.Boundary.Width, cfg.Boundary.Height, cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if (cfg.Zoom == ZoomRange{}) {
		cfg.Zoom = DefaultZoomRange()
	}
	if cfg.Zoom.Min <= 0 || cfg.Zoom.Max < cfg.Zoom.Min {
		return nil, fmt.Errorf("invalid zoom range [%g, %g]", cfg.Zoom.Min, cfg.Zoom.Max)
	}
	return &Model{
		viewport:     cfg.Viewport,
		boundary:     cfg.Boundary,
		zoom:         cfg.Zoom,
		effectiveMin: cfg.Zoom.Min,
		state:        State{Scale: clamp(1, cfg.Zoom.Min, cfg.Zoom.Max)},
	}, nil
}

// CoverageZoom returns the smallest uniform scale at which the image covers
// the viewport on both axes. Taking the max of the per-axis ratios leaves an
// overhang on exactly one axis unless the aspect ratios match; the min would
// leave a gap instead. Positive dimensions are a caller precondition.
func CoverageZoom(image, viewport Dimensions) float64 {
	return math.Max(viewport.Width/image.Width, viewport.Height/image.Height)
}

// Bind installs a newly bound image: recomputes the effective minimum zoom,
// picks the initial scale (requestedZoom when positive, the coverage fit
// otherwise, clamped either way) and resets the pan. The previous transform
// is never carried across binds.
func (m *Model) Bind(image Dimensions, requestedZoom float64) State {
	coverage := CoverageZoom(image, m.viewport.Dimensions)
	min := m.zoom.Min
	if m.zoom.EnforceCoverage {
		min = math.Max(min, coverage)
	}
	if min > m.zoom.Max {
		min = m.zoom.Max
	}
	m.effectiveMin = min

	initial := requestedZoom
	if initial <= 0 {
		initial = coverage
	}
	m.image = image
	m.bound = true
	m.state = State{Scale: clamp(initial, m.effectiveMin, m.zoom.Max)}
	return m.state
}

// Unbind drops the bound image and restores the static zoom floor.
func (m *Model) Unbind() {
	m.image = Dimensions{}
	m.bound = false
	m.effectiveMin = m.zoom.Min
	m.state = State{Scale: clamp(m.state.Scale, m.effectiveMin, m.zoom.Max)}
}

// SetZoom clamps candidate into the currently effective zoom interval and
// stores it. Before any bind the static configured minimum applies. The pan
// is left untouched; changed reports whether the stored scale moved.
func (m *Model) SetZoom(candidate float64) (applied float64, changed bool) {
	applied = clamp(candidate, m.effectiveMin, m.zoom.Max)
	changed = applied != m.state.Scale
	m.state.Scale = applied
	return applied, changed
}

// Pan overwrites the pan offsets. Panning is never clamped: the viewport
// mask, not the pan range, constrains the visible crop, and CropRect clamps
// whatever falls outside the image.
func (m *Model) Pan(x, y float64) (moved bool) {
	moved = x != m.state.X || y != m.state.Y
	m.state.X = x
	m.state.Y = y
	return moved
}

// Reset restores the coverage fit for the currently bound image and zeroes
// the pan. Without a bound image it returns the state unchanged.
func (m *Model) Reset() State {
	if !m.bound {
		return m.state
	}
	coverage := CoverageZoom(m.image, m.viewport.Dimensions)
	m.state = State{Scale: clamp(coverage, m.effectiveMin, m.zoom.Max)}
	return m.state
}

// State returns the current transform.
func (m *Model) State() State { return m.state }

// EffectiveMinZoom returns the runtime-enforced lower zoom bound.
func (m *Model) EffectiveMinZoom() float64 { return m.effectiveMin }

// ZoomBounds returns the currently effective zoom interval.
func (m *Model) ZoomBounds() (min, max float64) { return m.effectiveMin, m.zoom.Max }

// Viewport returns the configured crop window.
func (m *Model) Viewport() Viewport { return m.viewport }

// Boundary returns the outer clipping region.
func (m *Model) Boundary() Dimensions { return m.boundary }

// Image returns the natural dimensions of the bound image.
func (m *Model) Image() Dimensions { return m.image }

// Bound reports whether an image is currently bound.
func (m *Model) Bound() bool { return m.bound }

// CropRect derives the crop rectangle for the current state, or the all-zero
// rectangle when no image is bound.
func (m *Model) CropRect() Rect {
	if !m.bound {
		return Rect{}
	}
	return CropRect(m.image, m.viewport, m.boundary, m.state)
}

// CropRect inverts the on-screen placement of the image to express the
// viewport window in source-image pixel coordinates. The placement here must
// mirror rendering exactly: the image is boundary-centered before the pan is
// applied, the viewport is boundary-centered and unaffected by pan. The four
// corners are clamped into the image bounds, so an over-panned or
// over-zoomed-out state yields a truncated rectangle rather than an error.
func CropRect(image Dimensions, viewport Viewport, boundary Dimensions, st State) Rect {
	scaledW := image.Width * st.Scale
	scaledH := image.Height * st.Scale

	imageLeft := (boundary.Width-scaledW)/2 + st.X
	imageTop := (boundary.Height-scaledH)/2 + st.Y

	viewportLeft := (boundary.Width - viewport.Width) / 2
	viewportTop := (boundary.Height - viewport.Height) / 2

	topLeftX := (viewportLeft - imageLeft) / st.Scale
	topLeftY := (viewportTop - imageTop) / st.Scale
	bottomRightX := topLeftX + viewport.Width/st.Scale
	bottomRightY := topLeftY + viewport.Height/st.Scale

	// Clamping both ends of each axis into the same interval keeps the
	// rectangle ordered even when the viewport lies entirely off-image.
	return Rect{
		TopLeftX:     clamp(topLeftX, 0, image.Width),
		TopLeftY:     clamp(topLeftY, 0, image.Height),
		BottomRightX: clamp(bottomRightX, 0, image.Width),
		BottomRightY: clamp(bottomRightY, 0, image.Height),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
