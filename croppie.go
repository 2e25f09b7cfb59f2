// Package croppie implements an embeddable pan/zoom image-cropping widget
// core: a source image is panned and zoomed behind a fixed viewport mask, and
// the widget computes the image-space rectangle currently visible, which can
// be rendered to an output canvas at an arbitrary size.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		"github.com/bayinformatics/croppie"
//		"github.com/bayinformatics/croppie/pkg/transform"
//	)
//
//	func main() {
//		widget, err := croppie.New(croppie.Options{
//			Viewport: transform.Viewport{
//				Dimensions: transform.Dimensions{Width: 300, Height: 300},
//				Shape:      transform.ShapeCircle,
//			},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer widget.Destroy()
//
//		if err := widget.Bind(context.Background(), croppie.Source{Path: "photo.jpg"}); err != nil {
//			log.Fatal(err)
//		}
//
//		widget.SetZoom(1.5)
//		widget.Pan(-20, 35)
//
//		res, err := widget.Result(context.Background(), croppie.ResultOptions{Type: croppie.ResultBlob})
//		if err != nil {
//			log.Fatal(err)
//		}
//		os.WriteFile("avatar.png", res.Blob, 0o644)
//	}
//
// The widget serializes all access internally, so it may be driven from
// multiple goroutines, but individual gesture streams should come from a
// single goroutine to keep their deltas ordered.
package croppie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bayinformatics/croppie/pkg/focus"
	"github.com/bayinformatics/croppie/pkg/gesture"
	"github.com/bayinformatics/croppie/pkg/raster"
	"github.com/bayinformatics/croppie/pkg/source"
	"github.com/bayinformatics/croppie/pkg/transform"
)

// Version of the croppie library.
const Version = "1.0.0"

var (
	// ErrNoImage is returned by operations that need a bound image.
	ErrNoImage = errors.New("croppie: no image bound")
	// ErrDestroyed is returned for calls after Destroy.
	ErrDestroyed = errors.New("croppie: widget destroyed")
	// ErrNoFocusDetector is returned by Focus when no detector is configured.
	ErrNoFocusDetector = errors.New("croppie: no focus detector configured")
)

// WheelMode controls wheel-tick zooming.
type WheelMode string

const (
	// WheelEnabled applies every wheel tick. This is the default.
	WheelEnabled WheelMode = "on"
	// WheelDisabled ignores wheel ticks entirely.
	WheelDisabled WheelMode = "off"
	// WheelModifier applies ticks only while the modifier key is held.
	WheelModifier WheelMode = "modifier"
)

// Options configure a widget. Viewport is required; everything else has
// defaults. Fields are normalized once at construction.
type Options struct {
	Viewport  transform.Viewport
	Boundary  transform.Dimensions // zero: viewport + 100 per axis
	Zoom      transform.ZoomRange  // zero: [0.1, 10], coverage enforced
	WheelZoom WheelMode            // zero: WheelEnabled
	Loader    *source.Loader       // nil: a fresh default loader
	Focus     focus.Detector       // nil: Focus returns ErrNoFocusDetector
	Logger    *zerolog.Logger      // nil: no logging
}

// Snapshot is the synchronous view of the widget: the derived crop rectangle
// in source-image pixel coordinates plus the current zoom.
type Snapshot struct {
	Points transform.Rect `json:"points"`
	Zoom   float64        `json:"zoom"`
}

// ZoomChange is the payload of zoom notifications.
type ZoomChange = gesture.ZoomChange

// ResultType selects the form of a Result.
type ResultType string

const (
	ResultCanvas ResultType = "canvas"
	ResultBlob   ResultType = "blob"
	ResultBase64 ResultType = "base64"
)

// ResultOptions describe one rasterization request.
type ResultOptions struct {
	// Type selects the result form; empty means ResultCanvas.
	Type ResultType
	// Size picks the output dimensions; the zero value emits at viewport
	// size.
	Size raster.Size
	// Format and Quality control encoding for blob and base64 results.
	Format   raster.Format
	Quality  int
	Lossless bool
	// Circle overrides the viewport-shape default for the output mask.
	Circle *bool
	// Background, when set, is flattened beneath the cropped pixels.
	Background color.Color
}

// Result is one rendered crop. Canvas is always populated; Blob and Base64
// only for their respective types.
type Result struct {
	Canvas *image.NRGBA
	Blob   []byte
	Base64 string
	Points transform.Rect
	Width  int
	Height int
}

// Source names the image to bind plus optional initial placement.
type Source struct {
	// Exactly one of Bytes, URL or Path should be set.
	Bytes []byte
	URL   string
	Path  string
	// Zoom, when positive, is the requested initial zoom; it is clamped
	// into the effective range. Zero means the coverage fit.
	Zoom float64
	// Points is accepted in its four-element wire form but deriving a
	// transform from a supplied crop rectangle is not supported; valid
	// points are logged and ignored, invalid ones fail the bind.
	Points []float64
}

// Croppie is the widget instance. All exported methods serialize access to
// the underlying transform model.
type Croppie struct {
	mu     sync.Mutex
	log    zerolog.Logger
	model  *transform.Model
	gest   *gesture.Adapter
	loader *source.Loader
	focus  focus.Detector

	img       *source.Image
	destroyed bool

	nextHandlerID int
	updateHs      map[int]func(Snapshot)
	zoomHs        map[int]func(ZoomChange)
	wheelMode     WheelMode
	releases      []func()
}

// New constructs a widget from the given options.
func New(opts Options) (*Croppie, error) {
	model, err := transform.NewModel(transform.Config{
		Viewport: opts.Viewport,
		Boundary: opts.Boundary,
		Zoom:     opts.Zoom,
	})
	if err != nil {
		return nil, fmt.Errorf("croppie: %w", err)
	}

	mode := opts.WheelZoom
	switch mode {
	case "":
		mode = WheelEnabled
	case WheelEnabled, WheelDisabled, WheelModifier:
	default:
		return nil, fmt.Errorf("croppie: unknown wheel zoom mode %q", opts.WheelZoom)
	}

	loader := opts.Loader
	if loader == nil {
		loader = source.NewLoader()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Croppie{
		log:       logger,
		model:     model,
		loader:    loader,
		focus:     opts.Focus,
		wheelMode: mode,
		updateHs:  map[int]func(Snapshot){},
		zoomHs:    map[int]func(ZoomChange){},
	}
	c.gest = gesture.New(model, mode == WheelModifier)

	// Teardown runs these in order, exactly once each.
	c.releases = []func(){
		c.gest.Release,
		func() {
			c.img = nil
			c.model.Unbind()
		},
		func() {
			c.updateHs = map[int]func(Snapshot){}
			c.zoomHs = map[int]func(ZoomChange){}
		},
	}
	return c, nil
}

// Bind decodes the source and installs it as the bound image, re-running the
// initial placement. A decode failure leaves any previously bound image in
// place. Fires an update notification on success.
func (c *Croppie) Bind(ctx context.Context, src Source) error {
	if src.Points != nil {
		if _, err := transform.RectFromSlice(src.Points); err != nil {
			return fmt.Errorf("croppie: bind: %w", err)
		}
		c.log.Warn().Msg("bind: initial crop points are not supported and will be ignored")
	}

	img, err := c.loader.Load(ctx, source.Spec{Bytes: src.Bytes, URL: src.URL, Path: src.Path})
	if err != nil {
		return fmt.Errorf("croppie: bind: %w", err)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.img = img
	c.model.Bind(img.Dimensions(), src.Zoom)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emitUpdate(snap)
	return nil
}

// Get returns the current snapshot.
func (c *Croppie) Get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetZoom clamps value into the effective zoom range and applies it. A value
// that clamps back to the current zoom produces no notifications.
func (c *Croppie) SetZoom(value float64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	prev := c.model.State().Scale
	applied, changed := c.model.SetZoom(value)
	var snap Snapshot
	if changed {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if changed {
		c.emitZoom(ZoomChange{Zoom: applied, Previous: prev})
		c.emitUpdate(snap)
	}
}

// Pan overwrites the pan offsets; they are never clamped.
func (c *Croppie) Pan(x, y float64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	moved := c.model.Pan(x, y)
	var snap Snapshot
	if moved {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if moved {
		c.emitUpdate(snap)
	}
}

// Reset restores the coverage fit and zero pan for the bound image. Without
// one it is a silent no-op.
func (c *Croppie) Reset() {
	c.mu.Lock()
	if c.destroyed || !c.model.Bound() {
		c.mu.Unlock()
		return
	}
	prev := c.model.State()
	st := c.model.Reset()
	changed := st != prev
	var snap Snapshot
	if changed {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if changed {
		if st.Scale != prev.Scale {
			c.emitZoom(ZoomChange{Zoom: st.Scale, Previous: prev.Scale})
		}
		c.emitUpdate(snap)
	}
}

// DragStart begins a drag gesture at the current pan.
func (c *Croppie) DragStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.gest.DragStart()
}

// DragMove applies a pixel delta measured from the drag start.
func (c *Croppie) DragMove(dx, dy float64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	moved := c.gest.DragMove(dx, dy)
	var snap Snapshot
	if moved {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if moved {
		c.emitUpdate(snap)
	}
}

// DragEnd finishes the drag gesture.
func (c *Croppie) DragEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gest.DragEnd()
}

// Wheel applies one discrete wheel tick. With WheelDisabled it is inert;
// with WheelModifier the tick only applies while modifier is held.
func (c *Croppie) Wheel(deltaY float64, modifier bool) {
	c.mu.Lock()
	if c.destroyed || c.wheelMode == WheelDisabled {
		c.mu.Unlock()
		return
	}
	change := c.gest.Wheel(deltaY, modifier)
	var snap Snapshot
	if change != nil {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if change != nil {
		c.emitZoom(*change)
		c.emitUpdate(snap)
	}
}

// Touch feeds the active contact points of a pinch gesture.
func (c *Croppie) Touch(contacts ...gesture.Point) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	change := c.gest.Touch(contacts...)
	var snap Snapshot
	if change != nil {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if change != nil {
		c.emitZoom(*change)
		c.emitUpdate(snap)
	}
}

// Focus detects the primary subject of the bound image and zooms/pans it
// into the viewport center.
func (c *Croppie) Focus(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return Snapshot{}, ErrDestroyed
	}
	if c.focus == nil {
		c.mu.Unlock()
		return Snapshot{}, ErrNoFocusDetector
	}
	if c.img == nil {
		c.mu.Unlock()
		return Snapshot{}, ErrNoImage
	}
	img := c.img.Image()
	c.mu.Unlock()

	// Detection may take a while (vision models especially); run it outside
	// the lock.
	sub, err := c.focus.DetectSubject(ctx, img)
	if err != nil {
		return Snapshot{}, fmt.Errorf("croppie: focus: %w", err)
	}
	c.log.Debug().
		Str("label", sub.Label).
		Float64("confidence", sub.Confidence).
		Msg("focus: subject detected")

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return Snapshot{}, ErrDestroyed
	}
	placement, err := focus.Apply(c.model, sub, 0.1)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("croppie: focus: %w", err)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if placement.ZoomChanged {
		c.emitZoom(ZoomChange{Zoom: placement.Zoom, Previous: placement.PreviousZoom})
	}
	c.emitUpdate(snap)
	return snap, nil
}

// Result renders the currently visible crop. The crop rectangle and output
// dimensions are captured atomically; rasterization itself runs unlocked.
func (c *Croppie) Result(ctx context.Context, opts ResultOptions) (*Result, error) {
	switch opts.Type {
	case "", ResultCanvas, ResultBlob, ResultBase64:
	default:
		return nil, fmt.Errorf("croppie: unknown result type %q", opts.Type)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	if c.img == nil {
		c.mu.Unlock()
		return nil, ErrNoImage
	}
	img := c.img.Image()
	crop := c.model.CropRect()
	viewport := c.model.Viewport()
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height, err := raster.OutputSize(opts.Size, viewport.Dimensions, crop)
	if err != nil {
		return nil, fmt.Errorf("croppie: result: %w", err)
	}

	circle := viewport.Shape == transform.ShapeCircle
	if opts.Circle != nil {
		circle = *opts.Circle
	}

	canvas, err := raster.Render(img, crop, width, height, raster.Options{
		Circle:     circle,
		Background: opts.Background,
	})
	if err != nil {
		return nil, fmt.Errorf("croppie: result: %w", err)
	}

	res := &Result{Canvas: canvas, Points: crop, Width: width, Height: height}
	switch opts.Type {
	case ResultBlob:
		var buf bytes.Buffer
		if err := raster.Encode(&buf, canvas, opts.Format, opts.Quality, opts.Lossless); err != nil {
			return nil, fmt.Errorf("croppie: result: %w", err)
		}
		res.Blob = buf.Bytes()
	case ResultBase64:
		s, err := raster.EncodeBase64(canvas, opts.Format, opts.Quality, opts.Lossless)
		if err != nil {
			return nil, fmt.Errorf("croppie: result: %w", err)
		}
		res.Base64 = s
	}
	return res, nil
}

// OnUpdate registers a handler fired after any transform mutation that
// changes the crop rectangle. The returned function unsubscribes it.
func (c *Croppie) OnUpdate(fn func(Snapshot)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.updateHs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.updateHs, id)
	}
}

// OnZoom registers a handler fired only when the zoom actually changes.
// The returned function unsubscribes it.
func (c *Croppie) OnZoom(fn func(ZoomChange)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.zoomHs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.zoomHs, id)
	}
}

// Destroy releases the bound image, gesture tracking state and all handlers,
// leaving the instance inert. Error-returning operations report ErrDestroyed
// afterwards; void operations become no-ops.
func (c *Croppie) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	releases := c.releases
	c.releases = nil
	c.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

func (c *Croppie) snapshotLocked() Snapshot {
	return Snapshot{
		Points: c.model.CropRect(),
		Zoom:   c.model.State().Scale,
	}
}

func (c *Croppie) emitUpdate(snap Snapshot) {
	c.mu.Lock()
	handlers := make([]func(Snapshot), 0, len(c.updateHs))
	for _, h := range c.updateHs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(snap)
	}
}

func (c *Croppie) emitZoom(change ZoomChange) {
	c.mu.Lock()
	handlers := make([]func(ZoomChange), 0, len(c.zoomHs))
	for _, h := range c.zoomHs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(change)
	}
}
