package croppie

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/bayinformatics/croppie/pkg/gesture"
	"github.com/bayinformatics/croppie/pkg/raster"
	"github.com/bayinformatics/croppie/pkg/transform"
)

// encodeTestPNG builds a synthetic image with a bright center region and
// returns it PNG-encoded.
func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{R: 64, G: 64, B: 64, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestWidget(t *testing.T, opts Options) *Croppie {
	t.Helper()
	if opts.Viewport.Width == 0 {
		opts.Viewport = transform.Viewport{Dimensions: transform.Dimensions{Width: 100, Height: 100}}
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Destroy)
	return c
}

func bindTestImage(t *testing.T, c *Croppie, width, height int) {
	t.Helper()
	if err := c.Bind(context.Background(), Source{Bytes: encodeTestPNG(t, width, height)}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without a viewport")
	}
	if _, err := New(Options{
		Viewport:  transform.Viewport{Dimensions: transform.Dimensions{Width: 100, Height: 100}},
		WheelZoom: "sometimes",
	}); err == nil {
		t.Error("expected error for unknown wheel mode")
	}
}

func TestBindInitializesTransform(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	snap := c.Get()
	// Coverage fit for 400x400 onto 100x100 is 0.25.
	if math.Abs(snap.Zoom-0.25) > 1e-9 {
		t.Errorf("expected initial zoom 0.25, got %g", snap.Zoom)
	}
	if snap.Points.Empty() {
		t.Error("expected a non-empty crop rectangle after bind")
	}
}

func TestBindFiresUpdate(t *testing.T) {
	c := newTestWidget(t, Options{})

	var updates int
	c.OnUpdate(func(Snapshot) { updates++ })
	bindTestImage(t, c, 400, 400)

	if updates != 1 {
		t.Errorf("expected 1 update after bind, got %d", updates)
	}
}

func TestBindDecodeFailureKeepsPriorImage(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)
	before := c.Get()

	if err := c.Bind(context.Background(), Source{Bytes: []byte("junk")}); err == nil {
		t.Fatal("expected decode error")
	}

	after := c.Get()
	if after != before {
		t.Errorf("failed bind changed state from %+v to %+v", before, after)
	}
	if _, err := c.Result(context.Background(), ResultOptions{}); err != nil {
		t.Errorf("expected prior image to remain usable, got %v", err)
	}
}

func TestBindPointsValidatedButIgnored(t *testing.T) {
	c := newTestWidget(t, Options{})

	err := c.Bind(context.Background(), Source{
		Bytes:  encodeTestPNG(t, 400, 400),
		Points: []float64{10, 10, 110},
	})
	if err == nil {
		t.Fatal("expected arity error for 3-element points")
	}

	// Valid points are advisory only: the bind succeeds and the initial
	// placement ignores them.
	err = c.Bind(context.Background(), Source{
		Bytes:  encodeTestPNG(t, 400, 400),
		Points: []float64{10, 10, 110, 110},
	})
	if err != nil {
		t.Fatalf("Bind with valid points failed: %v", err)
	}
	if zoom := c.Get().Zoom; math.Abs(zoom-0.25) > 1e-9 {
		t.Errorf("expected coverage-fit zoom 0.25, got %g", zoom)
	}
}

func TestSetZoomNotifications(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	var zooms []ZoomChange
	var updates int
	c.OnZoom(func(z ZoomChange) { zooms = append(zooms, z) })
	c.OnUpdate(func(Snapshot) { updates++ })

	c.SetZoom(2)
	if len(zooms) != 1 || updates != 1 {
		t.Fatalf("expected 1 zoom + 1 update, got %d + %d", len(zooms), updates)
	}
	if zooms[0].Zoom != 2 || zooms[0].Previous != 0.25 {
		t.Errorf("unexpected zoom payload %+v", zooms[0])
	}

	// Setting the current zoom again must raise zero notifications.
	c.SetZoom(2)
	if len(zooms) != 1 || updates != 1 {
		t.Errorf("no-op SetZoom raised notifications: %d zooms, %d updates", len(zooms), updates)
	}

	// A value clamping back to the current zoom is also silent.
	c.SetZoom(10000)
	c.SetZoom(99999)
	if len(zooms) != 2 || updates != 2 {
		t.Errorf("clamped-to-identical SetZoom raised notifications: %d zooms, %d updates", len(zooms), updates)
	}
}

func TestPanNotifications(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	var updates, zooms int
	c.OnUpdate(func(Snapshot) { updates++ })
	c.OnZoom(func(ZoomChange) { zooms++ })

	c.Pan(10, 20)
	c.Pan(10, 20) // same position: no change, no notification
	c.Pan(-5, 3)

	if updates != 2 {
		t.Errorf("expected 2 updates, got %d", updates)
	}
	if zooms != 0 {
		t.Errorf("pan raised %d zoom notifications", zooms)
	}
}

func TestResetRestoresFit(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	c.SetZoom(3)
	c.Pan(40, -20)
	c.Reset()

	snap := c.Get()
	if math.Abs(snap.Zoom-0.25) > 1e-9 {
		t.Errorf("expected reset zoom 0.25, got %g", snap.Zoom)
	}

	// Reset without a bound image is a silent no-op.
	empty := newTestWidget(t, Options{})
	var updates int
	empty.OnUpdate(func(Snapshot) { updates++ })
	empty.Reset()
	if updates != 0 {
		t.Errorf("unbound reset fired %d updates", updates)
	}
}

func TestWheelModes(t *testing.T) {
	c := newTestWidget(t, Options{WheelZoom: WheelDisabled})
	bindTestImage(t, c, 400, 400)
	before := c.Get().Zoom
	c.Wheel(-100, false)
	if c.Get().Zoom != before {
		t.Error("disabled wheel still zoomed")
	}

	m := newTestWidget(t, Options{WheelZoom: WheelModifier})
	bindTestImage(t, m, 400, 400)
	m.Wheel(-100, false)
	if m.Get().Zoom != 0.25 {
		t.Error("gated wheel tick applied without modifier")
	}
	m.Wheel(-100, true)
	if math.Abs(m.Get().Zoom-0.35) > 1e-9 {
		t.Errorf("expected zoom 0.35 with modifier held, got %g", m.Get().Zoom)
	}
}

func TestDragGesture(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	var updates int
	c.OnUpdate(func(Snapshot) { updates++ })

	c.DragStart()
	c.DragMove(30, -10)
	c.DragEnd()

	if updates != 1 {
		t.Errorf("expected 1 update from the drag, got %d", updates)
	}
	if st := c.Get(); st.Points.Empty() {
		t.Error("expected a non-empty crop rectangle after dragging")
	}
}

func TestPinchGesture(t *testing.T) {
	c := newTestWidget(t, Options{
		Zoom: transform.ZoomRange{Min: 0.5, Max: 3, EnforceCoverage: false},
	})
	bindTestImage(t, c, 400, 400)
	c.SetZoom(1)

	var zooms []ZoomChange
	c.OnZoom(func(z ZoomChange) { zooms = append(zooms, z) })

	c.Touch(gesture.Point{X: 0, Y: 0}, gesture.Point{X: 100, Y: 0})
	c.Touch(gesture.Point{X: 0, Y: 0}, gesture.Point{X: 200, Y: 0})

	if len(zooms) != 1 {
		t.Fatalf("expected exactly 1 zoom notification, got %d", len(zooms))
	}
	if zooms[0].Zoom != 2 || zooms[0].Previous != 1 {
		t.Errorf("unexpected payload %+v", zooms[0])
	}
}

func TestResultRequiresImage(t *testing.T) {
	c := newTestWidget(t, Options{})
	if _, err := c.Result(context.Background(), ResultOptions{}); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestResultUnknownType(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)
	if _, err := c.Result(context.Background(), ResultOptions{Type: "hologram"}); err == nil {
		t.Error("expected error for unknown result type")
	}
}

func TestResultCanvasViewportSize(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	res, err := c.Result(context.Background(), ResultOptions{})
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Width != 100 || res.Height != 100 {
		t.Errorf("expected viewport-sized 100x100 output, got %dx%d", res.Width, res.Height)
	}
	if res.Canvas == nil {
		t.Error("expected canvas to be populated")
	}
}

func TestResultOriginalSize(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	// At the coverage fit of 0.25 the visible window spans the full image.
	res, err := c.Result(context.Background(), ResultOptions{Size: raster.Size{Mode: raster.SizeOriginal}})
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Width != 400 || res.Height != 400 {
		t.Errorf("expected native 400x400 output, got %dx%d", res.Width, res.Height)
	}
}

func TestResultBlobAndBase64(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	blob, err := c.Result(context.Background(), ResultOptions{Type: ResultBlob, Format: raster.FormatJPEG, Quality: 80})
	if err != nil {
		t.Fatalf("blob result failed: %v", err)
	}
	if len(blob.Blob) == 0 {
		t.Error("expected encoded blob bytes")
	}

	b64, err := c.Result(context.Background(), ResultOptions{Type: ResultBase64})
	if err != nil {
		t.Fatalf("base64 result failed: %v", err)
	}
	if b64.Base64 == "" {
		t.Error("expected base64 payload")
	}
}

func TestResultCircleDefaultsFromViewportShape(t *testing.T) {
	c := newTestWidget(t, Options{
		Viewport: transform.Viewport{
			Dimensions: transform.Dimensions{Width: 100, Height: 100},
			Shape:      transform.ShapeCircle,
		},
	})
	bindTestImage(t, c, 400, 400)

	res, err := c.Result(context.Background(), ResultOptions{})
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if _, _, _, a := res.Canvas.At(0, 0).RGBA(); a != 0 {
		t.Error("expected transparent corner for a circle viewport")
	}

	// Explicit override wins over the shape default.
	square := false
	res, err = c.Result(context.Background(), ResultOptions{Circle: &square})
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if _, _, _, a := res.Canvas.At(0, 0).RGBA(); a == 0 {
		t.Error("expected opaque corner with circle disabled")
	}
}

func TestUnsubscribe(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	var updates int
	off := c.OnUpdate(func(Snapshot) { updates++ })
	c.SetZoom(1)
	off()
	c.SetZoom(2)

	if updates != 1 {
		t.Errorf("expected 1 update before unsubscribe, got %d", updates)
	}
}

func TestDestroyLeavesInstanceInert(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	var updates int
	c.OnUpdate(func(Snapshot) { updates++ })
	c.Destroy()

	if err := c.Bind(context.Background(), Source{Bytes: encodeTestPNG(t, 100, 100)}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed from bind, got %v", err)
	}
	if _, err := c.Result(context.Background(), ResultOptions{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed from result, got %v", err)
	}

	c.SetZoom(5)
	c.Pan(1, 2)
	c.Wheel(-100, false)
	if updates != 0 {
		t.Errorf("destroyed widget fired %d updates", updates)
	}
}

func TestFocusWithoutDetector(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)

	if _, err := c.Focus(context.Background()); !errors.Is(err, ErrNoFocusDetector) {
		t.Errorf("expected ErrNoFocusDetector, got %v", err)
	}
}

func TestGetSnapshotMatchesResultPoints(t *testing.T) {
	c := newTestWidget(t, Options{})
	bindTestImage(t, c, 400, 400)
	c.SetZoom(1)
	c.Pan(13, -7)

	snap := c.Get()
	res, err := c.Result(context.Background(), ResultOptions{})
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Points != snap.Points {
		t.Errorf("result points %+v differ from snapshot %+v", res.Points, snap.Points)
	}
}
