// Package gesture converts discrete gesture deltas into transform model
// updates. Drag, wheel and pinch differ only in how the delta is computed;
// the clamp rules live in the model and apply identically to all three.
package gesture

import (
	"math"

	"github.com/bayinformatics/croppie/pkg/transform"
)

// WheelStep is the zoom increment applied per discrete wheel tick, regardless
// of the physical scroll magnitude.
const WheelStep = 0.1

// Point is a contact position in boundary-space pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two contact points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ZoomChange reports a zoom update that actually moved the stored scale.
// Updates clamped back to the previous value produce no ZoomChange at all.
type ZoomChange struct {
	Zoom     float64 `json:"zoom"`
	Previous float64 `json:"previous"`
}

// Adapter feeds gesture deltas into a single transform model. It is not safe
// for concurrent use; the owning widget serializes access.
type Adapter struct {
	model           *transform.Model
	requireModifier bool

	dragging        bool
	dragStartX      float64
	dragStartY      float64
	pinching        bool
	pinchStartScale float64
	pinchStartDist  float64
}

// New builds an adapter for the given model. When requireModifier is set,
// wheel ticks without the modifier key held are ignored.
func New(model *transform.Model, requireModifier bool) *Adapter {
	return &Adapter{model: model, requireModifier: requireModifier}
}

// DragStart captures the pan at the start of a drag gesture. Subsequent
// DragMove deltas are applied against this captured origin.
func (a *Adapter) DragStart() {
	st := a.model.State()
	a.dragging = true
	a.dragStartX = st.X
	a.dragStartY = st.Y
}

// DragMove applies a pixel offset from the gesture start to the captured
// pan. The pan is never clamped. Moves without a preceding DragStart are
// ignored; moved reports whether the pan actually changed.
func (a *Adapter) DragMove(dx, dy float64) (moved bool) {
	if !a.dragging {
		return false
	}
	return a.model.Pan(a.dragStartX+dx, a.dragStartY+dy)
}

// DragEnd finishes the drag gesture.
func (a *Adapter) DragEnd() {
	a.dragging = false
}

// Wheel applies one discrete wheel tick: scroll up (negative deltaY) zooms
// in by WheelStep, scroll down zooms out. A tick with zero motion is a no-op,
// as is any tick without the modifier when one is required.
func (a *Adapter) Wheel(deltaY float64, modifier bool) *ZoomChange {
	if a.requireModifier && !modifier {
		return nil
	}
	if deltaY == 0 {
		return nil
	}
	step := WheelStep
	if deltaY > 0 {
		step = -WheelStep
	}
	return a.applyZoom(a.model.State().Scale + step)
}

// Touch feeds the current set of active contact points. With fewer than two
// contacts the gesture is inert and any in-flight pinch ends, requiring a
// fresh two-contact start to resume. The first two-contact call captures the
// start distance and scale; later calls scale by the distance ratio.
func (a *Adapter) Touch(contacts ...Point) *ZoomChange {
	if len(contacts) < 2 {
		a.pinching = false
		return nil
	}
	d := Distance(contacts[0], contacts[1])
	if !a.pinching {
		a.pinching = true
		a.pinchStartScale = a.model.State().Scale
		a.pinchStartDist = d
		return nil
	}
	if a.pinchStartDist == 0 {
		return nil
	}
	return a.applyZoom(a.pinchStartScale * (d / a.pinchStartDist))
}

// Release drops all in-flight gesture tracking state.
func (a *Adapter) Release() {
	a.dragging = false
	a.pinching = false
}

func (a *Adapter) applyZoom(candidate float64) *ZoomChange {
	prev := a.model.State().Scale
	applied, changed := a.model.SetZoom(candidate)
	if !changed {
		return nil
	}
	return &ZoomChange{Zoom: applied, Previous: prev}
}
