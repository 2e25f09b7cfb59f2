// Package focus derives an initial widget placement from a detected image
// subject: pick the dominant region, zoom until it fills the viewport and
// pan it into the viewport center. Detection is pluggable; a local saliency
// heuristic and a vision-model backend are provided.
package focus

import (
	"context"
	"fmt"
	"image"

	"github.com/bayinformatics/croppie/pkg/transform"
)

// Box is a normalized bounding box with coordinates in the [0,1] range.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the normalized center of the box.
func (b Box) Center() (cx, cy float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Clamp constrains the box into the [0,1] square.
func (b Box) Clamp() Box {
	return Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}

// Subject is the primary region detected in an image.
type Subject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Detector finds the primary subject of an image.
type Detector interface {
	DetectSubject(ctx context.Context, img image.Image) (Subject, error)
}

// Placement is the result of applying a detected subject to a transform
// model.
type Placement struct {
	State        transform.State
	Zoom         float64
	PreviousZoom float64
	ZoomChanged  bool
}

// Apply zooms the model so the subject box covers the viewport (shrunk by
// the padding fraction to keep context around the subject) and pans the
// subject center into the viewport center. Both go through the model's
// normal clamp rules, so the placement degrades gracefully for extreme
// boxes.
func Apply(m *transform.Model, sub Subject, padding float64) (Placement, error) {
	if !m.Bound() {
		return Placement{}, fmt.Errorf("no image bound")
	}
	box := sub.Box.Clamp()
	if box.W <= 0 || box.H <= 0 {
		return Placement{}, fmt.Errorf("degenerate subject box %+v", sub.Box)
	}
	if padding < 0 {
		padding = 0
	}

	img := m.Image()
	subjectDims := transform.Dimensions{
		Width:  box.W * img.Width,
		Height: box.H * img.Height,
	}

	prev := m.State().Scale
	target := transform.CoverageZoom(subjectDims, m.Viewport().Dimensions) / (1 + padding)
	applied, changed := m.SetZoom(target)

	cx, cy := box.Center()
	m.Pan(img.Width*applied*(0.5-cx), img.Height*applied*(0.5-cy))

	return Placement{
		State:        m.State(),
		Zoom:         applied,
		PreviousZoom: prev,
		ZoomChanged:  changed,
	}, nil
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
