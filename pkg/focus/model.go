package focus

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/bayinformatics/croppie/pkg/client"
)

// DetectPrompt instructs the vision model to locate the dominant subject.
const DetectPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  }
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer
  people/vehicles/animals; else the most central salient object).
- If no subject is found, return:
  {"primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50}}}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// sendMaxDim is the long side the image is shrunk to before upload.
const sendMaxDim = 1536

// ModelDetector asks a vision model for the primary subject of an image.
type ModelDetector struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewModelDetector wraps a vision client and model name.
func NewModelDetector(c client.VisionClient, model string) *ModelDetector {
	return &ModelDetector{client: c, model: model, prompt: DetectPrompt}
}

// DetectSubject uploads a downscaled JPEG of the image and parses the
// model's JSON answer. Malformed answers degrade to a centered fallback box
// rather than failing the call.
func (d *ModelDetector) DetectSubject(ctx context.Context, img image.Image) (Subject, error) {
	b64, err := encodeForModel(img)
	if err != nil {
		return Subject{}, fmt.Errorf("failed to prepare image: %w", err)
	}

	raw, err := d.client.AnalyzeImage(ctx, d.model, d.prompt, b64)
	if err != nil {
		return Subject{}, err
	}
	return parseSubject(raw), nil
}

func encodeForModel(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() > sendMaxDim || b.Dy() > sendMaxDim {
		if b.Dx() >= b.Dy() {
			img = imaging.Resize(img, sendMaxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, sendMaxDim, imaging.Lanczos)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var fallbackSubject = Subject{
	Label: "none",
	Box:   Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
}

func parseSubject(raw string) Subject {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return fallbackSubject
	}

	var parsed struct {
		Primary Subject `json:"primary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return fallbackSubject
	}
	sub := parsed.Primary
	sub.Box = sub.Box.Clamp()
	if sub.Box.W <= 0 || sub.Box.H <= 0 {
		return fallbackSubject
	}
	return sub
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas that
// vision models tend to wrap their JSON in.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")
	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
