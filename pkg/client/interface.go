package client

import "context"

// VisionClient is the raw access layer to a vision-capable model backend.
// Implementations send a prompt plus a base64-encoded image and return the
// model's text response verbatim; interpretation is left to the caller.
type VisionClient interface {
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
