package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration
type Config struct {
	Widget WidgetConfig `json:"widget"`
	Output OutputConfig `json:"output"`
	Focus  FocusConfig  `json:"focus"`
}

// WidgetConfig holds the widget geometry and zoom behavior
type WidgetConfig struct {
	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`
	ViewportShape  string  `json:"viewport_shape"`
	BoundaryWidth  float64 `json:"boundary_width"`
	BoundaryHeight float64 `json:"boundary_height"`
	ZoomMin        float64 `json:"zoom_min"`
	ZoomMax        float64 `json:"zoom_max"`
	EnforceMinimum bool    `json:"enforce_minimum_coverage"`
	WheelZoom      string  `json:"wheel_zoom"`
}

// OutputConfig holds configuration for result encoding
type OutputConfig struct {
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	Dir      string `json:"dir"`
	Suffix   string `json:"suffix"`
}

// FocusConfig holds configuration for subject detection
type FocusConfig struct {
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	ServerURL string `json:"server_url"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Widget: WidgetConfig{
			ViewportWidth:  300,
			ViewportHeight: 300,
			ViewportShape:  "square",
			ZoomMin:        0.1,
			ZoomMax:        10,
			EnforceMinimum: true,
			WheelZoom:      "on",
		},
		Output: OutputConfig{
			Format:  "png",
			Quality: 90,
			Dir:     "./output",
			Suffix:  "_cropped",
		},
		Focus: FocusConfig{
			Backend:   "saliency",
			Model:     "openbmb/minicpm-v4.5",
			ServerURL: "http://localhost:11434",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Widget.ViewportWidth <= 0 || c.Widget.ViewportHeight <= 0 {
		return fmt.Errorf("widget viewport dimensions must be positive")
	}

	switch c.Widget.ViewportShape {
	case "square", "circle":
	default:
		return fmt.Errorf("widget.viewport_shape must be square or circle")
	}

	if c.Widget.ZoomMin <= 0 || c.Widget.ZoomMax < c.Widget.ZoomMin {
		return fmt.Errorf("widget zoom range [%g, %g] is invalid", c.Widget.ZoomMin, c.Widget.ZoomMax)
	}

	switch c.Widget.WheelZoom {
	case "on", "off", "modifier":
	default:
		return fmt.Errorf("widget.wheel_zoom must be on, off or modifier")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Output.Format {
	case "jpeg", "jpg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpeg, png or webp")
	}

	switch c.Focus.Backend {
	case "none", "saliency", "ollama":
	default:
		return fmt.Errorf("focus.backend must be none, saliency or ollama")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "croppie", "config.json")
}
