package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/bayinformatics/croppie"
	"github.com/bayinformatics/croppie/internal/config"
	"github.com/bayinformatics/croppie/internal/utils"
	"github.com/bayinformatics/croppie/pkg/focus"
	"github.com/bayinformatics/croppie/pkg/ollama"
	"github.com/bayinformatics/croppie/pkg/raster"
	"github.com/bayinformatics/croppie/pkg/transform"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("croppie"),
		kong.Description("Crop images through a pan/zoom viewport, from the command line or over HTTP."),
		kong.UsageOnError(),
		kong.Vars{"version": croppie.Version},
	)
	return cliCtx.Run()
}

type cliArgs struct {
	Crop  cropCmd  `cmd:"" help:"Crop one or more images and write the results to disk."`
	Serve serveCmd `cmd:"" help:"Serve a single widget instance over HTTP."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

type cropCmd struct {
	Inputs []string `arg:"" help:"Image files, directories or http(s) URLs."`

	Config string `help:"Path to a JSON config file." type:"path"`

	ViewportWidth  float64 `help:"Viewport width in pixels." default:"300"`
	ViewportHeight float64 `help:"Viewport height in pixels." default:"300"`
	Shape          string  `help:"Viewport shape: square or circle." default:"square" enum:"square,circle"`
	ZoomMin        float64 `help:"Minimum zoom factor." default:"0.1"`
	ZoomMax        float64 `help:"Maximum zoom factor." default:"10"`

	Zoom  float64 `help:"Initial zoom; 0 uses the coverage fit."`
	PanX  float64 `help:"Horizontal pan offset applied after binding."`
	PanY  float64 `help:"Vertical pan offset applied after binding."`
	Focus string  `help:"Subject detection backend: none, saliency or ollama." default:"none" enum:"none,saliency,ollama"`
	Model string  `help:"Vision model for the ollama backend." default:"openbmb/minicpm-v4.5"`
	URL   string  `help:"Ollama server URL." default:"http://localhost:11434"`

	Size     string `help:"Output size: viewport, original or WIDTHxHEIGHT." default:"viewport"`
	Format   string `help:"Output format: jpeg, png or webp." default:"png" enum:"jpeg,jpg,png,webp"`
	Quality  int    `help:"JPEG/WebP quality (1-100)." default:"90"`
	Lossless bool   `help:"WebP lossless mode."`

	Out     string `help:"Output directory." default:"./output" type:"path"`
	Suffix  string `help:"Filename suffix for results." default:"_cropped"`
	Verbose bool   `help:"Enable verbose logging."`
}

func (cmd *cropCmd) Run() error {
	setupLogging(cmd.Verbose)

	cfg, err := cmd.buildConfig()
	if err != nil {
		return err
	}

	size, err := parseSize(cmd.Size)
	if err != nil {
		return err
	}

	detector, err := buildDetector(cfg.Focus)
	if err != nil {
		return err
	}

	inputs, err := expandInputs(cmd.Inputs)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no image inputs found")
	}

	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx := log.Logger.WithContext(context.Background())

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())
	for _, input := range inputs {
		pooler.Go(func(ctx context.Context) error {
			return cmd.cropOne(ctx, cfg, detector, size, input)
		})
	}
	return pooler.Wait()
}

// buildConfig merges the config file, when given, with command line flags.
// File values win for the widget geometry; flags always win for the
// per-invocation output settings.
func (cmd *cropCmd) buildConfig() (*config.Config, error) {
	cfg := config.Default()
	if cmd.Config != "" {
		loaded, err := config.LoadFromFile(cmd.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.Widget.ViewportWidth = cmd.ViewportWidth
		cfg.Widget.ViewportHeight = cmd.ViewportHeight
		cfg.Widget.ViewportShape = cmd.Shape
		cfg.Widget.ZoomMin = cmd.ZoomMin
		cfg.Widget.ZoomMax = cmd.ZoomMax
		cfg.Focus.Backend = cmd.Focus
		cfg.Focus.Model = cmd.Model
		cfg.Focus.ServerURL = cmd.URL
	}

	cfg.Output.Format = cmd.Format
	cfg.Output.Quality = cmd.Quality
	cfg.Output.Lossless = cmd.Lossless
	cfg.Output.Dir = cmd.Out
	cfg.Output.Suffix = cmd.Suffix

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cmd *cropCmd) cropOne(ctx context.Context, cfg *config.Config, detector focus.Detector, size raster.Size, input string) error {
	widget, err := newWidget(cfg, detector)
	if err != nil {
		return err
	}
	defer widget.Destroy()

	src := croppie.Source{Zoom: cmd.Zoom}
	if utils.IsURL(input) {
		src.URL = input
	} else {
		src.Path = input
	}

	if err := widget.Bind(ctx, src); err != nil {
		return fmt.Errorf("failed to bind %s: %w", input, err)
	}

	if detector != nil {
		if _, err := widget.Focus(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("input", input).Msg("Subject detection failed, keeping centered placement")
		}
	}
	if cmd.PanX != 0 || cmd.PanY != 0 {
		widget.DragStart()
		widget.DragMove(cmd.PanX, cmd.PanY)
		widget.DragEnd()
	}

	result, err := widget.Result(ctx, croppie.ResultOptions{
		Type:     croppie.ResultBlob,
		Size:     size,
		Format:   raster.Format(normalizeFormat(cfg.Output.Format)),
		Quality:  cfg.Output.Quality,
		Lossless: cfg.Output.Lossless,
	})
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", input, err)
	}

	outPath := utils.GenerateOutputFilename(input, cfg.Output.Dir, cfg.Output.Suffix, normalizeFormat(cfg.Output.Format))
	if err := os.WriteFile(outPath, result.Blob, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	log.Ctx(ctx).Info().
		Str("input", input).
		Str("output", outPath).
		Int("width", result.Width).
		Int("height", result.Height).
		Str("size", utils.FormatFileSize(int64(len(result.Blob)))).
		Msg("Cropped")
	return nil
}

func newWidget(cfg *config.Config, detector focus.Detector) (*croppie.Croppie, error) {
	return croppie.New(croppie.Options{
		Viewport: transform.Viewport{
			Dimensions: transform.Dimensions{
				Width:  cfg.Widget.ViewportWidth,
				Height: cfg.Widget.ViewportHeight,
			},
			Shape: transform.Shape(cfg.Widget.ViewportShape),
		},
		Boundary: transform.Dimensions{
			Width:  cfg.Widget.BoundaryWidth,
			Height: cfg.Widget.BoundaryHeight,
		},
		Zoom: transform.ZoomRange{
			Min:             cfg.Widget.ZoomMin,
			Max:             cfg.Widget.ZoomMax,
			EnforceCoverage: cfg.Widget.EnforceMinimum,
		},
		WheelZoom: croppie.WheelMode(cfg.Widget.WheelZoom),
		Focus:     detector,
		Logger:    &log.Logger,
	})
}

func buildDetector(cfg config.FocusConfig) (focus.Detector, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "saliency":
		return focus.NewSaliency(), nil
	case "ollama":
		c, err := ollama.NewClient(cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return focus.NewModelDetector(c, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown focus backend %q", cfg.Backend)
	}
}

// expandInputs flattens directories into their image files and passes
// files and URLs through unchanged.
func expandInputs(inputs []string) ([]string, error) {
	var out []string
	for _, input := range inputs {
		if utils.IsURL(input) {
			out = append(out, input)
			continue
		}
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", input, err)
		}
		if info.IsDir() {
			files, err := utils.ListImageFiles(input)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", input, err)
			}
			out = append(out, files...)
			continue
		}
		out = append(out, input)
	}
	return out, nil
}

func parseSize(s string) (raster.Size, error) {
	switch s {
	case "", "viewport":
		return raster.Size{Mode: raster.SizeViewport}, nil
	case "original":
		return raster.Size{Mode: raster.SizeOriginal}, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return raster.Size{}, fmt.Errorf("invalid size %q, want viewport, original or WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return raster.Size{}, fmt.Errorf("invalid size width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return raster.Size{}, fmt.Errorf("invalid size height %q", h)
	}
	return raster.Size{Width: width, Height: height, Mode: raster.SizeCustom}, nil
}

func normalizeFormat(format string) string {
	if format == "jpg" {
		return "jpeg"
	}
	return format
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}
