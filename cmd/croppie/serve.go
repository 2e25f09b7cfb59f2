package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/bayinformatics/croppie"
	"github.com/bayinformatics/croppie/internal/config"
	"github.com/bayinformatics/croppie/pkg/raster"
)

type serveCmd struct {
	Addr   string `help:"Listen address." default:"localhost:8080"`
	Config string `help:"Path to a JSON config file." type:"path"`

	ViewportWidth  float64 `help:"Viewport width in pixels." default:"300"`
	ViewportHeight float64 `help:"Viewport height in pixels." default:"300"`
	Shape          string  `help:"Viewport shape: square or circle." default:"square" enum:"square,circle"`
	ZoomMin        float64 `help:"Minimum zoom factor." default:"0.1"`
	ZoomMax        float64 `help:"Maximum zoom factor." default:"10"`

	Focus   string `help:"Subject detection backend: none, saliency or ollama." default:"none" enum:"none,saliency,ollama"`
	Model   string `help:"Vision model for the ollama backend." default:"openbmb/minicpm-v4.5"`
	URL     string `help:"Ollama server URL." default:"http://localhost:11434"`
	Verbose bool   `help:"Enable verbose logging."`
}

func (cmd *serveCmd) Run() error {
	setupLogging(cmd.Verbose)

	cfg := config.Default()
	if cmd.Config != "" {
		loaded, err := config.LoadFromFile(cmd.Config)
		if err != nil {
			return err
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
	if err := cfg.Validate(); err != nil {
		return err
	}

	detector, err := buildDetector(cfg.Focus)
	if err != nil {
		return err
	}

	widget, err := newWidget(cfg, detector)
	if err != nil {
		return err
	}
	defer widget.Destroy()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	app := newWidgetApp(widget)

	go func() {
		<-ctx.Done()
		log.Ctx(ctx).Info().Msg("Shutting down...")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("Failed to shut down server")
		}
	}()

	log.Ctx(ctx).Info().Str("addr", cmd.Addr).Msg("Server started")
	if err := app.Listen(cmd.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newWidgetApp exposes one widget instance over HTTP. The widget itself
// serializes access, so handlers call it directly.
func newWidgetApp(widget *croppie.Croppie) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Post("/api/bind", func(c *fiber.Ctx) error {
		var request struct {
			URL    string    `json:"url"`
			Path   string    `json:"path"`
			Zoom   float64   `json:"zoom"`
			Points []float64 `json:"points"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err := widget.Bind(c.Context(), croppie.Source{
			URL:    request.URL,
			Path:   request.Path,
			Zoom:   request.Zoom,
			Points: request.Points,
		})
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(widget.Get())
	})

	app.Get("/api/get", func(c *fiber.Ctx) error {
		return c.JSON(widget.Get())
	})

	app.Post("/api/zoom", func(c *fiber.Ctx) error {
		var request struct {
			Zoom float64 `json:"zoom"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		widget.SetZoom(request.Zoom)
		return c.JSON(widget.Get())
	})

	app.Post("/api/pan", func(c *fiber.Ctx) error {
		var request struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		widget.Pan(request.X, request.Y)
		return c.JSON(widget.Get())
	})

	app.Post("/api/wheel", func(c *fiber.Ctx) error {
		var request struct {
			DeltaY   float64 `json:"delta_y"`
			Modifier bool    `json:"modifier"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		widget.Wheel(request.DeltaY, request.Modifier)
		return c.JSON(widget.Get())
	})

	app.Post("/api/reset", func(c *fiber.Ctx) error {
		widget.Reset()
		return c.JSON(widget.Get())
	})

	app.Post("/api/focus", func(c *fiber.Ctx) error {
		snap, err := widget.Focus(c.Context())
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(snap)
	})

	app.Get("/api/result", func(c *fiber.Ctx) error {
		size, err := parseSize(c.Query("size", "viewport"))
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		opts := croppie.ResultOptions{
			Type:    croppie.ResultBase64,
			Size:    size,
			Format:  raster.Format(normalizeFormat(c.Query("format", "png"))),
			Quality: c.QueryInt("quality", raster.DefaultQuality),
		}
		if c.Query("circle") != "" {
			circle := c.QueryBool("circle")
			opts.Circle = &circle
		}
		result, err := widget.Result(c.Context(), opts)
		if err != nil {
			if errors.Is(err, croppie.ErrNoImage) {
				return fiber.NewError(http.StatusConflict, err.Error())
			}
			return err
		}
		return c.JSON(fiber.Map{
			"base64": result.Base64,
			"points": result.Points,
			"width":  result.Width,
			"height": result.Height,
		})
	})

	return app
}
