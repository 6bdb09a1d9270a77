package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/platewatch/internal/testutil"
)

// plateTexts cycles through the generated frames.
var plateTexts = []string{"AB12 9", "KA01 AB", "HH PW 42", "M XY 1"}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir   = flag.String("out", "", "output directory (default <project>/testdata/frames)")
		frames   = flag.Int("frames", 30, "number of frames to generate")
		width    = flag.Int("width", testutil.MediumSize.Width, "frame width")
		height   = flag.Int("height", testutil.MediumSize.Height, "frame height")
		rotation = flag.Float64("rotation", 0, "rotate every frame by this many degrees")
		help     = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a synthetic frame sequence for platewatch stream.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                       # 30 frames into testdata/frames\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -frames 200 -out /tmp/f\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	dir := *outDir
	if dir == "" {
		var err error
		if dir, err = testutil.FramesDir(); err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
	}
	if err := testutil.EnsureDir(dir); err != nil {
		slog.Error("Failed to create output directory", "dir", dir, "error", err)
		os.Exit(1)
	}

	for i := range *frames {
		cfg := testutil.DefaultSceneConfig()
		cfg.Size = testutil.ImageSize{Width: *width, Height: *height}
		cfg.Rotation = *rotation
		cfg.Plates = []testutil.PlateSpec{{
			Text: plateTexts[i%len(plateTexts)],
			Box:  plateBox(i, *frames, *width, *height),
		}}

		img, err := testutil.GeneratePlateScene(cfg)
		if err != nil {
			slog.Error("Failed to generate frame", "frame", i, "error", err)
			os.Exit(1)
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		if err := savePNG(path, img); err != nil {
			slog.Error("Failed to save frame", "path", path, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Frames generated", "dir", dir, "count", *frames)
}

// plateBox moves a plate from left to right across the lower half of the frame.
func plateBox(i, n, width, height int) image.Rectangle {
	pw, ph := max(width/5, 40), max(height/14, 12)
	span := width - pw - 2
	x := 1
	if n > 1 {
		x += span * i / (n - 1)
	}
	y := height*2/3 - ph/2
	return image.Rect(x, y, x+pw, y+ph)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // G304: output path chosen by the user
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
