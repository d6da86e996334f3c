// Package plot renders scan products to PNG images.
package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// Colormaps are gradients from cold to warm.
	colormaps = map[string][]color.RGBA{
		"viridis": {
			{68, 1, 84, 255},
			{72, 40, 120, 255},
			{62, 74, 137, 255},
			{49, 104, 142, 255},
			{38, 130, 142, 255},
			{31, 158, 137, 255},
			{53, 183, 121, 255},
			{110, 206, 88, 255},
			{181, 222, 43, 255},
			{253, 231, 37, 255},
		},
		"jet": {
			{0, 0, 0, 255},       // black
			{0, 0, 255, 255},     // blue
			{0, 255, 255, 255},   // cyan
			{0, 255, 0, 255},     // green
			{255, 255, 0, 255},   // yellow
			{255, 0, 0, 255},     // red
			{255, 255, 255, 255}, // white
		},
		"gray": {
			{255, 255, 255, 255},
			{0, 0, 0, 255},
		},
	}

	gridColor           = color.RGBA{0, 0, 0, 255}       // black
	gridBackgroundColor = color.RGBA{255, 255, 255, 255} // white
	lineColor           = color.RGBA{0, 102, 179, 255}

	expSuffixLookup = map[int]string{
		0: "Hz",
		1: "kHz",
		2: "MHz",
	}
)

const (
	defaultWidth  = 800
	defaultHeight = 400

	gridMarginTop    = 30  // pixels
	gridMarginLeft   = 80  // pixels
	gridMarginBottom = 30  // pixels
	gridMarginRight  = 20  // pixels
	gridTickLen      = 6   // pixels
	gridMinStepX     = 100 // pixels
	gridMinStepY     = 40  // pixels
)

// Colormaps lists the supported colormap names.
func Colormaps() []string {
	var names []string
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetColor maps lvl in [0, 1] onto the gradient by interpolating linearly
// between its two nearest stops.
func GetColor(gradient []color.RGBA, lvl float64) color.RGBA {
	switch {
	case math.IsNaN(lvl) || lvl <= 0:
		return gradient[0]
	case lvl >= 1:
		return gradient[len(gradient)-1]
	}
	pos := lvl * float64(len(gradient)-1)
	i := int(pos)
	fract := pos - float64(i)
	lo, hi := gradient[i], gradient[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{mix(lo.R, hi.R), mix(lo.G, hi.G), mix(lo.B, hi.B), mix(lo.A, hi.A)}
}

// GetReadableFreq formats a frequency in Hz with an SI prefix.
func GetReadableFreq(freq float64) string {
	exp := 0
	for f := freq; f >= 1000; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := expSuffixLookup[exp]
	if !ok {
		return fmt.Sprintf("%g Hz", freq)
	}
	v := freq / math.Pow(1000, float64(exp))
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f %s", v, suffix)
	}
	return fmt.Sprintf("%.1f %s", v, suffix)
}

// SafeName turns a channel name into something usable in a file name.
func SafeName(channel string) string {
	return strings.NewReplacer(":", "-", "/", "_", " ", "_").Replace(channel)
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func drawString(canvas *image.RGBA, x, y int, s string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func stringWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Round()
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	return step
}

// axes describes how a plot area maps onto data coordinates.
type axes struct {
	title  string
	xlabel func(x int) string
	ylabel func(y int) string
	yname  string
}

// frame enlarges source with margins, draws ticks and labels around it.
func frame(source *image.RGBA, ax axes) *image.RGBA {
	b := source.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx()+gridMarginLeft+gridMarginRight, b.Dy()+gridMarginTop+gridMarginBottom))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	draw.Draw(canvas, b.Add(image.Pt(gridMarginLeft, gridMarginTop)), source, b.Min, draw.Src)

	drawString(canvas, gridMarginLeft, gridMarginTop-10, ax.title)

	xStep := findGridStepSize(b.Dx(), true)
	for i := 0; i <= b.Dx(); i += xStep {
		drawTick(canvas, image.Pt(gridMarginLeft+i, gridMarginTop+b.Dy()), gridTickLen, false)
		label := ax.xlabel(i)
		drawString(canvas, gridMarginLeft+i-stringWidth(label)/2, gridMarginTop+b.Dy()+gridTickLen+13, label)
	}

	yStep := findGridStepSize(b.Dy(), false)
	for i := 0; i <= b.Dy(); i += yStep {
		drawTick(canvas, image.Pt(gridMarginLeft-gridTickLen, gridMarginTop+i), gridTickLen, true)
		label := ax.ylabel(i)
		drawString(canvas, gridMarginLeft-gridTickLen-2-stringWidth(label), gridMarginTop+i+4, label)
	}
	if ax.yname != "" {
		drawString(canvas, 2, 13, ax.yname)
	}
	return canvas
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("unable to encode %q: %w", path, err)
	}
	return f.Close()
}
