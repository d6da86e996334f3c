package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

// Plot kinds recorded in omega.Channel.Plots.
const (
	KindQScan      = "qscan_whitened"
	KindTimeseries = "timeseries_whitened"
)

// Renderer is the default omega.Plotter. Files are written to Dir.
type Renderer struct {
	Dir          string
	Width        int
	Height       int
	LogFrequency bool

	gradient []color.RGBA
}

// NewRenderer validates colormap and fscale ("log" or "linear").
func NewRenderer(dir, colormap, fscale string) (*Renderer, error) {
	gradient, ok := colormaps[colormap]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q, pick one of: %v", colormap, Colormaps())
	}
	if fscale != "log" && fscale != "linear" {
		return nil, fmt.Errorf("unknown frequency scaling %q, pick one of: log, linear", fscale)
	}
	return &Renderer{
		Dir:          dir,
		Width:        defaultWidth,
		Height:       defaultHeight,
		LogFrequency: fscale == "log",
		gradient:     gradient,
	}, nil
}

// FileName is the name of the plot of kind for channel over span seconds.
func FileName(channel, kind string, span float64) string {
	return fmt.Sprintf("%s-%s-%s.png", SafeName(channel), kind, strconv.FormatFloat(span, 'f', -1, 64))
}

// Timeseries implements omega.Plotter.
func (r *Renderer) Timeseries(ts *omega.TimeSeries, gps, span float64, file, ylabel string) error {
	cropped := ts.Crop(gps-span/2, gps+span/2)
	if cropped.Len() == 0 {
		return fmt.Errorf("%s: no data within %gs of %g", ts.Name, span/2, gps)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range cropped.Values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		lo, hi = lo-1, hi+1
	}

	canvas := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	row := func(v float64) int {
		return int(math.Round((hi - v) / (hi - lo) * float64(r.Height-1)))
	}
	// Draw the min-max envelope of the samples falling in each column.
	n := cropped.Len()
	for x := 0; x < r.Width; x++ {
		first := x * n / r.Width
		last := max((x+1)*n/r.Width, first+1)
		cmin, cmax := math.Inf(1), math.Inf(-1)
		for _, v := range cropped.Values[first:min(last, n)] {
			cmin = math.Min(cmin, v)
			cmax = math.Max(cmax, v)
		}
		for y := row(cmax); y <= row(cmin); y++ {
			canvas.SetRGBA(x, y, lineColor)
		}
	}

	img := frame(canvas, axes{
		title: fmt.Sprintf("%s at %s", ts.Name, strconv.FormatFloat(gps, 'f', -1, 64)),
		xlabel: func(x int) string {
			return fmt.Sprintf("%.3gs", float64(x)/float64(r.Width)*span-span/2)
		},
		ylabel: func(y int) string {
			return fmt.Sprintf("%.3g", hi-float64(y)/float64(r.Height)*(hi-lo))
		},
		yname: ylabel,
	})
	path := filepath.Join(r.Dir, file)
	glog.V(1).Infof("writing %s", path)
	return writePNG(path, img)
}

// QScan implements omega.Plotter: one normalised energy map and one whitened
// time series per plot duration.
func (r *Renderer) QScan(gps float64, c *omega.Channel, res *omega.ScanResult) error {
	c.Plots = map[string][]string{}
	for _, qgram := range res.QGrams {
		name := FileName(c.Name, KindQScan, qgram.Span)
		if err := r.spectrogram(qgram, c.Name, gps, name); err != nil {
			return err
		}
		c.Plots[KindQScan] = append(c.Plots[KindQScan], name)

		if res.Whitened != nil {
			name = FileName(c.Name, KindTimeseries, qgram.Span)
			if err := r.Timeseries(res.Whitened, gps, qgram.Span, name, "Whitened Amplitude"); err != nil {
				return err
			}
			c.Plots[KindTimeseries] = append(c.Plots[KindTimeseries], name)
		}
	}
	return nil
}

func (r *Renderer) spectrogram(s *omega.Spectrogram, channel string, gps float64, file string) error {
	if len(s.Values) == 0 || len(s.Frequencies) == 0 {
		return fmt.Errorf("%s: empty spectrogram for %gs", channel, s.Span)
	}
	if !sort.Float64sAreSorted(s.Frequencies) {
		return fmt.Errorf("%s: spectrogram frequencies are not ascending", channel)
	}
	fmin, fmax := s.Frequencies[0], s.Frequencies[len(s.Frequencies)-1]
	if r.LogFrequency && fmin <= 0 {
		return fmt.Errorf("%s: cannot use log frequency scale from %g Hz", channel, fmin)
	}
	lo, hi := s.Range()
	if hi == lo {
		hi = lo + 1
	}

	// Frequency at pixel row y, highest frequency on top.
	freqAt := func(y int) float64 {
		frac := 1 - (float64(y)+0.5)/float64(r.Height)
		if r.LogFrequency {
			return math.Exp(math.Log(fmin) + frac*(math.Log(fmax)-math.Log(fmin)))
		}
		return fmin + frac*(fmax-fmin)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	nt := len(s.Values)
	for y := 0; y < r.Height; y++ {
		fi := nearest(s.Frequencies, freqAt(y))
		for x := 0; x < r.Width; x++ {
			row := s.Values[x*nt/r.Width]
			if fi >= len(row) {
				continue
			}
			canvas.SetRGBA(x, y, GetColor(r.gradient, (row[fi]-lo)/(hi-lo)))
		}
	}

	start := s.T0 - gps
	img := frame(canvas, axes{
		title: fmt.Sprintf("%s at %s (max energy %.1f)", channel, strconv.FormatFloat(gps, 'f', -1, 64), hi),
		xlabel: func(x int) string {
			return fmt.Sprintf("%.3gs", start+float64(x)/float64(r.Width)*float64(nt)*s.DT)
		},
		ylabel: func(y int) string {
			return GetReadableFreq(math.Round(freqAt(min(y, r.Height-1))*10) / 10)
		},
	})
	path := filepath.Join(r.Dir, file)
	glog.V(1).Infof("writing %s", path)
	return writePNG(path, img)
}

// nearest returns the index of the value in sorted closest to f.
func nearest(sorted []float64, f float64) int {
	i := sort.SearchFloat64s(sorted, f)
	switch {
	case i == 0:
		return 0
	case i == len(sorted):
		return len(sorted) - 1
	case f-sorted[i-1] < sorted[i]-f:
		return i - 1
	}
	return i
}
